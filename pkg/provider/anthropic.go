package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider and ToolCaller for Anthropic Claude.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
	system string
}

// AnthropicConfig holds Anthropic provider configuration.
type AnthropicConfig struct {
	APIKey string
	Model  string
	System string
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  model,
		system: cfg.System,
	}
}

// Chat streams a plain completion for the message history.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message) (*Stream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  p.convertMessages(messages),
		MaxTokens: 4096,
	}
	if p.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.system}}
	}

	out := NewStream()
	go func() {
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta().Delta
			if delta.Type != "text_delta" || delta.Text == "" {
				continue
			}
			if err := out.Push(ctx, delta.Text); err != nil {
				out.Close(err)
				return
			}
		}
		out.Close(stream.Err())
	}()

	return out, nil
}

// ChatWithTools makes a tool-augmented call via the Messages API.
func (p *AnthropicProvider) ChatWithTools(ctx context.Context, messages []Message, tools []Tool) (*ToolOutcome, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  p.convertMessages(messages),
		MaxTokens: 4096,
	}
	if p.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.system}}
	}

	if len(tools) > 0 {
		anTools := make([]anthropic.ToolUnionParam, 0, len(tools))
		for _, tool := range tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			}
			if required, ok := tool.Parameters["required"].([]interface{}); ok {
				names := make([]string, 0, len(required))
				for _, v := range required {
					if s, ok := v.(string); ok {
						names = append(names, s)
					}
				}
				toolParam.InputSchema.Required = names
			}
			anTools = append(anTools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = anTools
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("messages call failed: %w", err)
	}

	var text strings.Builder
	var calls []ToolCall
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			calls = append(calls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: b.JSON.Input.Raw(),
			})
		}
	}

	if len(calls) > 0 {
		return &ToolOutcome{ToolCalls: calls}, nil
	}
	return &ToolOutcome{Stream: TextStream(text.String())}, nil
}

func (p *AnthropicProvider) convertMessages(messages []Message) []anthropic.MessageParam {
	out := []anthropic.MessageParam{}

	for _, msg := range messages {
		switch {
		case msg.Role == "system":
			// Handled via params.System.
		case msg.Role == "tool":
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		case msg.Role == "assistant" && len(msg.ToolCalls) > 0:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, ParseArguments(tc.Arguments), tc.Name))
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case msg.Role == "assistant":
			out = append(out, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return out
}

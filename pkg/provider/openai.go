package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider and ToolCaller against any
// OpenAI-compatible chat-completions endpoint. The builtin backend uses it
// with a custom base URL and server-held credentials.
type OpenAIProvider struct {
	client openai.Client
	model  string
	system string
}

// OpenAIConfig holds OpenAI provider configuration.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	System  string
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
		system: cfg.System,
	}
}

// Chat streams a plain completion for the message history.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (*Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: p.convertMessages(messages),
	}

	out := NewStream()
	go func() {
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if err := out.Push(ctx, delta); err != nil {
				out.Close(err)
				return
			}
		}
		out.Close(stream.Err())
	}()

	return out, nil
}

// ChatWithTools makes a tool-augmented call. The outcome is either the
// model's text (as a completed stream) or its requested tool calls.
func (p *OpenAIProvider) ChatWithTools(ctx context.Context, messages []Message, tools []Tool) (*ToolOutcome, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: p.convertMessages(messages),
	}

	if len(tools) > 0 {
		oaTools := make([]openai.ChatCompletionToolParam, 0, len(tools))
		for _, tool := range tools {
			oaTools = append(oaTools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = oaTools
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	if len(choice.Message.ToolCalls) > 0 {
		calls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
		for _, tc := range choice.Message.ToolCalls {
			calls = append(calls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return &ToolOutcome{ToolCalls: calls}, nil
	}

	return &ToolOutcome{Stream: TextStream(choice.Message.Content)}, nil
}

func (p *OpenAIProvider) convertMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := []openai.ChatCompletionMessageParamUnion{}

	if p.system != "" {
		out = append(out, openai.SystemMessage(p.system))
	}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))
		case "user":
			out = append(out, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
				for _, tc := range msg.ToolCalls {
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					})
				}
				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				out = append(out, assistantMsg.ToParam())
			} else {
				out = append(out, openai.AssistantMessage(msg.Content))
			}
		case "tool":
			out = append(out, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}

	return out
}

// ParseArguments decodes tool-call arguments, degrading malformed JSON to an
// empty argument set instead of failing the call.
func ParseArguments(raw string) map[string]interface{} {
	args := map[string]interface{}{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]interface{}{}
	}
	return args
}

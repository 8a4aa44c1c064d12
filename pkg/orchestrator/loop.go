// Package orchestrator drives the multi-round function-calling loop for
// simple providers. Adapters never pass through here; they execute tools
// remotely.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/kawan/pkg/auth"
	"github.com/harun/kawan/pkg/provider"
	"github.com/harun/kawan/pkg/skills"
	"github.com/rs/zerolog"
)

// maxRounds bounds the request/execute/respond loop. Reaching it ends the
// turn with whatever text accumulated; it is a safety valve, not an error.
const maxRounds = 5

// EventSink receives the client-visible events of a chat turn in order.
type EventSink interface {
	Chunk(delta string) error
	SkillStart(skillName, description string)
	SkillResult(skillName string, success bool, data interface{}, errMsg string)
}

// Invocation records one executed skill call for the turn summary.
type Invocation struct {
	Function string
	Skill    string
}

// Result summarizes a completed chat turn.
type Result struct {
	Content string
	Invoked []Invocation
}

// Loop runs tool-augmented chat turns against a Provider and the skill
// registry.
type Loop struct {
	registry *skills.Registry
	logger   zerolog.Logger
}

// New creates a function-calling loop.
func New(registry *skills.Registry, logger zerolog.Logger) *Loop {
	return &Loop{
		registry: registry,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Run drives up to five rounds of chatWithTools. Tool execution failures are
// non-fatal: they are reported to the sink and fed back to the model as tool
// results so it can recover. Only provider failures abort the turn.
// Cancellation stops emission and skips remaining rounds without error.
func (l *Loop) Run(ctx context.Context, caller provider.ToolCaller, messages []provider.Message, id *auth.User, sink EventSink) (Result, error) {
	tools := l.providerTools(id)
	result := Result{}
	var content strings.Builder

	for round := 0; round < maxRounds; round++ {
		if ctx.Err() != nil {
			result.Content = content.String()
			return result, nil
		}

		outcome, err := caller.ChatWithTools(ctx, messages, tools)
		if err != nil {
			return Result{}, fmt.Errorf("provider call failed: %w", err)
		}

		if outcome.Stream != nil {
			for delta := range outcome.Stream.Deltas() {
				if ctx.Err() != nil {
					result.Content = content.String()
					return result, nil
				}
				content.WriteString(delta)
				if err := sink.Chunk(delta); err != nil {
					return Result{}, fmt.Errorf("failed to forward chunk: %w", err)
				}
			}
			if err := outcome.Stream.Err(); err != nil {
				return Result{}, fmt.Errorf("provider stream failed: %w", err)
			}
			result.Content = content.String()
			return result, nil
		}

		messages = append(messages, provider.Message{
			Role:      "assistant",
			ToolCalls: outcome.ToolCalls,
		})

		for _, call := range outcome.ToolCalls {
			if ctx.Err() != nil {
				result.Content = content.String()
				return result, nil
			}
			messages = append(messages, l.executeCall(ctx, call, id, sink, &result))
		}
	}

	l.logger.Warn().Int("rounds", maxRounds).Msg("Tool round limit reached, ending turn")
	result.Content = content.String()
	return result, nil
}

// executeCall runs one requested tool call and returns the tool turn to feed
// back to the model.
func (l *Loop) executeCall(ctx context.Context, call provider.ToolCall, id *auth.User, sink EventSink, result *Result) provider.Message {
	args := provider.ParseArguments(call.Arguments)

	description := ""
	skillName := call.Name
	if manifest, ok := l.registry.FunctionOwner(call.Name, id); ok {
		description = manifest.Description
		skillName = manifest.Name
	}
	sink.SkillStart(skillName, description)

	execution, err := l.registry.Execute(ctx, call.Name, args, id)
	if err != nil {
		l.logger.Warn().Err(err).Str("function", call.Name).Msg("Skill execution failed")
		sink.SkillResult(skillName, false, nil, err.Error())
		return toolTurn(call.ID, map[string]interface{}{"error": err.Error()})
	}

	sink.SkillResult(execution.SkillName, true, execution.Result, "")
	result.Invoked = append(result.Invoked, Invocation{
		Function: execution.FunctionName,
		Skill:    execution.SkillName,
	})
	return toolTurn(call.ID, execution.Result)
}

func toolTurn(callID string, payload interface{}) provider.Message {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return provider.Message{
		Role:       "tool",
		ToolCallID: callID,
		Content:    string(data),
	}
}

func (l *Loop) providerTools(id *auth.User) []provider.Tool {
	catalog := l.registry.ToFunctionCallingTools(id)
	tools := make([]provider.Tool, 0, len(catalog))
	for _, t := range catalog {
		tools = append(tools, provider.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return tools
}

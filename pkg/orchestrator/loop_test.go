package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kawan/pkg/provider"
	"github.com/harun/kawan/pkg/skills"
)

// scriptedCaller returns one prepared outcome per round.
type scriptedCaller struct {
	outcomes []*provider.ToolOutcome
	calls    int
	seen     [][]provider.Message
	err      error
}

func (s *scriptedCaller) ChatWithTools(ctx context.Context, messages []provider.Message, tools []provider.Tool) (*provider.ToolOutcome, error) {
	s.seen = append(s.seen, messages)
	if s.err != nil {
		return nil, s.err
	}
	outcome := s.outcomes[s.calls%len(s.outcomes)]
	s.calls++
	return outcome, nil
}

type recordingSink struct {
	chunks   []string
	starts   []string
	results  []string
	failures []string
	chunkErr error
}

func (r *recordingSink) Chunk(delta string) error {
	if r.chunkErr != nil {
		return r.chunkErr
	}
	r.chunks = append(r.chunks, delta)
	return nil
}

func (r *recordingSink) SkillStart(skillName, description string) {
	r.starts = append(r.starts, skillName)
}

func (r *recordingSink) SkillResult(skillName string, success bool, data interface{}, errMsg string) {
	if success {
		r.results = append(r.results, skillName)
	} else {
		r.failures = append(r.failures, errMsg)
	}
}

func loopRegistry(t *testing.T) *skills.Registry {
	t.Helper()
	r := skills.NewRegistry(zerolog.Nop())
	manifest := skills.Manifest{
		Name:        "math",
		Version:     "1.0.0",
		Description: "Arithmetic",
		Functions: []skills.FunctionDef{
			{Name: "add", Description: "Adds numbers", Parameters: map[string]interface{}{"type": "object"}},
			{Name: "fail", Description: "Always fails", Parameters: map[string]interface{}{"type": "object"}},
		},
	}
	handlers := map[string]skills.Handler{
		"add": func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"sum": 4}, nil
		},
		"fail": func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("division by zero")
		},
	}
	require.NoError(t, r.Register(manifest, handlers))
	return r
}

func TestLoop_PlainTextTurn(t *testing.T) {
	loop := New(loopRegistry(t), zerolog.Nop())
	caller := &scriptedCaller{outcomes: []*provider.ToolOutcome{
		{Stream: provider.TextStream("just an answer")},
	}}
	sink := &recordingSink{}

	result, err := loop.Run(context.Background(), caller, []provider.Message{{Role: "user", Content: "hi"}}, nil, sink)
	require.NoError(t, err)

	assert.Equal(t, "just an answer", result.Content)
	assert.Empty(t, result.Invoked)
	assert.Equal(t, []string{"just an answer"}, sink.chunks)
}

func TestLoop_ToolRoundThenText(t *testing.T) {
	loop := New(loopRegistry(t), zerolog.Nop())
	caller := &scriptedCaller{outcomes: []*provider.ToolOutcome{
		{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "add", Arguments: `{"a":2,"b":2}`}}},
		{Stream: provider.TextStream("the sum is 4")},
	}}
	sink := &recordingSink{}

	result, err := loop.Run(context.Background(), caller, []provider.Message{{Role: "user", Content: "2+2?"}}, nil, sink)
	require.NoError(t, err)

	assert.Equal(t, "the sum is 4", result.Content)
	require.Len(t, result.Invoked, 1)
	assert.Equal(t, "add", result.Invoked[0].Function)
	assert.Equal(t, "math", result.Invoked[0].Skill)
	assert.Equal(t, []string{"math"}, sink.starts)
	assert.Equal(t, []string{"math"}, sink.results)

	// Second round must carry the assistant tool-call turn and the tool result
	require.Len(t, caller.seen, 2)
	second := caller.seen[1]
	require.Len(t, second, 3)
	assert.Equal(t, "assistant", second[1].Role)
	assert.Equal(t, "tool", second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.Contains(t, second[2].Content, "4")
}

func TestLoop_ToolFailureIsNonFatal(t *testing.T) {
	loop := New(loopRegistry(t), zerolog.Nop())
	caller := &scriptedCaller{outcomes: []*provider.ToolOutcome{
		{ToolCalls: []provider.ToolCall{{ID: "call_1", Name: "fail", Arguments: `{}`}}},
		{Stream: provider.TextStream("that did not work")},
	}}
	sink := &recordingSink{}

	result, err := loop.Run(context.Background(), caller, []provider.Message{{Role: "user", Content: "break"}}, nil, sink)
	require.NoError(t, err)

	assert.Equal(t, "that did not work", result.Content)
	assert.Empty(t, result.Invoked)
	require.Len(t, sink.failures, 1)
	assert.Contains(t, sink.failures[0], "division by zero")

	// The error is fed back to the model as a tool turn
	second := caller.seen[1]
	assert.Equal(t, "tool", second[2].Role)
	assert.Contains(t, second[2].Content, "division by zero")
}

func TestLoop_RoundLimit(t *testing.T) {
	loop := New(loopRegistry(t), zerolog.Nop())
	// The model never stops asking for tools
	caller := &scriptedCaller{outcomes: []*provider.ToolOutcome{
		{ToolCalls: []provider.ToolCall{{ID: "call_n", Name: "add", Arguments: `{}`}}},
	}}
	sink := &recordingSink{}

	result, err := loop.Run(context.Background(), caller, []provider.Message{{Role: "user", Content: "loop"}}, nil, sink)
	require.NoError(t, err)

	assert.Equal(t, maxRounds, caller.calls)
	assert.Len(t, result.Invoked, maxRounds)
	assert.Empty(t, result.Content)
}

func TestLoop_ProviderErrorAborts(t *testing.T) {
	loop := New(loopRegistry(t), zerolog.Nop())
	caller := &scriptedCaller{err: fmt.Errorf("rate limited")}

	_, err := loop.Run(context.Background(), caller, []provider.Message{{Role: "user", Content: "hi"}}, nil, &recordingSink{})
	assert.ErrorContains(t, err, "rate limited")
}

func TestLoop_Cancellation(t *testing.T) {
	loop := New(loopRegistry(t), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	caller := &scriptedCaller{outcomes: []*provider.ToolOutcome{
		{Stream: provider.TextStream("never delivered")},
	}}
	sink := &recordingSink{}

	result, err := loop.Run(ctx, caller, []provider.Message{{Role: "user", Content: "hi"}}, nil, sink)
	require.NoError(t, err)
	assert.Empty(t, result.Content)
	assert.Equal(t, 0, caller.calls)
	assert.Empty(t, sink.chunks)
}

func TestLoop_ChunkForwardFailure(t *testing.T) {
	loop := New(loopRegistry(t), zerolog.Nop())
	caller := &scriptedCaller{outcomes: []*provider.ToolOutcome{
		{Stream: provider.TextStream("lost")},
	}}
	sink := &recordingSink{chunkErr: fmt.Errorf("connection closed")}

	_, err := loop.Run(context.Background(), caller, []provider.Message{{Role: "user", Content: "hi"}}, nil, sink)
	assert.ErrorContains(t, err, "connection closed")
}

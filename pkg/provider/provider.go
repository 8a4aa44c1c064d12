// Package provider implements simple chat providers: stateless-per-call
// text and tool-augmented chat against one LLM vendor. Providers never
// execute tools themselves; tool calls are returned to the caller.
package provider

import (
	"context"
	"fmt"
)

// Message is one conversation turn in provider-neutral form.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a model-initiated request to execute a named function.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool is a function-calling schema entry offered to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolOutcome is the result of a tool-augmented call: either a text stream
// or a list of requested tool calls, never both.
type ToolOutcome struct {
	Stream    *Stream
	ToolCalls []ToolCall
}

// Provider produces a lazy stream of text chunks for a message history.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (*Stream, error)
}

// ToolCaller is the optional tool-augmented capability of a Provider.
type ToolCaller interface {
	ChatWithTools(ctx context.Context, messages []Message, tools []Tool) (*ToolOutcome, error)
}

// Config selects and parameterizes a provider instance.
type Config struct {
	Vendor  string // openai, anthropic, builtin
	APIKey  string
	BaseURL string
	Model   string
	System  string
}

// Factory creates providers by vendor name.
type Factory struct {
	// BuiltinAPIKey and friends configure the builtin vendor, which talks to
	// an OpenAI-compatible endpoint with server-held credentials.
	BuiltinAPIKey  string
	BuiltinBaseURL string
	BuiltinModel   string
}

// New constructs a provider for the given configuration.
func (f *Factory) New(cfg Config) (Provider, error) {
	switch cfg.Vendor {
	case "builtin":
		model := cfg.Model
		if model == "" {
			model = f.BuiltinModel
		}
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  f.BuiltinAPIKey,
			BaseURL: f.BuiltinBaseURL,
			Model:   model,
			System:  cfg.System,
		}), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			System:  cfg.System,
		}), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicProvider(AnthropicConfig{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
			System: cfg.System,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider vendor: %s", cfg.Vendor)
	}
}

// Package adapter implements stateful connections to external agent
// runtimes. Unlike simple providers, adapters execute tools remotely and
// only report tool lifecycle events for observability; they may also emit
// unsolicited push events at any time.
package adapter

import (
	"context"

	"github.com/harun/kawan/pkg/provider"
	"github.com/harun/kawan/pkg/skills"
)

// ToolPhase is the lifecycle phase of a remote tool execution.
type ToolPhase string

const (
	ToolPhaseStart  ToolPhase = "start"
	ToolPhaseResult ToolPhase = "result"
	ToolPhaseError  ToolPhase = "error"
)

// ToolEvent reports one remote tool lifecycle transition. It is ephemeral
// and never stored.
type ToolEvent struct {
	Phase     ToolPhase
	Name      string
	Arguments string
	Result    interface{}
	Err       string
}

// Hooks carries the per-call event sinks for a chat turn. They are scoped to
// one Chat invocation; adapters must not retain them afterwards.
type Hooks struct {
	OnToolEvent func(ToolEvent)
	OnPush      func(content string)
}

func (h Hooks) toolEvent(ev ToolEvent) {
	if h.OnToolEvent != nil {
		h.OnToolEvent(ev)
	}
}

func (h Hooks) push(content string) {
	if h.OnPush != nil {
		h.OnPush(content)
	}
}

// Adapter is a stateful connection to an external agent runtime.
type Adapter interface {
	// Connect prepares the upstream connection. Implementations may declare
	// readiness lazily and prove reachability on the first chat call.
	Connect(ctx context.Context) error

	// Chat sends the conversation upstream and streams the reply. Tool and
	// push events observed during the turn are delivered through hooks.
	Chat(ctx context.Context, messages []provider.Message, hooks Hooks) (*provider.Stream, error)

	// SessionKey returns the upstream conversation identity.
	SessionKey() string

	// SetSessionKey rebinds the upstream conversation identity.
	SetSessionKey(key string)

	// Cleanup releases the upstream connection. Idempotent.
	Cleanup()
}

// SkillLister is the optional catalog capability of an Adapter.
type SkillLister interface {
	ListSkills(ctx context.Context) ([]skills.Manifest, error)
}

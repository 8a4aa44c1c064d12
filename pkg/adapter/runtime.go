package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/kawan/pkg/provider"
	"github.com/harun/kawan/pkg/skills"
	"github.com/rs/zerolog"
)

// aguiRequest is the AG-UI protocol request body.
type aguiRequest struct {
	ThreadID       string                 `json:"threadId"`
	RunID          string                 `json:"runId"`
	Messages       []aguiMessage          `json:"messages"`
	Tools          []interface{}          `json:"tools"`
	Context        []interface{}          `json:"context"`
	ForwardedProps map[string]interface{} `json:"forwardedProps"`
}

type aguiMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// aguiEvent is one AG-UI lifecycle event.
type aguiEvent struct {
	Type         string          `json:"type"`
	Delta        string          `json:"delta"`
	Message      string          `json:"message"`
	Content      string          `json:"content"`
	ToolCallID   string          `json:"toolCallId"`
	ToolCallName string          `json:"toolCallName"`
	Result       json.RawMessage `json:"result"`
}

// RuntimeAdapter talks to a remote agent runtime that exposes two wire
// formats: the richer AG-UI event protocol and the plain Agent API. AG-UI is
// preferred; if its endpoint is unreachable or answers 404/405 on first use,
// the adapter permanently downgrades this instance to the Agent API for all
// subsequent calls.
type RuntimeAdapter struct {
	endpoint string
	token    string
	httpc    *http.Client
	catalog  *skillCatalog
	logger   zerolog.Logger

	mu         sync.Mutex
	sessionKey string
	downgraded bool
}

// RuntimeConfig holds runtime adapter configuration.
type RuntimeConfig struct {
	Endpoint   string
	Token      string
	SessionKey string
	Logger     zerolog.Logger
}

// NewRuntimeAdapter creates a runtime adapter.
func NewRuntimeAdapter(cfg RuntimeConfig) (*RuntimeAdapter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("runtime endpoint is required")
	}

	logger := cfg.Logger.With().Str("component", "runtime-adapter").Logger()

	return &RuntimeAdapter{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		token:      cfg.Token,
		httpc:      &http.Client{},
		catalog:    newSkillCatalog(strings.TrimRight(cfg.Endpoint, "/"), cfg.Token, logger),
		logger:     logger,
		sessionKey: cfg.SessionKey,
	}, nil
}

// Connect implements Adapter; like the gateway, readiness is lazy.
func (a *RuntimeAdapter) Connect(context.Context) error {
	return nil
}

// SessionKey implements Adapter.
func (a *RuntimeAdapter) SessionKey() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionKey
}

// SetSessionKey implements Adapter.
func (a *RuntimeAdapter) SetSessionKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionKey = key
}

// Cleanup implements Adapter.
func (a *RuntimeAdapter) Cleanup() {
	a.httpc.CloseIdleConnections()
}

// ListSkills implements SkillLister via the upstream /skills catalog.
func (a *RuntimeAdapter) ListSkills(ctx context.Context) ([]skills.Manifest, error) {
	return a.catalog.Fetch(ctx)
}

// Downgraded reports whether this instance has fallen back to the Agent API.
func (a *RuntimeAdapter) Downgraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.downgraded
}

// Chat implements Adapter, preferring AG-UI and falling back to Agent API.
func (a *RuntimeAdapter) Chat(ctx context.Context, messages []provider.Message, hooks Hooks) (*provider.Stream, error) {
	a.mu.Lock()
	downgraded := a.downgraded
	a.mu.Unlock()

	if !downgraded {
		stream, retriable, err := a.chatAGUI(ctx, messages, hooks)
		if err == nil {
			return stream, nil
		}
		if !retriable {
			return nil, err
		}

		// Unreachable or unsupported endpoint: downgrade permanently for this
		// instance. The richer protocol is never re-probed (see DESIGN.md).
		a.mu.Lock()
		a.downgraded = true
		a.mu.Unlock()
		a.logger.Warn().Err(err).Msg("AG-UI endpoint unavailable, downgrading to Agent API")
	}

	return a.chatAgentAPI(ctx, messages)
}

// chatAGUI attempts the richer protocol. The bool reports whether a failure
// is a downgrade trigger (unreachable or unsupported endpoint) rather than a
// fatal error for this turn.
func (a *RuntimeAdapter) chatAGUI(ctx context.Context, messages []provider.Message, hooks Hooks) (*provider.Stream, bool, error) {
	aguiMsgs := make([]aguiMessage, 0, len(messages))
	for _, msg := range messages {
		aguiMsgs = append(aguiMsgs, aguiMessage{
			ID:      uuid.NewString(),
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(aguiRequest{
		ThreadID:       a.SessionKey(),
		RunID:          fmt.Sprintf("run_%d", time.Now().UnixMilli()),
		Messages:       aguiMsgs,
		Tools:          []interface{}{},
		Context:        []interface{}{},
		ForwardedProps: map[string]interface{}{},
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/ag-ui", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		// Network-level failure: candidate for downgrade.
		return nil, true, fmt.Errorf("ag-ui request failed: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		return nil, true, fmt.Errorf("ag-ui endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, false, fmt.Errorf("runtime returned %d: %s", resp.StatusCode, errBody)
	}

	out := provider.NewStream()
	go func() {
		defer resp.Body.Close()

		err := scanSSE(resp.Body, func(data string) error {
			var event aguiEvent
			if jsonErr := json.Unmarshal([]byte(data), &event); jsonErr != nil {
				a.logger.Debug().Str("data", data).Msg("Skipping unparseable SSE line")
				return nil
			}
			return a.handleAGUIEvent(ctx, event, out, hooks)
		})
		out.Close(err)
	}()

	return out, false, nil
}

// handleAGUIEvent maps one lifecycle event onto the stream and hooks.
// Unrecognized event types are a forward-compatible no-op.
func (a *RuntimeAdapter) handleAGUIEvent(ctx context.Context, event aguiEvent, out *provider.Stream, hooks Hooks) error {
	switch event.Type {
	case "TEXT_MESSAGE_CONTENT":
		if event.Delta == "" {
			return nil
		}
		return out.Push(ctx, event.Delta)

	case "TOOL_CALL_START":
		hooks.toolEvent(ToolEvent{Phase: ToolPhaseStart, Name: event.ToolCallName})

	case "TOOL_CALL_RESULT":
		var result interface{}
		if len(event.Result) > 0 {
			if err := json.Unmarshal(event.Result, &result); err != nil {
				result = string(event.Result)
			}
		}
		hooks.toolEvent(ToolEvent{Phase: ToolPhaseResult, Name: event.ToolCallName, Result: result})

	case "RUN_ERROR":
		return fmt.Errorf("run error: %s", event.Message)

	case "PUSH_MESSAGE":
		if event.Content != "" {
			hooks.push(event.Content)
		}

	case "RUN_FINISHED":
		return errStreamDone
	}

	return nil
}

// chatAgentAPI is the downgraded single-endpoint SSE path, identical to the
// gateway protocol.
func (a *RuntimeAdapter) chatAgentAPI(ctx context.Context, messages []provider.Message) (*provider.Stream, error) {
	body, err := json.Marshal(agentAPIRequest{
		Input:     latestUserTurn(messages),
		SessionID: a.SessionKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/process", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runtime request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("runtime returned %d: %s", resp.StatusCode, errBody)
	}

	out := provider.NewStream()
	go func() {
		defer resp.Body.Close()

		err := scanSSE(resp.Body, func(data string) error {
			var chunk agentAPIChunk
			if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr != nil {
				return nil
			}
			for _, output := range chunk.Output {
				for _, part := range output.Content {
					if part.Type != "text" || part.Text == "" {
						continue
					}
					if pushErr := out.Push(ctx, part.Text); pushErr != nil {
						return pushErr
					}
				}
			}
			return nil
		})
		out.Close(err)
	}()

	return out, nil
}

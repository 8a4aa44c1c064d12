package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/harun/kawan/pkg/provider"
	"github.com/harun/kawan/pkg/skills"
	"github.com/rs/zerolog"
)

// agentAPIRequest is the Agent API /process request body.
type agentAPIRequest struct {
	Input     []agentAPIMessage `json:"input"`
	SessionID string            `json:"session_id"`
}

type agentAPIMessage struct {
	Role    string         `json:"role"`
	Content []agentAPIPart `json:"content"`
}

type agentAPIPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// agentAPIChunk is one Agent API SSE payload.
type agentAPIChunk struct {
	Output []struct {
		Content []agentAPIPart `json:"content"`
	} `json:"output"`
}

// GatewayAdapter talks the Agent API protocol to a self-hosted runtime:
// POST {endpoint}/process with an SSE response of text chunks. The upstream
// keeps its own conversation history keyed by session id, so only the new
// user turn is sent. Connect is lazy: readiness is declared immediately and
// reachability is proven by the first chat call.
type GatewayAdapter struct {
	endpoint string
	token    string
	httpc    *http.Client
	catalog  *skillCatalog
	logger   zerolog.Logger

	mu         sync.Mutex
	sessionKey string
}

// GatewayConfig holds gateway adapter configuration.
type GatewayConfig struct {
	Endpoint   string
	Token      string
	SessionKey string
	Logger     zerolog.Logger
}

// NewGatewayAdapter creates a gateway adapter.
func NewGatewayAdapter(cfg GatewayConfig) (*GatewayAdapter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("gateway endpoint is required")
	}

	logger := cfg.Logger.With().Str("component", "gateway-adapter").Logger()

	return &GatewayAdapter{
		endpoint:   cfg.Endpoint,
		token:      cfg.Token,
		httpc:      &http.Client{},
		catalog:    newSkillCatalog(cfg.Endpoint, cfg.Token, logger),
		logger:     logger,
		sessionKey: cfg.SessionKey,
	}, nil
}

// Connect implements Adapter. The gateway is declared ready without a
// round-trip; a blocking health check here would stall every connect.
func (a *GatewayAdapter) Connect(context.Context) error {
	a.logger.Debug().Str("endpoint", a.endpoint).Msg("Gateway adapter ready (lazy connect)")
	return nil
}

// SessionKey implements Adapter.
func (a *GatewayAdapter) SessionKey() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionKey
}

// SetSessionKey implements Adapter.
func (a *GatewayAdapter) SetSessionKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionKey = key
}

// Cleanup implements Adapter.
func (a *GatewayAdapter) Cleanup() {
	a.httpc.CloseIdleConnections()
}

// ListSkills implements SkillLister via the upstream /skills catalog.
func (a *GatewayAdapter) ListSkills(ctx context.Context) ([]skills.Manifest, error) {
	return a.catalog.Fetch(ctx)
}

// Chat implements Adapter using the Agent API protocol. The protocol has no
// tool or push events, so hooks are unused here.
func (a *GatewayAdapter) Chat(ctx context.Context, messages []provider.Message, _ Hooks) (*provider.Stream, error) {
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
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, errBody)
	}

	out := provider.NewStream()
	go func() {
		defer resp.Body.Close()

		err := scanSSE(resp.Body, func(data string) error {
			var chunk agentAPIChunk
			if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr != nil {
				a.logger.Debug().Str("data", data).Msg("Skipping unparseable SSE line")
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

// latestUserTurn extracts the trailing user message(s) of a history. The
// upstream runtime maintains its own history per session key, so resending
// earlier turns would duplicate them.
func latestUserTurn(messages []provider.Message) []agentAPIMessage {
	var out []agentAPIMessage
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			break
		}
		out = append([]agentAPIMessage{{
			Role:    "user",
			Content: []agentAPIPart{{Type: "text", Text: messages[i].Content}},
		}}, out...)
	}
	return out
}

// Package session ties one client connection to exactly one provider or
// adapter instance, routes chat turns, and owns per-turn cancellation.
package session

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/kawan/pkg/adapter"
	"github.com/harun/kawan/pkg/auth"
	"github.com/harun/kawan/pkg/orchestrator"
	"github.com/harun/kawan/pkg/provider"
	"github.com/harun/kawan/pkg/pushqueue"
	"github.com/harun/kawan/pkg/skills"
	"github.com/harun/kawan/pkg/wire"
)

// Mode selects how a session reaches its model or agent upstream.
type Mode string

const (
	ModeBuiltin Mode = "builtin"
	ModeBYOK    Mode = "byok"
	ModeGateway Mode = "gateway"
	ModeRuntime Mode = "runtime"
	ModeHosted  Mode = "hosted"
	ModeRelay   Mode = "relay"
)

var validModes = map[Mode]bool{
	ModeBuiltin: true,
	ModeBYOK:    true,
	ModeGateway: true,
	ModeRuntime: true,
	ModeHosted:  true,
	ModeRelay:   true,
}

// Error is a session-layer failure with the wire error code the client
// should see.
type Error struct {
	Code    wire.ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

func errf(code wire.ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ClientConn is the connection a session writes envelopes to.
type ClientConn interface {
	Send(env wire.Envelope) error
	SendPush(content, source string) error
}

// Manager constructs sessions from connect requests and holds the shared
// collaborators every session routes through.
type Manager struct {
	verifier  auth.TokenVerifier
	limiter   auth.RateLimiter
	quota     auth.QuotaChecker
	memory    auth.MemoryStore
	relays    *auth.RelayRegistry
	registry  *skills.Registry
	providers *provider.Factory
	push      *pushqueue.Queue
	loop      *orchestrator.Loop
	logger    zerolog.Logger

	// privileged identities may omit the endpoint in gateway mode and fall
	// through to the managed default.
	privileged     map[string]bool
	defaultGateway string
	hostedEndpoint string
	hostedToken    string
	systemPrompt   string
}

// ManagerConfig holds session manager configuration.
type ManagerConfig struct {
	Verifier        auth.TokenVerifier
	RateLimiter     auth.RateLimiter
	QuotaChecker    auth.QuotaChecker
	Memory          auth.MemoryStore
	Relays          *auth.RelayRegistry
	Registry        *skills.Registry
	ProviderFactory *provider.Factory
	PushQueue       *pushqueue.Queue
	Logger          zerolog.Logger

	Privileged     []string
	DefaultGateway string
	HostedEndpoint string
	HostedToken    string
	SystemPrompt   string
}

// NewManager creates a session manager. Registry, provider factory, and push
// queue are required; auth collaborators default to permissive local
// implementations.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("skill registry is required")
	}
	if cfg.ProviderFactory == nil {
		return nil, fmt.Errorf("provider factory is required")
	}
	if cfg.PushQueue == nil {
		return nil, fmt.Errorf("push queue is required")
	}
	if cfg.Verifier == nil {
		cfg.Verifier = &auth.StaticVerifier{}
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = auth.AllowAllLimiter{}
	}
	if cfg.QuotaChecker == nil {
		cfg.QuotaChecker = &auth.FixedQuotaChecker{}
	}
	if cfg.Memory == nil {
		cfg.Memory = auth.NopMemory{}
	}
	if cfg.Relays == nil {
		cfg.Relays = auth.NewRelayRegistry()
	}

	privileged := make(map[string]bool, len(cfg.Privileged))
	for _, id := range cfg.Privileged {
		privileged[id] = true
	}

	return &Manager{
		verifier:       cfg.Verifier,
		limiter:        cfg.RateLimiter,
		quota:          cfg.QuotaChecker,
		memory:         cfg.Memory,
		relays:         cfg.Relays,
		registry:       cfg.Registry,
		providers:      cfg.ProviderFactory,
		push:           cfg.PushQueue,
		loop:           orchestrator.New(cfg.Registry, cfg.Logger),
		logger:         cfg.Logger.With().Str("component", "session").Logger(),
		privileged:     privileged,
		defaultGateway: cfg.DefaultGateway,
		hostedEndpoint: cfg.HostedEndpoint,
		hostedToken:    cfg.HostedToken,
		systemPrompt:   cfg.SystemPrompt,
	}, nil
}

// Connect validates identity and mode policy, constructs the upstream, and
// sends the connected acknowledgment. On error the connection stays
// sessionless; the returned *Error carries the code to report.
func (m *Manager) Connect(conn ClientConn, payload wire.ConnectPayload) (*Session, error) {
	mode := Mode(payload.Mode)
	if !validModes[mode] {
		return nil, errf(wire.ErrInvalidMessage, "unknown mode: %s", payload.Mode)
	}

	var user *auth.User
	if payload.AuthToken != "" {
		user = m.verifier.Verify(payload.AuthToken)
		if user == nil {
			return nil, errf(wire.ErrAuthFailed, "invalid auth token")
		}
	}

	if (mode == ModeHosted || mode == ModeRelay) && user == nil {
		return nil, errf(wire.ErrAuthFailed, "mode %s requires login", mode)
	}

	sessionID, err := gonanoid.New()
	if err != nil {
		return nil, errf(wire.ErrInternal, "failed to generate session id")
	}

	var quota *wire.HostedQuota
	if mode == ModeHosted {
		decision := m.quota.Check(user.UserID)
		if !decision.Allowed {
			return nil, errf(wire.ErrHostedQuotaExceeded, "hosted quota exceeded (%d/%d)", decision.Used, decision.Total)
		}
		quota = &wire.HostedQuota{Used: decision.Used, Total: decision.Total}
	}

	up, err := m.buildUpstream(mode, payload, user, sessionID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:       sessionID,
		Mode:     mode,
		DeviceID: payload.DeviceID,
		User:     user,
		Hosted:   mode == ModeHosted || payload.Hosted,
		conn:     conn,
		upstream: up,
		manager:  m,
		logger:   m.logger.With().Str("session_id", sessionID).Str("mode", string(mode)).Logger(),
	}

	if mode == ModeRelay {
		m.relays.Register(*user, s)
	}

	ack := wire.ConnectedPayload{
		SessionID:   sessionID,
		Mode:        string(mode),
		Skills:      s.skillNames(),
		HostedQuota: quota,
	}
	if err := conn.Send(wire.MustEnvelope(wire.TypeConnected, ack)); err != nil {
		s.Close()
		return nil, errf(wire.ErrInternal, "failed to send connected ack")
	}

	s.logger.Info().Str("device_id", payload.DeviceID).Msg("Session connected")
	return s, nil
}

// upstream is the tagged union of the two capability sets. Exactly one field
// is set.
type upstream struct {
	provider provider.Provider
	adapter  adapter.Adapter
}

func (u upstream) isAdapter() bool { return u.adapter != nil }

func (m *Manager) buildUpstream(mode Mode, payload wire.ConnectPayload, user *auth.User, sessionKey string) (upstream, error) {
	switch mode {
	case ModeBuiltin, ModeRelay:
		// Relay sessions exist to receive device commands; chat still works
		// through the managed provider so the device can converse.
		p, err := m.providers.New(provider.Config{
			Vendor: "builtin",
			Model:  payload.Model,
			System: m.systemPrompt,
		})
		if err != nil {
			return upstream{}, errf(wire.ErrProvider, "failed to create provider: %v", err)
		}
		return upstream{provider: p}, nil

	case ModeBYOK:
		if payload.APIKey == "" {
			return upstream{}, errf(wire.ErrAuthFailed, "mode byok requires an API key")
		}
		vendor := payload.Provider
		if vendor == "" {
			vendor = "openai"
		}
		p, err := m.providers.New(provider.Config{
			Vendor: vendor,
			APIKey: payload.APIKey,
			Model:  payload.Model,
			System: m.systemPrompt,
		})
		if err != nil {
			return upstream{}, errf(wire.ErrProvider, "failed to create provider: %v", err)
		}
		return upstream{provider: p}, nil

	case ModeGateway:
		endpoint := payload.EndpointURL
		if endpoint == "" {
			if user == nil || (!m.privileged[user.UserID] && !m.privileged[user.Phone]) {
				return upstream{}, errf(wire.ErrAuthFailed, "mode gateway requires an endpoint URL")
			}
			endpoint = m.defaultGateway
			if endpoint == "" {
				return upstream{}, errf(wire.ErrProvider, "no managed gateway endpoint configured")
			}
		}
		a, err := adapter.NewGatewayAdapter(adapter.GatewayConfig{
			Endpoint:   endpoint,
			Token:      payload.EndpointToken,
			SessionKey: sessionKey,
			Logger:     m.logger,
		})
		if err != nil {
			return upstream{}, errf(wire.ErrProvider, "failed to create gateway adapter: %v", err)
		}
		return upstream{adapter: a}, nil

	case ModeRuntime:
		if payload.EndpointURL == "" {
			return upstream{}, errf(wire.ErrInvalidMessage, "mode runtime requires an endpoint URL")
		}
		a, err := adapter.NewRuntimeAdapter(adapter.RuntimeConfig{
			Endpoint:   payload.EndpointURL,
			Token:      payload.EndpointToken,
			SessionKey: sessionKey,
			Logger:     m.logger,
		})
		if err != nil {
			return upstream{}, errf(wire.ErrProvider, "failed to create runtime adapter: %v", err)
		}
		return upstream{adapter: a}, nil

	case ModeHosted:
		if m.hostedEndpoint == "" {
			return upstream{}, errf(wire.ErrProvider, "hosted endpoint not configured")
		}
		a, err := adapter.NewRuntimeAdapter(adapter.RuntimeConfig{
			Endpoint: m.hostedEndpoint,
			Token:    m.hostedToken,
			// Hosted runtimes are shared; namespace the upstream session by
			// user so histories never cross accounts.
			SessionKey: fmt.Sprintf("%s-%s", user.UserID, sessionKey),
			Logger:     m.logger,
		})
		if err != nil {
			return upstream{}, errf(wire.ErrProvider, "failed to create hosted adapter: %v", err)
		}
		return upstream{adapter: a}, nil
	}

	return upstream{}, errf(wire.ErrInvalidMessage, "unknown mode: %s", mode)
}

package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const listenerBackoff = 10 * time.Second

// pushFrame is one payload on the push event stream.
type pushFrame struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// PushListener holds a long-lived SSE connection to an upstream runtime's
// event stream, independent of any client session, and forwards push events
// to a sink. On disconnect it waits a fixed backoff and reconnects forever.
// Each attempt builds a fresh request and read loop; nothing is patched
// incrementally, so a failed connection cannot leak stale state.
type PushListener struct {
	endpoint string
	token    string
	sink     func(content, source string)
	logger   zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// PushListenerConfig holds push listener configuration.
type PushListenerConfig struct {
	Endpoint string
	Token    string
	Sink     func(content, source string)
	Logger   zerolog.Logger
}

// NewPushListener creates a push listener.
func NewPushListener(cfg PushListenerConfig) (*PushListener, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("listener endpoint is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("listener sink is required")
	}

	return &PushListener{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		sink:     cfg.Sink,
		logger:   cfg.Logger.With().Str("component", "push-listener").Logger(),
	}, nil
}

// Start begins the connect/read/reconnect loop.
func (l *PushListener) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx)
	}()
}

// Stop tears the listener down and waits for the read loop to exit.
func (l *PushListener) Stop() {
	l.once.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
	})
	l.wg.Wait()
}

func (l *PushListener) run(ctx context.Context) {
	for {
		if err := l.listen(ctx); err != nil && ctx.Err() == nil {
			l.logger.Warn().Err(err).Dur("backoff", listenerBackoff).Msg("Push stream disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(listenerBackoff):
		}
	}
}

// listen holds one connection open until it fails or the listener stops.
func (l *PushListener) listen(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"/events", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("event stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned %d", resp.StatusCode)
	}

	l.logger.Info().Str("endpoint", l.endpoint).Msg("Push stream connected")

	return scanSSE(resp.Body, func(data string) error {
		var frame pushFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return nil
		}
		if frame.Content != "" {
			l.sink(frame.Content, frame.Source)
		}
		return nil
	})
}

// Package gateway serves the WebSocket session protocol: one JSON envelope
// per message, a connect handshake, then chat and skill traffic until the
// socket closes.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/kawan/pkg/pushqueue"
	"github.com/harun/kawan/pkg/session"
	"github.com/harun/kawan/pkg/wire"
)

// Server is the WebSocket gateway.
type Server struct {
	port     int
	server   *http.Server
	upgrader websocket.Upgrader
	sessions *session.Manager
	push     *pushqueue.Queue
	logger   zerolog.Logger

	shutdownMu     sync.RWMutex
	isShuttingDown bool

	connsMu sync.Mutex
	conns   map[string]*Conn
}

// Config holds server configuration.
type Config struct {
	Port           int
	SessionManager *session.Manager
	PushQueue      *pushqueue.Queue
	Logger         zerolog.Logger
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SessionManager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.PushQueue == nil {
		return nil, fmt.Errorf("push queue is required")
	}

	return &Server{
		port:     cfg.Port,
		sessions: cfg.SessionManager,
		push:     cfg.PushQueue,
		logger:   cfg.Logger.With().Str("component", "gateway").Logger(),
		conns:    make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}, nil
}

// Start begins serving. It returns once the listener goroutine is running.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	s.logger.Info().Int("port", s.port).Msg("Starting gateway")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	// Give the server a moment to start
	time.Sleep(50 * time.Millisecond)

	return nil
}

// Stop gracefully stops the server: new upgrades are refused, open sessions
// are closed, then the listener shuts down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")

	s.connsMu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		c.close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	connID, _ := gonanoid.New()
	conn := &Conn{
		id:     connID,
		ws:     ws,
		logger: s.logger.With().Str("conn_id", connID).Logger(),
	}

	s.connsMu.Lock()
	s.conns[connID] = conn
	s.connsMu.Unlock()

	s.logger.Info().Str("conn_id", connID).Str("ip", r.RemoteAddr).Msg("Client connected")

	go s.handleConn(conn)
}

// handleConn is the per-connection read loop. Envelope handling is
// synchronous except chat turns, which the session runs on its own goroutine
// so stop and ping frames keep flowing.
func (s *Server) handleConn(conn *Conn) {
	defer func() {
		s.push.Deactivate(conn)
		conn.close()
		s.connsMu.Lock()
		delete(s.conns, conn.id)
		s.connsMu.Unlock()
		s.logger.Info().Str("conn_id", conn.id).Msg("Client disconnected")
	}()

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("conn_id", conn.id).Msg("WebSocket error")
			}
			return
		}

		env, err := wire.DecodeClient(message)
		if err != nil {
			conn.sendError(wire.ErrInvalidMessage, err.Error())
			continue
		}

		s.route(conn, env)
	}
}

func (s *Server) route(conn *Conn, env wire.Envelope) {
	switch env.Type {
	case wire.TypePing:
		if err := conn.Send(wire.MustEnvelope(wire.TypePong, nil)); err != nil {
			conn.logger.Debug().Err(err).Msg("Failed to send pong")
		}

	case wire.TypePong:
		// Reply to our own ping; nothing to do.

	case wire.TypeConnect:
		s.handleConnect(conn, env)

	case wire.TypeChatSend:
		sess := conn.Session()
		if sess == nil {
			conn.sendError(wire.ErrInvalidMessage, "Not connected")
			return
		}
		var payload wire.ChatSendPayload
		if err := wire.DecodePayload(env, &payload); err != nil {
			conn.sendError(wire.ErrInvalidMessage, err.Error())
			return
		}
		sess.Chat(payload)

	case wire.TypeChatStop:
		sess := conn.Session()
		if sess == nil {
			conn.sendError(wire.ErrInvalidMessage, "Not connected")
			return
		}
		var payload wire.ChatStopPayload
		if err := wire.DecodePayload(env, &payload); err != nil {
			conn.sendError(wire.ErrInvalidMessage, err.Error())
			return
		}
		sess.Stop(payload)

	case wire.TypeSkillListRequest:
		sess := conn.Session()
		if sess == nil {
			conn.sendError(wire.ErrInvalidMessage, "Not connected")
			return
		}
		sess.SkillList()

	case wire.TypeSkillToggle:
		sess := conn.Session()
		if sess == nil {
			conn.sendError(wire.ErrInvalidMessage, "Not connected")
			return
		}
		var payload wire.SkillTogglePayload
		if err := wire.DecodePayload(env, &payload); err != nil {
			conn.sendError(wire.ErrInvalidMessage, err.Error())
			return
		}
		sess.SkillToggle(payload)
	}
}

func (s *Server) handleConnect(conn *Conn, env wire.Envelope) {
	if conn.Session() != nil {
		conn.sendError(wire.ErrInvalidMessage, "Already connected")
		return
	}

	var payload wire.ConnectPayload
	if err := wire.DecodePayload(env, &payload); err != nil {
		conn.sendError(wire.ErrInvalidMessage, err.Error())
		return
	}

	sess, err := s.sessions.Connect(conn, payload)
	if err != nil {
		if serr, ok := err.(*session.Error); ok {
			conn.sendError(serr.Code, serr.Message)
		} else {
			conn.sendError(wire.ErrInternal, err.Error())
		}
		return
	}

	conn.bindSession(sess)

	// The new session becomes the push target; anything buffered while no
	// client was connected replays now, in arrival order.
	s.push.Activate(conn)
}

// ConnectedCount reports the number of open connections.
func (s *Server) ConnectedCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/kawan/pkg/session"
	"github.com/harun/kawan/pkg/wire"
)

// Conn wraps one WebSocket connection. All writes go through a single mutex
// because gorilla/websocket allows at most one concurrent writer, and chat
// streams, push delivery, and the read loop's replies all write here.
type Conn struct {
	id     string
	ws     *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	session *session.Session
	closed  bool
}

// Send writes one envelope to the client.
func (c *Conn) Send(env wire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

// SendPush implements pushqueue.Sink.
func (c *Conn) SendPush(content, source string) error {
	return c.Send(wire.MustEnvelope(wire.TypePushMessage, wire.PushMessagePayload{
		Content: content,
		Source:  source,
	}))
}

func (c *Conn) sendError(code wire.ErrorCode, message string) {
	env := wire.MustEnvelope(wire.TypeError, wire.ErrorPayload{Code: code, Message: message})
	if err := c.Send(env); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send error frame")
	}
}

// Session returns the bound session, or nil before connect.
func (c *Conn) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Conn) bindSession(s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// close tears down the session and the socket. Idempotent.
func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	s := c.session
	c.mu.Unlock()

	if s != nil {
		s.Close()
	}
	c.ws.Close()
}

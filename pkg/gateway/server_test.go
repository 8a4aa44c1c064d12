package gateway

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kawan/pkg/provider"
	"github.com/harun/kawan/pkg/pushqueue"
	"github.com/harun/kawan/pkg/session"
	"github.com/harun/kawan/pkg/skills"
	"github.com/harun/kawan/pkg/wire"
)

type gatewayFixture struct {
	server *Server
	push   *pushqueue.Queue
	wsURL  string
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	push := pushqueue.New(zerolog.Nop())
	manager, err := session.NewManager(session.ManagerConfig{
		Registry:        skills.NewRegistry(zerolog.Nop()),
		ProviderFactory: &provider.Factory{BuiltinAPIKey: "test-key", BuiltinModel: "gpt-4o-mini"},
		PushQueue:       push,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	server, err := NewServer(Config{
		Port:           8080,
		SessionManager: manager,
		PushQueue:      push,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	httpSrv := httptest.NewServer(http.HandlerFunc(server.handleWebSocket))
	t.Cleanup(httpSrv.Close)

	return &gatewayFixture{
		server: server,
		push:   push,
		wsURL:  "ws" + strings.TrimPrefix(httpSrv.URL, "http"),
	}
}

func (f *gatewayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType wire.MessageType, payload interface{}) {
	t.Helper()
	env, err := wire.NewEnvelope(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(env))
}

func read(t *testing.T, ws *websocket.Conn) wire.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var env wire.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func readUntil(t *testing.T, ws *websocket.Conn, msgType wire.MessageType) wire.Envelope {
	t.Helper()
	for i := 0; i < 20; i++ {
		env := read(t, ws)
		if env.Type == msgType {
			return env
		}
	}
	t.Fatalf("no %s frame arrived", msgType)
	return wire.Envelope{}
}

func connect(t *testing.T, ws *websocket.Conn) wire.ConnectedPayload {
	t.Helper()
	send(t, ws, wire.TypeConnect, wire.ConnectPayload{Mode: "builtin"})
	env := readUntil(t, ws, wire.TypeConnected)
	var ack wire.ConnectedPayload
	require.NoError(t, wire.DecodePayload(env, &ack))
	return ack
}

func TestServer_PingPong(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	send(t, ws, wire.TypePing, nil)
	env := read(t, ws)
	assert.Equal(t, wire.TypePong, env.Type)
}

func TestServer_ChatBeforeConnect(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	send(t, ws, wire.TypeChatSend, wire.ChatSendPayload{ConversationID: "c1", Content: "hi"})
	env := read(t, ws)

	require.Equal(t, wire.TypeError, env.Type)
	var payload wire.ErrorPayload
	require.NoError(t, wire.DecodePayload(env, &payload))
	assert.Equal(t, wire.ErrInvalidMessage, payload.Code)
	assert.Equal(t, "Not connected", payload.Message)
}

func TestServer_MalformedFrame(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	env := read(t, ws)

	require.Equal(t, wire.TypeError, env.Type)
	var payload wire.ErrorPayload
	require.NoError(t, wire.DecodePayload(env, &payload))
	assert.Equal(t, wire.ErrInvalidMessage, payload.Code)
}

func TestServer_ServerOnlyTypeRejected(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	send(t, ws, wire.MessageType("chat.chunk"), nil)
	env := read(t, ws)
	assert.Equal(t, wire.TypeError, env.Type)
}

func TestServer_Connect(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	ack := connect(t, ws)
	assert.NotEmpty(t, ack.SessionID)
	assert.Equal(t, "builtin", ack.Mode)
}

func TestServer_DuplicateConnect(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)
	connect(t, ws)

	send(t, ws, wire.TypeConnect, wire.ConnectPayload{Mode: "builtin"})
	env := read(t, ws)

	require.Equal(t, wire.TypeError, env.Type)
	var payload wire.ErrorPayload
	require.NoError(t, wire.DecodePayload(env, &payload))
	assert.Equal(t, "Already connected", payload.Message)
}

func TestServer_ConnectErrorCode(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)

	send(t, ws, wire.TypeConnect, wire.ConnectPayload{Mode: "hosted"})
	env := read(t, ws)

	require.Equal(t, wire.TypeError, env.Type)
	var payload wire.ErrorPayload
	require.NoError(t, wire.DecodePayload(env, &payload))
	assert.Equal(t, wire.ErrAuthFailed, payload.Code)
}

func TestServer_BufferedPushReplaysOnConnect(t *testing.T) {
	f := newGatewayFixture(t)
	f.push.Deliver("while you were away", "scheduler")

	ws := f.dial(t)
	connect(t, ws)

	env := readUntil(t, ws, wire.TypePushMessage)
	var payload wire.PushMessagePayload
	require.NoError(t, wire.DecodePayload(env, &payload))
	assert.Equal(t, "while you were away", payload.Content)
	assert.Equal(t, "scheduler", payload.Source)
	assert.Equal(t, 0, f.push.Pending())
}

func TestServer_LivePushDelivery(t *testing.T) {
	f := newGatewayFixture(t)
	ws := f.dial(t)
	connect(t, ws)

	f.push.Deliver("fresh event", "agent")

	env := readUntil(t, ws, wire.TypePushMessage)
	var payload wire.PushMessagePayload
	require.NoError(t, wire.DecodePayload(env, &payload))
	assert.Equal(t, "fresh event", payload.Content)
}

func TestServer_ConnectedCount(t *testing.T) {
	f := newGatewayFixture(t)
	assert.Equal(t, 0, f.server.ConnectedCount())

	ws := f.dial(t)
	send(t, ws, wire.TypePing, nil)
	read(t, ws)
	assert.Equal(t, 1, f.server.ConnectedCount())

	ws.Close()
	deadline := time.Now().Add(3 * time.Second)
	for f.server.ConnectedCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, f.server.ConnectedCount())
}

func TestServer_StartAndStop(t *testing.T) {
	push := pushqueue.New(zerolog.Nop())
	manager, err := session.NewManager(session.ManagerConfig{
		Registry:        skills.NewRegistry(zerolog.Nop()),
		ProviderFactory: &provider.Factory{BuiltinAPIKey: "test-key"},
		PushQueue:       push,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	port := 18734
	server, err := NewServer(Config{
		Port:           port,
		SessionManager: manager,
		PushQueue:      push,
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, server.Start())

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, server.Stop())

	// After shutdown the listener is gone
	_, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", port))
	assert.Error(t, err)
}

func TestNewServer_Validation(t *testing.T) {
	push := pushqueue.New(zerolog.Nop())
	manager, err := session.NewManager(session.ManagerConfig{
		Registry:        skills.NewRegistry(zerolog.Nop()),
		ProviderFactory: &provider.Factory{},
		PushQueue:       push,
	})
	require.NoError(t, err)

	_, err = NewServer(Config{Port: 0, SessionManager: manager, PushQueue: push})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8080, PushQueue: push})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8080, SessionManager: manager})
	assert.Error(t, err)
}

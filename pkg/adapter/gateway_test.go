package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/kawan/pkg/provider"
)

func agentAPIServer(t *testing.T, chunks []string, capture *agentAPIRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/process" {
			http.NotFound(w, r)
			return
		}
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			payload, err := json.Marshal(agentAPIChunk{
				Output: []struct {
					Content []agentAPIPart `json:"content"`
				}{
					{Content: []agentAPIPart{{Type: "text", Text: chunk}}},
				},
			})
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collect(t *testing.T, stream *provider.Stream) string {
	t.Helper()
	var out string
	for delta := range stream.Deltas() {
		out += delta
	}
	require.NoError(t, stream.Err())
	return out
}

func TestGatewayAdapter_Chat(t *testing.T) {
	var captured agentAPIRequest
	srv := agentAPIServer(t, []string{"hello ", "world"}, &captured)
	defer srv.Close()

	a, err := NewGatewayAdapter(GatewayConfig{
		Endpoint:   srv.URL,
		SessionKey: "sess-1",
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, a.Connect(context.Background()))

	stream, err := a.Chat(context.Background(), []provider.Message{
		{Role: "user", Content: "hi"},
	}, Hooks{})
	require.NoError(t, err)

	assert.Equal(t, "hello world", collect(t, stream))
	assert.Equal(t, "sess-1", captured.SessionID)
	require.Len(t, captured.Input, 1)
	assert.Equal(t, "hi", captured.Input[0].Content[0].Text)
}

func TestGatewayAdapter_SendsOnlyTrailingUserTurns(t *testing.T) {
	var captured agentAPIRequest
	srv := agentAPIServer(t, []string{"ok"}, &captured)
	defer srv.Close()

	a, err := NewGatewayAdapter(GatewayConfig{Endpoint: srv.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	history := []provider.Message{
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "second question"},
	}
	stream, err := a.Chat(context.Background(), history, Hooks{})
	require.NoError(t, err)
	collect(t, stream)

	// The upstream keeps its own history; earlier turns must not be resent
	require.Len(t, captured.Input, 1)
	assert.Equal(t, "second question", captured.Input[0].Content[0].Text)
}

func TestGatewayAdapter_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a, err := NewGatewayAdapter(GatewayConfig{Endpoint: srv.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = a.Chat(context.Background(), []provider.Message{{Role: "user", Content: "hi"}}, Hooks{})
	assert.ErrorContains(t, err, "500")
}

func TestGatewayAdapter_RequiresEndpoint(t *testing.T) {
	_, err := NewGatewayAdapter(GatewayConfig{})
	assert.Error(t, err)
}

func TestGatewayAdapter_SessionKey(t *testing.T) {
	a, err := NewGatewayAdapter(GatewayConfig{Endpoint: "http://example.invalid", SessionKey: "a"})
	require.NoError(t, err)

	assert.Equal(t, "a", a.SessionKey())
	a.SetSessionKey("b")
	assert.Equal(t, "b", a.SessionKey())
}

func TestGatewayAdapter_SessionKeyConcurrent(t *testing.T) {
	a, err := NewGatewayAdapter(GatewayConfig{Endpoint: "http://example.invalid", SessionKey: "a"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			a.SetSessionKey(fmt.Sprintf("key-%d", i))
		}(i)
		go func() {
			defer wg.Done()
			a.SessionKey()
		}()
	}
	wg.Wait()

	assert.Contains(t, a.SessionKey(), "key-")
}

func TestLatestUserTurn_AllUsers(t *testing.T) {
	turns := latestUserTurn([]provider.Message{
		{Role: "user", Content: "one"},
		{Role: "user", Content: "two"},
	})
	require.Len(t, turns, 2)
	assert.Equal(t, "one", turns[0].Content[0].Text)
	assert.Equal(t, "two", turns[1].Content[0].Text)
}

func TestLatestUserTurn_Empty(t *testing.T) {
	assert.Empty(t, latestUserTurn(nil))
	assert.Empty(t, latestUserTurn([]provider.Message{{Role: "assistant", Content: "x"}}))
}

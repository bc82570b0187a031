package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	itypes "github.com/DoyleJ11/spark-client/internal/types"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_UnsubscribeRemovesOnlyOwnHandler(t *testing.T) {
	r := NewRegistry()
	var mine, theirs int

	sub := r.Subscribe("chat_received", func(json.RawMessage) { mine++ })
	r.Subscribe("chat_received", func(json.RawMessage) { theirs++ })

	assert.Equal(t, 2, r.Dispatch("chat_received", nil))

	sub.Unsubscribe()
	sub.Unsubscribe()

	assert.Equal(t, 1, r.Dispatch("chat_received", nil))
	assert.Equal(t, 1, mine)
	assert.Equal(t, 2, theirs)
	assert.Equal(t, 1, r.Count("chat_received"))
}

func TestRegistry_DispatchInSubscriptionOrder(t *testing.T) {
	r := NewRegistry()
	var order []int
	for i := range 5 {
		r.Subscribe("e", func(json.RawMessage) { order = append(order, i) })
	}
	r.Dispatch("e", nil)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

func TestWS_DispatchesAndEmits(t *testing.T) {
	received := make(chan itypes.Frame, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "no", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"event":"session_found","data":{"role":"host"}}`))

		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var f itypes.Frame
		if json.Unmarshal(data, &f) == nil {
			received <- f
		}
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	ch := NewWS("ws"+strings.TrimPrefix(ts.URL, "http"), staticToken("tok"), WithBackoff(10*time.Millisecond, 50*time.Millisecond))

	found := make(chan json.RawMessage, 1)
	ch.Subscribe("session_found", func(data json.RawMessage) { found <- data })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ch.Run(ctx) }()

	select {
	case data := <-found:
		assert.JSONEq(t, `{"role":"host"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session_found")
	}

	require.Eventually(t, ch.Connected, time.Second, 10*time.Millisecond)
	require.NoError(t, ch.Emit(ctx, "join_session", map[string]string{"session_id": "s1"}))

	select {
	case f := <-received:
		assert.Equal(t, "join_session", f.Event)
		assert.JSONEq(t, `{"session_id":"s1"}`, string(f.Data))
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for emitted frame")
	}
}

func TestWS_EmitWhileDisconnected(t *testing.T) {
	ch := NewWS("ws://127.0.0.1:1/ws", staticToken("tok"))
	assert.False(t, ch.Connected())
	assert.ErrorIs(t, ch.Emit(context.Background(), "join_session", nil), ErrNotConnected)
}

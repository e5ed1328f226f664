package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []Envelope
}

func (h *recordingHandler) HandleEnvelope(_ context.Context, env Envelope) error {
	if env.Type == "bogus" {
		return errors.New("unknown envelope type")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, env)
	return nil
}

func (h *recordingHandler) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.seen))
	for i, e := range h.seen {
		out[i] = e.Type
	}
	return out
}

func testFeedConfig() *FeedConfig {
	return &FeedConfig{
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
		PingInterval:      time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      time.Second,
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFeedClient_ReconnectsAndCountsMessages(t *testing.T) {
	var conns atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		if conns.Add(1) == 1 {
			// First session: one good message, one malformed, one rejected, then drop.
			_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","payload":{}}`))
			_ = c.WriteMessage(websocket.TextMessage, []byte(`not json`))
			_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`))
			return
		}

		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"price","payload":{}}`))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	handler := &recordingHandler{}
	client := NewFeedClient(wsURL(server), testFeedConfig(), handler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	waitFor(t, func() bool { return len(handler.types()) == 2 })
	waitFor(t, func() bool { return client.Stats().Connected })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	got := handler.types()
	if got[0] != EnvelopeTrade || got[1] != EnvelopePrice {
		t.Errorf("envelopes = %v, want [trade price]", got)
	}
	stats := client.Stats()
	if stats.Received != 2 {
		t.Errorf("Received = %d, want 2", stats.Received)
	}
	if stats.Failed != 2 {
		t.Errorf("Failed = %d, want 2", stats.Failed)
	}
	if stats.Reconnects < 1 {
		t.Errorf("Reconnects = %d, want >= 1", stats.Reconnects)
	}
	if stats.Connected {
		t.Error("client still reports connected after Run returned")
	}
}

func TestFeedClient_StopsWhileDialFails(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewFeedClient(wsURL(server), testFeedConfig(), &recordingHandler{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := client.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if client.Stats().Reconnects == 0 {
		t.Error("expected reconnect attempts while the endpoint refuses upgrades")
	}
}

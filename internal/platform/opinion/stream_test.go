package opinion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

func TestBackoffDelay(t *testing.T) {
	base := 2 * time.Second
	max := 60 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 32 * time.Second},
		{5, 60 * time.Second},
		{6, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(base, max, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	// Non-decreasing up to the cap regardless of parameters.
	prev := time.Duration(0)
	for i := 0; i < 12; i++ {
		d := backoffDelay(150*time.Millisecond, 5*time.Second, i)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", i, d, prev)
		}
		prev = d
	}
}

func TestStreamClient_NoCredential(t *testing.T) {
	s := NewStreamClient(StreamConfig{URL: "ws://127.0.0.1:1"}, discardLogger())
	err := s.Connect(context.Background())
	if !errors.Is(err, domain.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wsServer accepts stream connections and records every text frame per
// connection.
type wsServer struct {
	srv      *httptest.Server
	mu       sync.Mutex
	frames   [][]string // frames received, by connection
	conns    []*websocket.Conn
	upgrades int
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{}
	up := websocket.Upgrader{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		idx := len(ws.frames)
		ws.frames = append(ws.frames, nil)
		ws.conns = append(ws.conns, c)
		ws.upgrades++
		ws.mu.Unlock()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			ws.mu.Lock()
			ws.frames[idx] = append(ws.frames[idx], string(raw))
			ws.mu.Unlock()
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) connCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.upgrades
}

func (ws *wsServer) framesFor(conn int) []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if conn >= len(ws.frames) {
		return nil
	}
	return append([]string(nil), ws.frames[conn]...)
}

func (ws *wsServer) send(conn int, payload string) error {
	ws.mu.Lock()
	c := ws.conns[conn]
	ws.mu.Unlock()
	return c.WriteMessage(websocket.TextMessage, []byte(payload))
}

func (ws *wsServer) drop(conn int) {
	ws.mu.Lock()
	c := ws.conns[conn]
	ws.mu.Unlock()
	c.Close()
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStreamClient_ConnectSubscribeAndTick(t *testing.T) {
	server := newWSServer(t)

	s := NewStreamClient(StreamConfig{
		URL:           server.url(),
		APIKey:        "key",
		ReconnectBase: 10 * time.Millisecond,
	}, discardLogger())
	defer s.Close()

	var mu sync.Mutex
	ticks := map[string]float64{}
	s.OnPriceTick(func(tokenID string, price float64) {
		mu.Lock()
		ticks[tokenID] = price
		mu.Unlock()
	})

	var states []ConnState
	s.OnStateChange(func(st ConnState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	s.SubscribePrices("tok-y", "tok-n")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitUntil(t, "auth and subscribe frames", func() bool {
		return len(server.framesFor(0)) >= 2
	})
	frames := server.framesFor(0)
	if !strings.Contains(frames[0], `"auth"`) {
		t.Errorf("first frame must authenticate, got %s", frames[0])
	}
	if !strings.Contains(frames[1], `"subscribe"`) || !strings.Contains(frames[1], "tok-y") {
		t.Errorf("second frame must carry the subscription, got %s", frames[1])
	}

	// Handshake acks are swallowed, ticks are delivered.
	server.send(0, `{"type":"subscribed","channel":"prices"}`)
	server.send(0, `{"type":"price_update","tokenId":"tok-y","price":"0.61"}`)
	waitUntil(t, "tick delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks["tok-y"] == 0.61
	})

	mu.Lock()
	got := append([]ConnState(nil), states...)
	mu.Unlock()
	want := []ConnState{StateConnecting, StateAuthenticating, StateConnected}
	if len(got) < len(want) {
		t.Fatalf("missing state transitions, got %v", got)
	}
	for i, st := range want {
		if got[i] != st {
			t.Errorf("state %d = %s, want %s", i, got[i], st)
		}
	}
}

func TestStreamClient_ReplaysSubscriptionsVerbatim(t *testing.T) {
	server := newWSServer(t)

	s := NewStreamClient(StreamConfig{
		URL:           server.url(),
		APIKey:        "key",
		ReconnectBase: 10 * time.Millisecond,
		ReconnectMax:  50 * time.Millisecond,
		MaxAttempts:   5,
	}, discardLogger())
	defer s.Close()

	s.SubscribePrices("tok-y")
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitUntil(t, "first subscription", func() bool {
		return len(server.framesFor(0)) >= 2
	})

	server.drop(0)

	waitUntil(t, "reconnect with replay", func() bool {
		return server.connCount() >= 2 && len(server.framesFor(1)) >= 2
	})

	first := server.framesFor(0)[1]
	second := server.framesFor(1)[1]
	if first != second {
		t.Errorf("replayed subscription must be byte-identical:\n%s\n%s", first, second)
	}
	waitUntil(t, "connected state", func() bool { return s.State() == StateConnected })
}

func TestStreamClient_DownAfterExhaustion(t *testing.T) {
	server := newWSServer(t)

	s := NewStreamClient(StreamConfig{
		URL:           server.url(),
		APIKey:        "key",
		ReconnectBase: 5 * time.Millisecond,
		ReconnectMax:  10 * time.Millisecond,
		MaxAttempts:   3,
	}, discardLogger())
	defer s.Close()

	downc := make(chan struct{}, 1)
	s.OnDown(func() { downc <- struct{}{} })

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Take the endpoint away entirely; every reconnect attempt must fail.
	// httptest cannot close hijacked (websocket) connections itself, so the
	// live stream connection is dropped explicitly after the listener is gone.
	server.srv.CloseClientConnections()
	server.srv.Close()
	server.drop(0)

	select {
	case <-downc:
	case <-time.After(2 * time.Second):
		t.Fatal("down callback never fired after budget exhaustion")
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("expected disconnected after exhaustion, got %s", got)
	}
}

func TestStreamClient_NoReconnectAfterClose(t *testing.T) {
	server := newWSServer(t)

	s := NewStreamClient(StreamConfig{
		URL:           server.url(),
		APIKey:        "key",
		ReconnectBase: 5 * time.Millisecond,
	}, discardLogger())

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitUntil(t, "first connection", func() bool { return server.connCount() == 1 })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := server.connCount(); got != 1 {
		t.Errorf("client reconnected after Close: %d connections", got)
	}
	if s.State() != StateDisconnected {
		t.Errorf("expected disconnected after Close, got %s", s.State())
	}
}

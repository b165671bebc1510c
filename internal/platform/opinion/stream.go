package opinion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Lesnak1/Opinion-Lens/internal/domain"
)

const (
	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// ConnState is the stream connection lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// PriceTickHandler receives one live price tick.
type PriceTickHandler func(tokenID string, price float64)

// StateHandler observes connection state transitions.
type StateHandler func(ConnState)

// StreamConfig holds the stream endpoint and reconnection policy.
type StreamConfig struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
	ReconnectBase    time.Duration
	ReconnectMax     time.Duration
	MaxAttempts      int
}

// withDefaults fills the zero-valued policy knobs.
func (c StreamConfig) withDefaults() StreamConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 2 * time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	return c
}

// StreamClient maintains the authenticated price stream: heartbeat,
// exponential reconnect with a bounded attempt budget, and verbatim
// subscription replay on every connect. After the budget is exhausted the
// client stays disconnected and reports it through the down callback, so the
// caller can fall back to polling.
type StreamClient struct {
	cfg    StreamConfig
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	state  ConnState
	closed bool

	// subscriptions holds the marshalled frames replayed on reconnect,
	// byte-identical to the originals.
	subscriptions [][]byte

	onTick  PriceTickHandler
	onState []StateHandler
	onDown  func()

	done chan struct{}
}

// NewStreamClient creates a stream client. Handlers are registered before
// Connect; registration is not synchronized with a live connection.
func NewStreamClient(cfg StreamConfig, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "opinion_stream")),
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}
}

// OnPriceTick registers the tick handler.
func (s *StreamClient) OnPriceTick(h PriceTickHandler) {
	s.mu.Lock()
	s.onTick = h
	s.mu.Unlock()
}

// OnStateChange registers a state transition observer.
func (s *StreamClient) OnStateChange(h StateHandler) {
	s.mu.Lock()
	s.onState = append(s.onState, h)
	s.mu.Unlock()
}

// OnDown registers the callback fired when the reconnect budget is spent.
func (s *StreamClient) OnDown(fn func()) {
	s.mu.Lock()
	s.onDown = fn
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *StreamClient) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials, authenticates, and replays subscriptions. The stream is
// credentialed only: an empty API key is refused before any network work.
func (s *StreamClient) Connect(ctx context.Context) error {
	if s.cfg.APIKey == "" {
		return fmt.Errorf("opinion/stream: %w", domain.ErrNoCredential)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("opinion/stream: %w", domain.ErrStreamClosed)
	}
	return s.connectLocked(ctx)
}

// connectLocked performs one connection attempt. Caller holds s.mu.
func (s *StreamClient) connectLocked(ctx context.Context) error {
	s.setStateLocked(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.setStateLocked(StateDisconnected)
		return fmt.Errorf("opinion/stream: dial: %w: %v", domain.ErrNetwork, err)
	}
	s.conn = conn

	s.setStateLocked(StateAuthenticating)
	auth := streamCommand{Type: "auth", Token: s.cfg.APIKey}
	if err := s.writeJSONLocked(auth); err != nil {
		conn.Close()
		s.conn = nil
		s.setStateLocked(StateDisconnected)
		return fmt.Errorf("opinion/stream: authenticate: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.setStateLocked(StateConnected)

	// Replay subscriptions exactly as they were first sent.
	for _, raw := range s.subscriptions {
		if err := s.writeRawLocked(raw); err != nil {
			s.logger.Warn("subscription replay failed", slog.String("error", err.Error()))
		}
	}

	go s.readLoop(conn)
	go s.pingLoop(conn)
	return nil
}

// SubscribePrices subscribes to live price ticks for the given instruments.
// The frame is tracked for replay; a send failure is logged and retried
// implicitly on the next reconnect.
func (s *StreamClient) SubscribePrices(tokenIDs ...string) {
	if len(tokenIDs) == 0 {
		return
	}
	cmd := streamCommand{Type: "subscribe", Channel: "prices", TokenIDs: tokenIDs}
	raw, err := json.Marshal(cmd)
	if err != nil {
		s.logger.Error("marshal subscribe frame", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append(s.subscriptions, raw)
	if s.state == StateConnected && s.conn != nil {
		if err := s.writeRawLocked(raw); err != nil {
			s.logger.Warn("subscribe send failed", slog.String("error", err.Error()))
		}
	}
}

// Close shuts the stream down. No reconnect is attempted afterwards.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.setStateLocked(StateDisconnected)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (s *StreamClient) setStateLocked(next ConnState) {
	if s.state == next {
		return
	}
	s.state = next
	for _, h := range s.onState {
		h(next)
	}
}

func (s *StreamClient) writeJSONLocked(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return s.writeRawLocked(raw)
}

func (s *StreamClient) writeRawLocked(raw []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

// readLoop reads frames until the connection drops, then hands off to the
// reconnect loop. It is bound to one connection; a reconnect starts a fresh
// loop.
func (s *StreamClient) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Info("stream disconnected", slog.String("error", err.Error()))
			s.reconnect()
			return
		}
		s.handleFrame(raw)
	}
}

// pingLoop keeps one connection alive; it exits when that connection fails.
func (s *StreamClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame routes one incoming frame. Handshake acks and pongs are
// swallowed; unknown frame types are dropped.
func (s *StreamClient) handleFrame(raw []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Type {
	case FramePriceUpdate:
		var pf priceFrame
		if err := json.Unmarshal(raw, &pf); err != nil {
			return
		}
		s.mu.Lock()
		h := s.onTick
		s.mu.Unlock()
		if h != nil {
			h(pf.TokenID, float64(pf.Price))
		}

	case FramePong, FrameSubscribed:
		// Keep-alive and handshake acks carry no payload of interest.

	case FrameError:
		var ef errorFrame
		if err := json.Unmarshal(raw, &ef); err != nil {
			return
		}
		s.logger.Warn("stream error frame",
			slog.String("code", ef.Code),
			slog.String("message", ef.Message),
		)
	}
}

// reconnect retries with exponential backoff until success or the attempt
// budget is spent. The attempt counter resets on every successful connect;
// on exhaustion the client stays disconnected and fires the down callback.
func (s *StreamClient) reconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.setStateLocked(StateReconnecting)
	s.mu.Unlock()

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		delay := backoffDelay(s.cfg.ReconnectBase, s.cfg.ReconnectMax, attempt)
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			cancel()
			return
		}
		err := s.connectLocked(ctx)
		s.mu.Unlock()
		cancel()

		if err == nil {
			return
		}
		s.logger.Warn("reconnect attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Error("reconnect budget exhausted", slog.Int("attempts", s.cfg.MaxAttempts))
	s.mu.Lock()
	s.setStateLocked(StateDisconnected)
	down := s.onDown
	s.mu.Unlock()
	if down != nil {
		down()
	}
}

// backoffDelay computes base x 2^attempt capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

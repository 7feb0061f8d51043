package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkoval8/venuebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickerHandler is called for every ticker update received on the stream.
type TickerHandler func(domain.Ticker)

// TickerStream subscribes to a venue's websocket ticker feed and dispatches
// updates to registered handlers. The gateway registers a handler that
// primes its response cache, so tick loops read live prices without REST
// round trips. The stream reconnects with exponential backoff and restores
// its subscriptions after each reconnect.
type TickerStream struct {
	wsURL  string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols []string
	closed  bool

	handlerMu sync.RWMutex
	handlers  []TickerHandler

	done chan struct{}
}

// NewTickerStream creates a stream for the given websocket endpoint.
func NewTickerStream(wsURL string, logger *slog.Logger) *TickerStream {
	return &TickerStream{
		wsURL:  wsURL,
		logger: logger.With("component", "ticker_stream"),
		done:   make(chan struct{}),
	}
}

// OnTicker registers a handler for ticker updates.
func (s *TickerStream) OnTicker(h TickerHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Subscribe adds symbols to the subscription set and, when connected, sends
// the subscribe command. Subscriptions survive reconnects.
func (s *TickerStream) Subscribe(symbols ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sym := range symbols {
		if !contains(s.symbols, sym) {
			s.symbols = append(s.symbols, sym)
		}
	}
	if s.conn == nil {
		return nil
	}
	return s.sendSubscribe(s.symbols)
}

// Run connects and serves the stream until ctx is cancelled, reconnecting
// on failure with exponential backoff.
func (s *TickerStream) Run(ctx context.Context) error {
	defer close(s.done)

	delay := reconnectDelay
	for {
		if err := s.connect(ctx); err != nil {
			s.logger.Warn("websocket connect failed", "error", err, "retry_in", delay)
		} else {
			delay = reconnectDelay
			s.readLoop(ctx)
		}

		select {
		case <-ctx.Done():
			s.closeConn()
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (s *TickerStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("venue/stream: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	symbols := append([]string(nil), s.symbols...)
	s.mu.Unlock()

	go s.pingLoop(ctx, conn)

	if len(symbols) > 0 {
		s.mu.Lock()
		err := s.sendSubscribe(symbols)
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("venue/stream: restore subscriptions: %w", err)
		}
	}
	s.logger.Info("websocket connected", "symbols", len(symbols))
	return nil
}

// wsCommand is the subscribe message sent to the venue.
type wsCommand struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// sendSubscribe writes a subscribe command. Caller holds s.mu.
func (s *TickerStream) sendSubscribe(symbols []string) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(wsCommand{Op: "subscribe", Channel: "ticker", Symbols: symbols})
}

// wsTicker is the wire form of a ticker push.
type wsTicker struct {
	Channel string  `json:"channel"`
	Symbol  string  `json:"symbol"`
	Last    float64 `json:"last,string"`
	Bid     float64 `json:"bid,string"`
	Ask     float64 `json:"ask,string"`
	TS      int64   `json:"ts"`
}

// readLoop reads messages until the connection drops or ctx is cancelled.
func (s *TickerStream) readLoop(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("websocket read failed", "error", fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err))
			}
			s.closeConn()
			return
		}

		var t wsTicker
		if err := json.Unmarshal(msg, &t); err != nil || t.Channel != "ticker" {
			continue
		}
		s.dispatch(domain.Ticker{
			Symbol:    t.Symbol,
			Last:      t.Last,
			Bid:       t.Bid,
			Ask:       t.Ask,
			Timestamp: time.UnixMilli(t.TS).UTC(),
		})
	}
}

func (s *TickerStream) dispatch(t domain.Ticker) {
	s.handlerMu.RLock()
	handlers := s.handlers
	s.handlerMu.RUnlock()

	for _, h := range handlers {
		h(t)
	}
}

func (s *TickerStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *TickerStream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

package venue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkoval8/venuebot/internal/domain"
)

// GatewayOptions tune the resilience wrapper. Zero values fall back to the
// package defaults.
type GatewayOptions struct {
	// RequestTimeout bounds each individual attempt against the driver.
	RequestTimeout time.Duration

	// RateLimitPerSecond gates outbound calls through the shared limiter.
	// Zero disables the gate.
	RateLimitPerSecond int

	// CacheSweepInterval overrides how often expired cache entries are
	// evicted.
	CacheSweepInterval time.Duration

	// HistoryPageDelay paces paginated History fetches between pages.
	HistoryPageDelay time.Duration

	// HistoryMaxRows caps a single History fetch.
	HistoryMaxRows int
}

// Gateway wraps a raw venue driver with the failure-containment stack every
// caller goes through: per-operation circuit breakers, bounded retry with
// exponential backoff, a TTL response cache for market-data reads, a shared
// rate-limit gate, and idempotent order submission.
//
// One Gateway serves one venue; bots for the same venue share it, so the
// breakers and cache see the venue's health across all bots.
type Gateway struct {
	driver  domain.Venue
	public  domain.PublicFeed // nil when the driver has no public surface
	limiter domain.RateLimiter
	opts    GatewayOptions

	breakers *breakerSet
	cache    *responseCache
	inflight *inflightRegistry
	logger   *slog.Logger
}

var (
	_ domain.Venue      = (*Gateway)(nil)
	_ domain.PublicFeed = (*Gateway)(nil)
)

// NewGateway wraps driver. limiter may be nil, in which case no rate gate is
// applied. If the driver also implements domain.PublicFeed the gateway
// exposes it.
func NewGateway(driver domain.Venue, limiter domain.RateLimiter, opts GatewayOptions, logger *slog.Logger) *Gateway {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	g := &Gateway{
		driver:   driver,
		limiter:  limiter,
		opts:     opts,
		breakers: newBreakerSet(driver.Name()),
		cache:    newResponseCache(),
		inflight: newInflightRegistry(),
		logger:   logger.With("component", "venue_gateway", "venue", driver.Name()),
	}
	if pf, ok := driver.(domain.PublicFeed); ok {
		g.public = pf
	}
	return g
}

// Run owns the background maintenance loops (cache sweep, idempotency-key
// expiry) and blocks until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	go g.inflight.runSweeper(ctx, time.Minute)
	g.cache.runSweeper(ctx, g.opts.CacheSweepInterval)
}

// Name returns the wrapped venue's identifier.
func (g *Gateway) Name() string { return g.driver.Name() }

// PrimeTicker injects a ticker into the response cache, bypassing the
// driver. The websocket stream uses it so tick loops read fresh prices
// without spending REST calls.
func (g *Gateway) PrimeTicker(t domain.Ticker) {
	g.cache.set("ticker:"+t.Symbol, t, tickerTTL, time.Now())
}

// call runs fn under the operation's breaker, the rate gate, the per-attempt
// timeout, and the retry policy. The whole retry sequence counts as a single
// breaker outcome.
func (g *Gateway) call(ctx context.Context, op string, fn func(context.Context) error) error {
	br := g.breakers.get(op)
	if err := br.allow(time.Now()); err != nil {
		return err
	}

	if g.limiter != nil && g.opts.RateLimitPerSecond > 0 {
		ok, err := g.limiter.Allow(ctx, "venue:"+g.driver.Name(), g.opts.RateLimitPerSecond, time.Second)
		if err != nil {
			g.logger.Warn("rate limiter unavailable, proceeding", "op", op, "error", err)
		} else if !ok {
			// Local throttling is not venue failure. Do not count it
			// against the breaker.
			return fmt.Errorf("venue: %s: %w", op, domain.ErrRateLimited)
		}
	}

	err := withRetry(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, g.opts.RequestTimeout)
		defer cancel()
		return fn(attemptCtx)
	})
	if err != nil {
		br.recordFailure(time.Now())
		if st := br.currentState(); st == breakerOpen {
			g.logger.Warn("circuit breaker opened", "op", op)
		}
		return err
	}
	br.recordSuccess()
	return nil
}

// Ticker returns the latest ticker, served from cache when fresh.
func (g *Gateway) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	key := "ticker:" + symbol
	if v, ok := g.cache.get(key, time.Now()); ok {
		return v.(domain.Ticker), nil
	}

	var t domain.Ticker
	err := g.call(ctx, "ticker", func(ctx context.Context) error {
		var err error
		t, err = g.driver.Ticker(ctx, symbol)
		return err
	})
	if err != nil {
		return domain.Ticker{}, err
	}
	g.cache.set(key, t, tickerTTL, time.Now())
	return t, nil
}

// Candles returns up to limit recent candles, served from cache when fresh.
func (g *Gateway) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	key := fmt.Sprintf("candles:%s:%s:%d", symbol, timeframe, limit)
	if v, ok := g.cache.get(key, time.Now()); ok {
		return v.([]domain.Candle), nil
	}

	var candles []domain.Candle
	err := g.call(ctx, "candles", func(ctx context.Context) error {
		var err error
		candles, err = g.driver.Candles(ctx, symbol, timeframe, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	g.cache.set(key, candles, candlesTTL, time.Now())
	return candles, nil
}

// PublicCandles fetches candles over the unauthenticated feed when the
// driver exposes one, falling back to the authenticated path otherwise.
func (g *Gateway) PublicCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if g.public == nil {
		return g.Candles(ctx, symbol, timeframe, limit)
	}

	key := fmt.Sprintf("candles:%s:%s:%d", symbol, timeframe, limit)
	if v, ok := g.cache.get(key, time.Now()); ok {
		return v.([]domain.Candle), nil
	}

	var candles []domain.Candle
	err := g.call(ctx, "candles", func(ctx context.Context) error {
		var err error
		candles, err = g.public.PublicCandles(ctx, symbol, timeframe, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	g.cache.set(key, candles, candlesTTL, time.Now())
	return candles, nil
}

// History stitches paginated candle pages into one continuous range, oldest
// first. Every page goes through the breaker, rate gate, and retry policy
// like any other candle call. Not cached: backfills are one-shot and large.
func (g *Gateway) History(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Candle, error) {
	src, ok := g.driver.(HistorySource)
	if !ok {
		return nil, fmt.Errorf("venue: history: %s has no paginated candle endpoint", g.driver.Name())
	}
	fetcher := NewHistoryFetcher(gatedHistorySource{g: g, src: src}, g.opts.HistoryPageDelay, g.opts.HistoryMaxRows)
	return fetcher.Fetch(ctx, symbol, timeframe, start, end)
}

// gatedHistorySource routes each history page through the gateway's
// failure-containment stack.
type gatedHistorySource struct {
	g   *Gateway
	src HistorySource
}

func (s gatedHistorySource) CandlesBatch(ctx context.Context, symbol, timeframe string, from time.Time, limit int) ([]domain.Candle, error) {
	var batch []domain.Candle
	err := s.g.call(ctx, "candles", func(ctx context.Context) error {
		var err error
		batch, err = s.src.CandlesBatch(ctx, symbol, timeframe, from, limit)
		return err
	})
	return batch, err
}

// OrderBook returns the book to the requested depth, served from cache when
// fresh.
func (g *Gateway) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	key := fmt.Sprintf("book:%s:%d", symbol, depth)
	if v, ok := g.cache.get(key, time.Now()); ok {
		return v.(domain.OrderBook), nil
	}

	var book domain.OrderBook
	err := g.call(ctx, "book", func(ctx context.Context) error {
		var err error
		book, err = g.driver.OrderBook(ctx, symbol, depth)
		return err
	})
	if err != nil {
		return domain.OrderBook{}, err
	}
	g.cache.set(key, book, bookTTL, time.Now())
	return book, nil
}

// CreateOrder submits an order. When the request carries an idempotency key
// the key is reserved first; a duplicate submission under a live key is
// rejected with the prior order's id and never reaches the venue. A failed
// submission releases the key so the caller may retry it.
func (g *Gateway) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	if req.IdempotencyKey != "" {
		if err := g.inflight.begin(req.IdempotencyKey, time.Now()); err != nil {
			g.logger.Warn("duplicate order submission rejected", "idempotency_key", req.IdempotencyKey)
			return domain.Order{}, err
		}
	}

	var order domain.Order
	err := g.call(ctx, "create_order", func(ctx context.Context) error {
		var err error
		order, err = g.driver.CreateOrder(ctx, req)
		return err
	})
	if err != nil {
		if req.IdempotencyKey != "" {
			g.inflight.release(req.IdempotencyKey)
		}
		return domain.Order{}, err
	}
	if req.IdempotencyKey != "" {
		g.inflight.complete(req.IdempotencyKey, order.ID)
	}
	return order, nil
}

// CancelOrder cancels a resting order.
func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return g.call(ctx, "cancel_order", func(ctx context.Context) error {
		return g.driver.CancelOrder(ctx, symbol, orderID)
	})
}

// FetchOrder returns the current state of an order.
func (g *Gateway) FetchOrder(ctx context.Context, symbol, orderID string) (domain.Order, error) {
	var order domain.Order
	err := g.call(ctx, "fetch_order", func(ctx context.Context) error {
		var err error
		order, err = g.driver.FetchOrder(ctx, symbol, orderID)
		return err
	})
	return order, err
}

// OpenOrders lists resting orders for a symbol.
func (g *Gateway) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	var orders []domain.Order
	err := g.call(ctx, "open_orders", func(ctx context.Context) error {
		var err error
		orders, err = g.driver.OpenOrders(ctx, symbol)
		return err
	})
	return orders, err
}

// Balances returns account balances keyed by asset. Never cached: sizing
// decisions need live numbers.
func (g *Gateway) Balances(ctx context.Context) (map[string]domain.Balance, error) {
	var balances map[string]domain.Balance
	err := g.call(ctx, "balances", func(ctx context.Context) error {
		var err error
		balances, err = g.driver.Balances(ctx)
		return err
	})
	return balances, err
}

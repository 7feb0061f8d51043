package venue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoval8/venuebot/internal/domain"
)

// scriptedDriver is a domain.Venue whose per-method behavior tests swap in.
type scriptedDriver struct {
	mu          sync.Mutex
	tickerCalls int
	orderCalls  int
	tickerErr   error
	orderErr    error
	failFirstN  int // ticker fails transiently this many times, then succeeds
}

func (d *scriptedDriver) Name() string { return "testex" }

func (d *scriptedDriver) Ticker(_ context.Context, symbol string) (domain.Ticker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tickerCalls++
	if d.failFirstN > 0 {
		d.failFirstN--
		return domain.Ticker{}, &domain.TransientVenueError{Venue: "testex", Op: "ticker", Err: errors.New("503")}
	}
	if d.tickerErr != nil {
		return domain.Ticker{}, d.tickerErr
	}
	return domain.Ticker{Symbol: symbol, Last: 50_000}, nil
}

func (d *scriptedDriver) Candles(context.Context, string, string, int) ([]domain.Candle, error) {
	return []domain.Candle{{Close: 50_000}}, nil
}

func (d *scriptedDriver) OrderBook(context.Context, string, int) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}

func (d *scriptedDriver) CreateOrder(_ context.Context, req domain.OrderRequest) (domain.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orderCalls++
	if d.orderErr != nil {
		return domain.Order{}, d.orderErr
	}
	return domain.Order{ID: "order-1", Symbol: req.Symbol, Status: domain.OrderStatusFilled, Filled: req.Amount}, nil
}

func (d *scriptedDriver) CancelOrder(context.Context, string, string) error { return nil }

func (d *scriptedDriver) FetchOrder(context.Context, string, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

func (d *scriptedDriver) OpenOrders(context.Context, string) ([]domain.Order, error) {
	return nil, nil
}

func (d *scriptedDriver) Balances(context.Context) (map[string]domain.Balance, error) {
	return map[string]domain.Balance{"USDT": {Free: 10_000, Total: 10_000}}, nil
}

// gateLimiter answers every Allow with a fixed verdict.
type gateLimiter struct {
	allow bool
	calls int
}

func (l *gateLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.calls++
	return l.allow, nil
}

func (l *gateLimiter) Wait(context.Context, string) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGatewayServesTickerFromCache(t *testing.T) {
	driver := &scriptedDriver{}
	gw := NewGateway(driver, nil, GatewayOptions{}, testLogger())
	ctx := context.Background()

	first, err := gw.Ticker(ctx, "BTC/USDT")
	require.NoError(t, err)
	second, err := gw.Ticker(ctx, "BTC/USDT")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, driver.tickerCalls, "second read within the TTL hits the cache")
}

func TestGatewayPrimeTickerSkipsDriver(t *testing.T) {
	driver := &scriptedDriver{}
	gw := NewGateway(driver, nil, GatewayOptions{}, testLogger())

	gw.PrimeTicker(domain.Ticker{Symbol: "BTC/USDT", Last: 51_000})

	got, err := gw.Ticker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 51_000.0, got.Last)
	assert.Zero(t, driver.tickerCalls, "primed ticker must not spend a REST call")
}

func TestGatewayRetriesTransientFailures(t *testing.T) {
	driver := &scriptedDriver{failFirstN: 1}
	gw := NewGateway(driver, nil, GatewayOptions{}, testLogger())

	got, err := gw.Ticker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 50_000.0, got.Last)
	assert.Equal(t, 2, driver.tickerCalls, "one transient failure, one successful retry")
}

func TestGatewayPermanentErrorNotRetried(t *testing.T) {
	driver := &scriptedDriver{tickerErr: domain.ErrUnauthorized}
	gw := NewGateway(driver, nil, GatewayOptions{}, testLogger())

	_, err := gw.Ticker(context.Background(), "BTC/USDT")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 1, driver.tickerCalls)
}

func TestGatewayBreakerFailsFastAfterThreshold(t *testing.T) {
	driver := &scriptedDriver{tickerErr: domain.ErrUnauthorized}
	gw := NewGateway(driver, nil, GatewayOptions{}, testLogger())
	ctx := context.Background()

	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := gw.Ticker(ctx, "BTC/USDT")
		require.Error(t, err)
	}
	require.Equal(t, breakerFailureThreshold, driver.tickerCalls)

	_, err := gw.Ticker(ctx, "BTC/USDT")
	var open *domain.BreakerOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, breakerFailureThreshold, driver.tickerCalls,
		"open breaker rejects without touching the driver")

	// Other operations stay usable.
	_, err = gw.Candles(ctx, "BTC/USDT", "5m", 10)
	assert.NoError(t, err)
}

func TestGatewayRateLimitDenialDoesNotTripBreaker(t *testing.T) {
	driver := &scriptedDriver{}
	limiter := &gateLimiter{allow: false}
	gw := NewGateway(driver, limiter, GatewayOptions{RateLimitPerSecond: 10}, testLogger())
	ctx := context.Background()

	for i := 0; i < breakerFailureThreshold+2; i++ {
		_, err := gw.Ticker(ctx, "BTC/USDT")
		require.ErrorIs(t, err, domain.ErrRateLimited)
	}
	assert.Zero(t, driver.tickerCalls)

	// Once the limiter admits traffic again the call goes straight through:
	// local throttling never opened the breaker.
	limiter.allow = true
	_, err := gw.Ticker(ctx, "BTC/USDT")
	assert.NoError(t, err)
}

func TestGatewayDuplicateOrderRejected(t *testing.T) {
	driver := &scriptedDriver{}
	gw := NewGateway(driver, nil, GatewayOptions{}, testLogger())
	ctx := context.Background()

	req := domain.OrderRequest{
		Symbol:         "BTC/USDT",
		Side:           domain.OrderSideBuy,
		Type:           domain.OrderTypeMarket,
		Amount:         0.1,
		IdempotencyKey: "abc-123",
	}

	first, err := gw.CreateOrder(ctx, req)
	require.NoError(t, err)

	_, err = gw.CreateOrder(ctx, req)
	var dup *domain.DuplicateOrderError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.PriorOrderID)
	assert.Equal(t, 1, driver.orderCalls, "duplicate never reaches the venue")
}

func TestGatewayFailedOrderReleasesIdempotencyKey(t *testing.T) {
	driver := &scriptedDriver{orderErr: domain.ErrInsufficientFunds}
	gw := NewGateway(driver, nil, GatewayOptions{}, testLogger())
	ctx := context.Background()

	req := domain.OrderRequest{
		Symbol:         "BTC/USDT",
		Side:           domain.OrderSideBuy,
		Type:           domain.OrderTypeMarket,
		Amount:         0.1,
		IdempotencyKey: "abc-123",
	}

	_, err := gw.CreateOrder(ctx, req)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	driver.orderErr = nil
	_, err = gw.CreateOrder(ctx, req)
	assert.NoError(t, err, "key freed by the failed submission may be retried")
	assert.Equal(t, 2, driver.orderCalls)
}

func TestGatewayHistoryRequiresBatchCapableDriver(t *testing.T) {
	gw := NewGateway(&scriptedDriver{}, nil, GatewayOptions{}, testLogger())

	now := time.Now()
	_, err := gw.History(context.Background(), "BTC/USDT", "1m", now.Add(-time.Hour), now)
	assert.Error(t, err)
}

// batchDriver extends scriptedDriver with a paginated candle endpoint.
type batchDriver struct {
	scriptedDriver
	series []domain.Candle
}

func (d *batchDriver) CandlesBatch(_ context.Context, _, _ string, from time.Time, limit int) ([]domain.Candle, error) {
	var out []domain.Candle
	for _, c := range d.series {
		if c.Timestamp.Before(from) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestGatewayHistoryPagesThroughDriver(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	driver := &batchDriver{series: minuteSeries(start, 1200)}
	gw := NewGateway(driver, nil, GatewayOptions{HistoryPageDelay: time.Nanosecond}, testLogger())

	got, err := gw.History(context.Background(), "BTC/USDT", "1m", start, start.Add(2000*time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 1200)
}

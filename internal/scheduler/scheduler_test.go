package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoval8/venuebot/internal/domain"
	"github.com/mkoval8/venuebot/internal/position"
	"github.com/mkoval8/venuebot/internal/risk"
	"github.com/mkoval8/venuebot/internal/strategy"
	"github.com/mkoval8/venuebot/internal/venue"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// nullDriver is a venue that has no market data and no orders. Ticks against
// it fetch an empty candle window and do nothing.
type nullDriver struct{}

var _ domain.Venue = nullDriver{}

func (nullDriver) Name() string { return "sim" }
func (nullDriver) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return domain.Ticker{}, domain.ErrNotFound
}
func (nullDriver) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	return nil, nil
}
func (nullDriver) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	return domain.OrderBook{}, domain.ErrNotFound
}
func (nullDriver) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	return domain.Order{}, domain.ErrInvalidOrder
}
func (nullDriver) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return domain.ErrNotFound
}
func (nullDriver) FetchOrder(ctx context.Context, symbol, orderID string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (nullDriver) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return nil, nil
}
func (nullDriver) Balances(ctx context.Context) (map[string]domain.Balance, error) {
	return map[string]domain.Balance{}, nil
}

type memBotStore struct {
	mu       sync.Mutex
	statuses map[string]domain.BotStatus
}

var _ domain.BotStore = (*memBotStore)(nil)

func newMemBotStore() *memBotStore {
	return &memBotStore{statuses: make(map[string]domain.BotStatus)}
}

func (s *memBotStore) Create(ctx context.Context, bot domain.Bot) error { return nil }
func (s *memBotStore) GetByID(ctx context.Context, id string) (domain.Bot, error) {
	return domain.Bot{}, domain.ErrNotFound
}
func (s *memBotStore) UpdateStatus(ctx context.Context, id string, status domain.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}
func (s *memBotStore) Update(ctx context.Context, bot domain.Bot) error { return nil }
func (s *memBotStore) ListByUser(ctx context.Context, userID string) ([]domain.Bot, error) {
	return nil, nil
}
func (s *memBotStore) ListByStatus(ctx context.Context, status domain.BotStatus) ([]domain.Bot, error) {
	return nil, nil
}

func (s *memBotStore) status(id string) domain.BotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

type memTrades struct {
	mu     sync.Mutex
	trades []domain.Trade
}

var _ domain.TradeStore = (*memTrades)(nil)

func (s *memTrades) Insert(ctx context.Context, trade domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}
func (s *memTrades) ListByBot(ctx context.Context, botID string, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.BotID == botID {
			out = append(out, t)
		}
	}
	return out, nil
}
func (s *memTrades) SumPnLSince(ctx context.Context, botID string, since time.Time) (float64, error) {
	return 0, nil
}
func (s *memTrades) CountSince(ctx context.Context, botID string, since time.Time) (int64, error) {
	return 0, nil
}
func (s *memTrades) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (s *memTrades) all() []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Trade(nil), s.trades...)
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

var _ domain.AuditStore = (*memAudit)(nil)

func (s *memAudit) Log(ctx context.Context, botID, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}
func (s *memAudit) List(ctx context.Context, botID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}
func (s *memAudit) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *memAudit) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

type memState struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

var _ domain.StrategyStateStore = (*memState)(nil)

func newMemState() *memState { return &memState{blobs: make(map[string][]byte)} }

func (s *memState) Save(ctx context.Context, botID string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[botID] = append([]byte(nil), state...)
	return nil
}
func (s *memState) Load(ctx context.Context, botID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[botID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return blob, nil
}
func (s *memState) Delete(ctx context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, botID)
	return nil
}

func (s *memState) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}

// memLocks records lock traffic so tests can assert on acquire/release.
type memLocks struct {
	mu       sync.Mutex
	acquired []string
	released int
}

var _ domain.LockManager = (*memLocks)(nil)

func (l *memLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

type testHarness struct {
	sched  *Scheduler
	bots   *memBotStore
	trades *memTrades
	audit  *memAudit
	state  *memState
	locks  *memLocks
}

func newTestScheduler(t *testing.T) *testHarness {
	t.Helper()
	logger := testLogger()
	bots := newMemBotStore()
	trades := &memTrades{}
	audit := &memAudit{}
	state := newMemState()
	locks := &memLocks{}
	gw := venue.NewGateway(nullDriver{}, nil, venue.GatewayOptions{}, logger)

	sched := New(
		Options{
			PaperTickInterval:     time.Hour,
			RealTickInterval:      time.Hour,
			FetchOrderMaxAttempts: 2,
			FetchOrderBaseDelay:   time.Millisecond,
		},
		Stores{Bots: bots, Trades: trades, Audit: audit, State: state},
		map[string]*venue.Gateway{"sim": gw},
		strategy.DefaultRegistry(),
		risk.NewEngine(trades, logger),
		position.NewTracker(),
		locks,
		nil,
		logger,
	)
	return &testHarness{sched: sched, bots: bots, trades: trades, audit: audit, state: state, locks: locks}
}

func paperBot(id string) domain.Bot {
	return domain.Bot{
		ID:       id,
		UserID:   "u1",
		Symbol:   "BTC/USDT",
		Venue:    "sim",
		Strategy: "grid",
		Mode:     domain.ModePaper,
		Risk:     domain.RiskConfig{Capital: 10000, MinConfidence: 0.6},
	}
}

func TestOptionsDefaults(t *testing.T) {
	var o Options
	o.defaults()
	assert.Equal(t, 5*time.Second, o.PaperTickInterval)
	assert.Equal(t, 30*time.Second, o.RealTickInterval)
	assert.Equal(t, 10, o.CheckpointEvery)
	assert.Equal(t, "5m", o.Timeframe)
	assert.Equal(t, 100, o.CandleWindow)
	assert.Equal(t, 14, o.ATRWindow)
	assert.Equal(t, 1000, o.AuditRingSize)
	assert.Equal(t, 5, o.FetchOrderMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, o.FetchOrderBaseDelay)

	set := Options{PaperTickInterval: time.Minute, CandleWindow: 50}
	set.defaults()
	assert.Equal(t, time.Minute, set.PaperTickInterval)
	assert.Equal(t, 50, set.CandleWindow)
}

func TestStartBotRejectsUnknownVenueAndStrategy(t *testing.T) {
	h := newTestScheduler(t)
	ctx := context.Background()

	bot := paperBot("b1")
	bot.Venue = "nowhere"
	err := h.sched.StartBot(ctx, bot)
	assert.ErrorIs(t, err, domain.ErrUnknownVenue)

	bot = paperBot("b2")
	bot.Strategy = "martingale"
	err = h.sched.StartBot(ctx, bot)
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)

	assert.Equal(t, 0, h.sched.GetActiveBotCount())
}

func TestStartStopBotLifecycle(t *testing.T) {
	h := newTestScheduler(t)
	ctx := context.Background()
	bot := paperBot("b1")

	require.NoError(t, h.sched.StartBot(ctx, bot))
	assert.Equal(t, 1, h.sched.GetActiveBotCount())
	assert.Equal(t, domain.BotStatusRunning, h.bots.status("b1"))
	assert.Equal(t, []string{"bot:b1"}, h.locks.acquired)

	err := h.sched.StartBot(ctx, bot)
	assert.ErrorIs(t, err, domain.ErrBotAlreadyRunning)

	_, err = h.sched.AuditLog("b1")
	assert.NoError(t, err)

	require.NoError(t, h.sched.StopBot(ctx, "b1"))
	assert.Equal(t, 0, h.sched.GetActiveBotCount())
	assert.Equal(t, domain.BotStatusStopped, h.bots.status("b1"))

	// The final checkpoint persisted both the simulated ledger and the
	// grid's ladder state, and the lock was released.
	assert.True(t, h.state.has("paper:b1"))
	assert.True(t, h.state.has("b1"))
	h.locks.mu.Lock()
	released := h.locks.released
	h.locks.mu.Unlock()
	assert.Equal(t, 1, released)

	err = h.sched.StopBot(ctx, "b1")
	assert.ErrorIs(t, err, domain.ErrBotNotRunning)
	_, err = h.sched.AuditLog("b1")
	assert.ErrorIs(t, err, domain.ErrBotNotRunning)
}

func TestShutdownStopsAllBots(t *testing.T) {
	h := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, h.sched.StartBot(ctx, paperBot("b1")))
	require.NoError(t, h.sched.StartBot(ctx, paperBot("b2")))
	require.Equal(t, 2, h.sched.GetActiveBotCount())

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	h.sched.Shutdown(stopCtx)

	assert.Equal(t, 0, h.sched.GetActiveBotCount())
	assert.True(t, h.state.has("paper:b1"))
	assert.True(t, h.state.has("paper:b2"))
}

func TestStatsSummarizesRealizedTrades(t *testing.T) {
	h := newTestScheduler(t)
	ctx := context.Background()

	pnl := func(v float64) *float64 { return &v }
	for _, trade := range []domain.Trade{
		{ID: "t1", BotID: "b1", PnL: pnl(100)},
		{ID: "t2", BotID: "b1", PnL: pnl(-40)},
		{ID: "t3", BotID: "b1", PnL: pnl(60)},
		{ID: "t4", BotID: "b1"}, // entry leg, no realized P&L yet
		{ID: "t5", BotID: "other", PnL: pnl(999)},
	} {
		require.NoError(t, h.trades.Insert(ctx, trade))
	}

	stats, err := h.sched.Stats(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Trades)
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 2.0/3.0, stats.WinRate, 1e-9)
	assert.InDelta(t, 120.0, stats.RealizedPnL, 1e-9)
	assert.False(t, stats.HasPosition)
}

func TestGateSignal(t *testing.T) {
	r := &botRunner{
		bot:   domain.Bot{Risk: domain.RiskConfig{MinConfidence: 0.6}},
		strat: strategy.NewCrossover(),
	}

	_, ok := r.gateSignal(nil, false)
	assert.False(t, ok)

	_, ok = r.gateSignal(&domain.Signal{Action: domain.SignalHold, Confidence: 0.9}, false)
	assert.False(t, ok)

	reason, ok := r.gateSignal(&domain.Signal{Action: domain.SignalBuy, Confidence: 0.5}, false)
	assert.False(t, ok)
	assert.Contains(t, reason, "confidence")

	reason, ok = r.gateSignal(&domain.Signal{Action: domain.SignalSell, Confidence: 0.9}, false)
	assert.False(t, ok)
	assert.Contains(t, reason, "no open position")

	// A non-averaging strategy may not stack buys onto an open position.
	reason, ok = r.gateSignal(&domain.Signal{Action: domain.SignalBuy, Confidence: 0.9}, true)
	assert.False(t, ok)
	assert.Contains(t, reason, "non-averaging")

	_, ok = r.gateSignal(&domain.Signal{Action: domain.SignalBuy, Confidence: 0.9}, false)
	assert.True(t, ok)
	_, ok = r.gateSignal(&domain.Signal{Action: domain.SignalSell, Confidence: 0.9}, true)
	assert.True(t, ok)

	grid := &botRunner{
		bot:   domain.Bot{Risk: domain.RiskConfig{MinConfidence: 0.6}},
		strat: strategy.NewGrid(),
	}
	_, ok = grid.gateSignal(&domain.Signal{Action: domain.SignalBuy, Confidence: 0.9}, true)
	assert.True(t, ok, "grid averages into open positions")
}

func TestLadderTarget(t *testing.T) {
	assert.Nil(t, ladderTarget(nil))

	ladder := []risk.TakeProfitLevel{
		{Price: 101, Fraction: 0.3},
		{Price: 102, Fraction: 0.4},
		{Price: 103, Fraction: 0.3},
	}
	target := ladderTarget(ladder)
	require.NotNil(t, target)
	assert.Equal(t, 102.0, *target)

	single := ladderTarget([]risk.TakeProfitLevel{{Price: 99, Fraction: 1}})
	require.NotNil(t, single)
	assert.Equal(t, 99.0, *single)
}

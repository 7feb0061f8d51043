package venue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoval8/venuebot/internal/domain"
)

// fixedPrices serves one static price per symbol.
type fixedPrices struct {
	prices map[string]float64
}

func (f fixedPrices) Ticker(_ context.Context, symbol string) (domain.Ticker, error) {
	return domain.Ticker{Symbol: symbol, Last: f.prices[symbol]}, nil
}

func newTestPaper(balances map[string]float64) *Paper {
	return NewPaper("testex", 0.001, fixedPrices{prices: map[string]float64{"BTC/USDT": 50_000}}, balances)
}

func TestPaperBuyChargesFeeOnQuoteLeg(t *testing.T) {
	p := newTestPaper(map[string]float64{"USDT": 10_000})
	ctx := context.Background()

	order, err := p.CreateOrder(ctx, domain.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Amount: 0.1,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Equal(t, 0.1, order.Filled, "simulated fills are always complete")
	assert.Equal(t, 50_000.0, order.Price)
	assert.InDelta(t, 5.0, order.Fee, 1e-9, "0.1% of the 5000 notional")

	balances, err := p.Balances(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_000-5_000-5, balances["USDT"].Free, 1e-9)
	assert.InDelta(t, 0.1, balances["BTC"].Free, 1e-9)
}

func TestPaperSellDeductsFeeFromProceeds(t *testing.T) {
	p := newTestPaper(map[string]float64{"BTC": 1})
	ctx := context.Background()

	order, err := p.CreateOrder(ctx, domain.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideSell,
		Type:   domain.OrderTypeMarket,
		Amount: 0.5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 25.0, order.Fee, 1e-9)

	balances, err := p.Balances(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, balances["BTC"].Free, 1e-9)
	assert.InDelta(t, 25_000-25, balances["USDT"].Free, 1e-9)
}

func TestPaperRejectsUnfundedOrders(t *testing.T) {
	p := newTestPaper(map[string]float64{"USDT": 100})
	ctx := context.Background()

	_, err := p.CreateOrder(ctx, domain.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Amount: 1,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = p.CreateOrder(ctx, domain.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideSell,
		Type:   domain.OrderTypeMarket,
		Amount: 1,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Nothing moved.
	balances, err := p.Balances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, balances["USDT"].Free)
}

func TestPaperLimitOrderFillsAtLimitPrice(t *testing.T) {
	p := newTestPaper(map[string]float64{"USDT": 10_000})

	order, err := p.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeLimit,
		Amount: 0.1,
		Price:  49_000,
	})
	require.NoError(t, err)
	assert.Equal(t, 49_000.0, order.Price)
}

func TestPaperFetchAndCancel(t *testing.T) {
	p := newTestPaper(map[string]float64{"USDT": 10_000})
	ctx := context.Background()

	order, err := p.CreateOrder(ctx, domain.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Amount: 0.01,
	})
	require.NoError(t, err)

	got, err := p.FetchOrder(ctx, "BTC/USDT", order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = p.FetchOrder(ctx, "BTC/USDT", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Fills are immediate, there is never a resting order to cancel.
	assert.ErrorIs(t, p.CancelOrder(ctx, "BTC/USDT", order.ID), domain.ErrNotFound)

	open, err := p.OpenOrders(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPaperSnapshotRestoreRoundTrip(t *testing.T) {
	p := newTestPaper(map[string]float64{"USDT": 10_000})
	ctx := context.Background()

	_, err := p.CreateOrder(ctx, domain.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Amount: 0.1,
	})
	require.NoError(t, err)

	snap, err := p.Snapshot()
	require.NoError(t, err)

	restored := newTestPaper(map[string]float64{"USDT": 10_000})
	require.NoError(t, restored.Restore(snap))

	want, err := p.Balances(ctx)
	require.NoError(t, err)
	got, err := restored.Balances(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Error(t, restored.Restore([]byte("{not json")), "corrupt checkpoint is rejected")
}

func TestSplitSymbol(t *testing.T) {
	base, quote, err := SplitSymbol("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	for _, bad := range []string{"BTCUSDT", "/USDT", "BTC/", ""} {
		_, _, err := SplitSymbol(bad)
		assert.Error(t, err, bad)
	}
}

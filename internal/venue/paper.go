package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkoval8/venuebot/internal/domain"
)

const (
	// paperHistoryMax caps the in-memory order history; once reached the
	// oldest half is dropped.
	paperHistoryMax = 10000
	paperHistoryLow = 5000
)

// PriceSource supplies the market price the paper venue fills against. In
// practice this is the real venue's gateway, so paper fills track live data.
type PriceSource interface {
	Ticker(ctx context.Context, symbol string) (domain.Ticker, error)
}

// Paper is an in-memory simulated venue. It keeps a ledger of asset
// balances, fills every accepted order in full at the resolved price, and
// charges the configured taker fee on the quote leg. One Paper instance
// backs one bot, so paper bots never share a ledger.
type Paper struct {
	name    string
	feeRate float64
	prices  PriceSource

	mu       sync.Mutex
	balances map[string]float64 // free balance per asset
	orders   []domain.Order
}

var _ domain.Venue = (*Paper)(nil)

// NewPaper creates a simulated venue named after the real venue it mirrors.
// startBalances seeds the ledger, typically {"USDT": 10000}.
func NewPaper(name string, feeRate float64, prices PriceSource, startBalances map[string]float64) *Paper {
	balances := make(map[string]float64, len(startBalances))
	for asset, amount := range startBalances {
		balances[asset] = amount
	}
	return &Paper{
		name:     name + "-paper",
		feeRate:  feeRate,
		prices:   prices,
		balances: balances,
	}
}

func (p *Paper) Name() string { return p.name }

// Ticker proxies to the live price source; the simulation only fakes
// execution, never market data.
func (p *Paper) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	return p.prices.Ticker(ctx, symbol)
}

func (p *Paper) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if cs, ok := p.prices.(interface {
		Candles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)
	}); ok {
		return cs.Candles(ctx, symbol, timeframe, limit)
	}
	return nil, fmt.Errorf("venue/paper: candles: %w", domain.ErrNotFound)
}

func (p *Paper) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	if bs, ok := p.prices.(interface {
		OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error)
	}); ok {
		return bs.OrderBook(ctx, symbol, depth)
	}
	return domain.OrderBook{}, fmt.Errorf("venue/paper: order book: %w", domain.ErrNotFound)
}

// CreateOrder fills the order immediately and in full. Limit orders fill at
// their limit price, market orders at the live ticker price. The fee is
// charged in the quote asset on top of the notional for buys and out of the
// proceeds for sells. Orders the ledger cannot cover are rejected.
func (p *Paper) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	base, quote, err := SplitSymbol(req.Symbol)
	if err != nil {
		return domain.Order{}, err
	}
	if req.Amount <= 0 {
		return domain.Order{}, fmt.Errorf("venue/paper: amount must be positive: %w", domain.ErrInvalidOrder)
	}

	price := req.Price
	if req.Type == domain.OrderTypeMarket || price <= 0 {
		ticker, err := p.prices.Ticker(ctx, req.Symbol)
		if err != nil {
			return domain.Order{}, fmt.Errorf("venue/paper: resolve fill price: %w", err)
		}
		price = ticker.Last
	}
	if price <= 0 {
		return domain.Order{}, fmt.Errorf("venue/paper: no price for %s: %w", req.Symbol, domain.ErrInvalidOrder)
	}

	notional := price * req.Amount
	fee := notional * p.feeRate

	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.Side {
	case domain.OrderSideBuy:
		cost := notional + fee
		if p.balances[quote] < cost {
			return domain.Order{}, fmt.Errorf("venue/paper: need %.8f %s, have %.8f: %w",
				cost, quote, p.balances[quote], domain.ErrInsufficientFunds)
		}
		p.balances[quote] -= cost
		p.balances[base] += req.Amount
	case domain.OrderSideSell:
		if p.balances[base] < req.Amount {
			return domain.Order{}, fmt.Errorf("venue/paper: need %.8f %s, have %.8f: %w",
				req.Amount, base, p.balances[base], domain.ErrInsufficientFunds)
		}
		p.balances[base] -= req.Amount
		p.balances[quote] += notional - fee
	default:
		return domain.Order{}, fmt.Errorf("venue/paper: unknown side %q: %w", req.Side, domain.ErrInvalidOrder)
	}

	order := domain.Order{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     price,
		Amount:    req.Amount,
		Filled:    req.Amount,
		Fee:       fee,
		Status:    domain.OrderStatusFilled,
		CreatedAt: time.Now().UTC(),
	}
	p.orders = append(p.orders, order)
	if len(p.orders) >= paperHistoryMax {
		p.orders = append([]domain.Order(nil), p.orders[len(p.orders)-paperHistoryLow:]...)
	}
	return order, nil
}

// CancelOrder always fails: simulated fills are immediate, so there is
// never a resting order to cancel.
func (p *Paper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return fmt.Errorf("venue/paper: order %s: %w", orderID, domain.ErrNotFound)
}

func (p *Paper) FetchOrder(ctx context.Context, symbol, orderID string) (domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := len(p.orders) - 1; i >= 0; i-- {
		if p.orders[i].ID == orderID {
			return p.orders[i], nil
		}
	}
	return domain.Order{}, fmt.Errorf("venue/paper: order %s: %w", orderID, domain.ErrNotFound)
}

func (p *Paper) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return nil, nil
}

func (p *Paper) Balances(ctx context.Context) (map[string]domain.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]domain.Balance, len(p.balances))
	for asset, free := range p.balances {
		out[asset] = domain.Balance{Free: free, Total: free}
	}
	return out, nil
}

// paperSnapshot is the serialized checkpoint form of the ledger.
type paperSnapshot struct {
	Balances map[string]float64 `json:"balances"`
	Orders   []domain.Order     `json:"orders"`
}

// Snapshot serializes the ledger and order history for crash-recovery
// checkpoints.
func (p *Paper) Snapshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return json.Marshal(paperSnapshot{Balances: p.balances, Orders: p.orders})
}

// Restore replaces the ledger and order history from a previous Snapshot.
func (p *Paper) Restore(data []byte) error {
	var snap paperSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("venue/paper: restore: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.Balances != nil {
		p.balances = snap.Balances
	}
	p.orders = snap.Orders
	return nil
}

// SplitSymbol splits "BTC/USDT" into base and quote assets.
func SplitSymbol(symbol string) (base, quote string, err error) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" {
		return "", "", fmt.Errorf("venue: malformed symbol %q: %w", symbol, domain.ErrInvalidOrder)
	}
	return base, quote, nil
}

package domain

import "context"

// Venue is the contract every execution backend satisfies: the resilient
// gateway around a real exchange as well as the simulated paper venue.
// Implementations surface typed failures; callers treat every failure as
// "try again next tick".
type Venue interface {
	Name() string
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	Candles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	OrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	FetchOrder(ctx context.Context, symbol, orderID string) (Order, error)
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	Balances(ctx context.Context) (map[string]Balance, error)
}

// PublicFeed is the optional unauthenticated market-data surface of a venue.
// Paper bots prefer it for candle fetches, falling back to the authenticated
// feed on failure.
type PublicFeed interface {
	PublicCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

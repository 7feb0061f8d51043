package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates how the order is priced.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderRequest carries everything a venue needs to place an order. Price is
// ignored for market orders. IdempotencyKey, when set, guards against
// double-submission on caller retry.
type OrderRequest struct {
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Amount         float64
	Price          float64
	IdempotencyKey string
}

// Order is a venue-acknowledged order.
type Order struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Price     float64
	Amount    float64
	Filled    float64
	Fee       float64
	Status    OrderStatus
	CreatedAt time.Time
}

// Balance is a venue's view of a single asset.
type Balance struct {
	Free  float64
	Used  float64
	Total float64
}

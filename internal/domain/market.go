// Package domain defines the core types, store interfaces, and sentinel
// errors shared by every layer of the bot.
package domain

import "time"

// Candle is one OHLCV bar of historical price data.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Ticker is a venue's latest quote for a symbol.
type Ticker struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// BookLevel is a single price level of an order book side.
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a depth snapshot. Bids are sorted descending by price, asks
// ascending.
type OrderBook struct {
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// BestBid returns the top bid price, or 0 when the book side is empty.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when the book side is empty.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Package domain defines the normalized event model shared by every exchange
// adapter, the sentinel error set, and the sink interfaces implemented by the
// cache, store, and blob packages.
package domain

import "time"

// Side is the taker side of a trade or the side of a book entry.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Channel identifies a logical feed that can be subscribed on a venue.
type Channel string

const (
	ChannelL2Book    Channel = "l2_book"
	ChannelL3Book    Channel = "l3_book"
	ChannelBookDelta Channel = "book_delta"
	ChannelTrades    Channel = "trades"
	ChannelTicker    Channel = "ticker"
	ChannelCandle    Channel = "candle"
	ChannelKline     Channel = "kline"
	ChannelFunding   Channel = "funding"
	ChannelOrders    Channel = "orders"
	ChannelPosition  Channel = "position"
)

// Authenticated reports whether the channel requires API credentials.
func (c Channel) Authenticated() bool {
	return c == ChannelOrders || c == ChannelPosition
}

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// Trade is a normalized trade execution.
type Trade struct {
	Venue     string
	Symbol    string
	Side      Side
	Amount    float64
	Price     float64
	Timestamp time.Time
}

// Ticker is a coalesced best-bid/ask/last view for a symbol.
type Ticker struct {
	Venue     string
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Timestamp time.Time
}

// BookSnapshot is a full view of both sides of a book, best price first.
type BookSnapshot struct {
	Venue     string
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// LevelChange records one book mutation. Size 0 means the level (or, for L3
// books, the order) was removed. OrderID is empty for L2 changes.
type LevelChange struct {
	Side    Side
	Price   float64
	Size    float64
	OrderID string
}

// BookDelta carries the per-mutation change records produced since the last
// emission, for consumers that want deltas rather than full books.
type BookDelta struct {
	Venue     string
	Symbol    string
	Changes   []LevelChange
	Timestamp time.Time
}

// Candle is one OHLCV bar. Live (in-progress) and finalized bars share this
// shape; they are told apart by which handler receives them.
type Candle struct {
	Venue     string
	Symbol    string
	Timeframe string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// Funding is a venue-reported funding rate update.
type Funding struct {
	Venue     string
	Symbol    string
	Interval  string
	Rate      float64
	RateDaily float64
	Timestamp time.Time
}

// OrderUpdate is a passthrough of a venue-reported order state change.
type OrderUpdate struct {
	Venue      string
	Symbol     string
	OrderID    string
	Price      float64
	Quantity   float64
	IsFilled   bool
	IsCanceled bool
}

// Position is a passthrough of venue-reported position fields.
type Position struct {
	Venue            string
	Symbol           string
	EntryPrice       float64
	Cost             float64
	Quantity         float64
	PnLPercent       float64
	MarkPrice        float64
	LiquidationPrice float64
	Timestamp        time.Time
}

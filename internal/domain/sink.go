package domain

import (
	"context"
	"time"
)

// TickerCache stores the latest ticker per (venue, symbol).
type TickerCache interface {
	SetTicker(ctx context.Context, t Ticker) error
	GetTicker(ctx context.Context, venue, symbol string) (Ticker, error)
}

// BookCache stores live book state per (venue, symbol).
type BookCache interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetSnapshot(ctx context.Context, venue, symbol string) (BookSnapshot, error)
	GetBBO(ctx context.Context, venue, symbol string) (bestBid, bestAsk float64, err error)
}

// TradeStore persists normalized trades.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) error
}

// CandleStore persists finalized candle bars.
type CandleStore interface {
	InsertBatch(ctx context.Context, candles []Candle) error
}

// CandleSeeder provides the bar a resumed candle constructor starts from.
// Implementations return ErrNotFound when no prior bar exists, in which case
// the constructor seeds itself from the first trade.
type CandleSeeder interface {
	LastCandle(ctx context.Context, venue, symbol, timeframe string) (Candle, error)
}

// CandleArchiver moves finalized candles to cold storage.
type CandleArchiver interface {
	ArchiveCandles(ctx context.Context, candles []Candle, asOf time.Time) error
}

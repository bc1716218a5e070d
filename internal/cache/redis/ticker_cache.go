package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/driftlab/marketfeed/internal/domain"
)

// TickerCache implements domain.TickerCache with one hash per market.
//
// Key schema:
//
//	ticker:{venue}:{symbol} - hash with fields "bid", "ask", "last", "ts"
type TickerCache struct {
	c *Client
}

// NewTickerCache creates a TickerCache backed by the given Client.
func NewTickerCache(c *Client) *TickerCache {
	return &TickerCache{c: c}
}

func tickerKey(venue, symbol string) string {
	return "ticker:" + venue + ":" + symbol
}

// SetTicker overwrites the cached ticker for a market.
func (tc *TickerCache) SetTicker(ctx context.Context, t domain.Ticker) error {
	err := tc.c.Underlying().HSet(ctx, tickerKey(t.Venue, t.Symbol),
		"bid", strconv.FormatFloat(t.Bid, 'f', -1, 64),
		"ask", strconv.FormatFloat(t.Ask, 'f', -1, 64),
		"last", strconv.FormatFloat(t.Last, 'f', -1, 64),
		"ts", strconv.FormatInt(t.Timestamp.UnixNano(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set ticker %s %s: %w", t.Venue, t.Symbol, err)
	}
	return nil
}

// GetTicker reads the cached ticker for a market. It returns
// domain.ErrNotFound if nothing is cached.
func (tc *TickerCache) GetTicker(ctx context.Context, venue, symbol string) (domain.Ticker, error) {
	vals, err := tc.c.Underlying().HGetAll(ctx, tickerKey(venue, symbol)).Result()
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("redis: get ticker %s %s: %w", venue, symbol, err)
	}
	if len(vals) == 0 {
		return domain.Ticker{}, domain.ErrNotFound
	}

	t := domain.Ticker{Venue: venue, Symbol: symbol}
	t.Bid, _ = strconv.ParseFloat(vals["bid"], 64)
	t.Ask, _ = strconv.ParseFloat(vals["ask"], 64)
	t.Last, _ = strconv.ParseFloat(vals["last"], 64)
	if tsNano, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		t.Timestamp = time.Unix(0, tsNano).UTC()
	}
	return t, nil
}

// Compile-time interface check.
var _ domain.TickerCache = (*TickerCache)(nil)

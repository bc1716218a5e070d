// Package candle aggregates trade ticks into fixed time-window OHLCV bars.
// Each constructor emits a live in-progress bar on every trade and a
// finalized bar at each window boundary. Windows with no trades still
// produce a flat bar so downstream aggregation never sees a timestamp gap.
package candle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/driftlab/marketfeed/internal/domain"
)

// timeframes maps the supported timeframe labels to their window length.
var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseTimeframe resolves a timeframe label like "1m" or "4h" to its window
// length.
func ParseTimeframe(tf string) (time.Duration, error) {
	d, ok := timeframes[strings.ToLower(tf)]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", tf)
	}
	return d, nil
}

// bar is the in-progress accumulation for the current window.
type bar struct {
	start  time.Time
	open   float64
	high   float64
	low    float64
	close  float64
	volume float64
}

// Constructor builds candles for one (venue, symbol, timeframe) tuple. It is
// safe for concurrent use by the dispatch goroutine and its window timer.
type Constructor struct {
	venue     string
	symbol    string
	timeframe string
	window    time.Duration
	handlers  *domain.Handlers

	mu        sync.Mutex
	cur       *bar
	prevClose float64

	timer     *time.Timer
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Constructor and starts its window timer. If seed is non-nil
// the current bar resumes from it and the first timer fire is aligned to the
// remaining time in the seeded window; otherwise the bar starts with the
// first trade and the timer fires a full window from now.
func New(venue, symbol, timeframe string, handlers *domain.Handlers, seed *domain.Candle) (*Constructor, error) {
	window, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	return newConstructor(venue, symbol, timeframe, window, handlers, seed), nil
}

func newConstructor(venue, symbol, timeframe string, window time.Duration, handlers *domain.Handlers, seed *domain.Candle) *Constructor {
	c := &Constructor{
		venue:     venue,
		symbol:    symbol,
		timeframe: timeframe,
		window:    window,
		handlers:  handlers,
		done:      make(chan struct{}),
	}

	first := window
	if seed != nil {
		c.cur = &bar{
			start:  seed.Timestamp,
			open:   seed.Open,
			high:   seed.High,
			low:    seed.Low,
			close:  seed.Close,
			volume: seed.Volume,
		}
		c.prevClose = seed.Close
		if remaining := window - time.Since(seed.Timestamp); remaining > 0 {
			first = remaining
		} else {
			// Seed window already elapsed; release it on the next tick.
			first = time.Millisecond
		}
	}

	c.timer = time.NewTimer(first)
	go c.run()
	return c
}

// OnTrade folds one trade into the current bar and emits a live update.
func (c *Constructor) OnTrade(price, size float64) {
	c.mu.Lock()
	if c.cur == nil {
		c.cur = &bar{start: time.Now().UTC(), open: price, high: price, low: price, close: price}
	}
	if price > c.cur.high {
		c.cur.high = price
	}
	if price < c.cur.low {
		c.cur.low = price
	}
	c.cur.close = price
	c.cur.volume += size
	live := c.snapshotLocked()
	c.mu.Unlock()

	c.handlers.EmitKline(live)
}

// Close cancels the window timer. Pending state is discarded.
func (c *Constructor) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.timer.Stop()
	})
}

// run releases a bar at every window boundary until Close.
func (c *Constructor) run() {
	for {
		select {
		case <-c.done:
			return
		case <-c.timer.C:
			c.release()
			c.timer.Reset(c.window)
		}
	}
}

// release finalizes the current window. With no trades and no prior close
// there is nothing real to report, so nothing is emitted.
func (c *Constructor) release() {
	c.mu.Lock()
	var fin domain.Candle
	emit := false
	switch {
	case c.cur != nil:
		fin = c.snapshotLocked()
		c.prevClose = c.cur.close
		c.cur = nil
		emit = true
	case c.prevClose != 0:
		flat := c.prevClose
		fin = domain.Candle{
			Venue:     c.venue,
			Symbol:    c.symbol,
			Timeframe: c.timeframe,
			Open:      flat,
			High:      flat,
			Low:       flat,
			Close:     flat,
			Timestamp: time.Now().UTC().Add(-c.window),
		}
		emit = true
	}
	c.mu.Unlock()

	if emit {
		c.handlers.EmitCandle(fin)
	}
}

func (c *Constructor) snapshotLocked() domain.Candle {
	return domain.Candle{
		Venue:     c.venue,
		Symbol:    c.symbol,
		Timeframe: c.timeframe,
		Open:      c.cur.open,
		High:      c.cur.high,
		Low:       c.cur.low,
		Close:     c.cur.close,
		Volume:    c.cur.volume,
		Timestamp: c.cur.start,
	}
}

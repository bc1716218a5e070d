package book

import (
	"time"

	"github.com/driftlab/marketfeed/internal/domain"
)

// Book is an L2 order book: one ladder per side, aggregated by price.
type Book struct {
	bids ladder
	asks ladder

	forced    bool
	changes   []domain.LevelChange
	timestamp time.Time
}

// New creates an empty L2 book.
func New() *Book {
	return &Book{}
}

func (b *Book) side(s domain.Side) *ladder {
	if s == domain.Buy {
		return &b.bids
	}
	return &b.asks
}

// ApplySnapshot replaces one side wholesale and marks the next emission as
// forced. Zero-size entries are skipped.
func (b *Book) ApplySnapshot(side domain.Side, levels []domain.PriceLevel) {
	l := b.side(side)
	l.clear()
	for _, lvl := range levels {
		if lvl.Size > 0 {
			l.set(lvl.Price, lvl.Size)
		}
	}
	b.forced = true
	b.changes = b.changes[:0]
	b.timestamp = time.Now().UTC()
}

// ApplyDelta mutates a single price level. size > 0 inserts or updates;
// size == 0 removes the level. Removing an absent level is a no-op and
// applied is false. Every applied mutation is recorded for delta consumers.
func (b *Book) ApplyDelta(side domain.Side, price, size float64) (change domain.LevelChange, applied bool) {
	l := b.side(side)
	if size > 0 {
		l.set(price, size)
	} else if !l.remove(price) {
		return domain.LevelChange{}, false
	}
	change = domain.LevelChange{Side: side, Price: price, Size: size}
	b.changes = append(b.changes, change)
	b.timestamp = time.Now().UTC()
	return change, true
}

// Forced reports whether a snapshot arrived since the last call, consuming
// the flag. The emission after a snapshot is forced exactly once.
func (b *Book) Forced() bool {
	f := b.forced
	b.forced = false
	return f
}

// TakeChanges returns the mutations recorded since the last call and resets
// the accumulator.
func (b *Book) TakeChanges() []domain.LevelChange {
	out := b.changes
	b.changes = nil
	return out
}

// Bids returns the bid side, best (highest) price first.
func (b *Book) Bids() []domain.PriceLevel { return b.bids.snapshot(true) }

// Asks returns the ask side, best (lowest) price first.
func (b *Book) Asks() []domain.PriceLevel { return b.asks.snapshot(false) }

// Depth returns the number of price levels on the given side.
func (b *Book) Depth(side domain.Side) int { return b.side(side).len() }

// Timestamp is the time of the last mutation.
func (b *Book) Timestamp() time.Time { return b.timestamp }

// Reset clears both sides and all pending state.
func (b *Book) Reset() {
	b.bids.clear()
	b.asks.clear()
	b.forced = false
	b.changes = nil
	b.timestamp = time.Time{}
}

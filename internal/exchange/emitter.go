package exchange

import (
	"time"

	"github.com/driftlab/marketfeed/internal/domain"
)

// DefaultBookInterval is how many delta emissions may pass before a full
// book is pushed to the book handler anyway.
const DefaultBookInterval = 1000

// BookEmitter decides, per mutation, between a delta emission and a full
// book emission. A forced mutation (post-snapshot) always produces a full
// book; otherwise deltas flow to the delta handler until the refresh
// interval elapses.
type BookEmitter struct {
	venue    string
	interval int
	updates  int
	handlers *domain.Handlers
}

// NewBookEmitter creates a BookEmitter with the given full-book refresh
// interval; interval <= 0 uses DefaultBookInterval.
func NewBookEmitter(venue string, interval int, handlers *domain.Handlers) *BookEmitter {
	if interval <= 0 {
		interval = DefaultBookInterval
	}
	return &BookEmitter{venue: venue, interval: interval, handlers: handlers}
}

// Emit routes one book mutation to the delta and/or full-book handlers.
func (e *BookEmitter) Emit(symbol string, forced bool, changes []domain.LevelChange, bids, asks []domain.PriceLevel, ts time.Time) {
	if e.handlers.WantsDeltas() && e.updates < e.interval && !forced {
		e.updates++
		e.handlers.EmitBookDelta(domain.BookDelta{
			Venue:     e.venue,
			Symbol:    symbol,
			Changes:   changes,
			Timestamp: ts,
		})
	}

	if e.updates >= e.interval || forced || !e.handlers.WantsDeltas() {
		e.updates = 0
		e.handlers.EmitBook(domain.BookSnapshot{
			Venue:     e.venue,
			Symbol:    symbol,
			Bids:      bids,
			Asks:      asks,
			Timestamp: ts,
		})
	}
}

// Reset clears the delta counter, used when a connection is re-established.
func (e *BookEmitter) Reset() { e.updates = 0 }

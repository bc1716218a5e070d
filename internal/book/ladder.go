// Package book implements sorted order-book structures: an L2 book aggregated
// by price level and an L3 book tracking individual orders grouped under
// price levels. Books are not safe for concurrent use; each exchange adapter
// owns its books and mutates them from a single dispatch goroutine.
package book

import (
	"sort"

	"github.com/driftlab/marketfeed/internal/domain"
)

// ladder is an ordered mapping from price to size, kept sorted ascending.
// Prices are unique; a zero-size level is removed, never stored.
type ladder struct {
	levels []domain.PriceLevel
}

// search returns the index where price is or would be inserted, and whether
// it is present.
func (l *ladder) search(price float64) (int, bool) {
	i := sort.Search(len(l.levels), func(i int) bool {
		return l.levels[i].Price >= price
	})
	return i, i < len(l.levels) && l.levels[i].Price == price
}

// set inserts or replaces the level at price. size must be > 0.
func (l *ladder) set(price, size float64) {
	i, ok := l.search(price)
	if ok {
		l.levels[i].Size = size
		return
	}
	l.levels = append(l.levels, domain.PriceLevel{})
	copy(l.levels[i+1:], l.levels[i:])
	l.levels[i] = domain.PriceLevel{Price: price, Size: size}
}

// remove deletes the level at price, reporting whether it was present.
func (l *ladder) remove(price float64) bool {
	i, ok := l.search(price)
	if !ok {
		return false
	}
	l.levels = append(l.levels[:i], l.levels[i+1:]...)
	return true
}

func (l *ladder) get(price float64) (float64, bool) {
	i, ok := l.search(price)
	if !ok {
		return 0, false
	}
	return l.levels[i].Size, true
}

func (l *ladder) len() int { return len(l.levels) }

func (l *ladder) clear() { l.levels = l.levels[:0] }

// snapshot copies the ladder, best price first: descending for bids,
// ascending for asks.
func (l *ladder) snapshot(descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(l.levels))
	if descending {
		for i, lvl := range l.levels {
			out[len(l.levels)-1-i] = lvl
		}
		return out
	}
	copy(out, l.levels)
	return out
}

// Package ticker coalesces quote and trade streams into ticker refreshes.
// Venues publish quotes and trades on separate channels at different
// cadences; the aggregator only emits when a field actually changed and the
// ticker has warmed up, avoiding redundant downstream writes.
package ticker

import (
	"time"

	"github.com/driftlab/marketfeed/internal/domain"
)

// State tracks the last known bid/ask/last for one symbol, plus optional 24h
// and funding fields passed through from venue tickers.
type State struct {
	BidPrice  float64
	AskPrice  float64
	LastPrice float64
	Timestamp time.Time

	High24   float64
	Low24    float64
	Open24   float64
	Volume24 float64

	FundingRate     float64
	NextFundingTime time.Time
}

// ApplyQuote updates bid and ask, reporting whether either changed.
// Zero prices are ignored field-by-field.
func (s *State) ApplyQuote(bid, ask float64) bool {
	changed := false
	if bid != 0 && s.BidPrice != bid {
		s.BidPrice = bid
		s.Timestamp = time.Now().UTC()
		changed = true
	}
	if ask != 0 && s.AskPrice != ask {
		s.AskPrice = ask
		s.Timestamp = time.Now().UTC()
		changed = true
	}
	return changed
}

// ApplyTrade updates the last trade price, reporting whether it changed.
func (s *State) ApplyTrade(last float64) bool {
	if s.LastPrice == last {
		return false
	}
	s.LastPrice = last
	s.Timestamp = time.Now().UTC()
	return true
}

// Apply24h updates the 24h statistics. It never triggers a refresh on its
// own; the fields ride along on the next emission.
func (s *State) Apply24h(high, low, open, volume float64) {
	if high != 0 {
		s.High24 = high
	}
	if low != 0 {
		s.Low24 = low
	}
	if open != 0 {
		s.Open24 = open
	}
	if volume != 0 {
		s.Volume24 = volume
	}
}

// ApplyFunding updates funding fields, reporting whether either changed.
func (s *State) ApplyFunding(rate float64, next time.Time) bool {
	if s.FundingRate == rate && s.NextFundingTime.Equal(next) {
		return false
	}
	s.FundingRate = rate
	s.NextFundingTime = next
	return true
}

// Ready reports whether the ticker has seen both a quote and at least one
// trade. Nothing is emitted before then.
func (s *State) Ready() bool {
	return s.BidPrice != 0 && s.AskPrice != 0 && s.LastPrice != 0
}

// Aggregator owns the ticker state for one (venue, symbol) and emits
// refreshes through the caller-supplied handlers.
type Aggregator struct {
	venue    string
	symbol   string
	state    State
	handlers *domain.Handlers
}

// NewAggregator creates an Aggregator emitting for the given venue and symbol.
func NewAggregator(venue, symbol string, handlers *domain.Handlers) *Aggregator {
	return &Aggregator{venue: venue, symbol: symbol, handlers: handlers}
}

// OnQuote feeds a best bid/ask observation.
func (a *Aggregator) OnQuote(bid, ask float64) {
	if a.state.ApplyQuote(bid, ask) {
		a.refresh()
	}
}

// OnTrade feeds a last trade price observation.
func (a *Aggregator) OnTrade(last float64) {
	if a.state.ApplyTrade(last) {
		a.refresh()
	}
}

// State returns a copy of the current ticker state.
func (a *Aggregator) State() State { return a.state }

func (a *Aggregator) refresh() {
	if !a.state.Ready() {
		return
	}
	a.handlers.EmitTicker(domain.Ticker{
		Venue:     a.venue,
		Symbol:    a.symbol,
		Bid:       a.state.BidPrice,
		Ask:       a.state.AskPrice,
		Last:      a.state.LastPrice,
		Timestamp: a.state.Timestamp,
	})
}

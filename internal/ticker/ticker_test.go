package ticker

import (
	"testing"

	"github.com/driftlab/marketfeed/internal/domain"
)

func TestApplyQuoteChangeDetection(t *testing.T) {
	var s State
	if !s.ApplyQuote(10, 11) {
		t.Error("first quote must report changed")
	}
	if s.ApplyQuote(10, 11) {
		t.Error("identical quote must report unchanged")
	}
	if !s.ApplyQuote(10, 11.5) {
		t.Error("ask move must report changed")
	}
}

func TestApplyQuoteIgnoresZeroFields(t *testing.T) {
	var s State
	s.ApplyQuote(10, 11)
	if s.ApplyQuote(0, 11) {
		t.Error("zero bid must not count as a change")
	}
	if s.BidPrice != 10 {
		t.Errorf("zero bid overwrote state: %f", s.BidPrice)
	}
}

func TestApplyTradeChangeDetection(t *testing.T) {
	var s State
	if !s.ApplyTrade(10.5) {
		t.Error("first trade must report changed")
	}
	if s.ApplyTrade(10.5) {
		t.Error("same last price must report unchanged")
	}
}

func TestNotReadyUntilQuoteAndTrade(t *testing.T) {
	var emitted []domain.Ticker
	handlers := &domain.Handlers{Ticker: func(tk domain.Ticker) { emitted = append(emitted, tk) }}
	a := NewAggregator("bitmex", "BTC/USD", handlers)

	a.OnQuote(10, 11)
	if len(emitted) != 0 {
		t.Fatal("refresh emitted before any trade seen")
	}

	a.OnTrade(10.5)
	if len(emitted) != 1 {
		t.Fatalf("expected 1 refresh once warmed up, got %d", len(emitted))
	}
	got := emitted[0]
	if got.Bid != 10 || got.Ask != 11 || got.Last != 10.5 {
		t.Errorf("unexpected ticker: %+v", got)
	}
}

func TestNoRefreshOnUnchangedValues(t *testing.T) {
	count := 0
	handlers := &domain.Handlers{Ticker: func(domain.Ticker) { count++ }}
	a := NewAggregator("bitmex", "BTC/USD", handlers)

	a.OnQuote(10, 11)
	a.OnTrade(10.5)
	base := count

	a.OnQuote(10, 11)
	a.OnTrade(10.5)
	if count != base {
		t.Errorf("unchanged values emitted %d extra refreshes", count-base)
	}

	a.OnQuote(10.1, 11)
	if count != base+1 {
		t.Errorf("expected exactly one refresh after bid move, got %d", count-base)
	}
}

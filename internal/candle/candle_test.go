package candle

import (
	"sync"
	"testing"
	"time"

	"github.com/driftlab/marketfeed/internal/domain"
)

// recorder collects emitted bars behind a lock since the timer goroutine and
// the test goroutine both touch them.
type recorder struct {
	mu    sync.Mutex
	live  []domain.Candle
	final []domain.Candle
}

func (r *recorder) handlers() *domain.Handlers {
	return &domain.Handlers{
		Kline: func(c domain.Candle) {
			r.mu.Lock()
			r.live = append(r.live, c)
			r.mu.Unlock()
		},
		Candle: func(c domain.Candle) {
			r.mu.Lock()
			r.final = append(r.final, c)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) lastLive(t *testing.T) domain.Candle {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.live) == 0 {
		t.Fatal("no live bars emitted")
	}
	return r.live[len(r.live)-1]
}

func (r *recorder) finals() []domain.Candle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Candle, len(r.final))
	copy(out, r.final)
	return out
}

func TestParseTimeframe(t *testing.T) {
	cases := []struct {
		tf   string
		want time.Duration
		ok   bool
	}{
		{"1m", time.Minute, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"7x", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseTimeframe(tc.tf)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseTimeframe(%q) = %v, %v", tc.tf, got, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseTimeframe(%q): expected error", tc.tf)
		}
	}
}

func TestSeededBarAccumulation(t *testing.T) {
	rec := &recorder{}
	seed := &domain.Candle{
		Open: 100, High: 105, Low: 95, Close: 102, Volume: 3,
		Timestamp: time.Now().UTC(),
	}
	c := newConstructor("bitmex", "BTC/USD", "1m", time.Hour, rec.handlers(), seed)
	defer c.Close()

	c.OnTrade(110, 2)

	got := rec.lastLive(t)
	if got.Open != 100 || got.High != 110 || got.Low != 95 || got.Close != 110 || got.Volume != 5 {
		t.Errorf("unexpected live bar: %+v", got)
	}
}

func TestUnseededBarStartsFromFirstTrade(t *testing.T) {
	rec := &recorder{}
	c := newConstructor("bitmex", "BTC/USD", "1m", time.Hour, rec.handlers(), nil)
	defer c.Close()

	c.OnTrade(50, 1.5)
	got := rec.lastLive(t)
	if got.Open != 50 || got.High != 50 || got.Low != 50 || got.Close != 50 || got.Volume != 1.5 {
		t.Errorf("unexpected first bar: %+v", got)
	}

	c.OnTrade(49, 0.5)
	got = rec.lastLive(t)
	if got.Low != 49 || got.Close != 49 || got.Volume != 2 {
		t.Errorf("unexpected second live bar: %+v", got)
	}
}

func TestWindowCloseEmitsFinalizedBar(t *testing.T) {
	rec := &recorder{}
	c := newConstructor("bitmex", "BTC/USD", "1m", 50*time.Millisecond, rec.handlers(), nil)
	defer c.Close()

	c.OnTrade(100, 1)
	c.OnTrade(101, 1)

	time.Sleep(80 * time.Millisecond)

	finals := rec.finals()
	if len(finals) == 0 {
		t.Fatal("no finalized bar after window close")
	}
	got := finals[0]
	if got.Open != 100 || got.Close != 101 || got.Volume != 2 {
		t.Errorf("unexpected finalized bar: %+v", got)
	}
}

func TestEmptyWindowEmitsFlatBar(t *testing.T) {
	rec := &recorder{}
	c := newConstructor("bitmex", "BTC/USD", "1m", 40*time.Millisecond, rec.handlers(), nil)
	defer c.Close()

	c.OnTrade(100, 1)

	// First window closes with the trade, second closes empty.
	time.Sleep(110 * time.Millisecond)

	finals := rec.finals()
	if len(finals) < 2 {
		t.Fatalf("expected at least 2 finalized bars, got %d", len(finals))
	}
	flat := finals[1]
	if flat.Open != 100 || flat.High != 100 || flat.Low != 100 || flat.Close != 100 {
		t.Errorf("expected flat bar at prior close 100, got %+v", flat)
	}
	if flat.Volume != 0 {
		t.Errorf("flat bar volume must be 0, got %f", flat.Volume)
	}
}

func TestNothingEmittedBeforeAnyTrade(t *testing.T) {
	rec := &recorder{}
	c := newConstructor("bitmex", "BTC/USD", "1m", 30*time.Millisecond, rec.handlers(), nil)
	defer c.Close()

	time.Sleep(80 * time.Millisecond)
	if got := rec.finals(); len(got) != 0 {
		t.Errorf("bars fabricated with no trades and no seed: %+v", got)
	}
}

func TestSeededWindowReleasesAtRemainingTime(t *testing.T) {
	rec := &recorder{}
	started := time.Now().UTC().Add(-30 * time.Millisecond)
	seed := &domain.Candle{Open: 10, High: 10, Low: 10, Close: 10, Timestamp: started}
	c := newConstructor("bitmex", "BTC/USD", "1m", 60*time.Millisecond, rec.handlers(), seed)
	defer c.Close()

	// The seeded window has ~30ms left; the bar must be finalized well
	// before a full 60ms window from construction.
	time.Sleep(45 * time.Millisecond)
	if len(rec.finals()) != 1 {
		t.Fatalf("expected seeded bar released at remaining window time, got %d", len(rec.finals()))
	}
}

func TestCloseStopsTimer(t *testing.T) {
	rec := &recorder{}
	c := newConstructor("bitmex", "BTC/USD", "1m", 30*time.Millisecond, rec.handlers(), nil)
	c.OnTrade(100, 1)
	c.Close()

	time.Sleep(60 * time.Millisecond)
	if got := rec.finals(); len(got) != 0 {
		t.Errorf("bars emitted after Close: %+v", got)
	}
}

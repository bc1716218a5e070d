package book

import (
	"testing"

	"github.com/driftlab/marketfeed/internal/domain"
)

func TestApplySnapshotReplacesSide(t *testing.T) {
	b := New()
	b.ApplySnapshot(domain.Buy, []domain.PriceLevel{
		{Price: 100.5, Size: 2},
		{Price: 100.1, Size: 1},
		{Price: 100.3, Size: 0.5},
	})

	bids := b.Bids()
	if len(bids) != 3 {
		t.Fatalf("expected 3 bid levels, got %d", len(bids))
	}
	if bids[0].Price != 100.5 {
		t.Errorf("expected best bid 100.5, got %f", bids[0].Price)
	}

	b.ApplySnapshot(domain.Buy, []domain.PriceLevel{{Price: 99.0, Size: 1}})
	bids = b.Bids()
	if len(bids) != 1 || bids[0].Price != 99.0 {
		t.Errorf("snapshot did not replace side wholesale: %+v", bids)
	}
}

func TestApplySnapshotSkipsZeroSize(t *testing.T) {
	b := New()
	b.ApplySnapshot(domain.Sell, []domain.PriceLevel{
		{Price: 101.0, Size: 1},
		{Price: 102.0, Size: 0},
	})
	if got := b.Depth(domain.Sell); got != 1 {
		t.Errorf("expected 1 ask level, got %d", got)
	}
}

func TestApplyDeltaInsertUpdateRemove(t *testing.T) {
	b := New()

	if _, applied := b.ApplyDelta(domain.Sell, 101.0, 3); !applied {
		t.Fatal("insert delta not applied")
	}
	if _, applied := b.ApplyDelta(domain.Sell, 101.0, 5); !applied {
		t.Fatal("update delta not applied")
	}
	asks := b.Asks()
	if len(asks) != 1 || asks[0].Size != 5 {
		t.Fatalf("expected single ask with size 5, got %+v", asks)
	}

	if _, applied := b.ApplyDelta(domain.Sell, 101.0, 0); !applied {
		t.Fatal("remove delta not applied")
	}
	if b.Depth(domain.Sell) != 0 {
		t.Error("expected empty ask side after removal")
	}
}

func TestApplyDeltaZeroSizeAbsentIsNoop(t *testing.T) {
	b := New()
	change, applied := b.ApplyDelta(domain.Buy, 99.0, 0)
	if applied {
		t.Errorf("expected no-op for absent level, got change %+v", change)
	}
	if got := len(b.TakeChanges()); got != 0 {
		t.Errorf("no-op recorded %d changes", got)
	}
}

func TestNoZeroSizeLevelsEverStored(t *testing.T) {
	b := New()
	b.ApplySnapshot(domain.Buy, []domain.PriceLevel{{Price: 100, Size: 1}, {Price: 99, Size: 2}})
	deltas := []struct {
		price, size float64
	}{
		{100, 0}, {98, 1.5}, {98, 0}, {99, 4}, {97, 0},
	}
	for _, d := range deltas {
		b.ApplyDelta(domain.Buy, d.price, d.size)
	}
	for _, lvl := range b.Bids() {
		if lvl.Size <= 0 {
			t.Errorf("stored level with size <= 0: %+v", lvl)
		}
	}
}

func TestForcedConsumedOnce(t *testing.T) {
	b := New()
	if b.Forced() {
		t.Error("fresh book should not be forced")
	}
	b.ApplySnapshot(domain.Buy, []domain.PriceLevel{{Price: 100, Size: 1}})
	if !b.Forced() {
		t.Error("expected forced after snapshot")
	}
	if b.Forced() {
		t.Error("forced flag must be consumed on read")
	}
	b.ApplyDelta(domain.Buy, 100, 2)
	if b.Forced() {
		t.Error("delta must not force an emission")
	}
}

func TestTakeChangesRecordsMutations(t *testing.T) {
	b := New()
	b.ApplyDelta(domain.Buy, 100, 1)
	b.ApplyDelta(domain.Sell, 101, 2)
	b.ApplyDelta(domain.Buy, 100, 0)

	changes := b.TakeChanges()
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	last := changes[2]
	if last.Side != domain.Buy || last.Price != 100 || last.Size != 0 {
		t.Errorf("unexpected removal record: %+v", last)
	}
	if len(b.TakeChanges()) != 0 {
		t.Error("TakeChanges must reset the accumulator")
	}
}

func TestBidsDescendingAsksAscending(t *testing.T) {
	b := New()
	for _, p := range []float64{100.2, 100.8, 100.5} {
		b.ApplyDelta(domain.Buy, p, 1)
		b.ApplyDelta(domain.Sell, p+1, 1)
	}
	bids, asks := b.Bids(), b.Asks()
	for i := 1; i < len(bids); i++ {
		if bids[i].Price > bids[i-1].Price {
			t.Errorf("bids not descending: %+v", bids)
		}
	}
	for i := 1; i < len(asks); i++ {
		if asks[i].Price < asks[i-1].Price {
			t.Errorf("asks not ascending: %+v", asks)
		}
	}
}

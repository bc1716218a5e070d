package book

import (
	"errors"
	"testing"

	"github.com/driftlab/marketfeed/internal/domain"
)

func TestL3InsertAggregatesByPrice(t *testing.T) {
	b := NewL3()
	b.Insert(domain.Buy, "a", 100, 1)
	b.Insert(domain.Buy, "b", 100, 2)
	b.Insert(domain.Buy, "c", 99, 5)

	bids := b.Bids()
	if len(bids) != 2 {
		t.Fatalf("expected 2 price levels, got %d", len(bids))
	}
	if bids[0].Price != 100 || bids[0].Size != 3 {
		t.Errorf("expected best bid 100@3, got %+v", bids[0])
	}
	if b.Orders() != 3 {
		t.Errorf("expected 3 tracked orders, got %d", b.Orders())
	}
}

func TestL3DuplicateInsertOverwrites(t *testing.T) {
	b := NewL3()
	b.Insert(domain.Buy, "a", 100, 1)
	b.Insert(domain.Buy, "a", 100, 4)

	if b.Orders() != 1 {
		t.Fatalf("duplicate insert must not duplicate, got %d orders", b.Orders())
	}
	bids := b.Bids()
	if bids[0].Size != 4 {
		t.Errorf("expected aggregate 4 after overwrite, got %f", bids[0].Size)
	}
}

func TestL3InsertMovesOrderAcrossPrices(t *testing.T) {
	b := NewL3()
	b.Insert(domain.Sell, "a", 101, 2)
	b.Insert(domain.Sell, "a", 102, 2)

	asks := b.Asks()
	if len(asks) != 1 || asks[0].Price != 102 {
		t.Errorf("expected order moved to 102, got %+v", asks)
	}
	if price, _, _ := b.Order("a"); price != 102 {
		t.Errorf("index not updated, price %f", price)
	}
}

func TestL3UpdateKeepsPrice(t *testing.T) {
	b := NewL3()
	b.Insert(domain.Buy, "a", 100, 1)
	change, err := b.Update("a", 7)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if change.Price != 100 || change.Size != 7 {
		t.Errorf("unexpected change record: %+v", change)
	}
}

func TestL3UnknownOrderIsInconsistent(t *testing.T) {
	b := NewL3()
	if _, err := b.Update("ghost", 1); !errors.Is(err, domain.ErrInconsistentBook) {
		t.Errorf("update unknown order: expected ErrInconsistentBook, got %v", err)
	}
	if _, err := b.Delete("ghost"); !errors.Is(err, domain.ErrInconsistentBook) {
		t.Errorf("delete unknown order: expected ErrInconsistentBook, got %v", err)
	}
}

func TestL3DeleteDropsEmptyBucket(t *testing.T) {
	b := NewL3()
	b.Insert(domain.Buy, "a", 100, 1)
	b.Insert(domain.Buy, "b", 100, 2)

	if _, err := b.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(b.Bids()) != 1 || b.Bids()[0].Size != 2 {
		t.Errorf("expected level kept with remaining order, got %+v", b.Bids())
	}

	if _, err := b.Delete("b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(b.Bids()) != 0 {
		t.Error("expected price bucket removed when last order deleted")
	}
}

func TestL3BeginSnapshotForcesOnce(t *testing.T) {
	b := NewL3()
	b.Insert(domain.Buy, "stale", 90, 1)

	b.BeginSnapshot()
	b.Insert(domain.Buy, "a", 100, 1)

	if b.Orders() != 1 {
		t.Errorf("snapshot must clear prior orders, got %d", b.Orders())
	}
	if !b.Forced() {
		t.Error("expected forced after snapshot")
	}
	if b.Forced() {
		t.Error("forced flag must be consumed on read")
	}
}

func TestL3NoNonPositiveAggregates(t *testing.T) {
	b := NewL3()
	b.Insert(domain.Sell, "a", 101, 1)
	b.Insert(domain.Sell, "b", 101, 2)
	b.Update("a", 0.5)
	b.Delete("b")
	for _, lvl := range b.Asks() {
		if lvl.Size <= 0 {
			t.Errorf("aggregate level with size <= 0: %+v", lvl)
		}
	}
}

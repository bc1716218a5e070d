package book

import (
	"fmt"
	"time"

	"github.com/driftlab/marketfeed/internal/domain"
)

// orderRef locates an order: its side, resting price, and current size.
// The index gives O(1) update/delete without scanning price buckets.
type orderRef struct {
	side  domain.Side
	price float64
	size  float64
}

// L3Book is an order-level book. Orders are grouped into per-price buckets;
// the aggregate ladder mirrors the bucket sums so ordered iteration stays
// cheap.
type L3Book struct {
	bids ladder
	asks ladder

	buckets map[domain.Side]map[float64]map[string]float64
	orders  map[string]orderRef

	forced    bool
	changes   []domain.LevelChange
	timestamp time.Time
}

// NewL3 creates an empty L3 book.
func NewL3() *L3Book {
	b := &L3Book{}
	b.Reset()
	return b
}

func (b *L3Book) side(s domain.Side) *ladder {
	if s == domain.Buy {
		return &b.bids
	}
	return &b.asks
}

// BeginSnapshot clears the book and marks the next emission as forced.
// Callers replay the snapshot entries through Insert afterwards.
func (b *L3Book) BeginSnapshot() {
	b.Reset()
	b.forced = true
}

// Insert adds an order at a price level. A duplicate order id overwrites the
// existing order (venues resend open orders); if the resting price changed,
// the order is moved between buckets.
func (b *L3Book) Insert(side domain.Side, orderID string, price, size float64) domain.LevelChange {
	if ref, ok := b.orders[orderID]; ok {
		b.detach(ref, orderID)
	}

	bucket := b.buckets[side][price]
	if bucket == nil {
		bucket = make(map[string]float64)
		b.buckets[side][price] = bucket
	}
	bucket[orderID] = size
	b.orders[orderID] = orderRef{side: side, price: price, size: size}
	b.side(side).set(price, bucketSum(bucket))

	return b.record(domain.LevelChange{Side: side, Price: price, Size: size, OrderID: orderID})
}

// Update changes the size of a known order, keeping its price. An unknown
// order id means the book is desynchronized and returns ErrInconsistentBook.
func (b *L3Book) Update(orderID string, size float64) (domain.LevelChange, error) {
	ref, ok := b.orders[orderID]
	if !ok {
		return domain.LevelChange{}, fmt.Errorf("update order %s: %w", orderID, domain.ErrInconsistentBook)
	}

	bucket := b.buckets[ref.side][ref.price]
	bucket[orderID] = size
	ref.size = size
	b.orders[orderID] = ref
	b.side(ref.side).set(ref.price, bucketSum(bucket))

	return b.record(domain.LevelChange{Side: ref.side, Price: ref.price, Size: size, OrderID: orderID}), nil
}

// Delete removes a single order, dropping its price bucket when it empties.
// An unknown order id returns ErrInconsistentBook.
func (b *L3Book) Delete(orderID string) (domain.LevelChange, error) {
	ref, ok := b.orders[orderID]
	if !ok {
		return domain.LevelChange{}, fmt.Errorf("delete order %s: %w", orderID, domain.ErrInconsistentBook)
	}
	b.detach(ref, orderID)
	return b.record(domain.LevelChange{Side: ref.side, Price: ref.price, Size: 0, OrderID: orderID}), nil
}

// Order returns the current (price, size) of an order id.
func (b *L3Book) Order(orderID string) (price, size float64, ok bool) {
	ref, found := b.orders[orderID]
	if !found {
		return 0, 0, false
	}
	return ref.price, ref.size, true
}

// detach removes the order from its bucket and index, keeping the aggregate
// ladder in sync.
func (b *L3Book) detach(ref orderRef, orderID string) {
	bucket := b.buckets[ref.side][ref.price]
	delete(bucket, orderID)
	delete(b.orders, orderID)
	if len(bucket) == 0 {
		delete(b.buckets[ref.side], ref.price)
		b.side(ref.side).remove(ref.price)
	} else {
		b.side(ref.side).set(ref.price, bucketSum(bucket))
	}
}

func (b *L3Book) record(c domain.LevelChange) domain.LevelChange {
	b.changes = append(b.changes, c)
	b.timestamp = time.Now().UTC()
	return c
}

func bucketSum(bucket map[string]float64) float64 {
	var sum float64
	for _, size := range bucket {
		sum += size
	}
	return sum
}

// Forced reports whether a snapshot arrived since the last call, consuming
// the flag.
func (b *L3Book) Forced() bool {
	f := b.forced
	b.forced = false
	return f
}

// TakeChanges returns and resets the recorded mutations.
func (b *L3Book) TakeChanges() []domain.LevelChange {
	out := b.changes
	b.changes = nil
	return out
}

// Bids returns aggregate bid levels, best (highest) price first.
func (b *L3Book) Bids() []domain.PriceLevel { return b.bids.snapshot(true) }

// Asks returns aggregate ask levels, best (lowest) price first.
func (b *L3Book) Asks() []domain.PriceLevel { return b.asks.snapshot(false) }

// Orders returns the number of tracked orders.
func (b *L3Book) Orders() int { return len(b.orders) }

// Timestamp is the time of the last mutation.
func (b *L3Book) Timestamp() time.Time { return b.timestamp }

// Reset clears all orders, buckets, and pending state.
func (b *L3Book) Reset() {
	b.bids.clear()
	b.asks.clear()
	b.buckets = map[domain.Side]map[float64]map[string]float64{
		domain.Buy:  make(map[float64]map[string]float64),
		domain.Sell: make(map[float64]map[string]float64),
	}
	b.orders = make(map[string]orderRef)
	b.forced = false
	b.changes = nil
	b.timestamp = time.Time{}
}

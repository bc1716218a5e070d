package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftlab/marketfeed/internal/domain"
)

// BookCache implements domain.BookCache using Redis sorted sets and hashes
// for each market's book.
//
// Key schema:
//
//	book:{venue}:{symbol}:bids     - sorted set of bid prices (score = price)
//	book:{venue}:{symbol}:asks     - sorted set of ask prices (score = price)
//	book:{venue}:{symbol}:bid:size - hash mapping price -> size for bids
//	book:{venue}:{symbol}:ask:size - hash mapping price -> size for asks
//	book:{venue}:{symbol}:bbo      - hash with fields "bid" and "ask"
//	book:{venue}:{symbol}:meta     - hash with "ts" field (snapshot timestamp)
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(venue, symbol, suffix string) string {
	return "book:" + venue + ":" + symbol + ":" + suffix
}

// SetSnapshot atomically replaces the cached book for a market. It clears
// existing data and repopulates the sorted sets, size hashes, the BBO hash,
// and the metadata hash.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	bidsKey := bookKey(snap.Venue, snap.Symbol, "bids")
	asksKey := bookKey(snap.Venue, snap.Symbol, "asks")
	bidSizeKey := bookKey(snap.Venue, snap.Symbol, "bid:size")
	askSizeKey := bookKey(snap.Venue, snap.Symbol, "ask:size")
	bboKey := bookKey(snap.Venue, snap.Symbol, "bbo")
	metaKey := bookKey(snap.Venue, snap.Symbol, "meta")

	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey, asksKey, bidSizeKey, askSizeKey, bboKey, metaKey)

	for _, lvl := range snap.Bids {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		sizeStr := strconv.FormatFloat(lvl.Size, 'f', -1, 64)
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, bidSizeKey, priceStr, sizeStr)
	}
	for _, lvl := range snap.Asks {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		sizeStr := strconv.FormatFloat(lvl.Size, 'f', -1, 64)
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, askSizeKey, priceStr, sizeStr)
	}

	if len(snap.Bids) > 0 {
		pipe.HSet(ctx, bboKey, "bid", strconv.FormatFloat(snap.Bids[0].Price, 'f', -1, 64))
	}
	if len(snap.Asks) > 0 {
		pipe.HSet(ctx, bboKey, "ask", strconv.FormatFloat(snap.Asks[0].Price, 'f', -1, 64))
	}
	pipe.HSet(ctx, metaKey, "ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s %s: %w", snap.Venue, snap.Symbol, err)
	}
	return nil
}

// GetSnapshot reconstructs a full BookSnapshot from Redis. It returns
// domain.ErrNotFound if no snapshot data exists for the market.
func (bc *BookCache) GetSnapshot(ctx context.Context, venue, symbol string) (domain.BookSnapshot, error) {
	pipe := bc.rdb.Pipeline()

	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookKey(venue, symbol, "bids"), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookKey(venue, symbol, "asks"), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookKey(venue, symbol, "bid:size"))
	askSizeCmd := pipe.HGetAll(ctx, bookKey(venue, symbol, "ask:size"))
	metaCmd := pipe.HGetAll(ctx, bookKey(venue, symbol, "meta"))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book %s %s: %w", venue, symbol, err)
	}

	metaVals, _ := metaCmd.Result()
	if len(metaVals) == 0 {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.BookSnapshot{Venue: venue, Symbol: symbol}
	if tsStr, ok := metaVals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			snap.Timestamp = time.Unix(0, tsNano).UTC()
		}
	}

	snap.Bids = buildLevels(bidsCmd, bidSizeCmd)
	snap.Asks = buildLevels(asksCmd, askSizeCmd)
	return snap, nil
}

// buildLevels joins a price sorted set with its size hash.
func buildLevels(zCmd *redis.ZSliceCmd, sizeCmd *redis.MapStringStringCmd) []domain.PriceLevel {
	sizes, _ := sizeCmd.Result()
	entries, _ := zCmd.Result()
	levels := make([]domain.PriceLevel, 0, len(entries))
	for _, z := range entries {
		priceStr, ok := z.Member.(string)
		if !ok {
			continue
		}
		size := 0.0
		if sizeStr, exists := sizes[priceStr]; exists {
			size, _ = strconv.ParseFloat(sizeStr, 64)
		}
		levels = append(levels, domain.PriceLevel{Price: z.Score, Size: size})
	}
	return levels
}

// GetBBO retrieves the current best bid and best ask from the BBO hash.
// It returns domain.ErrNotFound if no BBO data exists.
func (bc *BookCache) GetBBO(ctx context.Context, venue, symbol string) (bestBid, bestAsk float64, err error) {
	vals, err := bc.rdb.HGetAll(ctx, bookKey(venue, symbol, "bbo")).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s %s: %w", venue, symbol, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}

	if bidStr, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseFloat(bidStr, 64)
	}
	if askStr, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseFloat(askStr, 64)
	}
	return bestBid, bestAsk, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)

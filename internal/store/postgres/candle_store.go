package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftlab/marketfeed/internal/domain"
)

// CandleStore implements domain.CandleStore and domain.CandleSeeder using
// PostgreSQL.
type CandleStore struct {
	pool *pgxpool.Pool
}

// NewCandleStore creates a new CandleStore backed by the given connection pool.
func NewCandleStore(pool *pgxpool.Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// InsertBatch upserts finalized bars using pgx Batch. A bar re-finalized
// after a reconnect replaces the earlier row for the same window.
func (s *CandleStore) InsertBatch(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO candles (venue, symbol, timeframe, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (venue, symbol, timeframe, ts) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume`

	for _, c := range candles {
		batch.Queue(query,
			c.Venue, c.Symbol, c.Timeframe, c.Timestamp,
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range candles {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert candles: %w", err)
		}
	}
	return nil
}

// LastCandle returns the most recent bar stored for a market and timeframe.
// It returns domain.ErrNotFound when no bar exists yet.
func (s *CandleStore) LastCandle(ctx context.Context, venue, symbol, timeframe string) (domain.Candle, error) {
	c := domain.Candle{Venue: venue, Symbol: symbol, Timeframe: timeframe}
	err := s.pool.QueryRow(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE venue = $1 AND symbol = $2 AND timeframe = $3
		ORDER BY ts DESC
		LIMIT 1`,
		venue, symbol, timeframe,
	).Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Candle{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Candle{}, fmt.Errorf("postgres: last candle %s %s %s: %w", venue, symbol, timeframe, err)
	}
	return c, nil
}

// ListBefore returns up to limit bars for a venue older than the cutoff,
// oldest first. It is used when draining bars to cold storage.
func (s *CandleStore) ListBefore(ctx context.Context, venue string, cutoff time.Time, limit int) ([]domain.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT venue, symbol, timeframe, ts, open, high, low, close, volume
		FROM candles
		WHERE venue = $1 AND ts < $2
		ORDER BY ts ASC
		LIMIT $3`,
		venue, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list candles before %s: %w", cutoff, err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(
			&c.Venue, &c.Symbol, &c.Timeframe, &c.Timestamp,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan candles: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan candles: %w", err)
	}
	return candles, nil
}

// DeleteBefore removes bars for a venue older than the cutoff and returns
// the number of rows deleted.
func (s *CandleStore) DeleteBefore(ctx context.Context, venue string, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM candles WHERE venue = $1 AND ts < $2",
		venue, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete candles before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface checks.
var (
	_ domain.CandleStore  = (*CandleStore)(nil)
	_ domain.CandleSeeder = (*CandleStore)(nil)
)

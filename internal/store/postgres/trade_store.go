package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftlab/marketfeed/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(
			&t.Venue, &t.Symbol, &side, &t.Amount, &t.Price, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch inserts multiple trades efficiently using pgx Batch.
// Replayed trades after a reconnect hit the unique constraint and are
// silently skipped via ON CONFLICT DO NOTHING.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trades (venue, symbol, side, amount, price, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`

	for _, t := range trades {
		batch.Queue(query,
			t.Venue, t.Symbol, string(t.Side), t.Amount, t.Price, t.Timestamp,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range trades {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trades: %w", err)
		}
	}
	return nil
}

// ListBefore returns up to limit trades for a venue older than the cutoff,
// oldest first. It is used when draining trades to cold storage.
func (s *TradeStore) ListBefore(ctx context.Context, venue string, cutoff time.Time, limit int) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT venue, symbol, side, amount, price, ts
		FROM trades
		WHERE venue = $1 AND ts < $2
		ORDER BY ts ASC
		LIMIT $3`,
		venue, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", cutoff, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// DeleteBefore removes trades for a venue older than the cutoff and returns
// the number of rows deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, venue string, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM trades WHERE venue = $1 AND ts < $2",
		venue, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)

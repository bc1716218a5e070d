package app

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftlab/marketfeed/internal/domain"
)

const (
	// sinkQueueSize bounds each event queue between the venue dispatch
	// goroutine and the sink workers.
	sinkQueueSize = 4096

	// flushSize and flushEvery control trade and candle batching.
	flushSize  = 200
	flushEvery = time.Second
)

// sinks fans normalized events out to the configured caches and stores.
// Handlers enqueue without blocking; worker goroutines drain the queues and
// batch writes. Events are dropped (and counted) when a queue is full, so a
// slow sink never stalls a venue connection.
type sinks struct {
	log *slog.Logger

	tickerCache domain.TickerCache
	bookCache   domain.BookCache
	tradeStore  domain.TradeStore
	candleStore domain.CandleStore
	archiver    domain.CandleArchiver

	trades  chan domain.Trade
	candles chan domain.Candle
	tickers chan domain.Ticker
	books   chan domain.BookSnapshot

	dropped atomic.Int64
}

func newSinks(deps *Dependencies, log *slog.Logger) *sinks {
	return &sinks{
		log:         log.With(slog.String("component", "sinks")),
		tickerCache: deps.TickerCache,
		bookCache:   deps.BookCache,
		tradeStore:  deps.TradeStore,
		candleStore: deps.CandleStore,
		archiver:    deps.Archiver,
		trades:      make(chan domain.Trade, sinkQueueSize),
		candles:     make(chan domain.Candle, sinkQueueSize),
		tickers:     make(chan domain.Ticker, sinkQueueSize),
		books:       make(chan domain.BookSnapshot, sinkQueueSize),
	}
}

// handlers returns the per-venue handler set. Only events with a configured
// sink get a handler, so adapters skip the work for everything else.
func (s *sinks) handlers() *domain.Handlers {
	h := &domain.Handlers{}
	if s.tradeStore != nil {
		h.Trade = func(t domain.Trade) { enqueue(s, s.trades, t) }
	}
	if s.candleStore != nil || s.archiver != nil {
		h.Candle = func(c domain.Candle) { enqueue(s, s.candles, c) }
	}
	if s.tickerCache != nil {
		h.Ticker = func(t domain.Ticker) { enqueue(s, s.tickers, t) }
	}
	if s.bookCache != nil {
		h.Book = func(b domain.BookSnapshot) { enqueue(s, s.books, b) }
	}
	h.Funding = func(f domain.Funding) {
		s.log.Debug("funding update",
			slog.String("venue", f.Venue),
			slog.String("symbol", f.Symbol),
			slog.Float64("rate", f.Rate),
		)
	}
	return h
}

func enqueue[T any](s *sinks, ch chan T, v T) {
	select {
	case ch <- v:
	default:
		if n := s.dropped.Add(1); n%1000 == 1 {
			s.log.Warn("sink queue full, dropping events", slog.Int64("dropped", n))
		}
	}
}

// run drains the queues until ctx is cancelled, then flushes what is left.
func (s *sinks) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.tradeWorker(gctx) })
	g.Go(func() error { return s.candleWorker(gctx) })
	g.Go(func() error { return s.tickerWorker(gctx) })
	g.Go(func() error { return s.bookWorker(gctx) })
	return g.Wait()
}

func (s *sinks) tradeWorker(ctx context.Context) error {
	if s.tradeStore == nil {
		<-ctx.Done()
		return nil
	}

	batch := make([]domain.Trade, 0, flushSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.tradeStore.InsertBatch(context.WithoutCancel(ctx), batch); err != nil {
			s.log.Error("persist trades", slog.Int("count", len(batch)), slog.String("error", err.Error()))
		}
		batch = batch[:0]
	}

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	for {
		select {
		case t := <-s.trades:
			batch = append(batch, t)
			if len(batch) >= flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case t := <-s.trades:
					batch = append(batch, t)
				default:
					flush()
					return nil
				}
			}
		}
	}
}

func (s *sinks) candleWorker(ctx context.Context) error {
	if s.candleStore == nil && s.archiver == nil {
		<-ctx.Done()
		return nil
	}

	batch := make([]domain.Candle, 0, flushSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		wctx := context.WithoutCancel(ctx)
		if s.candleStore != nil {
			if err := s.candleStore.InsertBatch(wctx, batch); err != nil {
				s.log.Error("persist candles", slog.Int("count", len(batch)), slog.String("error", err.Error()))
			}
		}
		if s.archiver != nil {
			if err := s.archiver.ArchiveCandles(wctx, batch, time.Now().UTC()); err != nil {
				s.log.Error("archive candles", slog.Int("count", len(batch)), slog.String("error", err.Error()))
			}
		}
		batch = batch[:0]
	}

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	for {
		select {
		case c := <-s.candles:
			batch = append(batch, c)
			if len(batch) >= flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case c := <-s.candles:
					batch = append(batch, c)
				default:
					flush()
					return nil
				}
			}
		}
	}
}

func (s *sinks) tickerWorker(ctx context.Context) error {
	if s.tickerCache == nil {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case t := <-s.tickers:
			if err := s.tickerCache.SetTicker(ctx, t); err != nil {
				s.log.Error("cache ticker",
					slog.String("venue", t.Venue),
					slog.String("symbol", t.Symbol),
					slog.String("error", err.Error()),
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *sinks) bookWorker(ctx context.Context) error {
	if s.bookCache == nil {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case b := <-s.books:
			if err := s.bookCache.SetSnapshot(ctx, b); err != nil {
				s.log.Error("cache book",
					slog.String("venue", b.Venue),
					slog.String("symbol", b.Symbol),
					slog.String("error", err.Error()),
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

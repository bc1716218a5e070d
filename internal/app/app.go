// Package app wires configuration, venue adapters, sinks, and the connection
// fleet into a runnable daemon.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/driftlab/marketfeed/internal/config"
	"github.com/driftlab/marketfeed/internal/conn"
	"github.com/driftlab/marketfeed/internal/exchange"
	"github.com/driftlab/marketfeed/internal/exchange/bitfinex"
	"github.com/driftlab/marketfeed/internal/exchange/bitmex"
	"github.com/driftlab/marketfeed/internal/markets"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the backends, builds one connection per enabled venue, and blocks
// until the context is cancelled or the whole fleet terminates.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, cleanup)

	snk := newSinks(deps, a.logger)

	var conns []*conn.Conn
	for _, name := range enabledVenues(a.cfg) {
		adapter, err := a.buildAdapter(name, deps, snk)
		if err != nil {
			return fmt.Errorf("app: build %s adapter: %w", name, err)
		}
		a.closers = append(a.closers, adapter.Close)

		c := conn.New(adapter, conn.Config{
			Watchdog:          a.cfg.Conn.Watchdog.Duration,
			WatchdogPoll:      a.cfg.Conn.WatchdogPoll.Duration,
			ReconnectDelay:    a.cfg.Conn.ReconnectDelay.Duration,
			MaxReconnectDelay: a.cfg.Conn.MaxReconnectDelay.Duration,
			MaxRetries:        a.cfg.Conn.MaxRetries,
			QueueSize:         a.cfg.Conn.QueueSize,
		}, a.logger)
		conns = append(conns, c)
	}

	fleet := conn.NewFleet(a.logger, conns...)
	a.closers = append(a.closers, fleet.Close)

	a.logger.InfoContext(ctx, "starting feed daemon", slog.Int("venues", len(conns)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return snk.run(gctx) })
	g.Go(func() error { return fleet.Run(gctx) })
	return g.Wait()
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// enabledVenues returns the enabled venue names in deterministic order.
func enabledVenues(cfg *config.Config) []string {
	var names []string
	for name, v := range cfg.Venues {
		if v.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (a *App) buildAdapter(name string, deps *Dependencies, snk *sinks) (exchange.Adapter, error) {
	vcfg := a.cfg.Venues[name]
	opts := exchange.Options{
		Pairs:        vcfg.Pairs,
		Channels:     vcfg.DomainChannels(),
		ChannelPairs: vcfg.DomainChannelPairs(),
		Timeframes:   vcfg.Timeframes,
		Handlers:     snk.handlers(),
		Info:         markets.NewStatic(vcfg.Symbols),
		Seeder:       deps.Seeder,
		APIKey:       vcfg.APIKey,
		APISecret:    vcfg.APISecret,
		Endpoint:     vcfg.Endpoint,
		BookInterval: vcfg.BookInterval,
		Logger:       a.logger,
	}

	switch name {
	case bitmex.Name:
		return bitmex.New(opts)
	case bitfinex.Name:
		return bitfinex.New(opts)
	default:
		return nil, fmt.Errorf("unknown venue %q", name)
	}
}

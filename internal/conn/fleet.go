package conn

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Fleet runs a set of connections side by side. Connections are isolated:
// one exhausting its retry budget does not stop the others, and Run only
// returns once every connection has ended.
type Fleet struct {
	conns []*Conn
	log   *slog.Logger
}

// NewFleet groups connections for joint lifecycle management.
func NewFleet(log *slog.Logger, conns ...*Conn) *Fleet {
	if log == nil {
		log = slog.Default()
	}
	return &Fleet{
		conns: conns,
		log:   log.With(slog.String("component", "fleet")),
	}
}

// Run starts every connection and blocks until all have ended. The first
// terminal error is returned; cancellation of ctx shuts the fleet down.
func (f *Fleet) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, c := range f.conns {
		c := c
		g.Go(func() error {
			err := c.Run(ctx)
			if err != nil && ctx.Err() == nil {
				f.log.Error("connection terminated",
					slog.String("venue", c.adapter.Name()),
					slog.String("error", err.Error()),
				)
			}
			return err
		})
	}
	return g.Wait()
}

// Close asks every connection to shut down gracefully.
func (f *Fleet) Close() {
	for _, c := range f.conns {
		c.Close()
	}
}

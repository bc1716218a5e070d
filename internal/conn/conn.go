// Package conn owns the websocket lifecycle for one venue adapter: dialing,
// subscribing, dispatching inbound frames, keep-alive, the silence watchdog,
// and reconnection with exponential backoff. The adapter never touches the
// socket; it receives frames and produces the frames to send.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/driftlab/marketfeed/internal/domain"
	"github.com/driftlab/marketfeed/internal/exchange"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pingPeriod sends pings to the peer at this interval.
	pingPeriod = 15 * time.Second

	defaultWatchdog       = 30 * time.Second
	defaultReconnectDelay = 1 * time.Second
	defaultMaxDelay       = 60 * time.Second
	defaultQueueSize      = 1024
	handshakeTimeout      = 15 * time.Second
)

// errWatchdog marks a connection dropped for silence.
var errWatchdog = errors.New("conn: watchdog timeout")

// State is the connection lifecycle phase.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribing
	Streaming
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Streaming:
		return "streaming"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Config tunes one connection. Zero values pick the defaults.
type Config struct {
	// Watchdog drops the connection when no message arrives for this long.
	Watchdog time.Duration

	// WatchdogPoll is how often the watchdog samples the last-message
	// timestamp; 0 picks Watchdog/4.
	WatchdogPoll time.Duration

	// ReconnectDelay is the initial backoff; it doubles per failed attempt
	// up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration

	// MaxRetries bounds consecutive failed reconnect attempts; 0 retries
	// forever. Exhaustion closes the connection with ErrRetriesExhausted.
	MaxRetries int

	// QueueSize bounds the inbound frame queue between the read loop and
	// the dispatch goroutine.
	QueueSize int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Watchdog <= 0 {
		out.Watchdog = defaultWatchdog
	}
	if out.WatchdogPoll <= 0 {
		out.WatchdogPoll = out.Watchdog / 4
	}
	if out.WatchdogPoll < time.Millisecond {
		out.WatchdogPoll = time.Millisecond
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = defaultReconnectDelay
	}
	if out.MaxReconnectDelay <= 0 {
		out.MaxReconnectDelay = defaultMaxDelay
	}
	if out.QueueSize <= 0 {
		out.QueueSize = defaultQueueSize
	}
	return out
}

// Conn runs one adapter over one managed websocket.
type Conn struct {
	adapter exchange.Adapter
	cfg     Config
	log     *slog.Logger
	id      string

	state   atomic.Int32
	lastMsg atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// New wraps an adapter in a managed connection.
func New(adapter exchange.Adapter, cfg Config, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()[:8]
	return &Conn{
		adapter: adapter,
		cfg:     cfg.withDefaults(),
		log: log.With(
			slog.String("component", "conn"),
			slog.String("venue", adapter.Name()),
			slog.String("conn_id", id),
		),
		id:   id,
		done: make(chan struct{}),
	}
}

// State returns the current lifecycle phase.
func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
	c.log.Debug("state change", slog.String("state", s.String()))
}

// Close requests a graceful shutdown. Run returns nil once the session ends.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run dials, subscribes, and streams until ctx is canceled, Close is called,
// or the retry budget is exhausted. Every session failure reconnects with
// exponential backoff; a session that reaches streaming resets the budget.
func (c *Conn) Run(ctx context.Context) error {
	defer c.adapter.Close()

	retries := 0
	delay := c.cfg.ReconnectDelay
	for {
		streamed, err := c.runOnce(ctx)

		switch {
		case ctx.Err() != nil:
			c.setState(Closed)
			return ctx.Err()
		case c.isClosed():
			c.setState(Closed)
			return nil
		}

		if streamed {
			retries = 0
			delay = c.cfg.ReconnectDelay
		}

		retries++
		if c.cfg.MaxRetries > 0 && retries > c.cfg.MaxRetries {
			c.setState(Closed)
			return fmt.Errorf("conn: %s after %d attempts: %w", c.adapter.Name(), retries-1, domain.ErrRetriesExhausted)
		}

		c.setState(Reconnecting)
		c.log.Warn("connection lost, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
			slog.Int("attempt", retries),
		)

		select {
		case <-ctx.Done():
			c.setState(Closed)
			return ctx.Err()
		case <-c.done:
			c.setState(Closed)
			return nil
		case <-time.After(delay):
		}

		delay = c.nextDelay(delay)
	}
}

// nextDelay doubles the backoff up to the configured ceiling.
func (c *Conn) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > c.cfg.MaxReconnectDelay {
		d = c.cfg.MaxReconnectDelay
	}
	return d
}

// runOnce drives a single dial-subscribe-stream session. streamed reports
// whether the session got as far as streaming.
func (c *Conn) runOnce(ctx context.Context) (streamed bool, err error) {
	c.setState(Connecting)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.adapter.Endpoint(), nil)
	if err != nil {
		return false, fmt.Errorf("conn: dial %s: %w", c.adapter.Endpoint(), err)
	}
	defer ws.Close()

	// Reconnects must rebuild books from fresh snapshots.
	c.adapter.Reset()

	c.setState(Subscribing)
	frames, err := c.adapter.SubscribeFrames()
	if err != nil {
		return false, fmt.Errorf("conn: subscribe frames: %w", err)
	}
	for _, frame := range frames {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return false, fmt.Errorf("conn: send subscribe: %w", err)
		}
	}

	c.setState(Streaming)
	c.lastMsg.Store(time.Now().UnixNano())
	c.log.Info("streaming", slog.Int("subscribe_frames", len(frames)))

	queue := make(chan []byte, c.cfg.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	// Unblock the read loop on cancellation or Close.
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-c.done:
		}
		ws.Close()
		return nil
	})

	g.Go(func() error { return c.readLoop(gctx, ws, queue) })
	g.Go(func() error { return c.dispatchLoop(gctx, queue) })
	g.Go(func() error { return c.pingLoop(gctx, ws) })
	g.Go(func() error { return c.watchdog(gctx) })

	return true, g.Wait()
}

// readLoop moves frames from the socket onto the dispatch queue. A full
// queue applies backpressure to the socket rather than dropping frames, so
// dispatch order always matches arrival order.
func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn, queue chan<- []byte) error {
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("conn: read: %w", err)
		}
		c.lastMsg.Store(time.Now().UnixNano())

		select {
		case queue <- message:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dispatchLoop feeds queued frames to the adapter on a single goroutine.
// Desync errors abort the session; anything else drops the frame.
func (c *Conn) dispatchLoop(ctx context.Context, queue <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-queue:
			if err := c.adapter.HandleMessage(ctx, raw); err != nil {
				if domain.IsDesync(err) {
					c.log.Warn("desync, forcing resubscribe", slog.String("error", err.Error()))
					return err
				}
				c.log.Error("frame dropped", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, ws *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("conn: ping: %w", err)
			}
		}
	}
}

// watchdog aborts the session when the venue goes silent.
func (c *Conn) watchdog(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.WatchdogPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			last := time.Unix(0, c.lastMsg.Load())
			if silence := time.Since(last); silence > c.cfg.Watchdog {
				return fmt.Errorf("%w: silent for %s", errWatchdog, silence.Round(time.Millisecond))
			}
		}
	}
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

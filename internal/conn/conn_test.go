package conn

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftlab/marketfeed/internal/domain"
)

// stubAdapter records what the connection manager feeds it.
type stubAdapter struct {
	endpoint string
	failOn   func(raw []byte) error

	mu      sync.Mutex
	handled [][]byte
	resets  int
	closed  bool
}

func (s *stubAdapter) Name() string     { return "stub" }
func (s *stubAdapter) Endpoint() string { return s.endpoint }

func (s *stubAdapter) SubscribeFrames() ([][]byte, error) {
	return [][]byte{[]byte(`{"op":"subscribe"}`)}, nil
}

func (s *stubAdapter) HandleMessage(_ context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != nil {
		if err := s.failOn(raw); err != nil {
			return err
		}
	}
	s.handled = append(s.handled, raw)
	return nil
}

func (s *stubAdapter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *stubAdapter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *stubAdapter) handledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handled)
}

func (s *stubAdapter) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func (s *stubAdapter) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// wsServer runs handler for every websocket connection it accepts.
func wsServer(t *testing.T, handler func(ws *websocket.Conn)) (srv *httptest.Server, url string) {
	t.Helper()
	up := websocket.Upgrader{}
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStreamAndDispatchInOrder(t *testing.T) {
	subscribes := make(chan []byte, 4)
	_, url := wsServer(t, func(ws *websocket.Conn) {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		subscribes <- frame
		for _, msg := range []string{"one", "two", "three"} {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	adapter := &stubAdapter{endpoint: url}
	c := New(adapter, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	select {
	case frame := <-subscribes:
		if string(frame) != `{"op":"subscribe"}` {
			t.Errorf("subscribe frame = %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe frame")
	}

	waitFor(t, 2*time.Second, "3 dispatched frames", func() bool { return adapter.handledCount() == 3 })

	adapter.mu.Lock()
	got := []string{string(adapter.handled[0]), string(adapter.handled[1]), string(adapter.handled[2])}
	adapter.mu.Unlock()
	for i, want := range []string{"one", "two", "three"} {
		if got[i] != want {
			t.Errorf("handled[%d] = %q, want %q", i, got[i], want)
		}
	}
	if adapter.resetCount() != 1 {
		t.Errorf("resets = %d, want 1", adapter.resetCount())
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
	if !adapter.isClosed() {
		t.Errorf("adapter not closed after Run")
	}
}

func TestDesyncForcesReconnect(t *testing.T) {
	var connections atomic.Int32
	_, url := wsServer(t, func(ws *websocket.Conn) {
		connections.Add(1)
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, []byte("gap")); err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	adapter := &stubAdapter{
		endpoint: url,
		failOn: func(raw []byte) error {
			if string(raw) == "gap" {
				return domain.ErrSequenceGap
			}
			return nil
		},
	}
	c := New(adapter, Config{ReconnectDelay: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitFor(t, 3*time.Second, "reconnect after desync", func() bool { return connections.Load() >= 2 })
	if adapter.resetCount() < 2 {
		t.Errorf("resets = %d, want >= 2", adapter.resetCount())
	}
}

func TestWatchdogReconnectsOnSilence(t *testing.T) {
	var connections atomic.Int32
	_, url := wsServer(t, func(ws *websocket.Conn) {
		connections.Add(1)
		// Never send anything after the subscribe.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	adapter := &stubAdapter{endpoint: url}
	c := New(adapter, Config{
		Watchdog:       60 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitFor(t, 3*time.Second, "watchdog reconnect", func() bool { return connections.Load() >= 2 })
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	c := New(&stubAdapter{}, Config{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 8 * time.Second,
	}, nil)

	var got []time.Duration
	d := c.cfg.ReconnectDelay
	for i := 0; i < 6; i++ {
		got = append(got, d)
		d = c.nextDelay(d)
	}

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 8 * time.Second, 8 * time.Second,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBackoffSpacesReconnectAttempts(t *testing.T) {
	// Accept and immediately close so every dial fails at the handshake,
	// while recording when each attempt arrived.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	var mu sync.Mutex
	var attempts []time.Time
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			attempts = append(attempts, time.Now())
			mu.Unlock()
			conn.Close()
		}
	}()

	adapter := &stubAdapter{endpoint: "ws://" + ln.Addr().String()}
	c := New(adapter, Config{
		ReconnectDelay:    20 * time.Millisecond,
		MaxReconnectDelay: 40 * time.Millisecond,
		MaxRetries:        4,
	}, nil)

	if err := c.Run(context.Background()); !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("Run = %v, want ErrRetriesExhausted", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 5 {
		t.Fatalf("attempts = %d, want 5", len(attempts))
	}

	// The delay doubles from 20ms and plateaus at the 40ms ceiling.
	wantMin := []time.Duration{
		20 * time.Millisecond, 40 * time.Millisecond,
		40 * time.Millisecond, 40 * time.Millisecond,
	}
	for i, min := range wantMin {
		if gap := attempts[i+1].Sub(attempts[i]); gap < min {
			t.Errorf("gap[%d] = %s, want >= %s", i, gap, min)
		}
	}
}

func TestWatchdogPollDefaults(t *testing.T) {
	c := New(&stubAdapter{}, Config{Watchdog: 40 * time.Second}, nil)
	if c.cfg.WatchdogPoll != 10*time.Second {
		t.Errorf("poll = %s, want 10s", c.cfg.WatchdogPoll)
	}

	c = New(&stubAdapter{}, Config{
		Watchdog:     40 * time.Second,
		WatchdogPoll: 3 * time.Second,
	}, nil)
	if c.cfg.WatchdogPoll != 3*time.Second {
		t.Errorf("poll = %s, want 3s", c.cfg.WatchdogPoll)
	}
}

func TestRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	adapter := &stubAdapter{endpoint: url}
	c := New(adapter, Config{
		ReconnectDelay: 5 * time.Millisecond,
		MaxRetries:     2,
	}, nil)

	err := c.Run(context.Background())
	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("Run = %v, want ErrRetriesExhausted", err)
	}
	if c.State() != Closed {
		t.Errorf("state = %s, want closed", c.State())
	}
}

func TestCloseStopsRun(t *testing.T) {
	_, url := wsServer(t, func(ws *websocket.Conn) {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, []byte("tick")); err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	adapter := &stubAdapter{endpoint: url}
	c := New(adapter, Config{}, nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	waitFor(t, 2*time.Second, "first frame", func() bool { return adapter.handledCount() >= 1 })
	c.Close()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run after Close = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestFleetIsolatesFailures(t *testing.T) {
	ticks := make(chan struct{}, 16)
	_, goodURL := wsServer(t, func(ws *websocket.Conn) {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		for {
			select {
			case <-ticks:
				if err := ws.WriteMessage(websocket.TextMessage, []byte("tick")); err != nil {
					return
				}
			case <-time.After(5 * time.Second):
				return
			}
		}
	})

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	good := &stubAdapter{endpoint: goodURL}
	bad := &stubAdapter{endpoint: deadURL}

	goodConn := New(good, Config{}, nil)
	badConn := New(bad, Config{ReconnectDelay: 5 * time.Millisecond, MaxRetries: 1}, nil)
	fleet := NewFleet(nil, goodConn, badConn)

	errc := make(chan error, 1)
	go func() { errc <- fleet.Run(context.Background()) }()

	waitFor(t, 3*time.Second, "bad conn to close", func() bool { return badConn.State() == Closed })

	// The surviving connection must still stream after its sibling died.
	ticks <- struct{}{}
	waitFor(t, 2*time.Second, "frame on surviving conn", func() bool { return good.handledCount() >= 1 })

	fleet.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, domain.ErrRetriesExhausted) {
			t.Errorf("fleet error = %v, want ErrRetriesExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fleet did not stop")
	}
}

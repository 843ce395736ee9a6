package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"MarketDesk/internal/model"
)

// scriptedConn yields its ticks in order and then fails with a transport
// error.
type scriptedConn struct {
	ticks []model.Tick
	pos   int
	mu    sync.Mutex
}

func (c *scriptedConn) ReadTick() (model.Tick, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.ticks) {
		return model.Tick{}, errors.New("connection reset")
	}
	t := c.ticks[c.pos]
	c.pos++
	return t, nil
}

func (c *scriptedConn) Close() error { return nil }

// scriptedDialer returns one scripted connection per dial; once the script
// is exhausted, dials block until the context is cancelled.
type scriptedDialer struct {
	mu    sync.Mutex
	conns []*scriptedConn
	dials int
}

func (d *scriptedDialer) Dial(ctx context.Context, _ model.Symbol) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		d.mu.Unlock()
		<-ctx.Done()
		d.mu.Lock()
		return nil, ctx.Err()
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func mkTick(price float64, ts time.Time) model.Tick {
	return model.Tick{
		Symbol:    "BTCUSDT",
		Price:     decimal.NewFromFloat(price),
		Size:      decimal.NewFromFloat(1),
		Timestamp: ts,
	}
}

func collect(t *testing.T, ch <-chan model.Tick, n int) []model.Tick {
	t.Helper()
	out := make([]model.Tick, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case tick := <-ch:
			out = append(out, tick)
		case <-timeout:
			t.Fatalf("timed out waiting for %d ticks, got %d", n, len(out))
		}
	}
	return out
}

func TestStreamDeliversTicks(t *testing.T) {
	t0 := time.Now()
	dialer := &scriptedDialer{conns: []*scriptedConn{
		{ticks: []model.Tick{mkTick(100, t0), mkTick(101, t0.Add(time.Second))}},
	}}

	src := NewSource(dialer, time.Second, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	src.Subscribe(ctx, "BTCUSDT")

	got := collect(t, src.Ticks(), 2)
	if !got[0].Price.Equal(decimal.NewFromInt(100)) || !got[1].Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("unexpected ticks: %v", got)
	}

	cancel()
	src.Close()
}

func TestReconnectTriggersBootstrapHook(t *testing.T) {
	t0 := time.Now()
	dialer := &scriptedDialer{conns: []*scriptedConn{
		{ticks: []model.Tick{mkTick(100, t0)}},
		{ticks: []model.Tick{mkTick(102, t0.Add(2 * time.Second))}},
	}}

	reconnects := make(chan model.Symbol, 1)
	src := NewSource(dialer, time.Second, func(sym model.Symbol) {
		reconnects <- sym
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	src.Subscribe(ctx, "BTCUSDT")

	collect(t, src.Ticks(), 2)

	select {
	case sym := <-reconnects:
		if sym != "BTCUSDT" {
			t.Errorf("reconnect hook called for %s", sym)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect hook was not called")
	}

	cancel()
	src.Close()
}

func TestDedupDropsResentTicks(t *testing.T) {
	t0 := time.Now()
	resent := mkTick(100, t0)
	dialer := &scriptedDialer{conns: []*scriptedConn{
		{ticks: []model.Tick{resent, mkTick(101, t0.Add(time.Second))}},
		// The feed resends the same trades on reconnect, plus one new tick.
		{ticks: []model.Tick{resent, mkTick(101, t0.Add(time.Second)), mkTick(102, t0.Add(2 * time.Second))}},
	}}

	src := NewSource(dialer, time.Second, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	src.Subscribe(ctx, "BTCUSDT")

	got := collect(t, src.Ticks(), 3)
	if !got[2].Price.Equal(decimal.NewFromInt(102)) {
		t.Errorf("expected third distinct tick at 102, got %s", got[2].Price)
	}
	if src.Duplicates() != 2 {
		t.Errorf("expected 2 deduped ticks, got %d", src.Duplicates())
	}

	cancel()
	src.Close()
}

func TestSubscribeTwiceIsNoop(t *testing.T) {
	dialer := &scriptedDialer{}
	src := NewSource(dialer, time.Second, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	src.Subscribe(ctx, "BTCUSDT")
	src.Subscribe(ctx, "BTCUSDT")

	time.Sleep(50 * time.Millisecond)
	dialer.mu.Lock()
	dials := dialer.dials
	dialer.mu.Unlock()
	if dials != 1 {
		t.Errorf("expected a single connection task, saw %d dials", dials)
	}

	cancel()
	src.Close()
}

func TestUnsubscribeStopsTask(t *testing.T) {
	dialer := &scriptedDialer{}
	src := NewSource(dialer, time.Second, nil, nil)

	src.Subscribe(context.Background(), "BTCUSDT")
	src.Unsubscribe("BTCUSDT")

	// Close waits for all tasks; it must not hang after unsubscribe.
	done := make(chan struct{})
	go func() {
		src.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close hung after Unsubscribe")
	}

	if _, open := <-src.Ticks(); open {
		t.Error("tick channel must be closed after Close")
	}
}

// blockedConn never yields a tick; ReadTick returns only once Close is
// called, like a websocket read on a silent feed.
type blockedConn struct {
	closed chan struct{}
	once   sync.Once
}

func (c *blockedConn) ReadTick() (model.Tick, error) {
	<-c.closed
	return model.Tick{}, errors.New("connection closed")
}

func (c *blockedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type blockedDialer struct{ conn *blockedConn }

func (d *blockedDialer) Dial(_ context.Context, _ model.Symbol) (Conn, error) {
	return d.conn, nil
}

func TestCancelUnblocksBlockedRead(t *testing.T) {
	conn := &blockedConn{closed: make(chan struct{})}
	src := NewSource(&blockedDialer{conn: conn}, time.Second, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	src.Subscribe(ctx, "BTCUSDT")

	// Let the task park inside ReadTick before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		src.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung while a read was blocked on a silent feed")
	}
}

// droppingDialer accepts every dial and hands back a connection that fails
// on the first read.
type droppingDialer struct {
	mu    sync.Mutex
	dials int
}

func (d *droppingDialer) Dial(_ context.Context, _ model.Symbol) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	return dropConn{}, nil
}

type dropConn struct{}

func (dropConn) ReadTick() (model.Tick, error) {
	return model.Tick{}, errors.New("connection reset")
}

func (dropConn) Close() error { return nil }

func TestShortLivedConnectionsBackOff(t *testing.T) {
	dialer := &droppingDialer{}
	src := NewSource(dialer, time.Second, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	src.Subscribe(ctx, "BTCUSDT")

	time.Sleep(500 * time.Millisecond)
	dialer.mu.Lock()
	dials := dialer.dials
	dialer.mu.Unlock()

	// Connections dropped right after accept must not be redialed in a hot
	// loop; with a 1s initial backoff at most the first redial can land here.
	if dials > 2 {
		t.Errorf("saw %d dials in 500ms, want backoff between redials", dials)
	}

	cancel()
	src.Close()
}

func TestDedupWindowEvictsOldest(t *testing.T) {
	w := newDedupWindow(2)
	t0 := time.Now()
	a, b, c := mkTick(1, t0), mkTick(2, t0), mkTick(3, t0)

	if w.duplicate(a) {
		t.Fatal("first sighting must not be a duplicate")
	}
	if !w.duplicate(a) {
		t.Fatal("resent tick must be deduped")
	}

	w.duplicate(b)
	w.duplicate(c) // window full: evicts a

	if w.duplicate(a) {
		t.Error("tick evicted from the window must be deliverable again")
	}
	if !w.duplicate(c) {
		t.Error("tick still inside the window must stay deduped")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	max := 8 * time.Second
	b := initialBackoff
	var seen []time.Duration
	for i := 0; i < 6; i++ {
		b = nextBackoff(b, max)
		seen = append(seen, b)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("backoff step %d = %v, want %v", i, seen[i], want[i])
		}
	}
}

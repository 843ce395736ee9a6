// Package feed maintains streaming connections to the price feed and
// normalizes raw messages into ticks. Connection loss is recovered with
// exponential backoff and a REST re-bootstrap; malformed messages are
// dropped and counted, never fatal.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"MarketDesk/internal/model"
)

// Conn is one established stream for one symbol. ReadTick blocks until the
// next valid tick or a transport error.
type Conn interface {
	ReadTick() (model.Tick, error)
	Close() error
}

// Dialer establishes a stream connection for a symbol.
type Dialer interface {
	Dial(ctx context.Context, symbol model.Symbol) (Conn, error)
}

const (
	initialBackoff = time.Second

	// A connection must stay up this long before a stream error resets the
	// backoff. Keeps a feed that accepts and immediately drops connections
	// from being redialed in a hot loop.
	stableConnWindow = 30 * time.Second

	dedupWindowSize = 1024
)

// Source manages one streaming connection per subscribed symbol and fans
// all ticks into a single ordered delivery channel. Each tick is delivered
// exactly once; resent ticks (same timestamp, price and size) after a
// reconnect are dropped.
type Source struct {
	dial        Dialer
	logger      *slog.Logger
	maxBackoff  time.Duration
	onReconnect func(model.Symbol)

	out chan model.Tick

	mu   sync.Mutex
	subs map[model.Symbol]context.CancelFunc
	wg   sync.WaitGroup

	duplicates atomic.Int64
}

// NewSource creates a source. onReconnect is invoked after a connection is
// re-established so the caller can re-bootstrap history over REST; it may
// be nil.
func NewSource(dial Dialer, maxBackoff time.Duration, onReconnect func(model.Symbol), logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBackoff <= 0 {
		maxBackoff = 60 * time.Second
	}
	return &Source{
		dial:        dial,
		logger:      logger,
		maxBackoff:  maxBackoff,
		onReconnect: onReconnect,
		out:         make(chan model.Tick, 1000),
		subs:        make(map[model.Symbol]context.CancelFunc),
	}
}

// Ticks is the single ordered delivery channel consumed by the aggregation
// pipeline. Closed by Close once all connection tasks have stopped.
func (s *Source) Ticks() <-chan model.Tick { return s.out }

// Subscribe starts the streaming task for a symbol. Subscribing an already
// subscribed symbol is a no-op.
func (s *Source) Subscribe(ctx context.Context, symbol model.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[symbol]; ok {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.subs[symbol] = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, symbol)
	}()
}

// Unsubscribe cancels a symbol's streaming task. Aggregation state for the
// symbol is owned elsewhere and is retained, so re-subscribing resumes
// without losing in-progress candles.
func (s *Source) Unsubscribe(symbol model.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.subs[symbol]; ok {
		cancel()
		delete(s.subs, symbol)
	}
}

// Close cancels all streaming tasks, waits for them, and closes the tick
// channel.
func (s *Source) Close() {
	s.mu.Lock()
	for sym, cancel := range s.subs {
		cancel()
		delete(s.subs, sym)
	}
	s.mu.Unlock()

	s.wg.Wait()
	close(s.out)
}

// Duplicates returns the count of resent ticks dropped by dedup.
func (s *Source) Duplicates() int64 { return s.duplicates.Load() }

// run is the per-symbol connection loop: dial, stream, and on any transport
// error retry with exponential backoff (1s, 2s, 4s, ... capped). The backoff
// resets only after a connection has stayed up, so a feed that drops every
// connection right after accept is still backed off between attempts.
func (s *Source) run(ctx context.Context, symbol model.Symbol) {
	backoff := initialBackoff
	connected := false
	seen := newDedupWindow(dedupWindowSize)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial.Dial(ctx, symbol)
		if err != nil {
			s.logger.Warn("feed dial failed",
				"symbol", symbol,
				"backoff", backoff,
				"error", err)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.maxBackoff)
			continue
		}

		if connected && s.onReconnect != nil {
			s.onReconnect(symbol)
		}
		connected = true
		connectedAt := time.Now()
		s.logger.Info("feed connected", "symbol", symbol)

		// Close the conn when the context is cancelled so a read blocked in
		// ReadTick returns and the task can stop.
		watchDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-watchDone:
			}
		}()

		if err := s.stream(ctx, conn, seen); err != nil && ctx.Err() == nil {
			s.logger.Warn("feed stream error", "symbol", symbol, "error", err)
		}
		close(watchDone)
		conn.Close()

		if time.Since(connectedAt) >= stableConnWindow {
			backoff = initialBackoff
		}
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, s.maxBackoff)
	}
}

func (s *Source) stream(ctx context.Context, conn Conn, seen *dedupWindow) error {
	for {
		tick, err := conn.ReadTick()
		if err != nil {
			return err
		}

		if seen.duplicate(tick) {
			s.duplicates.Add(1)
			continue
		}

		select {
		case s.out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// dedupWindow remembers the last size seen ticks so a feed that resends on
// reconnect cannot deliver the same trade twice. A FIFO ring of keys keeps
// both memory and per-tick cost constant.
type dedupWindow struct {
	keys  map[string]struct{}
	order []string
	head  int
}

func newDedupWindow(size int) *dedupWindow {
	return &dedupWindow{
		keys:  make(map[string]struct{}, size),
		order: make([]string, size),
	}
}

func (w *dedupWindow) duplicate(t model.Tick) bool {
	key := fmt.Sprintf("%d|%s|%s", t.Timestamp.UnixMilli(), t.Price, t.Size)
	if _, ok := w.keys[key]; ok {
		return true
	}

	if evicted := w.order[w.head]; evicted != "" {
		delete(w.keys, evicted)
	}
	w.order[w.head] = key
	w.head = (w.head + 1) % len(w.order)
	w.keys[key] = struct{}{}
	return false
}

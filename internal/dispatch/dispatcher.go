// Package dispatch fans out core events (closed candles, tick prices,
// wallet changes, order status) to external consumers such as the rendering
// layer. Subscribers receive events on buffered channels; a subscriber that
// stops draining is disconnected rather than allowed to block the core.
package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"MarketDesk/internal/model"
)

const subscriberBuffer = 128

// Hub is a broadcast channel registry for one event type.
type Hub[T any] struct {
	name   string
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[int64]chan T
	seq  atomic.Int64
}

func newHub[T any](name string, logger *slog.Logger) *Hub[T] {
	return &Hub[T]{
		name:   name,
		logger: logger,
		subs:   make(map[int64]chan T),
	}
}

// Subscribe registers a new consumer and returns its id and receive channel.
func (h *Hub[T]) Subscribe() (int64, <-chan T) {
	id := h.seq.Add(1)
	ch := make(chan T, subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub[T]) Unsubscribe(id int64) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Broadcast delivers event to every subscriber without blocking. Subscribers
// whose buffers are full are disconnected.
func (h *Hub[T]) Broadcast(event T) {
	var lagging []int64

	h.mu.RLock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			lagging = append(lagging, id)
		}
	}
	h.mu.RUnlock()

	if len(lagging) == 0 {
		return
	}
	h.mu.Lock()
	for _, id := range lagging {
		if ch, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
			h.logger.Warn("disconnected lagging subscriber", "hub", h.name, "subscriber", id)
		}
	}
	h.mu.Unlock()
}

// Close disconnects all subscribers.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Dispatcher bundles the four event hubs of the core.
type Dispatcher struct {
	Candles *Hub[model.Candle]
	Ticks   *Hub[model.PricePoint]
	Wallet  *Hub[model.WalletSnapshot]
	Orders  *Hub[model.Order]
}

// New creates a dispatcher with empty hubs.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Candles: newHub[model.Candle]("candles", logger),
		Ticks:   newHub[model.PricePoint]("ticks", logger),
		Wallet:  newHub[model.WalletSnapshot]("wallet", logger),
		Orders:  newHub[model.Order]("orders", logger),
	}
}

// Close disconnects every subscriber on every hub. Called last during
// shutdown, after the feed and the aggregation pipeline have stopped.
func (d *Dispatcher) Close() {
	d.Candles.Close()
	d.Ticks.Close()
	d.Wallet.Close()
	d.Orders.Close()
}

package cache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"MarketDesk/internal/model"
)

type entry struct {
	price decimal.Decimal
	ts    time.Time
}

// Memory holds the latest known price per symbol. It is updated on every
// tick and seeded from REST bootstrap snapshots; updates are last-write-wins
// by timestamp so a stale bootstrap row never clobbers a newer live price.
// Safe for concurrent readers while a writer updates.
type Memory struct {
	mu     sync.RWMutex
	latest map[model.Symbol]entry
	ref24h map[model.Symbol]decimal.Decimal
}

// NewMemory creates an empty price cache.
func NewMemory() *Memory {
	return &Memory{
		latest: make(map[model.Symbol]entry),
		ref24h: make(map[model.Symbol]decimal.Decimal),
	}
}

// Update records the tick's price as the latest for its symbol if the tick
// is not older than what is already cached.
func (c *Memory) Update(t model.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.latest[t.Symbol]; ok && t.Timestamp.Before(cur.ts) {
		return
	}
	c.latest[t.Symbol] = entry{price: t.Price, ts: t.Timestamp}
}

// Seed records a bootstrap price. Same last-write-wins rule as Update.
func (c *Memory) Seed(symbol model.Symbol, price decimal.Decimal, ts time.Time) {
	c.Update(model.Tick{Symbol: symbol, Price: price, Timestamp: ts})
}

// SetReference24h stores the price observed 24 hours ago, used to derive the
// change statistics on Point.
func (c *Memory) SetReference24h(symbol model.Symbol, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref24h[symbol] = price
}

// Latest returns the latest known price for symbol.
func (c *Memory) Latest(symbol model.Symbol) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.latest[symbol]
	if !ok {
		return decimal.Decimal{}, false
	}
	return e.price, true
}

// Point returns the latest price with its 24h change statistics. Change is
// zero when no 24h reference price is known.
func (c *Memory) Point(symbol model.Symbol) (model.PricePoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.latest[symbol]
	if !ok {
		return model.PricePoint{}, false
	}

	p := model.PricePoint{
		Symbol:    symbol,
		Price:     e.price,
		Timestamp: e.ts,
	}
	if ref, ok := c.ref24h[symbol]; ok && ref.IsPositive() {
		p.Change24h = e.price.Sub(ref)
		p.ChangePct24h = p.Change24h.Div(ref).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return p, true
}

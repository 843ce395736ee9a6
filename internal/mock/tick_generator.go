// Package mock provides a synthetic market data source for local development
// and tests. It implements the same Dialer and Klines surfaces as the real
// exchange clients, so the rest of the pipeline is exercised unchanged.
package mock

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"MarketDesk/internal/feed"
	"MarketDesk/internal/model"
)

// GeneratorConfig controls the synthetic price walk.
type GeneratorConfig struct {
	BasePrices map[model.Symbol]float64
	Interval   time.Duration
	Volatility float64
}

// DefaultGeneratorConfig returns a configuration suitable for local runs.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		BasePrices: map[model.Symbol]float64{
			"BTCUSDT": 50000.0,
			"ETHUSDT": 3000.0,
			"SOLUSDT": 100.0,
		},
		Interval:   500 * time.Millisecond,
		Volatility: 0.002,
	}
}

// TickGenerator produces a random-walk trade stream per symbol. It satisfies
// feed.Dialer for live ticks and exposes Klines for history bootstrap.
type TickGenerator struct {
	config GeneratorConfig

	mu    sync.Mutex
	price map[model.Symbol]float64
	rng   *rand.Rand
}

// NewTickGenerator creates a generator with the given config. Symbols missing
// from BasePrices start at 100.
func NewTickGenerator(config GeneratorConfig) *TickGenerator {
	price := make(map[model.Symbol]float64, len(config.BasePrices))
	for sym, p := range config.BasePrices {
		price[sym] = p
	}
	return &TickGenerator{
		config: config,
		price:  price,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Dial returns a connection that emits one synthetic tick per interval.
func (g *TickGenerator) Dial(_ context.Context, symbol model.Symbol) (feed.Conn, error) {
	return &generatorConn{gen: g, symbol: symbol, closed: make(chan struct{})}, nil
}

// Klines synthesizes closed historical candles ending at the current bucket.
// The walk is seeded so the last close matches the live stream's start price.
func (g *TickGenerator) Klines(_ context.Context, symbol model.Symbol, tf model.Timeframe, limit int) ([]model.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	final := g.currentLocked(symbol)
	dur := tf.Duration()
	end := tf.BucketStart(time.Now().UTC())

	// Walk backwards from the live price so history joins the stream cleanly.
	closes := make([]float64, limit)
	p := final
	for i := limit - 1; i >= 0; i-- {
		closes[i] = p
		p *= 1 - g.config.Volatility*(g.rng.Float64()*2-1)
	}

	candles := make([]model.Candle, 0, limit)
	for i := 0; i < limit; i++ {
		open := p
		if i > 0 {
			open = closes[i-1]
		}
		c := closes[i]
		high, low := open, c
		if c > open {
			high, low = c, open
		}
		openTime := end.Add(-time.Duration(limit-i) * dur)
		candles = append(candles, model.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  openTime,
			CloseTime: openTime.Add(dur),
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(high),
			Low:       decimal.NewFromFloat(low),
			Close:     decimal.NewFromFloat(c),
			Volume:    decimal.NewFromFloat(g.rng.Float64() * 50),
			Closed:    true,
		})
	}
	return candles, nil
}

// step advances the walk for one symbol and returns a tick.
func (g *TickGenerator) step(symbol model.Symbol) model.Tick {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.currentLocked(symbol)
	p *= 1 + g.config.Volatility*(g.rng.Float64()*2-1)
	g.price[symbol] = p

	return model.Tick{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(p).Round(2),
		Size:      decimal.NewFromFloat(g.rng.Float64()).Round(4),
		Timestamp: time.Now().UTC(),
	}
}

func (g *TickGenerator) currentLocked(symbol model.Symbol) float64 {
	p, ok := g.price[symbol]
	if !ok {
		p = 100.0
		g.price[symbol] = p
	}
	return p
}

type generatorConn struct {
	gen    *TickGenerator
	symbol model.Symbol
	closed chan struct{}
	once   sync.Once
}

func (c *generatorConn) ReadTick() (model.Tick, error) {
	select {
	case <-time.After(c.gen.config.Interval):
		return c.gen.step(c.symbol), nil
	case <-c.closed:
		return model.Tick{}, context.Canceled
	}
}

func (c *generatorConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

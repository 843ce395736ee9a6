// Package core runs the aggregation pipeline: a single task consuming the
// ordered tick channel and fanning each tick into the price cache, the
// candle aggregator, the order simulator's pending-limit re-evaluation, and
// the dispatcher. Keeping one consumer preserves per-symbol tick ordering.
package core

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"MarketDesk/internal/cache"
	"MarketDesk/internal/candle"
	"MarketDesk/internal/dispatch"
	"MarketDesk/internal/model"
	"MarketDesk/internal/sim"
)

// Bootstrapper fetches historical candles for (symbol, timeframe).
type Bootstrapper interface {
	Klines(ctx context.Context, symbol model.Symbol, tf model.Timeframe, limit int) ([]model.Candle, error)
}

// Mirror publishes price points to an external cache. Optional.
type Mirror interface {
	Publish(ctx context.Context, point model.PricePoint) error
}

// Pipeline wires the tick stream into the core components.
type Pipeline struct {
	prices     *cache.Memory
	aggregator *candle.Aggregator
	simulator  *sim.Simulator
	dispatcher *dispatch.Dispatcher
	mirror     Mirror
	logger     *slog.Logger

	timeframes []model.Timeframe
	bootLimit  int

	mu     sync.RWMutex
	active model.Symbol

	processed atomic.Int64
}

// NewPipeline creates a pipeline. mirror may be nil. active is the symbol
// whose tick prices are exposed on the dispatcher's tick hub.
func NewPipeline(
	prices *cache.Memory,
	aggregator *candle.Aggregator,
	simulator *sim.Simulator,
	dispatcher *dispatch.Dispatcher,
	mirror Mirror,
	timeframes []model.Timeframe,
	bootLimit int,
	active model.Symbol,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		prices:     prices,
		aggregator: aggregator,
		simulator:  simulator,
		dispatcher: dispatcher,
		mirror:     mirror,
		logger:     logger,
		timeframes: timeframes,
		bootLimit:  bootLimit,
		active:     active,
	}
}

// Run consumes ticks until the channel closes or the context is cancelled.
func (p *Pipeline) Run(ctx context.Context, ticks <-chan model.Tick) {
	p.logger.Info("pipeline started", "active_symbol", p.Active())
	defer p.logger.Info("pipeline stopped", "ticks_processed", p.processed.Load())

	for {
		select {
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			p.handleTick(ctx, tick)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) handleTick(ctx context.Context, tick model.Tick) {
	p.processed.Add(1)

	p.prices.Update(tick)
	p.aggregator.OnTick(tick)
	p.simulator.OnTick(tick)

	point, ok := p.prices.Point(tick.Symbol)
	if !ok {
		return
	}

	if tick.Symbol == p.Active() {
		p.dispatcher.Ticks.Broadcast(point)
	}

	if p.mirror != nil {
		if err := p.mirror.Publish(ctx, point); err != nil {
			p.logger.Debug("price mirror publish failed", "symbol", tick.Symbol, "error", err)
		}
	}
}

// SetActive switches which symbol's tick prices are delivered on the
// dispatcher's tick hub. Aggregation state for other symbols is unaffected.
func (p *Pipeline) SetActive(symbol model.Symbol) {
	p.mu.Lock()
	p.active = symbol
	p.mu.Unlock()
	p.logger.Info("active symbol switched", "symbol", symbol)
}

// Active returns the symbol currently exposed to the tick hub.
func (p *Pipeline) Active() model.Symbol {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// TicksProcessed returns the number of ticks consumed so far.
func (p *Pipeline) TicksProcessed() int64 { return p.processed.Load() }

// Bootstrap pre-populates candle history and the price cache for every
// (symbol, timeframe) pair over REST. Errors are logged per pair and do not
// abort the remaining pairs; a pair that failed simply starts cold.
func (p *Pipeline) Bootstrap(ctx context.Context, client Bootstrapper, symbols []model.Symbol) {
	for _, sym := range symbols {
		p.bootstrapSymbol(ctx, client, sym)
	}
}

// bootstrapSymbol fetches history for one symbol across all timeframes.
// Also used as the reconnect hook to close visible gaps after an outage.
func (p *Pipeline) bootstrapSymbol(ctx context.Context, client Bootstrapper, sym model.Symbol) {
	now := time.Now().UTC()

	for _, tf := range p.timeframes {
		rows, err := client.Klines(ctx, sym, tf, p.bootLimit)
		if err != nil {
			p.logger.Warn("bootstrap failed",
				"symbol", sym,
				"timeframe", tf,
				"error", err)
			continue
		}
		if len(rows) == 0 {
			continue
		}

		p.aggregator.SeedHistory(sym, tf, rows, now)
		last := rows[len(rows)-1]
		p.prices.Seed(sym, last.Close, last.OpenTime)

		if tf == model.Timeframe1h {
			p.seedReference24h(sym, rows, now)
		}
	}
}

// seedReference24h picks the hourly close nearest to 24 hours ago as the
// baseline for the 24h change statistics.
func (p *Pipeline) seedReference24h(sym model.Symbol, rows []model.Candle, now time.Time) {
	target := now.Add(-24 * time.Hour)
	for _, r := range rows {
		if !r.OpenTime.Before(target) {
			p.prices.SetReference24h(sym, r.Close)
			return
		}
	}
}

// ReconnectHook returns the callback the feed source invokes after a
// connection is re-established.
func (p *Pipeline) ReconnectHook(client Bootstrapper) func(model.Symbol) {
	return func(sym model.Symbol) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		p.logger.Info("re-bootstrapping after reconnect", "symbol", sym)
		p.bootstrapSymbol(ctx, client, sym)
	}
}

// Package service exposes the read and trade operations backing the API.
package service

import (
	"errors"
	"fmt"
	"time"

	"MarketDesk/internal/model"
	"MarketDesk/internal/sim"
)

var (
	ErrUnknownSymbol    = errors.New("unknown symbol")
	ErrUnknownTimeframe = errors.New("unknown timeframe")
	ErrOrderNotFound    = errors.New("order not found")
)

// CandleSource provides candle series and countdowns.
type CandleSource interface {
	History(symbol model.Symbol, tf model.Timeframe, limit int) []model.Candle
	Current(symbol model.Symbol, tf model.Timeframe) (model.Candle, bool)
	Countdown(symbol model.Symbol, tf model.Timeframe, now time.Time) (time.Duration, bool)
}

// PriceSource provides latest price points.
type PriceSource interface {
	Point(symbol model.Symbol) (model.PricePoint, bool)
}

// OrderEngine accepts order tickets and reports order state.
type OrderEngine interface {
	PlaceOrder(req sim.PlaceRequest) model.Order
	Order(id string) (model.Order, bool)
	Orders() []model.Order
	PendingCount() int
}

// WalletSource reports wallet state.
type WalletSource interface {
	Snapshot() model.WalletSnapshot
}

// ActiveSwitcher controls which symbol the tick hub follows.
type ActiveSwitcher interface {
	Active() model.Symbol
	SetActive(symbol model.Symbol)
}

// MarketService backs the HTTP API with data from the live pipeline.
type MarketService struct {
	symbols    []model.Symbol
	symbolSet  map[model.Symbol]struct{}
	timeframes []model.Timeframe
	candles    CandleSource
	prices     PriceSource
	orders     OrderEngine
	wallet     WalletSource
	active     ActiveSwitcher
}

// NewMarketService wires the service over the given sources.
func NewMarketService(
	symbols []model.Symbol,
	timeframes []model.Timeframe,
	candles CandleSource,
	prices PriceSource,
	orders OrderEngine,
	wallet WalletSource,
	active ActiveSwitcher,
) *MarketService {
	set := make(map[model.Symbol]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return &MarketService{
		symbols:    symbols,
		symbolSet:  set,
		timeframes: timeframes,
		candles:    candles,
		prices:     prices,
		orders:     orders,
		wallet:     wallet,
		active:     active,
	}
}

// Symbols returns the tracked symbols in configuration order.
func (ms *MarketService) Symbols() []model.Symbol { return ms.symbols }

// Timeframes returns the supported timeframes.
func (ms *MarketService) Timeframes() []model.Timeframe { return ms.timeframes }

// Prices returns the latest price point per tracked symbol. Symbols that have
// not seen a price yet are omitted.
func (ms *MarketService) Prices() []model.PricePoint {
	points := make([]model.PricePoint, 0, len(ms.symbols))
	for _, sym := range ms.symbols {
		if p, ok := ms.prices.Point(sym); ok {
			points = append(points, p)
		}
	}
	return points
}

// Price returns the latest price point for one symbol.
func (ms *MarketService) Price(symbol model.Symbol) (model.PricePoint, error) {
	if err := ms.checkSymbol(symbol); err != nil {
		return model.PricePoint{}, err
	}
	p, ok := ms.prices.Point(symbol)
	if !ok {
		return model.PricePoint{}, fmt.Errorf("no price observed yet for %s", symbol)
	}
	return p, nil
}

// Candles returns up to limit candles for (symbol, timeframe), oldest first.
// When includeCurrent is set the still-open candle is appended, marked open.
func (ms *MarketService) Candles(symbol model.Symbol, tf model.Timeframe, limit int, includeCurrent bool) ([]model.Candle, error) {
	if err := ms.checkSymbol(symbol); err != nil {
		return nil, err
	}
	if !tf.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTimeframe, tf)
	}

	rows := ms.candles.History(symbol, tf, limit)
	if includeCurrent {
		if cur, ok := ms.candles.Current(symbol, tf); ok {
			rows = append(rows, cur)
		}
	}
	return rows, nil
}

// CurrentCandle returns the in-progress candle for (symbol, timeframe).
func (ms *MarketService) CurrentCandle(symbol model.Symbol, tf model.Timeframe) (model.Candle, error) {
	if err := ms.checkSymbol(symbol); err != nil {
		return model.Candle{}, err
	}
	if !tf.Valid() {
		return model.Candle{}, fmt.Errorf("%w: %s", ErrUnknownTimeframe, tf)
	}
	cur, ok := ms.candles.Current(symbol, tf)
	if !ok {
		return model.Candle{}, fmt.Errorf("no open candle yet for %s %s", symbol, tf)
	}
	return cur, nil
}

// Countdown reports the time remaining until the current bucket closes.
type Countdown struct {
	Symbol    model.Symbol    `json:"symbol"`
	Timeframe model.Timeframe `json:"timeframe"`
	Remaining time.Duration   `json:"remaining_ms"`
	ClosesAt  time.Time       `json:"closes_at"`
}

// CandleCountdown computes the remaining time of the open bucket.
func (ms *MarketService) CandleCountdown(symbol model.Symbol, tf model.Timeframe) (Countdown, error) {
	if err := ms.checkSymbol(symbol); err != nil {
		return Countdown{}, err
	}
	if !tf.Valid() {
		return Countdown{}, fmt.Errorf("%w: %s", ErrUnknownTimeframe, tf)
	}

	now := time.Now().UTC()
	remaining, _ := ms.candles.Countdown(symbol, tf, now)
	return Countdown{
		Symbol:    symbol,
		Timeframe: tf,
		Remaining: remaining / time.Millisecond,
		ClosesAt:  now.Add(remaining),
	}, nil
}

// PlaceOrder submits an order ticket. Rejections come back as orders in
// rejected state, not as errors.
func (ms *MarketService) PlaceOrder(req sim.PlaceRequest) model.Order {
	return ms.orders.PlaceOrder(req)
}

// Order returns one order by ID.
func (ms *MarketService) Order(id string) (model.Order, error) {
	o, ok := ms.orders.Order(id)
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return o, nil
}

// Orders returns all orders, oldest first.
func (ms *MarketService) Orders() []model.Order { return ms.orders.Orders() }

// Wallet returns the current wallet snapshot.
func (ms *MarketService) Wallet() model.WalletSnapshot { return ms.wallet.Snapshot() }

// ActiveSymbol returns the symbol the tick hub currently follows.
func (ms *MarketService) ActiveSymbol() model.Symbol { return ms.active.Active() }

// SwitchSymbol changes the symbol the tick hub follows.
func (ms *MarketService) SwitchSymbol(symbol model.Symbol) error {
	if err := ms.checkSymbol(symbol); err != nil {
		return err
	}
	ms.active.SetActive(symbol)
	return nil
}

// Health summarizes service liveness for the health endpoint.
type Health struct {
	Status        string `json:"status"`
	PendingOrders int    `json:"pending_orders"`
	Symbols       int    `json:"symbols"`
}

// Health reports basic liveness counters.
func (ms *MarketService) Health() Health {
	return Health{
		Status:        "ok",
		PendingOrders: ms.orders.PendingCount(),
		Symbols:       len(ms.symbols),
	}
}

func (ms *MarketService) checkSymbol(symbol model.Symbol) error {
	if _, ok := ms.symbolSet[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return nil
}

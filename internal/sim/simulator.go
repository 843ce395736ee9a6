// Package sim implements the simulated order engine. Orders never reach a
// real venue; fills mutate only the wallet ledger. PENDING limit orders are
// re-evaluated on the same tick stream the aggregator consumes, so price
// observation stays single-sourced.
package sim

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"MarketDesk/internal/model"
	"MarketDesk/internal/wallet"
)

// PriceSource supplies the latest cached price for validation and market
// fills.
type PriceSource interface {
	Latest(symbol model.Symbol) (decimal.Decimal, bool)
}

// PlaceRequest carries the parameters of one order ticket.
type PlaceRequest struct {
	Symbol     model.Symbol
	Side       model.Side
	Kind       model.Kind
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
}

// Simulator validates and executes simulated orders against the price cache
// and the wallet ledger.
type Simulator struct {
	prices PriceSource
	ledger *wallet.Ledger
	logger *slog.Logger
	notify func(model.Order)

	mu      sync.Mutex
	symbols map[model.Symbol]struct{}
	orders  map[string]model.Order
	pending []string // FIFO by creation time
}

// NewSimulator creates a simulator restricted to the given symbol set.
// notify is called with every terminal or pending order state; it may be nil.
func NewSimulator(symbols []model.Symbol, prices PriceSource, ledger *wallet.Ledger, notify func(model.Order), logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = func(model.Order) {}
	}

	set := make(map[model.Symbol]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}

	return &Simulator{
		prices:  prices,
		ledger:  ledger,
		logger:  logger,
		notify:  notify,
		symbols: set,
		orders:  make(map[string]model.Order),
	}
}

// PlaceOrder validates the request and either fills it, rejects it, or
// parks it as a PENDING limit order. The returned Order is the caller's
// copy; terminal orders are never mutated afterwards.
//
// Validation order (first failure wins): quantity, limit price, symbol,
// position for sells, funds for buys.
func (s *Simulator) PlaceOrder(req PlaceRequest) model.Order {
	order := model.Order{
		ID:         uuid.New().String(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Kind:       req.Kind,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		Status:     model.OrderPending,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reason, ok := s.validate(order); !ok {
		return s.reject(order, reason)
	}

	latest, havePrice := s.prices.Latest(order.Symbol)

	switch order.Kind {
	case model.KindMarket:
		if !havePrice {
			return s.reject(order, model.RejectNoPrice)
		}
		return s.fill(order, latest)

	default: // limit
		if havePrice && limitSatisfied(order, latest) {
			return s.fill(order, latest)
		}
		s.orders[order.ID] = order
		s.pending = append(s.pending, order.ID)
		s.logger.Info("limit order resting",
			"order_id", order.ID,
			"symbol", order.Symbol,
			"side", order.Side,
			"limit_price", order.LimitPrice)
		s.notify(order)
		return order
	}
}

// validate runs the pre-trade checks. Caller holds s.mu.
func (s *Simulator) validate(o model.Order) (model.RejectReason, bool) {
	if !o.Quantity.IsPositive() {
		return model.RejectInvalidQuantity, false
	}
	if o.Kind == model.KindLimit && !o.LimitPrice.IsPositive() {
		return model.RejectInvalidLimitPrice, false
	}
	if _, ok := s.symbols[o.Symbol]; !ok {
		return model.RejectUnknownSymbol, false
	}

	if o.Side == model.SideSell {
		pos, ok := s.ledger.Position(o.Symbol)
		if !ok || pos.Quantity.LessThan(o.Quantity) {
			return model.RejectInsufficientPosition, false
		}
		return "", true
	}

	// Buys: estimated cost uses the limit price for limit orders and the
	// latest cached price for market orders.
	estimate := o.LimitPrice
	if o.Kind == model.KindMarket {
		latest, ok := s.prices.Latest(o.Symbol)
		if !ok {
			return model.RejectNoPrice, false
		}
		estimate = latest
	}
	if s.ledger.Cash().LessThan(o.Quantity.Mul(estimate)) {
		return model.RejectInsufficientFunds, false
	}
	return "", true
}

// fill settles an order at price. The ledger re-checks funds and position
// under its own lock; if the balance moved since validation the order is
// rejected at this point rather than overdrawing. Caller holds s.mu.
func (s *Simulator) fill(order model.Order, price decimal.Decimal) model.Order {
	if err := s.ledger.ApplyFill(order, price); err != nil {
		switch err {
		case wallet.ErrInsufficientFunds:
			return s.reject(order, model.RejectInsufficientFunds)
		case wallet.ErrInsufficientPosition:
			return s.reject(order, model.RejectInsufficientPosition)
		default:
			s.logger.Error("fill failed", "order_id", order.ID, "error", err)
			return s.reject(order, model.RejectInvalidQuantity)
		}
	}

	order.Status = model.OrderFilled
	order.FillPrice = price
	order.FilledAt = time.Now().UTC()
	s.orders[order.ID] = order
	s.logger.Info("order filled",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"quantity", order.Quantity,
		"fill_price", price)
	s.notify(order)
	return order
}

func (s *Simulator) reject(order model.Order, reason model.RejectReason) model.Order {
	order.Status = model.OrderRejected
	order.Reason = reason
	s.orders[order.ID] = order
	s.logger.Info("order rejected",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"reason", reason)
	s.notify(order)
	return order
}

// OnTick re-evaluates resting limit orders for the tick's symbol, oldest
// first (FIFO by creation time, full-fill only). An order whose limit
// condition is met fills at the tick price; if its funds or position have
// evaporated since placement it is rejected now.
func (s *Simulator) OnTick(t model.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return
	}

	remaining := s.pending[:0]
	for _, id := range s.pending {
		order := s.orders[id]
		if order.Symbol != t.Symbol || !limitSatisfied(order, t.Price) {
			remaining = append(remaining, id)
			continue
		}
		s.fill(order, t.Price)
	}
	s.pending = remaining
}

func limitSatisfied(o model.Order, price decimal.Decimal) bool {
	if o.Side == model.SideBuy {
		return o.LimitPrice.GreaterThanOrEqual(price)
	}
	return o.LimitPrice.LessThanOrEqual(price)
}

// Order returns the order with the given ID.
func (s *Simulator) Order(id string) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// Orders returns all orders of the session, oldest first.
func (s *Simulator) Orders() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PendingCount returns the number of resting limit orders.
func (s *Simulator) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

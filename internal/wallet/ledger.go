// Package wallet provides the simulated session wallet: a cash balance and
// per-symbol positions with weighted-average-cost accounting. All mutation
// goes through a single mutex so no two fills interleave, and snapshots are
// consistent point-in-time reads.
package wallet

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"MarketDesk/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a buy fill would drive the cash
	// balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientPosition is returned when a sell fill exceeds the held
	// quantity.
	ErrInsufficientPosition = errors.New("insufficient position")
)

// PriceSource supplies the latest cached price for valuation.
type PriceSource interface {
	Latest(symbol model.Symbol) (decimal.Decimal, bool)
}

// Ledger is the single wallet of the session.
type Ledger struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[model.Symbol]model.Position
	prices    PriceSource
}

// NewLedger creates a ledger seeded with starting cash and no positions.
func NewLedger(startingCash decimal.Decimal, prices PriceSource) *Ledger {
	return &Ledger{
		cash:      startingCash,
		positions: make(map[model.Symbol]model.Position),
		prices:    prices,
	}
}

// ApplyFill settles one order fill at fillPrice. The funds and position
// checks run under the same lock as the mutation, so the fill is applied
// exactly once and the invariants (cash never negative, sold quantity never
// exceeding the held position) hold under concurrent orders.
func (l *Ledger) ApplyFill(o model.Order, fillPrice decimal.Decimal) error {
	notional := o.Quantity.Mul(fillPrice)

	l.mu.Lock()
	defer l.mu.Unlock()

	switch o.Side {
	case model.SideBuy:
		if l.cash.LessThan(notional) {
			return ErrInsufficientFunds
		}
		l.cash = l.cash.Sub(notional)

		pos := l.positions[o.Symbol]
		newQty := pos.Quantity.Add(o.Quantity)
		// Weighted-average cost: (oldQty*oldAvg + fillQty*fillPrice) / newQty.
		totalCost := pos.Quantity.Mul(pos.AverageCost).Add(notional)
		l.positions[o.Symbol] = model.Position{
			Symbol:      o.Symbol,
			Quantity:    newQty,
			AverageCost: totalCost.Div(newQty),
		}
		return nil

	case model.SideSell:
		pos, ok := l.positions[o.Symbol]
		if !ok || pos.Quantity.LessThan(o.Quantity) {
			return ErrInsufficientPosition
		}
		l.cash = l.cash.Add(notional)

		pos.Quantity = pos.Quantity.Sub(o.Quantity)
		if pos.Quantity.IsZero() {
			delete(l.positions, o.Symbol)
		} else {
			// Selling does not change the cost basis of what remains.
			l.positions[o.Symbol] = pos
		}
		return nil
	}

	return errors.New("unknown order side")
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Position returns a copy of the position held for symbol.
func (l *Ledger) Position(symbol model.Symbol) (model.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	return pos, ok
}

// Snapshot returns a consistent view of the wallet valued against the latest
// cached prices. Positions without a known price are valued at their cost
// basis so the total never understates the wallet.
func (l *Ledger) Snapshot() model.WalletSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := model.WalletSnapshot{
		CashBalance:   l.cash,
		Positions:     make(map[model.Symbol]model.PositionView, len(l.positions)),
		TotalValue:    l.cash,
		UnrealizedPnL: decimal.Zero,
		Taken:         time.Now().UTC(),
	}

	for sym, pos := range l.positions {
		view := model.PositionView{Position: pos}

		price, ok := l.prices.Latest(sym)
		if !ok {
			price = pos.AverageCost
		}
		view.LatestPrice = price
		view.MarketValue = pos.Quantity.Mul(price)
		view.UnrealizedPnL = pos.Quantity.Mul(price.Sub(pos.AverageCost))

		snap.Positions[sym] = view
		snap.TotalValue = snap.TotalValue.Add(view.MarketValue)
		snap.UnrealizedPnL = snap.UnrealizedPnL.Add(view.UnrealizedPnL)
	}

	return snap
}

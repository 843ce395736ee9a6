package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol identifies a tradable instrument (e.g. "BTCUSDT"). The set of
// symbols is fixed at startup.
type Symbol string

// Timeframe is the fixed duration defining candle bucket width.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// AllTimeframes returns the supported timeframes in ascending duration order.
func AllTimeframes() []Timeframe {
	return []Timeframe{
		Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
		Timeframe1h, Timeframe4h, Timeframe1d,
	}
}

// Duration returns the bucket width of the timeframe. Unknown timeframes
// return 0.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	}
	return 0
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool { return tf.Duration() > 0 }

// BucketStart returns the epoch-aligned boundary containing ts:
// floor(unix(ts) / duration) * duration. Boundaries are aligned to epoch
// time, never to the wall clock of the first tick, so bucketing is
// deterministic regardless of when the stream started.
func (tf Timeframe) BucketStart(ts time.Time) time.Time {
	sec := int64(tf.Duration() / time.Second)
	unix := ts.Unix()
	return time.Unix(unix-((unix%sec)+sec)%sec, 0).UTC()
}

// Tick is a single observed trade event for a symbol.
type Tick struct {
	Symbol    Symbol          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Timestamp time.Time       `json:"timestamp"`
}

// Candle is OHLCV data for one symbol over one timeframe bucket. While open
// it is mutated in place by the aggregator; once Closed it is immutable.
type Candle struct {
	Symbol    Symbol          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Closed    bool            `json:"closed"`
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Kind is the order execution kind.
type Kind string

const (
	KindMarket Kind = "MARKET"
	KindLimit  Kind = "LIMIT"
)

// OrderStatus is the lifecycle state of a simulated order. FILLED and
// REJECTED are terminal.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
)

// RejectReason classifies why an order was rejected.
type RejectReason string

const (
	RejectInvalidQuantity      RejectReason = "INVALID_QUANTITY"
	RejectInvalidLimitPrice    RejectReason = "INVALID_LIMIT_PRICE"
	RejectInsufficientFunds    RejectReason = "INSUFFICIENT_FUNDS"
	RejectInsufficientPosition RejectReason = "INSUFFICIENT_POSITION"
	RejectNoPrice              RejectReason = "NO_PRICE"
	RejectUnknownSymbol        RejectReason = "UNKNOWN_SYMBOL"
)

// Order is a simulated order. It never touches a real venue; fills mutate
// only the in-memory wallet ledger.
type Order struct {
	ID         string          `json:"id"`
	Symbol     Symbol          `json:"symbol"`
	Side       Side            `json:"side"`
	Kind       Kind            `json:"kind"`
	Quantity   decimal.Decimal `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
	Status     OrderStatus     `json:"status"`
	Reason     RejectReason    `json:"reason,omitempty"`
	FillPrice  decimal.Decimal `json:"fill_price,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FilledAt   time.Time       `json:"filled_at,omitempty"`
}

// Position is a held quantity of one symbol with its weighted-average cost
// basis.
type Position struct {
	Symbol      Symbol          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

// PositionView is a Position enriched with the latest price valuation.
type PositionView struct {
	Position
	LatestPrice   decimal.Decimal `json:"latest_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// WalletSnapshot is a consistent point-in-time view of the wallet, valued
// against the latest cached prices.
type WalletSnapshot struct {
	CashBalance   decimal.Decimal         `json:"cash_balance"`
	Positions     map[Symbol]PositionView `json:"positions"`
	TotalValue    decimal.Decimal         `json:"total_value"`
	UnrealizedPnL decimal.Decimal         `json:"unrealized_pnl"`
	Taken         time.Time               `json:"taken"`
}

// PricePoint is the latest known price for a symbol together with its 24h
// change statistics.
type PricePoint struct {
	Symbol       Symbol          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	Change24h    decimal.Decimal `json:"change_24h"`
	ChangePct24h decimal.Decimal `json:"change_pct_24h"`
	Timestamp    time.Time       `json:"timestamp"`
}

package service

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"MarketDesk/internal/model"
	"MarketDesk/internal/sim"
)

type stubCandles struct {
	history []model.Candle
	current model.Candle
	hasCur  bool
}

func (s *stubCandles) History(model.Symbol, model.Timeframe, int) []model.Candle { return s.history }
func (s *stubCandles) Current(model.Symbol, model.Timeframe) (model.Candle, bool) {
	return s.current, s.hasCur
}
func (s *stubCandles) Countdown(_ model.Symbol, _ model.Timeframe, _ time.Time) (time.Duration, bool) {
	return 42 * time.Second, true
}

type stubPrices struct {
	points map[model.Symbol]model.PricePoint
}

func (s *stubPrices) Point(sym model.Symbol) (model.PricePoint, bool) {
	p, ok := s.points[sym]
	return p, ok
}

type stubOrders struct {
	placed  []sim.PlaceRequest
	byID    map[string]model.Order
	pending int
}

func (s *stubOrders) PlaceOrder(req sim.PlaceRequest) model.Order {
	s.placed = append(s.placed, req)
	return model.Order{ID: "o-1", Status: model.OrderFilled}
}
func (s *stubOrders) Order(id string) (model.Order, bool) {
	o, ok := s.byID[id]
	return o, ok
}
func (s *stubOrders) Orders() []model.Order { return nil }
func (s *stubOrders) PendingCount() int     { return s.pending }

type stubWallet struct{ snap model.WalletSnapshot }

func (s *stubWallet) Snapshot() model.WalletSnapshot { return s.snap }

type stubActive struct{ sym model.Symbol }

func (s *stubActive) Active() model.Symbol       { return s.sym }
func (s *stubActive) SetActive(sym model.Symbol) { s.sym = sym }

func newTestService(candles *stubCandles, prices *stubPrices, orders *stubOrders) *MarketService {
	if candles == nil {
		candles = &stubCandles{}
	}
	if prices == nil {
		prices = &stubPrices{points: map[model.Symbol]model.PricePoint{}}
	}
	if orders == nil {
		orders = &stubOrders{byID: map[string]model.Order{}}
	}
	return NewMarketService(
		[]model.Symbol{"BTCUSDT", "ETHUSDT"},
		model.AllTimeframes(),
		candles, prices, orders,
		&stubWallet{}, &stubActive{sym: "BTCUSDT"},
	)
}

func TestPricesSkipsColdSymbols(t *testing.T) {
	prices := &stubPrices{points: map[model.Symbol]model.PricePoint{
		"BTCUSDT": {Symbol: "BTCUSDT", Price: decimal.NewFromInt(50000)},
	}}
	svc := newTestService(nil, prices, nil)

	got := svc.Prices()
	if len(got) != 1 || got[0].Symbol != "BTCUSDT" {
		t.Errorf("expected only the warm symbol, got %v", got)
	}
}

func TestPriceUnknownSymbol(t *testing.T) {
	svc := newTestService(nil, nil, nil)
	if _, err := svc.Price("DOGEUSDT"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestCandlesAppendsCurrent(t *testing.T) {
	closed := model.Candle{Symbol: "BTCUSDT", Closed: true}
	open := model.Candle{Symbol: "BTCUSDT", Closed: false}
	candles := &stubCandles{history: []model.Candle{closed}, current: open, hasCur: true}
	svc := newTestService(candles, nil, nil)

	rows, err := svc.Candles("BTCUSDT", model.Timeframe1m, 10, true)
	if err != nil {
		t.Fatalf("Candles returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected closed history plus open candle, got %d rows", len(rows))
	}
	if rows[1].Closed {
		t.Error("appended candle must be the open one")
	}

	rows, _ = svc.Candles("BTCUSDT", model.Timeframe1m, 10, false)
	if len(rows) != 1 {
		t.Errorf("without includeCurrent expected history only, got %d", len(rows))
	}
}

func TestCandlesRejectsBadTimeframe(t *testing.T) {
	svc := newTestService(nil, nil, nil)
	if _, err := svc.Candles("BTCUSDT", "7m", 10, false); !errors.Is(err, ErrUnknownTimeframe) {
		t.Errorf("expected ErrUnknownTimeframe, got %v", err)
	}
}

func TestCandleCountdown(t *testing.T) {
	svc := newTestService(&stubCandles{}, nil, nil)

	cd, err := svc.CandleCountdown("BTCUSDT", model.Timeframe1m)
	if err != nil {
		t.Fatalf("CandleCountdown returned error: %v", err)
	}
	if cd.Remaining != 42000 {
		t.Errorf("remaining = %d ms, want 42000", cd.Remaining)
	}
}

func TestOrderNotFound(t *testing.T) {
	svc := newTestService(nil, nil, nil)
	if _, err := svc.Order("missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestSwitchSymbol(t *testing.T) {
	active := &stubActive{sym: "BTCUSDT"}
	svc := NewMarketService(
		[]model.Symbol{"BTCUSDT", "ETHUSDT"},
		model.AllTimeframes(),
		&stubCandles{}, &stubPrices{points: map[model.Symbol]model.PricePoint{}},
		&stubOrders{byID: map[string]model.Order{}}, &stubWallet{}, active,
	)

	if err := svc.SwitchSymbol("ETHUSDT"); err != nil {
		t.Fatalf("SwitchSymbol returned error: %v", err)
	}
	if svc.ActiveSymbol() != "ETHUSDT" {
		t.Errorf("active symbol = %s", svc.ActiveSymbol())
	}

	if err := svc.SwitchSymbol("DOGEUSDT"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
}

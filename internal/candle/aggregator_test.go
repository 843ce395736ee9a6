package candle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"MarketDesk/internal/model"
)

var t0 = time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC) // 1m boundary

func tick(sym string, price float64, ts time.Time) model.Tick {
	return model.Tick{
		Symbol:    model.Symbol(sym),
		Price:     decimal.NewFromFloat(price),
		Size:      decimal.NewFromFloat(1),
		Timestamp: ts,
	}
}

func newTestAggregator(tfs []model.Timeframe) (*Aggregator, *[]model.Candle) {
	closed := &[]model.Candle{}
	agg := NewAggregator(tfs, 1000, func(c model.Candle) {
		*closed = append(*closed, c)
	}, nil)
	return agg, closed
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestSingleCandleOHLCInvariants(t *testing.T) {
	agg, closed := newTestAggregator([]model.Timeframe{model.Timeframe1m})

	prices := []float64{100, 103, 99, 101.5, 100.2}
	for i, p := range prices {
		agg.OnTick(tick("BTCUSDT", p, t0.Add(time.Duration(i)*time.Second)))
	}

	c, ok := agg.Current("BTCUSDT", model.Timeframe1m)
	if !ok {
		t.Fatal("expected open candle")
	}
	if len(*closed) != 0 {
		t.Fatalf("expected no closed candles, got %d", len(*closed))
	}

	if !c.Open.Equal(dec(100)) {
		t.Errorf("open = %s, want 100", c.Open)
	}
	if !c.High.Equal(dec(103)) {
		t.Errorf("high = %s, want 103", c.High)
	}
	if !c.Low.Equal(dec(99)) {
		t.Errorf("low = %s, want 99", c.Low)
	}
	if !c.Close.Equal(dec(100.2)) {
		t.Errorf("close = %s, want last tick price 100.2", c.Close)
	}
	if !c.Volume.Equal(dec(5)) {
		t.Errorf("volume = %s, want 5", c.Volume)
	}

	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		t.Error("high must be >= open and close")
	}
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		t.Error("low must be <= open and close")
	}
}

func TestBoundaryStraddleClosesExactlyOneCandle(t *testing.T) {
	agg, closed := newTestAggregator([]model.Timeframe{model.Timeframe1m})

	// Scenario from the order flow: [(100,t0),(105,t0+10s),(95,t0+40s),(102,t0+65s)]
	agg.OnTick(tick("BTCUSDT", 100, t0))
	agg.OnTick(tick("BTCUSDT", 105, t0.Add(10*time.Second)))
	agg.OnTick(tick("BTCUSDT", 95, t0.Add(40*time.Second)))
	agg.OnTick(tick("BTCUSDT", 102, t0.Add(65*time.Second)))

	if len(*closed) != 1 {
		t.Fatalf("expected exactly 1 closed candle, got %d", len(*closed))
	}

	first := (*closed)[0]
	if !first.Closed {
		t.Error("emitted candle must be marked closed")
	}
	if !first.Open.Equal(dec(100)) || !first.High.Equal(dec(105)) ||
		!first.Low.Equal(dec(95)) || !first.Close.Equal(dec(95)) {
		t.Errorf("first candle OHLC = %s/%s/%s/%s, want 100/105/95/95",
			first.Open, first.High, first.Low, first.Close)
	}
	boundary := t0.Add(time.Minute)
	if !first.CloseTime.Equal(boundary) {
		t.Errorf("first close time = %v, want boundary %v", first.CloseTime, boundary)
	}

	second, ok := agg.Current("BTCUSDT", model.Timeframe1m)
	if !ok {
		t.Fatal("expected open second candle")
	}
	if !second.OpenTime.Equal(boundary) {
		t.Errorf("second open time = %v, want boundary %v", second.OpenTime, boundary)
	}
	for _, v := range []decimal.Decimal{second.Open, second.High, second.Low, second.Close} {
		if !v.Equal(dec(102)) {
			t.Errorf("second candle must be seeded at 102, got %s", v)
		}
	}

	if got := agg.History("BTCUSDT", model.Timeframe1m, 0); len(got) != 1 {
		t.Errorf("expected 1 archived candle, got %d", len(got))
	}
}

func TestFeedGapOpensExactlyOneCandle(t *testing.T) {
	agg, closed := newTestAggregator([]model.Timeframe{model.Timeframe1m})

	agg.OnTick(tick("BTCUSDT", 100, t0))
	// Jump five periods ahead: no synthetic flat candles are fabricated.
	agg.OnTick(tick("BTCUSDT", 110, t0.Add(5*time.Minute+3*time.Second)))

	if len(*closed) != 1 {
		t.Fatalf("expected 1 closed candle across the gap, got %d", len(*closed))
	}
	cur, _ := agg.Current("BTCUSDT", model.Timeframe1m)
	if !cur.OpenTime.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("new candle must open at the tick's own boundary, got %v", cur.OpenTime)
	}
	if agg.FeedGaps() != 1 {
		t.Errorf("expected 1 recorded feed gap, got %d", agg.FeedGaps())
	}
}

func TestOutOfOrderTickDiscarded(t *testing.T) {
	agg, closed := newTestAggregator([]model.Timeframe{model.Timeframe1m})

	agg.OnTick(tick("BTCUSDT", 100, t0.Add(65*time.Second)))
	before, _ := agg.Current("BTCUSDT", model.Timeframe1m)

	// Tick from the previous, already-passed bucket.
	agg.OnTick(tick("BTCUSDT", 50, t0.Add(30*time.Second)))

	after, _ := agg.Current("BTCUSDT", model.Timeframe1m)
	if !after.Low.Equal(before.Low) || !after.Close.Equal(before.Close) {
		t.Error("out-of-order tick must not mutate the open candle")
	}
	if len(*closed) != 0 {
		t.Error("out-of-order tick must not close a candle")
	}
	if agg.DroppedOutOfOrder() != 1 {
		t.Errorf("expected 1 dropped tick, got %d", agg.DroppedOutOfOrder())
	}
}

func TestMultipleTimeframesIndependent(t *testing.T) {
	tfs := []model.Timeframe{model.Timeframe1m, model.Timeframe5m}
	agg, closed := newTestAggregator(tfs)

	// Three minutes of ticks: closes two 1m candles, zero 5m candles.
	agg.OnTick(tick("BTCUSDT", 100, t0))
	agg.OnTick(tick("BTCUSDT", 101, t0.Add(61*time.Second)))
	agg.OnTick(tick("BTCUSDT", 102, t0.Add(121*time.Second)))

	var oneMin, fiveMin int
	for _, c := range *closed {
		switch c.Timeframe {
		case model.Timeframe1m:
			oneMin++
		case model.Timeframe5m:
			fiveMin++
		}
	}
	if oneMin != 2 || fiveMin != 0 {
		t.Errorf("closed 1m=%d 5m=%d, want 2/0", oneMin, fiveMin)
	}

	five, ok := agg.Current("BTCUSDT", model.Timeframe5m)
	if !ok {
		t.Fatal("expected open 5m candle")
	}
	if !five.Volume.Equal(dec(3)) {
		t.Errorf("5m candle must accumulate all three ticks, volume=%s", five.Volume)
	}
}

func TestCountdown(t *testing.T) {
	agg, _ := newTestAggregator([]model.Timeframe{model.Timeframe1m})
	agg.OnTick(tick("BTCUSDT", 100, t0))

	now := t0.Add(20 * time.Second)
	remaining, ok := agg.Countdown("BTCUSDT", model.Timeframe1m, now)
	if !ok {
		t.Fatal("expected countdown")
	}
	if remaining != 40*time.Second {
		t.Errorf("countdown = %v, want 40s", remaining)
	}

	// Strictly decreases between consecutive calls absent a close.
	later, _ := agg.Countdown("BTCUSDT", model.Timeframe1m, now.Add(5*time.Second))
	if later >= remaining {
		t.Errorf("countdown must decrease: %v then %v", remaining, later)
	}

	// Resets to the full duration immediately after a close.
	agg.OnTick(tick("BTCUSDT", 101, t0.Add(time.Minute)))
	reset, _ := agg.Countdown("BTCUSDT", model.Timeframe1m, t0.Add(time.Minute))
	if reset != time.Minute {
		t.Errorf("countdown after close = %v, want full 1m", reset)
	}
}

func TestCountdownWithoutOpenCandle(t *testing.T) {
	agg, _ := newTestAggregator([]model.Timeframe{model.Timeframe1m})

	now := t0.Add(15 * time.Second)
	remaining, ok := agg.Countdown("BTCUSDT", model.Timeframe1m, now)
	if !ok {
		t.Fatal("expected countdown even without an open candle")
	}
	if remaining != 45*time.Second {
		t.Errorf("countdown = %v, want 45s to next boundary", remaining)
	}

	if _, ok := agg.Countdown("BTCUSDT", model.Timeframe("2h"), now); ok {
		t.Error("invalid timeframe must not produce a countdown")
	}
}

func TestSeedHistoryAndResumeWithoutDoubleCount(t *testing.T) {
	agg, _ := newTestAggregator([]model.Timeframe{model.Timeframe1m})

	// Live stream fills part of the current candle, then the feed drops.
	agg.OnTick(tick("BTCUSDT", 100, t0.Add(5*time.Second)))
	agg.OnTick(tick("BTCUSDT", 102, t0.Add(10*time.Second)))

	// Bootstrap returns one closed row and the same in-progress candle with
	// its authoritative partial OHLCV (the snapshot already includes the
	// volume from the live ticks above).
	rows := []model.Candle{
		{
			OpenTime: t0.Add(-time.Minute),
			Open:     dec(98), High: dec(100), Low: dec(97), Close: dec(99),
			Volume: dec(40),
		},
		{
			OpenTime: t0,
			Open:     dec(100), High: dec(102), Low: dec(100), Close: dec(102),
			Volume: dec(2),
		},
	}
	asOf := t0.Add(12 * time.Second)
	agg.SeedHistory("BTCUSDT", model.Timeframe1m, rows, asOf)

	hist := agg.History("BTCUSDT", model.Timeframe1m, 0)
	if len(hist) != 1 {
		t.Fatalf("expected 1 closed candle from bootstrap, got %d", len(hist))
	}
	if !hist[0].Closed || !hist[0].Close.Equal(dec(99)) {
		t.Errorf("bootstrap history candle wrong: %+v", hist[0])
	}

	// Resumed live tick accumulates on top of the snapshot volume exactly once.
	agg.OnTick(tick("BTCUSDT", 103, t0.Add(20*time.Second)))
	cur, _ := agg.Current("BTCUSDT", model.Timeframe1m)
	if !cur.Volume.Equal(dec(3)) {
		t.Errorf("volume = %s, want 3 (snapshot 2 + one live tick)", cur.Volume)
	}
	if !cur.High.Equal(dec(103)) {
		t.Errorf("high = %s, want 103", cur.High)
	}
}

func TestSeedHistoryDoesNotRegressOpenCandle(t *testing.T) {
	agg, _ := newTestAggregator([]model.Timeframe{model.Timeframe1m})

	// Live stream is already two buckets ahead of the stale snapshot row.
	agg.OnTick(tick("BTCUSDT", 110, t0.Add(2*time.Minute)))

	rows := []model.Candle{{
		OpenTime: t0,
		Open:     dec(100), High: dec(100), Low: dec(100), Close: dec(100),
		Volume: dec(1),
	}}
	agg.SeedHistory("BTCUSDT", model.Timeframe1m, rows, t0.Add(10*time.Second))

	cur, _ := agg.Current("BTCUSDT", model.Timeframe1m)
	if !cur.OpenTime.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("stale snapshot must not regress the open candle, got open=%v", cur.OpenTime)
	}
}

func TestHistoryBound(t *testing.T) {
	closedCount := 0
	agg := NewAggregator([]model.Timeframe{model.Timeframe1m}, 10, func(model.Candle) {
		closedCount++
	}, nil)

	for i := 0; i <= 25; i++ {
		agg.OnTick(tick("BTCUSDT", 100, t0.Add(time.Duration(i)*time.Minute)))
	}

	if closedCount != 25 {
		t.Errorf("expected 25 closed candles, got %d", closedCount)
	}
	hist := agg.History("BTCUSDT", model.Timeframe1m, 0)
	if len(hist) != 10 {
		t.Errorf("history must be bounded at 10, got %d", len(hist))
	}
	// Oldest retained candle is the 16th closed one.
	if !hist[0].OpenTime.Equal(t0.Add(15 * time.Minute)) {
		t.Errorf("unexpected oldest retained candle: %v", hist[0].OpenTime)
	}
}

package candle

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"MarketDesk/internal/model"
)

// Aggregator consumes ticks and maintains the in-progress candle for every
// (symbol, timeframe) pair, closing and emitting candles when a timeframe
// boundary is crossed. Exactly one open candle exists per pair at any
// instant. Ticks older than the current open candle are discarded.
//
// Per-series state is guarded independently of the wallet and price cache so
// a slow reader never blocks ingestion; readers always receive copies.
type Aggregator struct {
	timeframes []model.Timeframe
	emit       func(model.Candle)
	logger     *slog.Logger

	mu      sync.RWMutex
	open    map[seriesKey]*model.Candle
	history *historyStore

	droppedOutOfOrder atomic.Int64
	feedGaps          atomic.Int64
}

// NewAggregator creates an aggregator tracking the given timeframes. emit is
// called with every closed candle, after the series lock is released; it may
// be nil.
func NewAggregator(timeframes []model.Timeframe, maxHistory int, emit func(model.Candle), logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(model.Candle) {}
	}
	return &Aggregator{
		timeframes: timeframes,
		emit:       emit,
		logger:     logger,
		open:       make(map[seriesKey]*model.Candle),
		history:    newHistoryStore(maxHistory),
	}
}

// OnTick folds one tick into every tracked timeframe for its symbol.
func (a *Aggregator) OnTick(t model.Tick) {
	var closed []model.Candle

	a.mu.Lock()
	for _, tf := range a.timeframes {
		if c, ok := a.applyTick(t, tf); ok {
			closed = append(closed, c)
		}
	}
	a.mu.Unlock()

	for _, c := range closed {
		a.history.append(c)
		a.emit(c)
	}
}

// applyTick advances one (symbol, timeframe) state machine. Returns the
// candle closed by this tick, if any. Caller holds a.mu.
func (a *Aggregator) applyTick(t model.Tick, tf model.Timeframe) (model.Candle, bool) {
	bucket := tf.BucketStart(t.Timestamp)
	k := seriesKey{symbol: t.Symbol, timeframe: tf}
	cur := a.open[k]

	if cur == nil {
		a.open[k] = newOpenCandle(t, tf, bucket)
		return model.Candle{}, false
	}

	switch {
	case bucket.Equal(cur.OpenTime):
		if t.Price.GreaterThan(cur.High) {
			cur.High = t.Price
		}
		if t.Price.LessThan(cur.Low) {
			cur.Low = t.Price
		}
		cur.Close = t.Price
		cur.Volume = cur.Volume.Add(t.Size)
		return model.Candle{}, false

	case bucket.After(cur.OpenTime):
		finished := *cur
		finished.Closed = true

		// A feed gap wider than one period closes the old candle and opens
		// exactly one new candle at the tick's own boundary. No synthetic
		// flat candles are fabricated; the history keeps the gap.
		if bucket.After(cur.OpenTime.Add(tf.Duration())) {
			a.feedGaps.Add(1)
			a.logger.Warn("feed gap detected",
				"symbol", t.Symbol,
				"timeframe", tf,
				"previous_open", cur.OpenTime,
				"next_open", bucket)
		}

		a.open[k] = newOpenCandle(t, tf, bucket)
		return finished, true

	default: // bucket before the open candle: out-of-order tick
		a.droppedOutOfOrder.Add(1)
		return model.Candle{}, false
	}
}

func newOpenCandle(t model.Tick, tf model.Timeframe, bucket time.Time) *model.Candle {
	return &model.Candle{
		Symbol:    t.Symbol,
		Timeframe: tf,
		OpenTime:  bucket,
		CloseTime: bucket.Add(tf.Duration()),
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Size,
	}
}

// Current returns a copy of the open candle for a pair.
func (a *Aggregator) Current(symbol model.Symbol, tf model.Timeframe) (model.Candle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cur := a.open[seriesKey{symbol: symbol, timeframe: tf}]
	if cur == nil {
		return model.Candle{}, false
	}
	return *cur, true
}

// Countdown returns the time remaining until the pair's next candle close.
// It is recomputed on demand, never stored. When no candle is open yet the
// countdown runs to the next epoch-aligned boundary from now.
func (a *Aggregator) Countdown(symbol model.Symbol, tf model.Timeframe, now time.Time) (time.Duration, bool) {
	if !tf.Valid() {
		return 0, false
	}

	a.mu.RLock()
	cur := a.open[seriesKey{symbol: symbol, timeframe: tf}]
	a.mu.RUnlock()

	closeTime := tf.BucketStart(now).Add(tf.Duration())
	if cur != nil && cur.CloseTime.After(now) {
		closeTime = cur.CloseTime
	}

	remaining := closeTime.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// History returns up to limit most recent closed candles, oldest first.
func (a *Aggregator) History(symbol model.Symbol, tf model.Timeframe, limit int) []model.Candle {
	return a.history.list(symbol, tf, limit)
}

// SeedHistory merges bootstrap rows fetched over REST into a series. Rows are
// authoritative for their boundaries. A row still in progress at asOf (its
// close time is in the future) replaces the open candle wholesale, so volume
// already counted by the snapshot is never double-counted against resumed
// live ticks. Closed rows go to history.
func (a *Aggregator) SeedHistory(symbol model.Symbol, tf model.Timeframe, rows []model.Candle, asOf time.Time) {
	if len(rows) == 0 {
		return
	}

	var done []model.Candle
	for _, r := range rows {
		r.Symbol = symbol
		r.Timeframe = tf
		if r.CloseTime.IsZero() {
			r.CloseTime = r.OpenTime.Add(tf.Duration())
		}

		if r.CloseTime.After(asOf) {
			r.Closed = false
			a.replaceOpen(symbol, tf, r)
			continue
		}
		r.Closed = true
		done = append(done, r)
	}

	a.history.seed(symbol, tf, done)
}

func (a *Aggregator) replaceOpen(symbol model.Symbol, tf model.Timeframe, c model.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := seriesKey{symbol: symbol, timeframe: tf}
	if cur := a.open[k]; cur != nil && cur.OpenTime.After(c.OpenTime) {
		return // live stream already moved past the snapshot's boundary
	}
	a.open[k] = &c
}

// DroppedOutOfOrder returns the count of ticks discarded for being older
// than the current open candle.
func (a *Aggregator) DroppedOutOfOrder() int64 { return a.droppedOutOfOrder.Load() }

// FeedGaps returns the count of boundary advances wider than one period.
func (a *Aggregator) FeedGaps() int64 { return a.feedGaps.Load() }

package candle

import (
	"sync"

	"MarketDesk/internal/model"
)

type seriesKey struct {
	symbol    model.Symbol
	timeframe model.Timeframe
}

// historyStore holds closed candles per (symbol, timeframe) in a bounded
// slice, oldest first. Reads return copies so callers never hold a live
// reference into the store.
type historyStore struct {
	mu      sync.RWMutex
	max     int
	candles map[seriesKey][]model.Candle
}

func newHistoryStore(max int) *historyStore {
	return &historyStore{
		max:     max,
		candles: make(map[seriesKey][]model.Candle),
	}
}

// append adds a closed candle to its series and trims the series to the
// configured bound.
func (s *historyStore) append(c model.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := seriesKey{symbol: c.Symbol, timeframe: c.Timeframe}
	series := append(s.candles[k], c)
	if len(series) > s.max {
		series = series[len(series)-s.max:]
	}
	s.candles[k] = series
}

// seed merges bootstrap rows into a series. Rows are authoritative for their
// boundaries: any stored candle at or after the first row's boundary is
// replaced by the bootstrap data.
func (s *historyStore) seed(symbol model.Symbol, tf model.Timeframe, rows []model.Candle) {
	if len(rows) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := seriesKey{symbol: symbol, timeframe: tf}
	cutoff := rows[0].OpenTime

	var merged []model.Candle
	for _, c := range s.candles[k] {
		if c.OpenTime.Before(cutoff) {
			merged = append(merged, c)
		}
	}
	merged = append(merged, rows...)
	if len(merged) > s.max {
		merged = merged[len(merged)-s.max:]
	}
	s.candles[k] = merged
}

// list returns up to limit most recent closed candles, oldest first.
// limit <= 0 returns the whole series.
func (s *historyStore) list(symbol model.Symbol, tf model.Timeframe, limit int) []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.candles[seriesKey{symbol: symbol, timeframe: tf}]
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}

	out := make([]model.Candle, len(series))
	copy(out, series)
	return out
}

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"MarketDesk/internal/model"
)

// BootstrapClient fetches historical klines over REST, used to pre-populate
// candle history at startup and to fill gaps after a reconnect.
type BootstrapClient struct {
	baseURL string
	httpc   *http.Client
}

// NewBootstrapClient creates a client for the given REST base URL.
func NewBootstrapClient(baseURL string) *BootstrapClient {
	return &BootstrapClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 12 * time.Second},
	}
}

// Klines fetches up to limit historical candles for (symbol, timeframe),
// ordered oldest first. The last row may be the still-open candle.
func (c *BootstrapClient) Klines(ctx context.Context, symbol model.Symbol, tf model.Timeframe, limit int) ([]model.Candle, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		c.baseURL, strings.ToUpper(string(symbol)), tf, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("klines request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines request: unexpected status %d", resp.StatusCode)
	}

	// Rows are heterogenous arrays:
	// [openTime, "open", "high", "low", "close", "volume", closeTime, ...]
	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("klines decode: %w", err)
	}

	candles := make([]model.Candle, 0, len(raw))
	for _, row := range raw {
		candle, err := parseKlineRow(symbol, tf, row)
		if err != nil {
			return nil, fmt.Errorf("klines row: %w", err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseKlineRow(symbol model.Symbol, tf model.Timeframe, row []json.RawMessage) (model.Candle, error) {
	if len(row) < 7 {
		return model.Candle{}, fmt.Errorf("short row: %d fields", len(row))
	}

	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return model.Candle{}, err
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return model.Candle{}, err
	}

	fields := make([]decimal.Decimal, 5)
	for i := 0; i < 5; i++ {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return model.Candle{}, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candle{}, err
		}
		fields[i] = d
	}

	return model.Candle{
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  time.UnixMilli(openMs).UTC(),
		// The feed reports closeTime as the last millisecond of the bucket;
		// normalize to the exclusive boundary.
		CloseTime: time.UnixMilli(closeMs + 1).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"MarketDesk/internal/model"
)

// WSDialer dials the exchange's per-symbol trade stream over websocket,
// e.g. wss://stream.binance.com:9443/ws/btcusdt@trade.
type WSDialer struct {
	baseURL   string
	logger    *slog.Logger
	malformed atomic.Int64
}

// NewWSDialer creates a dialer for the given websocket base URL.
func NewWSDialer(baseURL string, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSDialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Dial opens the trade stream for a symbol.
func (d *WSDialer) Dial(ctx context.Context, symbol model.Symbol) (Conn, error) {
	url := fmt.Sprintf("%s/%s@trade", d.baseURL, strings.ToLower(string(symbol)))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return &wsConn{conn: conn, symbol: symbol, dialer: d}, nil
}

// Malformed returns the count of messages dropped for not matching the
// trade schema.
func (d *WSDialer) Malformed() int64 { return d.malformed.Load() }

// tradeMessage is the inbound trade event shape: symbol, price, quantity
// and event time in epoch milliseconds.
type tradeMessage struct {
	Event    string `json:"e"`
	Symbol   string `json:"s"`
	Price    string `json:"p"`
	Quantity string `json:"q"`
	TradeTs  int64  `json:"T"`
}

type wsConn struct {
	conn   *websocket.Conn
	symbol model.Symbol
	dialer *WSDialer
}

// ReadTick reads messages until one deserializes into a valid tick.
// Malformed or out-of-schema messages are dropped and counted. Transport
// errors are returned to the caller for reconnect handling.
func (c *wsConn) ReadTick() (model.Tick, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return model.Tick{}, fmt.Errorf("read: %w", err)
		}

		var msg tradeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.drop("unmarshal", err)
			continue
		}
		if msg.Event != "trade" || msg.Price == "" || msg.TradeTs == 0 {
			c.drop("schema", nil)
			continue
		}

		price, err := decimal.NewFromString(msg.Price)
		if err != nil || !price.IsPositive() {
			c.drop("price", err)
			continue
		}
		size, err := decimal.NewFromString(msg.Quantity)
		if err != nil || size.IsNegative() {
			c.drop("quantity", err)
			continue
		}

		return model.Tick{
			Symbol:    c.symbol,
			Price:     price,
			Size:      size,
			Timestamp: time.UnixMilli(msg.TradeTs).UTC(),
		}, nil
	}
}

func (c *wsConn) drop(field string, err error) {
	c.dialer.malformed.Add(1)
	c.dialer.logger.Debug("dropped malformed feed message",
		"symbol", c.symbol,
		"field", field,
		"error", err)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

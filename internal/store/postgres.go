// Package store journals closed candles and filled orders to PostgreSQL so a
// session can be inspected after the fact. The journal is write-mostly and
// optional; the in-memory history remains the source the API serves from.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"MarketDesk/internal/config"
	"MarketDesk/internal/model"
)

// Journal persists session events to PostgreSQL.
type Journal struct {
	db *sql.DB
}

// NewJournal opens the database and verifies the connection.
func NewJournal(cfg config.PostgresConfig) (*Journal, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}

	return &Journal{db: db}, nil
}

// SaveCandles journals a batch of closed candles.
func (j *Journal) SaveCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	query := `INSERT INTO candles (symbol, timeframe, open_time, close_time, open, high, low, close, volume)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			  ON CONFLICT (symbol, timeframe, open_time) DO NOTHING`

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Symbol, c.Timeframe, c.OpenTime, c.CloseTime,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveOrder journals an order in a terminal state.
func (j *Journal) SaveOrder(ctx context.Context, o model.Order) error {
	query := `INSERT INTO orders (id, symbol, side, kind, quantity, limit_price, status, reason, fill_price, created_at, filled_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			  ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, fill_price = EXCLUDED.fill_price, filled_at = EXCLUDED.filled_at`

	var limitPrice, fillPrice sql.NullString
	if !o.LimitPrice.IsZero() {
		limitPrice = sql.NullString{String: o.LimitPrice.String(), Valid: true}
	}
	if !o.FillPrice.IsZero() {
		fillPrice = sql.NullString{String: o.FillPrice.String(), Valid: true}
	}
	var filledAt sql.NullTime
	if !o.FilledAt.IsZero() {
		filledAt = sql.NullTime{Time: o.FilledAt, Valid: true}
	}

	_, err := j.db.ExecContext(ctx, query, o.ID, o.Symbol, o.Side, o.Kind,
		o.Quantity.String(), limitPrice, o.Status, o.Reason, fillPrice, o.CreatedAt, filledAt)
	return err
}

// CandleCount returns the number of journaled candles for a symbol since the
// given time.
func (j *Journal) CandleCount(ctx context.Context, symbol model.Symbol, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM candles WHERE symbol = $1 AND open_time >= $2`

	var n int64
	if err := j.db.QueryRowContext(ctx, query, symbol, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

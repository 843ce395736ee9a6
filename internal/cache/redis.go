package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"MarketDesk/internal/config"
	"MarketDesk/internal/model"
)

const latestTTL = 2 * time.Minute

// Redis mirrors latest prices into a shared Redis instance so external
// consumers (dashboards, other processes) can read them without touching
// the core. The in-process Memory cache remains the source of truth for
// the order simulator and wallet valuation.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Publish stores the latest price point for its symbol with a TTL.
func (r *Redis) Publish(ctx context.Context, point model.PricePoint) error {
	data, err := json.Marshal(point)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("latest:%s", point.Symbol)
	return r.client.Set(ctx, key, data, latestTTL).Err()
}

// Latest reads back the latest price point for a symbol. Returns nil when
// the key is absent or expired.
func (r *Redis) Latest(ctx context.Context, symbol model.Symbol) (*model.PricePoint, error) {
	data, err := r.client.Get(ctx, fmt.Sprintf("latest:%s", symbol)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var point model.PricePoint
	if err := json.Unmarshal([]byte(data), &point); err != nil {
		return nil, err
	}
	return &point, nil
}

// Close closes the underlying connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"payment-svc/config"
	"payment-svc/models"
)

const orderTTL = 30 * time.Second

func InitRedis(cfg config.Redis, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

// Order lookups are cached briefly: the donation status page polls while the
// donor waits on the gateway redirect. Entries are dropped whenever the
// reconciliation coordinator commits a transition.

func GetOrder(ctx context.Context, rdb *redis.Client, externalID string) (models.Order, bool) {
	data, err := rdb.Get(ctx, orderKey(externalID)).Bytes()
	if err != nil {
		return models.Order{}, false
	}
	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return models.Order{}, false
	}
	return order, true
}

func SetOrder(ctx context.Context, rdb *redis.Client, order models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, orderKey(order.ExternalOrderID), data, orderTTL).Err()
}

func DeleteOrder(ctx context.Context, rdb *redis.Client, externalID string) error {
	return rdb.Del(ctx, orderKey(externalID)).Err()
}

func orderKey(externalID string) string {
	return fmt.Sprintf("order:%s", externalID)
}

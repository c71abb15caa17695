package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"butik/backend/internal/domain"
)

type RedisDecisionCache struct {
	client *redis.Client
}

func NewRedisDecisionCache(addr string, password string, db int) *RedisDecisionCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisDecisionCache{client: client}
}

func (c *RedisDecisionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisDecisionCache) Close() error {
	return c.client.Close()
}

func (c *RedisDecisionCache) Get(ctx context.Context, orderID string) (*domain.OrderDecision, bool, error) {
	val, err := c.client.Get(ctx, decisionKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var decision domain.OrderDecision
	if err := json.Unmarshal(val, &decision); err != nil {
		return nil, false, err
	}
	return &decision, true, nil
}

// Set stores only terminal decisions. Receipts are dropped; a cached answer
// reports the status, not the sales it produced.
func (c *RedisDecisionCache) Set(ctx context.Context, decision domain.OrderDecision, ttl time.Duration) error {
	if decision.OrderID == "" || !decision.Status.IsTerminal() {
		return nil
	}
	decision.Sales = nil
	decision.Recovered = false
	payload, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, decisionKey(decision.OrderID), payload, ttl).Err()
}

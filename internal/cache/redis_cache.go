package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"shiftledger/backend/internal/domain"
)

type RedisReportCache struct {
	client *redis.Client
	prefix string
}

func NewRedisReportCache(client *redis.Client, prefix string) *RedisReportCache {
	return &RedisReportCache{client: client, prefix: prefix}
}

func (c *RedisReportCache) key(shiftID string) string {
	return c.prefix + shiftID
}

func (c *RedisReportCache) Get(ctx context.Context, shiftID string) (*domain.ShiftReport, bool, error) {
	val, err := c.client.Get(ctx, c.key(shiftID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.ShiftReport
	if err := json.Unmarshal(val, &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisReportCache) Set(ctx context.Context, report *domain.ShiftReport, ttl time.Duration) error {
	if report == nil {
		return nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(report.Shift.ID), payload, ttl).Err()
}

func (c *RedisReportCache) Invalidate(ctx context.Context, shiftID string) error {
	return c.client.Del(ctx, c.key(shiftID)).Err()
}

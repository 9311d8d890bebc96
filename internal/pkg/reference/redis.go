package reference

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const counterTTL = 48 * time.Hour

// RedisAllocator keeps one INCR counter per prefix and day. A missing key is
// seeded from the table so a flushed Redis never reissues a stored reference.
// Rolled-back transactions leave gaps in the sequence. When Redis is
// unreachable it degrades to the table allocator.
type RedisAllocator struct {
	client *redis.Client
	table  *TableAllocator
	log    logrus.FieldLogger
}

func NewRedisAllocator(client *redis.Client, table *TableAllocator, log logrus.FieldLogger) *RedisAllocator {
	return &RedisAllocator{client: client, table: table, log: log}
}

func counterKey(prefix string, day time.Time) string {
	return fmt.Sprintf("ref:%s:%s", prefix, day.UTC().Format(dayLayout))
}

func (a *RedisAllocator) Next(ctx context.Context, tx *gorm.DB, prefix string, day time.Time) (string, error) {
	counter, err := a.incr(ctx, tx, prefix, day)
	if err != nil {
		a.log.WithError(err).WithField("prefix", prefix).Warn("redis reference counter unavailable, falling back to table")
		return a.table.Next(ctx, tx, prefix, day)
	}
	if counter > maxCounter {
		return "", ErrSequenceExhausted
	}
	return Format(prefix, day, int(counter)), nil
}

func (a *RedisAllocator) incr(ctx context.Context, tx *gorm.DB, prefix string, day time.Time) (int64, error) {
	key := counterKey(prefix, day)

	exists, err := a.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		current, err := a.table.Max(ctx, tx, prefix, day)
		if err != nil {
			return 0, err
		}
		if err := a.client.SetNX(ctx, key, current, counterTTL).Err(); err != nil {
			return 0, err
		}
	}

	return a.client.Incr(ctx, key).Result()
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

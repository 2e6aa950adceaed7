package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps pending payments in a Redis list. Producers append with
// RPUSH and pullers take from the head with a single LPOP key count.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(ctx context.Context, redisURL, key string) (*RedisQueue, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL must be set")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.Protocol = 2
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisQueueFromClient(client, key), nil
}

func NewRedisQueueFromClient(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) PopBatch(ctx context.Context, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	values, err := q.client.LPopCount(ctx, q.key, n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lpop %s: %w", q.key, err)
	}

	items := make([][]byte, 0, len(values))
	for _, v := range values {
		items = append(items, []byte(v))
	}
	return items, nil
}

func (q *RedisQueue) Push(ctx context.Context, item []byte) error {
	if err := q.client.RPush(ctx, q.key, item).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return n, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

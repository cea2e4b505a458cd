package redis

import (
	"context"
	"errors"
	"time"

	"sdlc-wizard/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const DefaultQueueName = "wizard:queue:advance"

type RedisQueue struct {
	client      *redis.Client
	queueName   string
	pollTimeout time.Duration
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:      client,
		queueName:   DefaultQueueName,
		pollTimeout: time.Second,
	}
}

// Push adds a run ID to the end of the list
func (q *RedisQueue) Push(ctx context.Context, runID string) error {
	return q.client.RPush(ctx, q.queueName, runID).Err()
}

// Pop waits up to pollTimeout for a run ID and removes it from the front of
// the list. A finite wait lets workers notice shutdown.
func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	result, err := q.client.BLPop(ctx, q.pollTimeout, q.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ports.ErrQueueEmpty
		}
		return "", err
	}
	// BLPop returns a slice: [QueueName, Element]
	return result[1], nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

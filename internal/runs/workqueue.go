package runs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// workQueueKey is the Redis list the execution workers pop from. A real
// deployment's worker fleet is an external collaborator (spec §1); this
// enqueuer only needs to hand a payload across that boundary.
const workQueueKey = "agent_run:work_queue"

// RedisWorkQueue implements WorkEnqueuer over a Redis list, grounded on
// internal/broker.RedisBroker's RPush-backed response list (same
// push-now/pop-elsewhere durability shape, just a different consumer).
type RedisWorkQueue struct {
	client *redis.Client
}

// NewRedisWorkQueue wraps an existing go-redis client.
func NewRedisWorkQueue(client *redis.Client) *RedisWorkQueue {
	return &RedisWorkQueue{client: client}
}

func (q *RedisWorkQueue) Enqueue(ctx context.Context, payload WorkPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("runs: marshal work payload: %w", err)
	}
	return q.client.RPush(ctx, workQueueKey, raw).Err()
}

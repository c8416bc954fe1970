package runs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newTestRedisClient connects to a local Redis instance, skipping if
// unavailable, mirroring internal/broker's redis_test.go helper.
func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisWorkQueue_EnqueuePushesJSONPayload(t *testing.T) {
	client := newTestRedisClient(t)
	ctx := context.Background()
	t.Cleanup(func() { client.Del(ctx, workQueueKey) })

	q := NewRedisWorkQueue(client)
	payload := WorkPayload{RunID: "run-1", ThreadID: "thread-1", InstanceID: "instance-1", Model: "gpt-4"}

	require.NoError(t, q.Enqueue(ctx, payload))

	raw, err := client.RPop(ctx, workQueueKey).Result()
	require.NoError(t, err)

	var got WorkPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	require.Equal(t, payload, got)
}

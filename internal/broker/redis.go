package broker

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker over a single go-redis client, grounded on
// the teacher's subscription-pump shape: a buffered channel per subscription,
// dropped messages on backpressure rather than blocking the publisher.
type RedisBroker struct {
	client *redis.Client

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedisBroker wraps an existing go-redis client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) AppendResponse(ctx context.Context, runID string, envelope []byte) error {
	return b.client.RPush(ctx, ResponsesKey(runID), envelope).Err()
}

func (b *RedisBroker) ReadResponses(ctx context.Context, runID string, from int64) ([][]byte, error) {
	raw, err := b.client.LRange(ctx, ResponsesKey(runID), from, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(raw))
	for i, v := range raw {
		out[i] = []byte(v)
	}
	return out, nil
}

func (b *RedisBroker) DeleteResponses(ctx context.Context, runID string) error {
	return b.client.Del(ctx, ResponsesKey(runID)).Err()
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload string) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

// subscriptionBufferSize bounds per-subscriber backpressure; a slow reader
// drops new notifications rather than stalling the publisher.
const subscriptionBufferSize = 100

func (b *RedisBroker) Subscribe(ctx context.Context, topics ...string) (<-chan string, func(), error) {
	sub := b.client.Subscribe(ctx, topics...)

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	out := make(chan string, subscriptionBufferSize)
	go func() {
		defer close(out)
		msgCh := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
					// backpressure: drop rather than block the pump
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
		b.mu.Lock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}

	return out, cleanup, nil
}

func (b *RedisBroker) SetIfAbsent(ctx context.Context, key, value string, ttlSeconds int64) (bool, error) {
	ttl := secondsToDuration(ttlSeconds)
	return b.client.SetNX(ctx, key, value, ttl).Result()
}

func (b *RedisBroker) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := compareAndDeleteScript.Run(ctx, b.client, []string{key}, expected).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (b *RedisBroker) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := b.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (b *RedisBroker) KeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Close()
	}
	b.subs = nil
	return b.client.Close()
}

// compareAndDeleteScript implements the lock-release compare-and-delete
// atomically: delete key only if its value equals the expected owner token.
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

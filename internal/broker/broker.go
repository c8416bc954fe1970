// Package broker provides the durable append lists, pub/sub channels, and
// TTL-guarded lease primitives that back run ownership, response streaming,
// and distributed idempotency marks. It is backed by Redis, generalized from
// the topic-per-resource pattern used elsewhere for trading-bot events into
// the run/webhook/lock key families this service needs.
package broker

import (
	"context"
	"fmt"
)

// Broker is the full set of operations the run lifecycle, event stream, and
// lock/idempotency layers need from the key-value store.
type Broker interface {
	// AppendResponse appends a JSON-encoded envelope to a run's ordered response list.
	AppendResponse(ctx context.Context, runID string, envelope []byte) error

	// ReadResponses returns envelopes in [from, -1] (end of list), 0-indexed.
	ReadResponses(ctx context.Context, runID string, from int64) ([][]byte, error)

	// DeleteResponses removes the run's response list entirely.
	DeleteResponses(ctx context.Context, runID string) error

	// Publish sends a message on a topic to any subscribers.
	Publish(ctx context.Context, topic string, payload string) error

	// Subscribe returns a channel of raw message payloads for the given topics.
	// The returned cleanup function must be called exactly once when done.
	Subscribe(ctx context.Context, topics ...string) (<-chan string, func(), error)

	// SetIfAbsent atomically sets key=value with the given TTL, only if key does not exist.
	// Returns true if the set happened (lock/lease acquired).
	SetIfAbsent(ctx context.Context, key, value string, ttlSeconds int64) (bool, error)

	// CompareAndDelete deletes key only if its current value equals expected.
	// Returns true if the delete happened.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	// Get returns the current value of key, or ("", false, nil) if absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// KeysByPattern enumerates keys matching a glob pattern (e.g. "active_run:*:run123").
	KeysByPattern(ctx context.Context, pattern string) ([]string, error)

	// Close releases all resources held by the broker.
	Close() error
}

// Key layout, shared by every package that talks to the broker.
const (
	activeRunKeyFmt       = "active_run:%s:%s"    // instanceID, runID
	responsesKeyFmt       = "agent_run:%s:responses" // runID
	newResponseTopicFmt   = "agent_run:%s:new_response"
	controlTopicFmt       = "agent_run:%s:control"
	instanceControlFmt    = "agent_run:%s:control:%s" // runID, instanceID
	webhookEventKeyFmt    = "webhook:event:%s"
	lockKeyFmt            = "lock:%s"
)

// ActiveRunKey returns the ownership lease key for (instanceID, runID).
func ActiveRunKey(instanceID, runID string) string { return fmt.Sprintf(activeRunKeyFmt, instanceID, runID) }

// ActiveRunPattern returns a glob matching the ownership lease key for any instance owning runID.
func ActiveRunPattern(runID string) string { return fmt.Sprintf(activeRunKeyFmt, "*", runID) }

// ResponsesKey returns the response-list key for runID.
func ResponsesKey(runID string) string { return fmt.Sprintf(responsesKeyFmt, runID) }

// NewResponseTopic returns the pub/sub topic announcing new responses for runID.
func NewResponseTopic(runID string) string { return fmt.Sprintf(newResponseTopicFmt, runID) }

// ControlTopic returns the global control topic for runID.
func ControlTopic(runID string) string { return fmt.Sprintf(controlTopicFmt, runID) }

// InstanceControlTopic returns the per-instance control topic for (runID, instanceID).
func InstanceControlTopic(runID, instanceID string) string {
	return fmt.Sprintf(instanceControlFmt, runID, instanceID)
}

// WebhookEventKey returns the idempotency-mark key for a provider event id.
func WebhookEventKey(eventID string) string { return fmt.Sprintf(webhookEventKeyFmt, eventID) }

// LockKey returns the distributed-lock key for a lock name.
func LockKey(name string) string { return fmt.Sprintf(lockKeyFmt, name) }

// Control channel payloads.
const (
	ControlStop       = "STOP"
	ControlEndStream  = "END_STREAM"
	ControlError      = "ERROR"
	NewResponseSignal = "new"
)

var _ Broker = (*RedisBroker)(nil)

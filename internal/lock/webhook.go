package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/volaticloud/agentcore/internal/broker"
)

// webhookLockTTL bounds how long a webhook event's in-flight lock is held:
// long enough to cover Stripe API calls the handler makes, short enough
// that a crashed handler doesn't wedge retries of the same event forever.
const webhookLockTTL = 30 * time.Second

// WithWebhookLock serializes processing of a single Stripe event ID across
// instances, guarding the narrow race between the durable
// store.ClaimWebhookEvent insert and a concurrent retry delivery of the same
// event landing on a different instance at the same moment.
func WithWebhookLock(ctx context.Context, b broker.Broker, eventID string, fn func(ctx context.Context) error) error {
	name := fmt.Sprintf("webhook:%s", eventID)
	return WithLock(ctx, b, name, webhookLockTTL, fn)
}

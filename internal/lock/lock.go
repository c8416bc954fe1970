// Package lock provides the distributed mutual-exclusion and webhook
// idempotency guards that sit in front of credit mutations, built on the
// broker's SetIfAbsent/CompareAndDelete primitives the way the teacher's
// Redis-backed packages layer higher-level guarantees over raw client calls.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/volaticloud/agentcore/internal/broker"
	"github.com/volaticloud/agentcore/internal/utils"
)

// ErrNotAcquired is returned by Acquire when the lock is already held.
var ErrNotAcquired = errors.New("lock: not acquired")

// Lock represents a held distributed lock. Release is idempotent: calling
// it twice, or after the TTL has expired and someone else acquired the
// lock, is safe — the compare-and-delete only removes the key if its token
// still matches what this holder set.
type Lock struct {
	broker broker.Broker
	key    string
	token  string
}

// Acquire attempts to take the named lock for ttl. It returns ErrNotAcquired
// if another holder currently owns it.
func Acquire(ctx context.Context, b broker.Broker, name string, ttl time.Duration) (*Lock, error) {
	token, err := utils.GenerateSecureToken(16)
	if err != nil {
		return nil, fmt.Errorf("lock: generate token: %w", err)
	}

	key := broker.LockKey(name)
	ok, err := b.SetIfAbsent(ctx, key, token, int64(ttl.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{broker: b, key: key, token: token}, nil
}

// Release gives up the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.broker.CompareAndDelete(ctx, l.key, l.token)
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", l.key, err)
	}
	return nil
}

// WithLock acquires name, runs fn, and releases the lock afterward. It
// returns ErrNotAcquired without running fn if the lock is already held.
func WithLock(ctx context.Context, b broker.Broker, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	l, err := Acquire(ctx, b, name, ttl)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release(ctx) }()
	return fn(ctx)
}

// Credit grant lock names, grounded on the original system's
// credit_grant:{kind}:{account_id}[:{anchor}] naming.
func UpgradeGrantLock(accountID string, billingAnchorUnix int64) string {
	return fmt.Sprintf("credit_grant:upgrade:%s:%d", accountID, billingAnchorUnix)
}

func TrialGrantLock(accountID string) string {
	return fmt.Sprintf("credit_grant:trial:%s", accountID)
}

func RenewalGrantLock(accountID string) string {
	return fmt.Sprintf("credit_grant:renewal:%s", accountID)
}

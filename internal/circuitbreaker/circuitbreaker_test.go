package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volaticloud/agentcore/internal/enum"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Put(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// failingStore always errors on Get, simulating an unreachable etcd.
type failingStore struct{ err error }

func (f *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, f.err
}
func (f *failingStore) Put(ctx context.Context, key, value string) error { return nil }

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	store := newMemStore()
	cb := New(store, Config{Name: "stripe_api", FailureThreshold: 3, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := cb.Call(ctx, func(ctx context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	state, err := cb.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, enum.CircuitOpen, state)

	err = cb.Call(ctx, func(ctx context.Context) error {
		t.Fatal("fn must not run while circuit is open")
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	store := newMemStore()
	cb := New(store, Config{Name: "stripe_api", FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	boom := errors.New("boom")
	_ = cb.Call(ctx, func(ctx context.Context) error { return boom })

	state, _ := cb.State(ctx)
	require.Equal(t, enum.CircuitOpen, state)

	time.Sleep(20 * time.Millisecond)

	err := cb.Call(ctx, func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	state, _ = cb.State(ctx)
	assert.Equal(t, enum.CircuitClosed, state)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	store := newMemStore()
	cb := New(store, Config{Name: "stripe_api", FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})
	ctx := context.Background()

	boom := errors.New("boom")
	_ = cb.Call(ctx, func(ctx context.Context) error { return boom })
	time.Sleep(20 * time.Millisecond)

	err := cb.Call(ctx, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	state, _ := cb.State(ctx)
	assert.Equal(t, enum.CircuitOpen, state)
}

func TestCircuitBreaker_StoreFailureDoesNotFailOpen(t *testing.T) {
	storeErr := errors.New("etcd unreachable")
	cb := New(&failingStore{err: storeErr}, Config{Name: "stripe_api", FailureThreshold: 1, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	called := false
	err := cb.Call(ctx, func(ctx context.Context) error { called = true; return nil })

	assert.ErrorIs(t, err, storeErr)
	assert.False(t, called, "fn must not run when the breaker can't confirm its own state")
}

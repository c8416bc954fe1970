// Package circuitbreaker implements the closed/open/half-open circuit
// breaker the webhook processor and subscription orchestrator wrap around
// outbound Stripe calls. It is a direct port of the original system's
// CircuitBreaker state machine, with state persisted in etcd instead of a
// dedicated Postgres table, since etcd is already the shared-state backend
// this service uses for instance coordination.
package circuitbreaker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/volaticloud/agentcore/internal/enum"
)

// stateStore is the subset of etcd.Client a CircuitBreaker needs; the
// interface lets tests substitute an in-memory fake instead of a live etcd.
type stateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// persistedState is the JSON document stored at circuitbreaker/{name}.
type persistedState struct {
	State           enum.CircuitState `json:"state"`
	FailureCount    int               `json:"failure_count"`
	LastFailureTime time.Time         `json:"last_failure_time"`
}

// Config tunes a CircuitBreaker's trip/reset thresholds.
type Config struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// CircuitBreaker guards a single named dependency, shared across instances
// via etcd so a trip on one instance is honored by all of them.
type CircuitBreaker struct {
	store  stateStore
	cfg    Config
	mu     sync.Mutex
	cached persistedState
}

// New builds a CircuitBreaker backed by store, initializing it closed if no
// prior state exists at its etcd key.
func New(store stateStore, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		store:  store,
		cfg:    cfg,
		cached: persistedState{State: enum.CircuitClosed},
	}
}

func (cb *CircuitBreaker) key() string { return fmt.Sprintf("circuitbreaker/%s", cb.cfg.Name) }

func (cb *CircuitBreaker) load(ctx context.Context) (persistedState, error) {
	raw, ok, err := cb.store.Get(ctx, cb.key())
	if err != nil {
		return persistedState{}, fmt.Errorf("circuitbreaker: load state for %s: %w", cb.cfg.Name, err)
	}
	if !ok {
		// No persisted state yet: treat as closed, matching the original's
		// _initialize_circuit_state default.
		return persistedState{State: enum.CircuitClosed}, nil
	}
	var s persistedState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return persistedState{}, fmt.Errorf("circuitbreaker: decode state for %s: %w", cb.cfg.Name, err)
	}
	return s, nil
}

func (cb *CircuitBreaker) save(ctx context.Context, s persistedState) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("circuitbreaker: encode state for %s: %w", cb.cfg.Name, err)
	}
	if err := cb.store.Put(ctx, cb.key(), string(raw)); err != nil {
		return fmt.Errorf("circuitbreaker: persist state for %s: %w", cb.cfg.Name, err)
	}
	cb.cached = s
	return nil
}

// ErrOpen is returned by Call when the circuit is open and recovery hasn't
// elapsed yet.
var ErrOpen = fmt.Errorf("circuitbreaker: circuit open")

// Call runs fn guarded by the breaker: if the circuit is open and recovery_timeout
// hasn't elapsed since the last failure, fn is never invoked and ErrOpen is
// returned. A half-open trial that fails reopens the circuit immediately.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	cb.mu.Lock()
	state, err := cb.load(ctx)
	if err != nil {
		cb.mu.Unlock()
		return err
	}

	if state.State == enum.CircuitOpen {
		if time.Since(state.LastFailureTime) >= cb.cfg.RecoveryTimeout {
			state.State = enum.CircuitHalfOpen
			if err := cb.save(ctx, state); err != nil {
				cb.mu.Unlock()
				return err
			}
		} else {
			cb.mu.Unlock()
			return ErrOpen
		}
	}
	cb.mu.Unlock()

	callErr := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if callErr != nil {
		return cb.onFailure(ctx, callErr)
	}
	return cb.onSuccess(ctx)
}

func (cb *CircuitBreaker) onSuccess(ctx context.Context) error {
	state, err := cb.load(ctx)
	if err != nil {
		return err
	}
	state.State = enum.CircuitClosed
	state.FailureCount = 0
	return cb.save(ctx, state)
}

func (cb *CircuitBreaker) onFailure(ctx context.Context, callErr error) error {
	state, err := cb.load(ctx)
	if err != nil {
		return callErr
	}
	state.FailureCount++
	state.LastFailureTime = time.Now()
	if state.FailureCount >= cb.cfg.FailureThreshold || state.State == enum.CircuitHalfOpen {
		state.State = enum.CircuitOpen
	}
	if saveErr := cb.save(ctx, state); saveErr != nil {
		return fmt.Errorf("%w (and failed to persist circuit state: %v)", callErr, saveErr)
	}
	return callErr
}

// State returns the breaker's current persisted state, for diagnostics and tests.
func (cb *CircuitBreaker) State(ctx context.Context) (enum.CircuitState, error) {
	s, err := cb.load(ctx)
	if err != nil {
		return "", err
	}
	return s.State, nil
}

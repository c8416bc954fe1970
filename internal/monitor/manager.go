package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/volaticloud/agentcore/internal/etcd"
)

// Manager owns the etcd-backed instance registry and the consistent-hash
// coordinator built on top of it, giving callers (internal/runs reaping
// crashed-instance runs, internal/reconcile sharding its sweep) a single
// handle to both without wiring etcd themselves.
type Manager struct {
	etcdClient *etcd.Client

	registry    *Registry
	coordinator *Coordinator

	instanceID string
	enabled    bool
}

// Config holds configuration for the monitor manager.
type Config struct {
	// EtcdEndpoints is the list of etcd server endpoints.
	// If empty, etcd integration is disabled (single instance mode).
	EtcdEndpoints []string

	// InstanceID is a unique identifier for this instance.
	// If empty, one will be generated.
	InstanceID string

	// HeartbeatInterval is how often to send heartbeats to etcd.
	// Default: 10s
	HeartbeatInterval time.Duration

	// LeaseTTL is the TTL for etcd leases in seconds.
	// Default: 15s
	LeaseTTL int64
}

// NewManager creates a new monitor manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = GenerateInstanceID()
	}

	m := &Manager{
		instanceID: cfg.InstanceID,
		enabled:    len(cfg.EtcdEndpoints) > 0,
	}

	if m.enabled {
		etcdClient, err := etcd.NewClient(etcd.Config{
			Endpoints: cfg.EtcdEndpoints,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create etcd client: %w", err)
		}
		m.etcdClient = etcdClient

		registry, err := NewRegistry(etcdClient, cfg.InstanceID)
		if err != nil {
			etcdClient.Close()
			return nil, fmt.Errorf("failed to create registry: %w", err)
		}

		if cfg.HeartbeatInterval > 0 {
			registry.heartbeatInterval = cfg.HeartbeatInterval
		}
		if cfg.LeaseTTL > 0 {
			registry.leaseTTL = cfg.LeaseTTL
		}

		m.registry = registry
		m.coordinator = NewCoordinator(registry)
	} else {
		log.Println("etcd not configured - running in single-instance mode")
		m.coordinator = &Coordinator{
			instanceID: cfg.InstanceID,
			instances:  []string{cfg.InstanceID},
		}
	}

	return m, nil
}

// Start registers this instance and begins the heartbeat/coordination
// loops. No-op in single-instance mode.
func (m *Manager) Start(ctx context.Context) error {
	if !m.enabled {
		return nil
	}

	log.Printf("Starting monitor manager (instance: %s, distributed: %v)", m.instanceID, m.enabled)

	if err := m.registry.Start(ctx); err != nil {
		return fmt.Errorf("failed to start registry: %w", err)
	}

	if err := m.coordinator.Start(ctx); err != nil {
		m.registry.Stop(ctx)
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	// Give the initial instance list time to populate before callers start
	// asking ShouldOwn questions.
	time.Sleep(1 * time.Second)

	log.Println("Monitor manager started successfully")
	return nil
}

// Stop deregisters this instance and tears down the etcd client.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.enabled {
		return nil
	}

	log.Println("Stopping monitor manager...")

	if err := m.registry.Stop(ctx); err != nil {
		log.Printf("Error stopping registry: %v", err)
	}

	if err := m.etcdClient.Close(); err != nil {
		log.Printf("Error closing etcd client: %v", err)
	}

	log.Println("Monitor manager stopped")
	return nil
}

// GetInstanceID returns the current instance ID.
func (m *Manager) GetInstanceID() string {
	return m.instanceID
}

// IsDistributed returns true if running in distributed mode (etcd enabled).
func (m *Manager) IsDistributed() bool {
	return m.enabled
}

// GetInstanceCount returns the current number of instances.
func (m *Manager) GetInstanceCount() int {
	if m.coordinator != nil {
		return m.coordinator.GetInstanceCount()
	}
	return 1
}

// EtcdClient returns the shared etcd client backing this manager, for
// callers that need the same connection for unrelated shared state (e.g.
// internal/circuitbreaker). Nil in single-instance mode.
func (m *Manager) EtcdClient() *etcd.Client {
	return m.etcdClient
}

// GetRegistry returns the instance registry (nil if not in distributed mode).
func (m *Manager) GetRegistry() *Registry {
	return m.registry
}

// GetCoordinator returns the key-ownership coordinator.
func (m *Manager) GetCoordinator() *Coordinator {
	return m.coordinator
}

package monitor

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/volaticloud/agentcore/internal/logger"
)

// Coordinator shards ownership of arbitrary keys (run IDs, reconciliation
// partitions) across the currently-live instance set using consistent
// hashing, the way the teacher's bot assignment coordinator sharded bot
// monitoring across instances.
type Coordinator struct {
	registry *Registry

	instanceID string

	mu        sync.RWMutex
	instances []string

	assignmentChangeChan chan struct{}
}

// NewCoordinator creates a coordinator seeded with just this instance, until
// Start populates the live list from etcd.
func NewCoordinator(registry *Registry) *Coordinator {
	return &Coordinator{
		registry:             registry,
		instanceID:           registry.GetInstanceID(),
		instances:            []string{registry.GetInstanceID()},
		assignmentChangeChan: make(chan struct{}, 1),
	}
}

// Start begins watching for instance changes and updating assignments.
func (c *Coordinator) Start(ctx context.Context) error {
	instancesChan, err := c.registry.WatchInstances(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch instances: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case instanceIDs, ok := <-instancesChan:
				if !ok {
					return
				}
				c.updateInstances(instanceIDs)
			}
		}
	}()

	return nil
}

// ShouldOwn reports whether this instance owns key under the current
// consistent-hash assignment. With one live instance every key is owned
// locally; with none, no key is.
func (c *Coordinator) ShouldOwn(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.instances) == 0 {
		return false
	}
	if len(c.instances) == 1 {
		return true
	}

	return c.getAssignedInstance(key) == c.instanceID
}

// AssignedKeys filters allKeys down to the subset this instance owns.
func (c *Coordinator) AssignedKeys(allKeys []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.instances) == 1 {
		return allKeys
	}

	assigned := make([]string, 0, len(allKeys))
	for _, key := range allKeys {
		if c.getAssignedInstance(key) == c.instanceID {
			assigned = append(assigned, key)
		}
	}
	return assigned
}

// AssignmentChanges signals whenever the live instance set changes, so a
// caller (e.g. a reaping loop) can recheck ownership immediately instead of
// waiting for its next tick.
func (c *Coordinator) AssignmentChanges() <-chan struct{} {
	return c.assignmentChangeChan
}

// GetInstanceCount returns the current number of registered instances.
func (c *Coordinator) GetInstanceCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instances)
}

// LiveInstances returns the current sorted instance ID list.
func (c *Coordinator) LiveInstances() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.instances))
	copy(out, c.instances)
	return out
}

func (c *Coordinator) updateInstances(instanceIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sortedInstances := make([]string, len(instanceIDs))
	copy(sortedInstances, instanceIDs)
	sort.Strings(sortedInstances)

	if !instancesEqual(c.instances, sortedInstances) {
		oldCount := len(c.instances)
		c.instances = sortedInstances

		log := logger.NewProductionLogger()
		defer func() { _ = log.Sync() }()
		log.Info("instance list updated",
			zap.Int("instance_count", len(c.instances)),
			zap.Int("previous_count", oldCount),
			zap.Strings("instances", c.instances))

		select {
		case c.assignmentChangeChan <- struct{}{}:
		default:
		}
	}
}

// getAssignedInstance returns the instance ID that owns key. Must be called
// with the read lock held.
func (c *Coordinator) getAssignedInstance(key string) string {
	if len(c.instances) == 0 {
		return ""
	}

	h := fnv.New64a()
	h.Write([]byte(key))
	hash := h.Sum64()

	index := int(hash % uint64(len(c.instances)))
	return c.instances[index]
}

// AssignmentStats returns the key count each instance would own for allKeys,
// useful for an admin endpoint verifying sharding is balanced.
func (c *Coordinator) AssignmentStats(allKeys []string) map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make(map[string]int)
	for _, instanceID := range c.instances {
		stats[instanceID] = 0
	}

	for _, key := range allKeys {
		stats[c.getAssignedInstance(key)]++
	}

	return stats
}

func instancesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

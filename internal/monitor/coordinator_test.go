package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsistentHashing(t *testing.T) {
	tests := []struct {
		name          string
		instances     []string
		keys          []string
		expectedDist  map[string]int
		testKey       string
		expectedOwner string
	}{
		{
			name:      "single instance owns all keys",
			instances: []string{"instance-1"},
			keys:      []string{"run-1", "run-2", "run-3"},
			expectedDist: map[string]int{
				"instance-1": 3,
			},
			testKey:       "run-1",
			expectedOwner: "instance-1",
		},
		{
			name:      "two instances split keys",
			instances: []string{"instance-1", "instance-2"},
			keys:      []string{"run-1", "run-2", "run-3", "run-4"},
			testKey:   "run-1",
			// Will be determined by hash
		},
		{
			name:      "three instances assign each key once",
			instances: []string{"instance-1", "instance-2", "instance-3"},
			keys:      []string{"run-1", "run-2", "run-3", "run-4", "run-5", "run-6"},
			// Distribution depends on hash function
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Coordinator{
				instanceID: tt.instances[0],
				instances:  tt.instances,
			}

			if tt.expectedDist != nil {
				stats := c.AssignmentStats(tt.keys)
				for instanceID, expectedCount := range tt.expectedDist {
					assert.Equal(t, expectedCount, stats[instanceID],
						"Instance %s should own %d keys", instanceID, expectedCount)
				}
			}

			if tt.expectedOwner != "" {
				owner := c.getAssignedInstance(tt.testKey)
				assert.Equal(t, tt.expectedOwner, owner,
					"Key %s should be assigned to %s", tt.testKey, tt.expectedOwner)
			}

			assignedKeys := c.AssignedKeys(tt.keys)
			assert.NotNil(t, assignedKeys)

			// Verify every key is assigned exactly once across all instances.
			allAssigned := make(map[string]bool)
			for _, instanceID := range tt.instances {
				c.instanceID = instanceID
				assigned := c.AssignedKeys(tt.keys)
				for _, key := range assigned {
					assert.False(t, allAssigned[key],
						"Key %s should not be assigned to multiple instances", key)
					allAssigned[key] = true
				}
			}

			assert.Equal(t, len(tt.keys), len(allAssigned),
				"All keys should be assigned to exactly one instance")
		})
	}
}

func TestCoordinatorShouldOwn(t *testing.T) {
	tests := []struct {
		name       string
		instances  []string
		instanceID string
		key        string
		want       bool
	}{
		{
			name:       "single instance owns everything",
			instances:  []string{"instance-1"},
			instanceID: "instance-1",
			key:        "run-1",
			want:       true,
		},
		{
			name:       "no instances returns false",
			instances:  []string{},
			instanceID: "instance-1",
			key:        "run-1",
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Coordinator{
				instanceID: tt.instanceID,
				instances:  tt.instances,
			}

			got := c.ShouldOwn(tt.key)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetInstanceCount(t *testing.T) {
	c := &Coordinator{
		instanceID: "instance-1",
		instances:  []string{"instance-1", "instance-2", "instance-3"},
	}

	count := c.GetInstanceCount()
	assert.Equal(t, 3, count)
}

func TestInstancesEqual(t *testing.T) {
	tests := []struct {
		name string
		a    []string
		b    []string
		want bool
	}{
		{
			name: "equal slices",
			a:    []string{"a", "b", "c"},
			b:    []string{"a", "b", "c"},
			want: true,
		},
		{
			name: "different lengths",
			a:    []string{"a", "b"},
			b:    []string{"a", "b", "c"},
			want: false,
		},
		{
			name: "different values",
			a:    []string{"a", "b", "c"},
			b:    []string{"a", "x", "c"},
			want: false,
		},
		{
			name: "empty slices",
			a:    []string{},
			b:    []string{},
			want: true,
		},
		{
			name: "nil vs empty",
			a:    nil,
			b:    []string{},
			want: true, // Both have length 0, so they're considered equal
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := instancesEqual(tt.a, tt.b)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHashDistribution(t *testing.T) {
	// Test that the hash function distributes keys reasonably evenly.
	instances := []string{"instance-1", "instance-2", "instance-3"}
	c := &Coordinator{
		instanceID: instances[0],
		instances:  instances,
	}

	keys := make([]string, 300)
	for i := 0; i < 300; i++ {
		keys[i] = string(rune('a'+(i%26))) + string(rune('a'+(i/26)%26)) + "-run-id"
	}

	stats := c.AssignmentStats(keys)

	// Each instance should get roughly 100 keys (300 / 3). Allow 30% variance.
	for instanceID, count := range stats {
		assert.Greater(t, count, 70, "Instance %s should own at least 70 keys", instanceID)
		assert.Less(t, count, 130, "Instance %s should own at most 130 keys", instanceID)
	}

	total := 0
	for _, count := range stats {
		total += count
	}
	assert.Equal(t, 300, total, "Total assigned keys should equal input keys")
}

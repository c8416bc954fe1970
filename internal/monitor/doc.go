/*
Package monitor provides distributed instance coordination: each server
process registers itself in etcd with a heartbeat lease, and the Coordinator
consistently hashes run IDs across the currently-live instance set so that
run-ownership reaping (internal/runs reclaiming runs abandoned by a crashed
instance) and the reconciliation sweep (internal/reconcile) can be sharded
across however many instances are actually running, without a central
scheduler.

	┌─────────────────────────────────────────────┐
	│                  Manager                     │
	│         ┌─────────────┐                      │
	│         │ Coordinator │ consistent hash       │
	│         └──────┬──────┘                      │
	│                │                              │
	│         ┌──────▼──────┐                       │
	│         │  Registry   │ heartbeat lease        │
	│         └──────┬──────┘                       │
	└────────────────┼──────────────────────────────┘
	                 │
	           ┌──────▼──────┐
	           │    etcd     │
	           └─────────────┘

Registry registers this instance's ID, hostname, and start time under
/agentcore/instances/<id> with a renewed lease; the key disappears automatically if the
instance crashes without deregistering, which is what lets reaping work: an
owned resource (a run, a reconciliation shard) whose owning instance ID no
longer appears in Registry.ListInstances is abandoned.

Coordinator watches the live instance list and answers ShouldOwn(key) with
consistent hashing (hash(key) % len(instances) == index of this instance),
the same sharding scheme regardless of how many instances are up: in
single-instance mode ShouldOwn always returns true.

Single-instance mode (no etcd endpoints configured) is the default: Manager
runs a degenerate Coordinator that always owns everything, so nothing needs
separate single/distributed code paths upstream.
*/
package monitor

// Package cachegraph is the shared cache layer of the delivery backend.
//
// Readers go through Cache.Get and Cache.Set; writers call
// Cache.InvalidateCrossEntity with the business operation they performed, and
// every cached view that embeds the changed data is swept. Processes that must
// not run the same work twice take a lock with Cache.AcquireLock.
//
// Components:
//   - Provider: Redis-compatible byte store (see provider/redis).
//   - Codec: serializes values; the codec id is stored with every entry.
//   - ttl.Policy: per entity type lifetimes with multiplier and jitter.
//   - invalidation.Engine: pattern sweeps and the cross-entity rule table.
//   - lock.Manager: SET NX PX locks with fenced release.
//   - metrics.Collector: in-memory counters behind Stats.
//
// Keys:
//
//	<entity>:<operation>:<tenant>:<segment>...  - cache entries (see package entity)
//	lock:<resource>                             - locks
//
// Caching is an optimization, never a source of truth: Get reports a miss on
// any failure, Set reports false, and invalidation returns the number of keys
// it managed to delete.
package cachegraph

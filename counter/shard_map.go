/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	"go.uber.org/atomic"
)

// DefaultShardCount is the shard count assumed for a resource that has no
// persisted shard map entry yet. First use of a resource therefore needs no
// store write: it simply starts out unsharded.
const DefaultShardCount = 1

type shardMapSnapshot struct {
	counts      map[string]int
	refreshedAt time.Time
}

// shardMap caches the persisted per-resource shard counts. Readers load an
// immutable snapshot through an atomic pointer, so shard selection never
// takes a lock and never blocks on a refresh.
type shardMap struct {
	store   Store
	logger  log.FieldLogger
	metrics MetricsCollector
	snap    atomic.Pointer[shardMapSnapshot]
}

func newShardMap(store Store, logger log.FieldLogger, mc MetricsCollector) *shardMap {
	return &shardMap{store: store, logger: logger, metrics: mc}
}

// count returns the cached shard count for the resource, or DefaultShardCount
// if the resource has no entry (including before the first refresh).
func (m *shardMap) count(resource string) int {
	snap := m.snap.Load()
	if snap == nil {
		return DefaultShardCount
	}
	if n, ok := snap.counts[resource]; ok && n >= 1 {
		return n
	}
	return DefaultShardCount
}

// refresh replaces the snapshot with the persisted shard counts. On failure
// the stale snapshot is kept and the error is reported to the caller; readers
// are never blocked.
func (m *shardMap) refresh(ctx context.Context) error {
	kvs, err := m.store.ScanPrefix(ctx, shardMapPrefix)
	if err != nil {
		m.metrics.IncShardMapRefreshFailures()
		m.logger.Warn("shard map refresh failed, keeping stale snapshot", log.Error(err))
		return fmt.Errorf("scan shard map: %w", NewStoreUnavailableError(err))
	}
	counts := make(map[string]int, len(kvs))
	for _, kv := range kvs {
		resource, ok := resourceFromShardMapKey(kv.Key)
		if !ok || kv.Value < 1 {
			continue
		}
		counts[resource] = int(kv.Value)
	}
	m.snap.Store(&shardMapSnapshot{counts: counts, refreshedAt: time.Now()})
	return nil
}

// publish updates a single resource's entry in the snapshot, copy-on-write.
// Used right after a shard count adjustment so the writing process does not
// have to wait for its own periodic refresh.
func (m *shardMap) publish(resource string, count int) {
	if count < 1 {
		return
	}
	for {
		old := m.snap.Load()
		var counts map[string]int
		var refreshedAt time.Time
		if old != nil {
			counts = make(map[string]int, len(old.counts)+1)
			for k, v := range old.counts {
				counts[k] = v
			}
			refreshedAt = old.refreshedAt
		} else {
			counts = make(map[string]int, 1)
		}
		counts[resource] = count
		if m.snap.CompareAndSwap(old, &shardMapSnapshot{counts: counts, refreshedAt: refreshedAt}) {
			return
		}
	}
}

// resources returns the resource ids present in the current snapshot.
func (m *shardMap) resources() []string {
	snap := m.snap.Load()
	if snap == nil {
		return nil
	}
	res := make([]string, 0, len(snap.counts))
	for r := range snap.counts {
		res = append(res, r)
	}
	return res
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counter

import (
	"context"
	"time"

	"github.com/acronis/go-appkit/log"
)

// gcWorker removes persisted shards that hold value 0 and belong to
// resources with no activity within the idle window. This is pure storage
// cleanup: an absent shard reads as 0, so Total is unaffected, and a shard
// with a non-zero value is never touched.
type gcWorker struct {
	counter    *ShardedCounter
	idleWindow time.Duration
	logger     log.FieldLogger
	now        func() time.Time
}

func newGCWorker(c *ShardedCounter, idleWindow time.Duration, logger log.FieldLogger) *gcWorker {
	return &gcWorker{counter: c, idleWindow: idleWindow, logger: logger, now: time.Now}
}

// Run performs one GC pass over all resources this process knows about.
func (w *gcWorker) Run(ctx context.Context) error {
	for _, resource := range w.counter.activity.list() {
		if ctx.Err() != nil {
			return nil
		}
		touched, ok := w.counter.activity.lastTouched(resource)
		if ok && w.now().Sub(touched) < w.idleWindow {
			continue
		}
		if err := w.collectResource(ctx, resource); err != nil {
			w.logger.Warn("shard gc pass skipped", log.String("resource", resource), log.Error(err))
		}
	}
	return nil
}

func (w *gcWorker) collectResource(ctx context.Context, resource string) error {
	kvs, err := w.counter.store.ScanPrefix(ctx, resourceShardPrefix(resource))
	if err != nil {
		return NewStoreUnavailableError(err)
	}
	reclaimed := 0
	remaining := 0
	for _, kv := range kvs {
		if kv.Value != 0 {
			remaining++
			continue
		}
		// Re-read right before removal: another process may have written the
		// shard since the scan. The store has no conditional delete, so a
		// write landing between this read and the Delete is still lost; the
		// re-read only narrows that window.
		cur, err := w.counter.store.AtomicAdd(ctx, kv.Key, 0)
		if err != nil {
			return NewStoreUnavailableError(err)
		}
		if cur != 0 {
			remaining++
			continue
		}
		if err := w.counter.store.Delete(ctx, kv.Key); err != nil {
			return NewStoreUnavailableError(err)
		}
		reclaimed++
	}
	if reclaimed > 0 {
		w.counter.metrics.AddReclaimedShards(reclaimed)
		w.logger.Info("idle shards reclaimed",
			log.String("resource", resource), log.Int("reclaimed", reclaimed))
	}
	if remaining == 0 {
		// Nothing persisted and nothing recent: stop tracking the resource.
		w.counter.activity.forget(resource)
	}
	return nil
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counter

import (
	"context"
	"testing"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/stretchr/testify/require"
)

func TestGCReclaimsOnlyIdleZeroShards(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	c := newTestCounter(t, store)

	require.NoError(t, c.AdjustShardCount(ctx, "idle", 4))
	for i := 0; i < 3; i++ {
		_, err := c.Increment(ctx, "idle")
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Decrement(ctx, "idle"))
	}
	totalBefore, err := c.Total(ctx, "idle")
	require.NoError(t, err)

	// Leave one non-zero shard in place to prove it survives GC.
	_, err = c.Increment(ctx, "busy-but-idle")
	require.NoError(t, err)

	w := newGCWorker(c, c.cfg.GC.IdleWindow, log.NewDisabledLogger())
	w.now = func() time.Time { return time.Now().Add(c.cfg.GC.IdleWindow + time.Minute) }
	require.NoError(t, w.Run(ctx))

	require.Empty(t, store.snapshot(resourceShardPrefix("idle")), "zero shards of an idle resource must be removed")
	total, err := c.Total(ctx, "idle")
	require.NoError(t, err)
	require.Equal(t, totalBefore, total, "gc must not change the total")

	busyShards := store.snapshot(resourceShardPrefix("busy-but-idle"))
	require.Len(t, busyShards, 1, "non-zero shard must never be reclaimed")
	total, err = c.Total(ctx, "busy-but-idle")
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestGCKeepsShardWrittenAfterScan(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	c := newTestCounter(t, store)

	_, err := c.Increment(ctx, "idle")
	require.NoError(t, err)
	require.NoError(t, c.Decrement(ctx, "idle"))

	key := shardKey("idle", 0)
	// A racing writer lands on the shard after the scan observed it as zero;
	// the pre-delete re-read must notice the new value and keep the shard.
	store.beforeAtomicAdd = func(k string, delta int64) {
		if k != key || delta != 0 {
			return
		}
		store.beforeAtomicAdd = nil
		_, err := store.AtomicAdd(ctx, k, 1)
		require.NoError(t, err)
	}

	w := newGCWorker(c, c.cfg.GC.IdleWindow, log.NewDisabledLogger())
	w.now = func() time.Time { return time.Now().Add(c.cfg.GC.IdleWindow + time.Minute) }
	require.NoError(t, w.Run(ctx))

	require.Equal(t, map[string]int64{key: 1}, store.snapshot(resourceShardPrefix("idle")),
		"shard written between scan and delete must survive gc")
	total, err := c.Total(ctx, "idle")
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestGCSkipsRecentlyTouchedResources(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	c := newTestCounter(t, store)

	_, err := c.Increment(ctx, "active")
	require.NoError(t, err)
	require.NoError(t, c.Decrement(ctx, "active"))

	w := newGCWorker(c, c.cfg.GC.IdleWindow, log.NewDisabledLogger())
	require.NoError(t, w.Run(ctx))

	require.Len(t, store.snapshot(resourceShardPrefix("active")), 1,
		"shards of a recently touched resource must be kept")
}

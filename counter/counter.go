/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counter

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/service"
)

// ErrUnknownResource is returned when a resource resolves to a shard count
// below 1. The shard map never publishes such a value, so seeing this error
// indicates a bug rather than a recoverable condition.
var ErrUnknownResource = errors.New("resource has no shards")

// ShardWrite describes the outcome of a single shard write.
type ShardWrite struct {
	// ShardCount is the shard count that was used for shard selection.
	ShardCount int

	// NewValue is the written shard's value right after the operation.
	// When the resource has a single shard, this is the exact counter total
	// at the moment of the write.
	NewValue int64
}

// ShardedCounter maintains one logical counter per resource, split into
// shards persisted in a Store. It is safe for concurrent use. Shard values
// are never cached across calls; only the shard count is.
type ShardedCounter struct {
	store    Store
	cfg      Config
	logger   log.FieldLogger
	metrics  MetricsCollector
	shards   *shardMap
	recon    *reconciler
	activity *activityTracker
}

// Opts contains optional parameters for constructing ShardedCounter.
type Opts struct {
	// MetricsCollector collects statistics about counter operations.
	// May be nil, in this case metrics are disabled.
	MetricsCollector MetricsCollector
}

// New creates a new ShardedCounter over the given store.
func New(store Store, cfg *Config, logger log.FieldLogger) *ShardedCounter {
	return NewWithOpts(store, cfg, logger, Opts{})
}

// NewWithOpts creates a new ShardedCounter with
// an ability to specify different optional parameters.
func NewWithOpts(store Store, cfg *Config, logger log.FieldLogger, opts Opts) *ShardedCounter {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	mc := opts.MetricsCollector
	if mc == nil {
		mc = disabledMetrics{}
	}
	c := &ShardedCounter{
		store:    store,
		cfg:      *cfg,
		logger:   logger,
		metrics:  mc,
		shards:   newShardMap(store, logger, mc),
		activity: newActivityTracker(),
	}
	c.recon = newReconciler(c, cfg.Reconcile, logger.With(log.String("worker", "decrement-reconciler")), mc)
	return c
}

// Increment adds one unit to the resource's counter by issuing an atomic +1
// against a uniformly chosen shard. It is not retried here: on a transient
// store failure the caller must treat the unit as not reserved.
func (c *ShardedCounter) Increment(ctx context.Context, resource string) (ShardWrite, error) {
	n, err := c.shardCount(resource)
	if err != nil {
		return ShardWrite{}, err
	}
	newValue, err := c.store.AtomicAdd(ctx, shardKey(resource, rand.Intn(n)), 1)
	if err != nil {
		c.activity.recordIncrementFailure(resource)
		c.metrics.IncIncrementFailures()
		return ShardWrite{}, NewStoreUnavailableError(err)
	}
	c.activity.touch(resource)
	c.metrics.IncIncrements()
	return ShardWrite{ShardCount: n, NewValue: newValue}, nil
}

// Decrement removes one unit from the resource's counter. Unlike Increment,
// a transiently failed decrement is not reported to the caller: it is handed
// to the background reconciler and retried until it lands, because a lost
// decrement leaks capacity permanently.
//
// The shard to decrement is chosen among shards with a positive value, so a
// well-paired increment/decrement sequence never drives a shard negative.
// If no shard is positive (a release without a matching reserve), a random
// shard goes transiently negative; the per-resource sum stays correct.
func (c *ShardedCounter) Decrement(ctx context.Context, resource string) error {
	n, err := c.shardCount(resource)
	if err != nil {
		return err
	}
	if err := c.decrementOnce(ctx, resource, n); err != nil {
		c.metrics.IncDecrementFailures()
		c.logger.Warn("decrement failed, handing over to reconciler",
			log.String("resource", resource), log.Error(err))
		c.recon.enqueue(resource)
		return nil
	}
	c.activity.touch(resource)
	c.metrics.IncDecrements()
	return nil
}

func (c *ShardedCounter) decrementOnce(ctx context.Context, resource string, shardCount int) error {
	kvs, err := c.store.ScanPrefix(ctx, resourceShardPrefix(resource))
	if err != nil {
		return NewStoreUnavailableError(err)
	}
	positive := kvs[:0]
	for _, kv := range kvs {
		if kv.Value > 0 {
			positive = append(positive, kv)
		}
	}
	key := shardKey(resource, rand.Intn(shardCount))
	if len(positive) != 0 {
		key = positive[rand.Intn(len(positive))].Key
	}
	if _, err := c.store.AtomicAdd(ctx, key, -1); err != nil {
		return NewStoreUnavailableError(err)
	}
	return nil
}

// Total reads all shard values of the resource and returns their sum.
// Absent shards count as 0. The result may be momentarily stale relative to
// concurrent writers; each shard is read atomically, but there is no
// cross-shard snapshot.
func (c *ShardedCounter) Total(ctx context.Context, resource string) (int64, error) {
	kvs, err := c.store.ScanPrefix(ctx, resourceShardPrefix(resource))
	if err != nil {
		return 0, NewStoreUnavailableError(err)
	}
	var sum int64
	for _, kv := range kvs {
		sum += kv.Value
	}
	return sum, nil
}

// AdjustShardCount migrates the resource to the target shard count, draining
// values out of shards that fall outside the new shard set. A drained value
// is first added to its destination shard and only then subtracted from the
// source, so a concurrent Total never observes less than the real sum during
// the migration, and the sum is exactly preserved once it completes.
func (c *ShardedCounter) AdjustShardCount(ctx context.Context, resource string, target int) error {
	if target < 1 {
		return fmt.Errorf("target shard count must be at least 1, got %d", target)
	}
	current, err := c.shardCount(resource)
	if err != nil {
		return err
	}
	if target == current {
		return nil
	}

	if target < current {
		if err := c.drainShards(ctx, resource, target); err != nil {
			return err
		}
	}

	if err := c.persistShardCount(ctx, resource, target); err != nil {
		return err
	}
	c.shards.publish(resource, target)
	c.metrics.SetShardCount(resource, target)
	c.logger.Info("resource shard count adjusted", log.String("resource", resource),
		log.Int("from", current), log.Int("to", target))
	return nil
}

func (c *ShardedCounter) drainShards(ctx context.Context, resource string, target int) error {
	kvs, err := c.store.ScanPrefix(ctx, resourceShardPrefix(resource))
	if err != nil {
		return NewStoreUnavailableError(err)
	}
	for _, kv := range kvs {
		idx, ok := shardIndexFromKey(kv.Key, resource)
		if !ok || idx < target {
			continue
		}
		if kv.Value != 0 {
			if _, err := c.store.AtomicAdd(ctx, shardKey(resource, idx%target), kv.Value); err != nil {
				return NewStoreUnavailableError(err)
			}
			newValue, err := c.store.AtomicAdd(ctx, kv.Key, -kv.Value)
			if err != nil {
				return NewStoreUnavailableError(err)
			}
			// A concurrent write may have landed between the scan and the drain;
			// leave the remainder for the next adaptation pass.
			if newValue != 0 {
				continue
			}
		}
		if err := c.store.Delete(ctx, kv.Key); err != nil {
			return NewStoreUnavailableError(err)
		}
	}
	return nil
}

// persistShardCount records the new count in the store using only AtomicAdd,
// so the Store contract stays at three operations.
func (c *ShardedCounter) persistShardCount(ctx context.Context, resource string, target int) error {
	persisted := int64(0)
	kvs, err := c.store.ScanPrefix(ctx, shardMapKey(resource))
	if err != nil {
		return NewStoreUnavailableError(err)
	}
	for _, kv := range kvs {
		if kv.Key == shardMapKey(resource) {
			persisted = kv.Value
			break
		}
	}
	if delta := int64(target) - persisted; delta != 0 {
		if _, err := c.store.AtomicAdd(ctx, shardMapKey(resource), delta); err != nil {
			return NewStoreUnavailableError(err)
		}
	}
	return nil
}

// ShardCount returns the currently effective shard count for the resource.
func (c *ShardedCounter) ShardCount(resource string) int {
	return c.shards.count(resource)
}

func (c *ShardedCounter) shardCount(resource string) (int, error) {
	n := c.shards.count(resource)
	if n < 1 {
		return 0, ErrUnknownResource
	}
	return n, nil
}

// RefreshShardMap reloads the persisted shard counts into the in-memory
// snapshot. On failure the previous snapshot stays effective.
func (c *ShardedCounter) RefreshShardMap(ctx context.Context) error {
	return c.shards.refresh(ctx)
}

// Workers returns the counter's background loops: shard map refresh, shard
// count adaptation, decrement reconciliation and idle shard GC. The caller
// is responsible for running them, typically via service.NewWorkerUnit
// (see admission.NewUnit).
func (c *ShardedCounter) Workers() []service.Worker {
	return []service.Worker{
		service.NewPeriodicWorker(
			service.WorkerFunc(c.RefreshShardMap),
			c.cfg.RefreshInterval,
			c.logger.With(log.String("worker", "shard-map-refresh")),
		),
		service.NewPeriodicWorker(
			newAdaptationWorker(c, c.cfg.Adaptation, c.cfg.MaxShards,
				c.logger.With(log.String("worker", "shard-count-adaptation"))),
			c.cfg.Adaptation.SampleWindow,
			c.logger.With(log.String("worker", "shard-count-adaptation")),
		),
		service.NewPeriodicWorker(
			newGCWorker(c, c.cfg.GC.IdleWindow, c.logger.With(log.String("worker", "shard-gc"))),
			c.cfg.GC.Interval,
			c.logger.With(log.String("worker", "shard-gc")),
		),
		c.recon,
	}
}

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

// nextShardCount is the pure adaptation policy. It grows the shard count
// (doubling, capped at maxShards) when the increment failure rate over the
// sample window exceeds the grow threshold, and shrinks it (halving, floored
// at 1) when the resource's total usage has stayed far below the shard count
// for at least the sustain window. Otherwise the count is kept as is.
func nextShardCount(cfg *AdaptationConfig, maxShards int, current int, failureRate float64, total int64, lowFor time.Duration) int {
	if failureRate > cfg.GrowFailureRateThreshold && current < maxShards {
		next := current * 2
		if next > maxShards {
			next = maxShards
		}
		return next
	}
	if current > 1 && isUnderOccupied(cfg, current, total) && lowFor >= cfg.ShrinkSustainWindow {
		return current / 2
	}
	return current
}

func isUnderOccupied(cfg *AdaptationConfig, current int, total int64) bool {
	return total*int64(cfg.ShrinkOccupancyDivisor) <= int64(current)
}

// adaptationWorker periodically re-evaluates the shard count of every
// resource this process knows about. Growth reacts to write contention
// (observed as increment store failures); shrinkage bounds the aggregation
// read cost, which is linear in the shard count.
type adaptationWorker struct {
	counter   *ShardedCounter
	cfg       AdaptationConfig
	maxShards int
	logger    log.FieldLogger

	prevFailures map[string]int64
	lowSince     map[string]time.Time
	now          func() time.Time
}

func newAdaptationWorker(c *ShardedCounter, cfg AdaptationConfig, maxShards int, logger log.FieldLogger) *adaptationWorker {
	return &adaptationWorker{
		counter:      c,
		cfg:          cfg,
		maxShards:    maxShards,
		logger:       logger,
		prevFailures: make(map[string]int64),
		lowSince:     make(map[string]time.Time),
		now:          time.Now,
	}
}

// Run performs one adaptation pass. It is mounted as a service.PeriodicWorker
// with the sample window as the interval.
func (w *adaptationWorker) Run(ctx context.Context) error {
	for _, resource := range w.resources() {
		if err := w.adaptResource(ctx, resource); err != nil {
			// Transient; the resource is revisited on the next pass.
			w.logger.Warn("shard count adaptation skipped",
				log.String("resource", resource), log.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

func (w *adaptationWorker) adaptResource(ctx context.Context, resource string) error {
	current := w.counter.ShardCount(resource)

	failures := w.counter.activity.incrementFailures(resource)
	delta := failures - w.prevFailures[resource]
	w.prevFailures[resource] = failures
	failureRate := float64(delta) / w.cfg.SampleWindow.Seconds()

	total, err := w.counter.Total(ctx, resource)
	if err != nil {
		return err
	}

	now := w.now()
	lowFor := time.Duration(0)
	if isUnderOccupied(&w.cfg, current, total) {
		since, ok := w.lowSince[resource]
		if !ok {
			since = now
			w.lowSince[resource] = since
		}
		lowFor = now.Sub(since)
	} else {
		delete(w.lowSince, resource)
	}

	target := nextShardCount(&w.cfg, w.maxShards, current, failureRate, total, lowFor)
	if target == current {
		return nil
	}
	delete(w.lowSince, resource)
	return w.counter.AdjustShardCount(ctx, resource, target)
}

func (w *adaptationWorker) resources() []string {
	seen := make(map[string]struct{})
	var res []string
	for _, r := range w.counter.shards.resources() {
		if _, ok := seen[r]; !ok {
			seen[r] = struct{}{}
			res = append(res, r)
		}
	}
	for _, r := range w.counter.activity.list() {
		if _, ok := seen[r]; !ok {
			seen[r] = struct{}{}
			res = append(res, r)
		}
	}
	return res
}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"

	"github.com/acronis/go-appkit/log"

	"github.com/rohankumardubey/styx-spotify/counter"
)

// Verdict is the outcome of an admission check. Callers must not start
// irreversible side effects before receiving it: a reservation may be granted
// and revoked within a single TryAcquire call.
type Verdict int

const (
	// Denied means no capacity was reserved.
	Denied Verdict = iota

	// Granted means one unit of capacity was reserved and must eventually be
	// matched by exactly one Release.
	Granted
)

// String implements fmt.Stringer.
func (v Verdict) String() string {
	if v == Granted {
		return "granted"
	}
	return "denied"
}

const (
	denyReasonLimit       = "limit_reached"
	denyReasonOvershoot   = "overshoot_corrected"
	denyReasonStoreError  = "store_error"
	denyReasonStaleConfig = "stale_config"
)

// Opts contains optional parameters for constructing Controller and LimitCache.
type Opts struct {
	// MetricsCollector collects statistics about admission decisions.
	// May be nil, in this case metrics are disabled.
	MetricsCollector MetricsCollector
}

// Controller grants and releases capacity reservations against per-resource
// concurrency limits. It is safe for concurrent use; correctness across
// scheduler instances relies on the counter's per-shard atomicity, not on any
// in-process lock.
type Controller struct {
	counter *counter.ShardedCounter
	limits  *LimitCache
	logger  log.FieldLogger
	metrics MetricsCollector
}

// NewController creates a new Controller.
func NewController(cnt *counter.ShardedCounter, limits *LimitCache, logger log.FieldLogger) *Controller {
	return NewControllerWithOpts(cnt, limits, logger, Opts{})
}

// NewControllerWithOpts creates a new Controller with
// an ability to specify different optional parameters.
func NewControllerWithOpts(cnt *counter.ShardedCounter, limits *LimitCache, logger log.FieldLogger, opts Opts) *Controller {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	mc := opts.MetricsCollector
	if mc == nil {
		mc = disabledMetrics{}
	}
	return &Controller{counter: cnt, limits: limits, logger: logger, metrics: mc}
}

// TryAcquire attempts to reserve one unit of capacity for the resource.
// It never returns an error: an admission check that cannot determine the
// current usage fails closed and reports Denied.
//
// The check is optimistic. The usage read and the increment are not atomic
// together, so racing callers may overshoot the limit by at most the number
// of callers inside the read-write window; the re-check after the increment
// revokes this caller's reservation if that happened.
func (c *Controller) TryAcquire(ctx context.Context, resource string) Verdict {
	limit, usable := c.limits.Limit(resource)
	if !usable {
		return c.deny(resource, denyReasonStaleConfig)
	}
	if limit == 0 {
		return c.deny(resource, denyReasonLimit)
	}
	unbounded := limit < 0

	total, err := c.counter.Total(ctx, resource)
	if err != nil {
		c.logger.Warn("usage read failed, denying admission",
			log.String("resource", resource), log.Error(err))
		return c.deny(resource, denyReasonStoreError)
	}
	if !unbounded && total >= limit {
		return c.deny(resource, denyReasonLimit)
	}

	write, err := c.counter.Increment(ctx, resource)
	if err != nil {
		return c.deny(resource, denyReasonStoreError)
	}
	if unbounded {
		c.metrics.IncGranted()
		return Granted
	}

	// The self-correction below must finish even if the caller is being
	// cancelled, otherwise an abandoned provisional reservation would leak.
	verifyCtx := context.Background()

	total, err = c.totalAfterWrite(verifyCtx, resource, write)
	if err != nil {
		// Cannot prove the reservation fits; revoke it and fail closed.
		c.revoke(verifyCtx, resource)
		return c.deny(resource, denyReasonStoreError)
	}
	if total > limit {
		c.revoke(verifyCtx, resource)
		return c.deny(resource, denyReasonOvershoot)
	}
	c.metrics.IncGranted()
	return Granted
}

// totalAfterWrite re-reads the resource usage after this caller's increment.
// With a single shard the atomic write already reported the exact total at
// its linearization point, so no extra read is needed and racing callers over
// the last slot resolve deterministically.
func (c *Controller) totalAfterWrite(ctx context.Context, resource string, write counter.ShardWrite) (int64, error) {
	if write.ShardCount == 1 {
		return write.NewValue, nil
	}
	return c.counter.Total(ctx, resource)
}

func (c *Controller) revoke(ctx context.Context, resource string) {
	// Decrement absorbs transient failures into the reconciliation loop.
	_ = c.counter.Decrement(ctx, resource)
}

func (c *Controller) deny(resource string, reason string) Verdict {
	c.metrics.IncDenied(reason)
	c.logger.Debug("admission denied", log.String("resource", resource), log.String("reason", reason))
	return Denied
}

// Release returns one previously granted unit of capacity. It always appears
// to succeed: a transiently failed decrement is retried in the background
// until it lands. Releasing exactly once per granted reservation is the
// caller's contract; an unmatched release drives a shard transiently
// negative and is corrected by subsequent increments.
func (c *Controller) Release(ctx context.Context, resource string) {
	_ = c.counter.Decrement(ctx, resource)
}

// CurrentUsage reports the resource's aggregated usage for status surfaces.
// The value may be momentarily stale relative to concurrent writers.
func (c *Controller) CurrentUsage(ctx context.Context, resource string) (int64, error) {
	return c.counter.Total(ctx, resource)
}

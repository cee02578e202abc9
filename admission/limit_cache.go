/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/service"
	"go.uber.org/atomic"
)

// LimitUnbounded is the sentinel limit for resources with no concurrency
// bound. Any negative configured limit is treated the same way.
const LimitUnbounded int64 = -1

// LimitSource is the configuration collaborator the limit cache polls.
type LimitSource interface {
	// LoadLimits returns the configured concurrency limit per resource id.
	LoadLimits(ctx context.Context) (map[string]int64, error)
}

// LimitSourceFunc is an adapter to allow the use of ordinary functions as LimitSource.
type LimitSourceFunc func(ctx context.Context) (map[string]int64, error)

// LoadLimits implements LimitSource.
func (f LimitSourceFunc) LoadLimits(ctx context.Context) (map[string]int64, error) {
	return f(ctx)
}

type limitSnapshot struct {
	limits    map[string]int64
	fetchedAt time.Time
}

// LimitCache caches the configured per-resource limits, refreshed
// periodically from a LimitSource. Reads load an immutable snapshot through
// an atomic pointer and never block on a refresh. A failed refresh keeps the
// stale snapshot; once the snapshot is older than the configured staleness
// ceiling, limits are reported unusable and admission fails closed.
type LimitCache struct {
	source       LimitSource
	refreshEvery time.Duration
	maxStaleness time.Duration
	logger       log.FieldLogger
	metrics      MetricsCollector
	snap         atomic.Pointer[limitSnapshot]
	now          func() time.Time
}

// NewLimitCache creates a new LimitCache polling the given source.
func NewLimitCache(source LimitSource, cfg *Config, logger log.FieldLogger) *LimitCache {
	return NewLimitCacheWithOpts(source, cfg, logger, Opts{})
}

// NewLimitCacheWithOpts creates a new LimitCache with
// an ability to specify different optional parameters.
func NewLimitCacheWithOpts(source LimitSource, cfg *Config, logger log.FieldLogger, opts Opts) *LimitCache {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	mc := opts.MetricsCollector
	if mc == nil {
		mc = disabledMetrics{}
	}
	return &LimitCache{
		source:       source,
		refreshEvery: cfg.RefreshInterval,
		maxStaleness: cfg.MaxStaleness,
		logger:       logger,
		metrics:      mc,
		now:          time.Now,
	}
}

// Limit returns the configured limit for the resource and whether the cached
// configuration is usable. Before the first successful load every resource is
// fully closed (limit 0, deny-by-default). Unknown resources are closed too.
// usable is false only when the staleness ceiling has been exceeded.
func (c *LimitCache) Limit(resource string) (limit int64, usable bool) {
	snap := c.snap.Load()
	if snap == nil {
		return 0, true
	}
	if c.maxStaleness > 0 && c.now().Sub(snap.fetchedAt) > c.maxStaleness {
		return 0, false
	}
	l, ok := snap.limits[resource]
	if !ok {
		return 0, true
	}
	return l, true
}

// Refresh polls the source and replaces the snapshot. On failure the stale
// snapshot is kept, a warning is logged and the error is returned; callers of
// Limit are never blocked.
func (c *LimitCache) Refresh(ctx context.Context) error {
	limits, err := c.source.LoadLimits(ctx)
	if err != nil {
		c.metrics.IncLimitRefreshFailures()
		c.logger.Warn("limit refresh failed, keeping stale snapshot", log.Error(err))
		return fmt.Errorf("load limits: %w", err)
	}
	copied := make(map[string]int64, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	c.snap.Store(&limitSnapshot{limits: copied, fetchedAt: c.now()})
	c.metrics.SetKnownResources(len(copied))
	return nil
}

// Worker returns the cache's periodic refresh loop.
func (c *LimitCache) Worker() service.Worker {
	return service.NewPeriodicWorker(service.WorkerFunc(c.Refresh), c.refreshEvery,
		c.logger.With(log.String("worker", "limit-refresh")))
}

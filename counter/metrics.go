/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counter

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector represents a collector of metrics about counter operations
// and its background maintenance.
type MetricsCollector interface {
	// IncIncrements increments the total number of successful increments.
	IncIncrements()

	// IncIncrementFailures increments the total number of increments rejected
	// by the store. This is also the adaptation policy's contention signal.
	IncIncrementFailures()

	// IncDecrements increments the total number of successful decrements.
	IncDecrements()

	// IncDecrementFailures increments the total number of decrements that
	// failed on the caller's path and were handed to the reconciler.
	IncDecrementFailures()

	// SetPendingDecrements sets the current reconciliation queue length.
	SetPendingDecrements(int)

	// IncDecrementRetries increments the total number of reconciliation retry attempts.
	IncDecrementRetries()

	// IncRecoveredDecrements increments the total number of decrements that the
	// reconciler eventually landed.
	IncRecoveredDecrements()

	// IncDroppedDecrements increments the total number of decrements dropped
	// because the reconciliation queue was full.
	IncDroppedDecrements()

	// AddReclaimedShards increments the total number of idle shards removed by GC.
	AddReclaimedShards(int)

	// SetShardCount sets the current shard count of a resource.
	SetShardCount(resource string, count int)

	// IncShardMapRefreshFailures increments the total number of failed shard map refreshes.
	IncShardMapRefreshFailures()
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the sharded counter.
type PrometheusMetrics struct {
	IncrementsTotal           *prometheus.CounterVec
	DecrementsTotal           *prometheus.CounterVec
	PendingDecrements         prometheus.Gauge
	DecrementRetriesTotal     prometheus.Counter
	RecoveredDecrementsTotal  prometheus.Counter
	DroppedDecrementsTotal    prometheus.Counter
	ReclaimedShardsTotal      prometheus.Counter
	ShardCount                *prometheus.GaugeVec
	ShardMapRefreshFailsTotal prometheus.Counter
}

const (
	metricsLabelResult   = "result"
	metricsLabelResource = "resource"

	metricsResultOK     = "ok"
	metricsResultFailed = "failed"
)

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	incrementsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "sharded_counter_increments_total",
			Help:        "Total number of shard increment writes by result.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelResult})
	decrementsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "sharded_counter_decrements_total",
			Help:        "Total number of shard decrement writes by result.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelResult})
	pendingDecrements := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "sharded_counter_pending_decrements",
			Help:        "Current number of decrements waiting for reconciliation.",
			ConstLabels: opts.ConstLabels,
		})
	decrementRetriesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "sharded_counter_decrement_retries_total",
			Help:        "Total number of reconciliation retry attempts.",
			ConstLabels: opts.ConstLabels,
		})
	recoveredDecrementsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "sharded_counter_recovered_decrements_total",
			Help:        "Total number of failed decrements eventually reconciled.",
			ConstLabels: opts.ConstLabels,
		})
	droppedDecrementsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "sharded_counter_dropped_decrements_total",
			Help:        "Total number of decrements dropped due to a full reconciliation queue.",
			ConstLabels: opts.ConstLabels,
		})
	reclaimedShardsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "sharded_counter_reclaimed_shards_total",
			Help:        "Total number of idle zero-valued shards removed by GC.",
			ConstLabels: opts.ConstLabels,
		})
	shardCount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "sharded_counter_shard_count",
			Help:        "Current shard count of a resource.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelResource})
	shardMapRefreshFailsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "sharded_counter_shard_map_refresh_failures_total",
			Help:        "Total number of failed shard map refreshes.",
			ConstLabels: opts.ConstLabels,
		})
	return &PrometheusMetrics{
		IncrementsTotal:           incrementsTotal,
		DecrementsTotal:           decrementsTotal,
		PendingDecrements:         pendingDecrements,
		DecrementRetriesTotal:     decrementRetriesTotal,
		RecoveredDecrementsTotal:  recoveredDecrementsTotal,
		DroppedDecrementsTotal:    droppedDecrementsTotal,
		ReclaimedShardsTotal:      reclaimedShardsTotal,
		ShardCount:                shardCount,
		ShardMapRefreshFailsTotal: shardMapRefreshFailsTotal,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.IncrementsTotal,
		pm.DecrementsTotal,
		pm.PendingDecrements,
		pm.DecrementRetriesTotal,
		pm.RecoveredDecrementsTotal,
		pm.DroppedDecrementsTotal,
		pm.ReclaimedShardsTotal,
		pm.ShardCount,
		pm.ShardMapRefreshFailsTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.IncrementsTotal)
	prometheus.Unregister(pm.DecrementsTotal)
	prometheus.Unregister(pm.PendingDecrements)
	prometheus.Unregister(pm.DecrementRetriesTotal)
	prometheus.Unregister(pm.RecoveredDecrementsTotal)
	prometheus.Unregister(pm.DroppedDecrementsTotal)
	prometheus.Unregister(pm.ReclaimedShardsTotal)
	prometheus.Unregister(pm.ShardCount)
	prometheus.Unregister(pm.ShardMapRefreshFailsTotal)
}

// IncIncrements increments the total number of successful increments.
func (pm *PrometheusMetrics) IncIncrements() {
	pm.IncrementsTotal.With(prometheus.Labels{metricsLabelResult: metricsResultOK}).Inc()
}

// IncIncrementFailures increments the total number of failed increments.
func (pm *PrometheusMetrics) IncIncrementFailures() {
	pm.IncrementsTotal.With(prometheus.Labels{metricsLabelResult: metricsResultFailed}).Inc()
}

// IncDecrements increments the total number of successful decrements.
func (pm *PrometheusMetrics) IncDecrements() {
	pm.DecrementsTotal.With(prometheus.Labels{metricsLabelResult: metricsResultOK}).Inc()
}

// IncDecrementFailures increments the total number of failed decrements.
func (pm *PrometheusMetrics) IncDecrementFailures() {
	pm.DecrementsTotal.With(prometheus.Labels{metricsLabelResult: metricsResultFailed}).Inc()
}

// SetPendingDecrements sets the current reconciliation queue length.
func (pm *PrometheusMetrics) SetPendingDecrements(n int) {
	pm.PendingDecrements.Set(float64(n))
}

// IncDecrementRetries increments the total number of reconciliation retry attempts.
func (pm *PrometheusMetrics) IncDecrementRetries() {
	pm.DecrementRetriesTotal.Inc()
}

// IncRecoveredDecrements increments the total number of reconciled decrements.
func (pm *PrometheusMetrics) IncRecoveredDecrements() {
	pm.RecoveredDecrementsTotal.Inc()
}

// IncDroppedDecrements increments the total number of dropped decrements.
func (pm *PrometheusMetrics) IncDroppedDecrements() {
	pm.DroppedDecrementsTotal.Inc()
}

// AddReclaimedShards increments the total number of reclaimed shards.
func (pm *PrometheusMetrics) AddReclaimedShards(n int) {
	pm.ReclaimedShardsTotal.Add(float64(n))
}

// SetShardCount sets the current shard count of a resource.
func (pm *PrometheusMetrics) SetShardCount(resource string, count int) {
	pm.ShardCount.With(prometheus.Labels{metricsLabelResource: resource}).Set(float64(count))
}

// IncShardMapRefreshFailures increments the total number of failed shard map refreshes.
func (pm *PrometheusMetrics) IncShardMapRefreshFailures() {
	pm.ShardMapRefreshFailsTotal.Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncIncrements()              {}
func (disabledMetrics) IncIncrementFailures()       {}
func (disabledMetrics) IncDecrements()              {}
func (disabledMetrics) IncDecrementFailures()       {}
func (disabledMetrics) SetPendingDecrements(int)    {}
func (disabledMetrics) IncDecrementRetries()        {}
func (disabledMetrics) IncRecoveredDecrements()     {}
func (disabledMetrics) IncDroppedDecrements()       {}
func (disabledMetrics) AddReclaimedShards(int)      {}
func (disabledMetrics) SetShardCount(string, int)   {}
func (disabledMetrics) IncShardMapRefreshFailures() {}

/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector represents a collector of metrics about admission decisions.
type MetricsCollector interface {
	// IncGranted increments the total number of granted reservations.
	IncGranted()

	// IncDenied increments the total number of denied reservations with the given reason.
	IncDenied(reason string)

	// IncLimitRefreshFailures increments the total number of failed limit refreshes.
	IncLimitRefreshFailures()

	// SetKnownResources sets the number of resources in the current limit snapshot.
	SetKnownResources(int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for admission control.
type PrometheusMetrics struct {
	GrantedTotal           prometheus.Counter
	DeniedTotal            *prometheus.CounterVec
	LimitRefreshFailsTotal prometheus.Counter
	KnownResources         prometheus.Gauge
}

const metricsLabelReason = "reason"

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	grantedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_granted_total",
			Help:        "Total number of granted capacity reservations.",
			ConstLabels: opts.ConstLabels,
		})
	deniedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_denied_total",
			Help:        "Total number of denied capacity reservations by reason.",
			ConstLabels: opts.ConstLabels,
		}, []string{metricsLabelReason})
	limitRefreshFailsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_limit_refresh_failures_total",
			Help:        "Total number of failed limit refreshes.",
			ConstLabels: opts.ConstLabels,
		})
	knownResources := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_known_resources",
			Help:        "Number of resources in the current limit snapshot.",
			ConstLabels: opts.ConstLabels,
		})
	return &PrometheusMetrics{
		GrantedTotal:           grantedTotal,
		DeniedTotal:            deniedTotal,
		LimitRefreshFailsTotal: limitRefreshFailsTotal,
		KnownResources:         knownResources,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.GrantedTotal,
		pm.DeniedTotal,
		pm.LimitRefreshFailsTotal,
		pm.KnownResources,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.GrantedTotal)
	prometheus.Unregister(pm.DeniedTotal)
	prometheus.Unregister(pm.LimitRefreshFailsTotal)
	prometheus.Unregister(pm.KnownResources)
}

// IncGranted increments the total number of granted reservations.
func (pm *PrometheusMetrics) IncGranted() {
	pm.GrantedTotal.Inc()
}

// IncDenied increments the total number of denied reservations with the given reason.
func (pm *PrometheusMetrics) IncDenied(reason string) {
	pm.DeniedTotal.With(prometheus.Labels{metricsLabelReason: reason}).Inc()
}

// IncLimitRefreshFailures increments the total number of failed limit refreshes.
func (pm *PrometheusMetrics) IncLimitRefreshFailures() {
	pm.LimitRefreshFailsTotal.Inc()
}

// SetKnownResources sets the number of resources in the current limit snapshot.
func (pm *PrometheusMetrics) SetKnownResources(n int) {
	pm.KnownResources.Set(float64(n))
}

type disabledMetrics struct{}

func (disabledMetrics) IncGranted()              {}
func (disabledMetrics) IncDenied(string)         {}
func (disabledMetrics) IncLimitRefreshFailures() {}
func (disabledMetrics) SetKnownResources(int)    {}

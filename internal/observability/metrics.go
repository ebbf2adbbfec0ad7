package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds the Prometheus instruments. A nil *Metrics is valid and
// records nothing, so engines can run without a registry in tests.
type Metrics struct {
	HTTPRequestDuration *prometheus.HistogramVec

	SnapshotsComputed  *prometheus.CounterVec
	AlertsCreated      *prometheus.CounterVec
	AlertsDeduplicated *prometheus.CounterVec
	AlertInsertErrors  *prometheus.CounterVec

	WorkflowCacheHits   prometheus.Counter
	WorkflowCacheMisses prometheus.Counter

	EmailDeliveries *prometheus.CounterVec
}

// InitMetrics creates and registers all instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vizdots_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "route", "status"}),
		SnapshotsComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vizdots_health_snapshots_computed_total",
			Help: "Health metric snapshots written.",
		}, []string{"window_type", "risk_level"}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vizdots_alerts_created_total",
			Help: "Pattern alerts inserted.",
		}, []string{"alert_type", "severity"}),
		AlertsDeduplicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vizdots_alerts_deduplicated_total",
			Help: "Pattern alert inserts skipped because the alert already existed for the day.",
		}, []string{"alert_type"}),
		AlertInsertErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vizdots_alert_insert_errors_total",
			Help: "Pattern alert inserts that failed.",
		}, []string{"alert_type"}),
		WorkflowCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vizdots_workflow_cache_hits_total",
			Help: "Effective workflow cache hits.",
		}),
		WorkflowCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vizdots_workflow_cache_misses_total",
			Help: "Effective workflow cache misses.",
		}),
		EmailDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vizdots_email_deliveries_total",
			Help: "Alert notification emails by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.HTTPRequestDuration,
		m.SnapshotsComputed,
		m.AlertsCreated,
		m.AlertsDeduplicated,
		m.AlertInsertErrors,
		m.WorkflowCacheHits,
		m.WorkflowCacheMisses,
		m.EmailDeliveries,
	)
	return m
}

func (m *Metrics) SnapshotComputed(windowType, riskLevel string) {
	if m == nil {
		return
	}
	m.SnapshotsComputed.WithLabelValues(windowType, riskLevel).Inc()
}

func (m *Metrics) AlertCreated(alertType, severity string) {
	if m == nil {
		return
	}
	m.AlertsCreated.WithLabelValues(alertType, severity).Inc()
}

func (m *Metrics) AlertDeduplicated(alertType string) {
	if m == nil {
		return
	}
	m.AlertsDeduplicated.WithLabelValues(alertType).Inc()
}

func (m *Metrics) AlertInsertFailed(alertType string) {
	if m == nil {
		return
	}
	m.AlertInsertErrors.WithLabelValues(alertType).Inc()
}

func (m *Metrics) WorkflowCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.WorkflowCacheHits.Inc()
		return
	}
	m.WorkflowCacheMisses.Inc()
}

func (m *Metrics) EmailDelivery(outcome string) {
	if m == nil {
		return
	}
	m.EmailDeliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}

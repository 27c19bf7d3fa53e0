// Package http provides the REST transport adapter for the policy service.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Keywarden.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	PasswordEvaluations *prometheus.CounterVec
	PolicyChecks        *prometheus.CounterVec
	SnapshotSize        prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keywarden",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "keywarden",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		PasswordEvaluations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keywarden",
				Name:      "password_evaluations_total",
				Help:      "Total password evaluations against the enforced policy",
			},
			[]string{"result"}, // result=pass/fail
		),
		PolicyChecks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "keywarden",
				Name:      "policy_checks_total",
				Help:      "Total applies-to-user policy checks",
			},
			[]string{"result"}, // result=applies/exempt
		),
		SnapshotSize: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "keywarden",
				Name:      "policy_snapshot_size",
				Help:      "Number of policies in the current snapshot",
			},
		),
	}
}

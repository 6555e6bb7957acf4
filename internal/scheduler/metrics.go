package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rotationStartedTotal   *prometheus.CounterVec
	rotationCompletedTotal *prometheus.CounterVec
	rotationDuration       *prometheus.HistogramVec
	activeSessions         prometheus.Gauge

	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers the scheduler metrics with the default registry.
// Call once at daemon startup when metrics are enabled; the scheduler
// records nothing until then.
func InitMetrics() {
	metricsOnce.Do(func() {
		rotationStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credops_rotation_started_total",
				Help: "Total number of credential rotations started",
			},
			[]string{"type"},
		)

		rotationCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credops_rotation_completed_total",
				Help: "Total number of credential rotations completed",
			},
			[]string{"type", "status"},
		)

		rotationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credops_rotation_duration_seconds",
				Help:    "Duration of credential rotations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"type"},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "credops_active_sessions",
				Help: "Number of sessions currently holding live credentials",
			},
		)

		metricsRegistered = true
	})
}

func recordRotationStarted(sessionType string) {
	if !metricsRegistered {
		return
	}
	rotationStartedTotal.WithLabelValues(sessionType).Inc()
}

func recordRotationCompleted(sessionType, status string, seconds float64) {
	if !metricsRegistered {
		return
	}
	rotationCompletedTotal.WithLabelValues(sessionType, status).Inc()
	rotationDuration.WithLabelValues(sessionType).Observe(seconds)
}

func recordActiveSessions(n int) {
	if !metricsRegistered {
		return
	}
	activeSessions.Set(float64(n))
}

// IsMetricsRegistered reports whether InitMetrics has run.
func IsMetricsRegistered() bool {
	return metricsRegistered
}

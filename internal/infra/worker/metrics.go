package worker

import (
	"catchup-pipeline/internal/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics provides Prometheus metrics for a pipeline process. It
// embeds the standard ConfigMetrics for configuration monitoring and adds
// cycle-level metrics shared by the timer-driven components (poll cycles,
// monitor ticks, batch rounds).
//
// Embedded metrics (from ConfigMetrics):
//   - pipeline_config_load_timestamp: Unix timestamp of last configuration load
//   - pipeline_config_validation_errors_total: Total validation errors by field
//   - pipeline_config_fallbacks_total: Total fallback operations by field
//   - pipeline_config_fallback_active: 1 if any fallback active, 0 otherwise
//
// Cycle metrics:
//   - pipeline_cycle_runs_total: Total cycles by component and status
//   - pipeline_cycle_duration_seconds: Cycle duration histogram by component
//   - pipeline_cycle_last_success_timestamp: Unix timestamp of last success per component
type WorkerMetrics struct {
	// Embedded configuration metrics
	*config.ConfigMetrics

	// CycleRunsTotal counts cycles per component by status
	// (success/failure).
	CycleRunsTotal *prometheus.CounterVec

	// CycleDurationSeconds measures one cycle's duration per component.
	CycleDurationSeconds *prometheus.HistogramVec

	// CycleLastSuccessTimestamp records when a component last completed a
	// cycle cleanly.
	CycleLastSuccessTimestamp *prometheus.GaugeVec
}

// NewWorkerMetrics creates a WorkerMetrics instance. Metrics are
// auto-registered with the default Prometheus registry via promauto.
func NewWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("pipeline"),

		CycleRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_cycle_runs_total",
			Help: "Total number of component cycles by status (success/failure)",
		}, []string{"component", "status"}),

		CycleDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_cycle_duration_seconds",
			Help:    "Duration of one component cycle in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800}, // 1s to 30m
		}, []string{"component"}),

		CycleLastSuccessTimestamp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_cycle_last_success_timestamp",
			Help: "Unix timestamp of the component's last successful cycle",
		}, []string{"component"}),
	}
}

// MustRegister is a no-op method for API compatibility; metrics are
// auto-registered via promauto when created in NewWorkerMetrics.
func (m *WorkerMetrics) MustRegister() {
	// No-op: metrics are auto-registered via promauto
}

// RecordCycle records one component cycle outcome and duration.
func (m *WorkerMetrics) RecordCycle(component string, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.CycleRunsTotal.WithLabelValues(component, status).Inc()
	m.CycleDurationSeconds.WithLabelValues(component).Observe(seconds)
	if success {
		m.CycleLastSuccessTimestamp.WithLabelValues(component).SetToCurrentTime()
	}
}

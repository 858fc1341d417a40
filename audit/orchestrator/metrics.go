package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsSubsystem = "audit"

	categoryLabel  = "category"
	statusLabel    = "status"
	errorTypeLabel = "error_type"
)

type metrics struct {
	submitted *prometheus.CounterVec
	finished  *prometheus.CounterVec
	running   prometheus.Gauge
	duration  *prometheus.HistogramVec
}

// newMetrics creates the job metrics and registers them with reg when it is not nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: metricsSubsystem,
				Name:      "jobs_submitted_total",
				Help:      "number of accepted audit jobs",
			},
			[]string{categoryLabel},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: metricsSubsystem,
				Name:      "jobs_finished_total",
				Help:      "number of audit jobs that reached a terminal state",
			},
			[]string{categoryLabel, statusLabel, errorTypeLabel},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Subsystem: metricsSubsystem,
				Name:      "jobs_running",
				Help:      "number of audit jobs executing on this instance",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: metricsSubsystem,
				Name:      "job_duration_seconds",
				Help:      "time from submission to terminal state",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{categoryLabel, statusLabel},
		),
	}
	if reg != nil {
		reg.MustRegister(m.submitted, m.finished, m.running, m.duration)
	}
	return m
}

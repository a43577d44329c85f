package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the telemetry pipeline.
type Metrics struct {
	config MetricsConfig

	// Event pipeline metrics
	eventsRecorded      *prometheus.CounterVec
	rateLimitRejections *prometheus.CounterVec
	recordDuration      *prometheus.HistogramVec

	// Alert metrics
	alertsTriggered *prometheus.CounterVec
	alertsResolved  prometheus.Counter
	activeAlerts    prometheus.Gauge

	// Notification metrics
	notifications *prometheus.CounterVec

	// Anomaly metrics
	anomaliesFlagged *prometheus.CounterVec

	// Trace recorder metrics
	traceSamples *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// Background task metrics
	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		eventsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_recorded_total",
				Help:      "Total number of monitoring events recorded",
			},
			[]string{"environment"},
		),
		rateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Total number of admissions rejected by the rate limiter",
			},
			[]string{"environment"},
		),
		recordDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "record_duration_seconds",
				Help:      "Duration of event record operations in seconds",
				Buckets:   buckets,
			},
			[]string{"environment"},
		),

		alertsTriggered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_triggered_total",
				Help:      "Total number of alerts triggered",
			},
			[]string{"type", "severity"},
		),
		alertsResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_resolved_total",
				Help:      "Total number of alerts resolved",
			},
		),
		activeAlerts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_alerts",
				Help:      "Current number of unresolved alerts",
			},
		),

		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of notification deliveries by channel and status",
			},
			[]string{"channel", "status"},
		),

		anomaliesFlagged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anomalies_flagged_total",
				Help:      "Total number of anomalies flagged by the baseline detector",
			},
			[]string{"metric"},
		),

		traceSamples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trace_samples_total",
				Help:      "Total number of performance traces by sampling outcome",
			},
			[]string{"outcome"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		taskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_total",
				Help:      "Total number of background task executions",
			},
			[]string{"task", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of background task executions in seconds",
				Buckets:   buckets,
			},
			[]string{"task"},
		),
	}

	registry.MustRegister(
		m.eventsRecorded,
		m.rateLimitRejections,
		m.recordDuration,
		m.alertsTriggered,
		m.alertsResolved,
		m.activeAlerts,
		m.notifications,
		m.anomaliesFlagged,
		m.traceSamples,
		m.errorsByClass,
		m.taskRuns,
		m.taskDuration,
	)

	return m, nil
}

// RecordEvent records an admitted and stored monitoring event.
func (m *Metrics) RecordEvent(environment string, duration time.Duration) {
	if m.eventsRecorded == nil {
		return
	}
	m.eventsRecorded.WithLabelValues(environment).Inc()
	m.recordDuration.WithLabelValues(environment).Observe(duration.Seconds())
}

// RecordRateLimitRejection records a rejected admission.
func (m *Metrics) RecordRateLimitRejection(environment string) {
	if m.rateLimitRejections == nil {
		return
	}
	m.rateLimitRejections.WithLabelValues(environment).Inc()
}

// RecordAlertTriggered records a newly triggered alert.
func (m *Metrics) RecordAlertTriggered(alertType, severity string) {
	if m.alertsTriggered == nil {
		return
	}
	m.alertsTriggered.WithLabelValues(alertType, severity).Inc()
	m.activeAlerts.Inc()
}

// RecordAlertResolved records an alert resolution.
func (m *Metrics) RecordAlertResolved() {
	if m.alertsResolved == nil {
		return
	}
	m.alertsResolved.Inc()
	m.activeAlerts.Dec()
}

// SetActiveAlerts sets the current number of unresolved alerts.
func (m *Metrics) SetActiveAlerts(count float64) {
	if m.activeAlerts == nil {
		return
	}
	m.activeAlerts.Set(count)
}

// RecordNotification records one notification delivery attempt.
func (m *Metrics) RecordNotification(channel, status string) {
	if m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

// RecordAnomaly records a flagged anomaly.
func (m *Metrics) RecordAnomaly(metric string) {
	if m.anomaliesFlagged == nil {
		return
	}
	m.anomaliesFlagged.WithLabelValues(metric).Inc()
}

// RecordTraceSample records a trace sampling outcome ("sampled" or "dropped").
func (m *Metrics) RecordTraceSample(outcome string) {
	if m.traceSamples == nil {
		return
	}
	m.traceSamples.WithLabelValues(outcome).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// RecordTaskRun records one background task execution.
func (m *Metrics) RecordTaskRun(task, status string, duration time.Duration) {
	if m.taskRuns == nil {
		return
	}
	m.taskRuns.WithLabelValues(task, status).Inc()
	m.taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

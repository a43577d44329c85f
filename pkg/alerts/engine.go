package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/openpulse/openpulse/pkg/monitor"
	"github.com/openpulse/openpulse/pkg/ratelimit"
	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

// Thresholds hold the system-scoped rule limits. A zero limit
// disables its rule.
type Thresholds struct {
	CPUPercent     float64 `yaml:"cpu_percent" json:"cpu_percent"`
	MemoryPercent  float64 `yaml:"memory_percent" json:"memory_percent"`
	MaxConnections int     `yaml:"max_connections" json:"max_connections"`

	// FailureCount failures from one IP within FailureWindowSeconds
	// trigger a repeated-failures alert.
	FailureCount         int `yaml:"failure_count" json:"failure_count"`
	FailureWindowSeconds int `yaml:"failure_window_seconds" json:"failure_window_seconds"`
}

// DefaultThresholds are applied when configuration omits a limit.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:           90,
		MemoryPercent:        90,
		MaxConnections:       1000,
		FailureCount:         10,
		FailureWindowSeconds: 60,
	}
}

// Locator optionally enriches alerts with a location for the source
// IP. A lookup failure is silently ignored.
type Locator interface {
	Locate(ip string) (string, error)
}

// Engine evaluates alert rules and owns the alert lifecycle.
type Engine struct {
	store   *stores.SQLiteStore
	stats   StatsSource
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	notify  *notifier
	locator Locator
	tracer  *telemetry.Tracer
	now     func() time.Time

	// failures counts recent error-status events per source IP. The
	// window fills like a rate limiter: once it rejects, the
	// repeated-failures rule has tripped.
	failures *ratelimit.Limiter

	mu         sync.Mutex
	thresholds Thresholds
	active     map[string]string // dedup key -> unresolved alert id
}

// NewEngine creates the alert engine. Call Seed before serving
// traffic so the dedup set reflects alerts that survived a restart,
// then Start to begin notification dispatch.
func NewEngine(store *stores.SQLiteStore, stats StatsSource, logger *telemetry.Logger, metrics *telemetry.Metrics, thresholds Thresholds, channels []Channel) *Engine {
	if stats == nil {
		stats = NewRuntimeStats()
	}
	e := &Engine{
		store:      store,
		stats:      stats,
		logger:     logger.NewComponentLogger("alerts"),
		metrics:    metrics,
		notify:     newNotifier(store, logger, metrics, channels, 0),
		now:        time.Now,
		thresholds: thresholds,
		active:     make(map[string]string),
	}
	e.failures = ratelimit.NewLimiter(func() time.Time { return e.now() })
	return e
}

// SetLocator attaches an optional IP geolocation source.
func (e *Engine) SetLocator(l Locator) {
	e.locator = l
}

// SetTracer attaches the pipeline tracer. Must be called before the
// engine starts receiving checks; a nil tracer disables spans.
func (e *Engine) SetTracer(tr *telemetry.Tracer) {
	e.tracer = tr
}

// Seed loads unresolved alerts from the store into the dedup set so
// restarts do not duplicate active alerts.
func (e *Engine) Seed(ctx context.Context) error {
	alerts, err := e.store.ListActiveAlerts(ctx, "")
	if err != nil {
		return monitor.NewStorageError("failed to seed active alerts", err).WithOperation("seed")
	}

	e.mu.Lock()
	for _, a := range alerts {
		e.active[dedupKey(a.Type, a.Metric, a.Source)] = a.ID
	}
	count := len(e.active)
	e.mu.Unlock()

	e.metrics.SetActiveAlerts(float64(count))
	e.logger.WithField("count", count).Info("seeded active alerts")
	return nil
}

// Start begins asynchronous notification dispatch.
func (e *Engine) Start() {
	e.notify.start()
}

// Close stops the notification worker.
func (e *Engine) Close() {
	e.notify.stop()
}

// SetThresholds replaces the rule limits. Used by config hot reload.
func (e *Engine) SetThresholds(t Thresholds) {
	e.mu.Lock()
	e.thresholds = t
	e.mu.Unlock()
}

// SetChannels replaces the notification channel set.
func (e *Engine) SetChannels(channels []Channel) {
	e.notify.setChannels(channels)
}

// PruneFailures evicts failure windows idle longer than maxIdle and
// returns the eviction count. The window set grows with distinct
// failing source IPs; periodic pruning keeps it bounded.
func (e *Engine) PruneFailures(maxIdle time.Duration) int {
	return e.failures.Prune(maxIdle)
}

func dedupKey(alertType, metric, source string) string {
	return alertType + "|" + metric + "|" + source
}

// CheckEvent evaluates per-event rules against one recorded event.
// Runs asynchronously relative to the recording call.
func (e *Engine) CheckEvent(ctx context.Context, event stores.MonitoringEvent) {
	e.mu.Lock()
	t := e.thresholds
	e.mu.Unlock()

	if t.FailureCount <= 0 || event.StatusCode < 400 {
		return
	}

	// Each failure consumes one window slot. The rule trips the
	// moment the window holds FailureCount failures.
	e.failures.Admit(event.IP, event.Environment, t.FailureCount, t.FailureWindowSeconds)
	if e.failures.Count(event.IP, event.Environment, t.FailureWindowSeconds) < t.FailureCount {
		return
	}

	alert := &stores.TelemetryAlert{
		Type:        "repeated_failures",
		Severity:    stores.SeverityCritical,
		Source:      event.IP,
		Metric:      "error_count",
		Value:       float64(t.FailureCount),
		Threshold:   float64(t.FailureCount),
		Unit:        "errors",
		Message:     fmt.Sprintf("%d failed requests from %s within %ds", t.FailureCount, event.IP, t.FailureWindowSeconds),
		Environment: event.Environment,
	}
	if e.locator != nil {
		if loc, err := e.locator.Locate(event.IP); err == nil && loc != "" {
			alert.Message += " (" + loc + ")"
		}
	}

	if _, err := e.Create(ctx, alert); err != nil {
		e.logger.WithError(err).WithIP(event.IP).Error("failed to create repeated-failures alert")
	}
}

// CheckAlerts evaluates the system-scoped rules against current
// system statistics.
func (e *Engine) CheckAlerts(ctx context.Context, environment string) (err error) {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartAlertSpan(ctx, "system", environment)
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}

	stats, err := e.stats.SystemStats(ctx)
	if err != nil {
		return monitor.NewStorageError("failed to collect system stats", err).WithOperation("check_alerts")
	}

	e.mu.Lock()
	t := e.thresholds
	e.mu.Unlock()

	if t.CPUPercent > 0 && stats.CPUPercent >= t.CPUPercent {
		e.triggerSystem(ctx, "cpu", "cpu_percent", stats.CPUPercent, t.CPUPercent, "%", environment)
	}
	if t.MemoryPercent > 0 && stats.MemoryPercent >= t.MemoryPercent {
		e.triggerSystem(ctx, "memory", "memory_percent", stats.MemoryPercent, t.MemoryPercent, "%", environment)
	}
	if t.MaxConnections > 0 && stats.Connections >= t.MaxConnections {
		e.triggerSystem(ctx, "connections", "connection_count", float64(stats.Connections), float64(t.MaxConnections), "connections", environment)
	}
	return nil
}

func (e *Engine) triggerSystem(ctx context.Context, alertType, metric string, value, threshold float64, unit, environment string) {
	alert := &stores.TelemetryAlert{
		Type:        alertType,
		Severity:    stores.SeverityCritical,
		Source:      "system",
		Metric:      metric,
		Value:       value,
		Threshold:   threshold,
		Unit:        unit,
		Message:     fmt.Sprintf("%s at %.1f%s exceeds threshold %.1f%s", alertType, value, unit, threshold, unit),
		Environment: environment,
	}
	if _, err := e.Create(ctx, alert); err != nil {
		e.logger.WithError(err).Errorf("failed to create %s alert", alertType)
	}
}

// Create triggers an alert. A trigger for a dedup key that already
// has an unresolved alert is swallowed and Create returns the
// existing alert id. Critical alerts are handed to the notification
// worker; notification failure never affects the returned result.
func (e *Engine) Create(ctx context.Context, alert *stores.TelemetryAlert) (string, error) {
	if alert.Type == "" || alert.Metric == "" {
		return "", monitor.NewValidationError("alert type and metric are required", nil).WithOperation("create_alert")
	}

	key := dedupKey(alert.Type, alert.Metric, alert.Source)

	e.mu.Lock()
	if existing, ok := e.active[key]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	// Reserve the key before the write so a concurrent trigger of
	// the same condition cannot insert a second row.
	alert.ID = uuid.New().String()
	e.active[key] = alert.ID
	activeCount := len(e.active)
	e.mu.Unlock()

	if alert.Timestamp.IsZero() {
		alert.Timestamp = e.now().UTC()
	}
	if alert.Severity == "" {
		alert.Severity = stores.SeverityWarning
	}
	if alert.Channels == "" {
		alert.Channels = channelNames(e.notify)
	}

	if err := e.store.InsertAlert(ctx, alert); err != nil {
		e.mu.Lock()
		delete(e.active, key)
		e.mu.Unlock()
		return "", monitor.NewStorageError("failed to store alert", err).
			WithResource(alert.ID).
			WithOperation("create_alert")
	}

	e.metrics.RecordAlertTriggered(alert.Type, string(alert.Severity))
	e.metrics.SetActiveAlerts(float64(activeCount))
	e.logger.WithAlertID(alert.ID).
		WithEnvironment(alert.Environment).
		WithField("type", alert.Type).
		WithField("severity", alert.Severity).
		Warn(alert.Message)

	if alert.Severity == stores.SeverityCritical {
		e.notify.enqueue(alert)
	}
	return alert.ID, nil
}

func channelNames(n *notifier) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.channels) == 0 {
		return ""
	}
	names := make([]string, len(n.channels))
	for i, ch := range n.channels {
		names[i] = ch.Name
	}
	b, _ := json.Marshal(names)
	return string(b)
}

// Resolve transitions an alert to resolved and frees its dedup key.
// Unknown or already-resolved ids return false with no side effects.
func (e *Engine) Resolve(ctx context.Context, id, resolvedBy string) (bool, error) {
	resolved, err := e.store.ResolveAlert(ctx, id, resolvedBy, e.now().UTC())
	if err != nil {
		return false, monitor.NewStorageError("failed to resolve alert", err).
			WithResource(id).
			WithOperation("resolve_alert")
	}
	if !resolved {
		return false, nil
	}

	e.mu.Lock()
	for key, activeID := range e.active {
		if activeID == id {
			delete(e.active, key)
			break
		}
	}
	count := len(e.active)
	e.mu.Unlock()

	e.metrics.RecordAlertResolved()
	e.metrics.SetActiveAlerts(float64(count))
	e.logger.WithAlertID(id).WithField("resolved_by", resolvedBy).Info("alert resolved")
	return true, nil
}

// ListActive returns unresolved alerts, optionally filtered by
// environment. An empty environment matches all.
func (e *Engine) ListActive(ctx context.Context, environment string) ([]*stores.TelemetryAlert, error) {
	alerts, err := e.store.ListActiveAlerts(ctx, environment)
	if err != nil {
		return nil, monitor.NewStorageError("failed to list active alerts", err).WithOperation("list_active")
	}
	return alerts, nil
}

// List returns alert history, newest first.
func (e *Engine) List(ctx context.Context, limit, offset int) ([]*stores.TelemetryAlert, error) {
	if limit <= 0 {
		limit = 50
	}
	alerts, err := e.store.ListAlerts(ctx, limit, offset)
	if err != nil {
		return nil, monitor.NewStorageError("failed to list alerts", err).WithOperation("list_alerts")
	}
	return alerts, nil
}

// ActiveCount returns the number of unresolved alerts in the store.
func (e *Engine) ActiveCount(ctx context.Context) (int64, error) {
	count, err := e.store.CountActiveAlerts(ctx)
	if err != nil {
		return 0, monitor.NewStorageError("failed to count active alerts", err).WithOperation("active_count")
	}
	return count, nil
}

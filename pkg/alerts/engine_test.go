package alerts

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// stubStats returns fixed system statistics.
type stubStats struct {
	stats SystemStats
}

func (s stubStats) SystemStats(_ context.Context) (SystemStats, error) {
	return s.stats, nil
}

func setupTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testTelemetry(t *testing.T) (*telemetry.Logger, *telemetry.Metrics) {
	t.Helper()

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return logger, metrics
}

func setupEngine(t *testing.T, stats StatsSource, thresholds Thresholds) (*Engine, *stores.SQLiteStore) {
	t.Helper()

	store := setupTestStore(t)
	logger, metrics := testTelemetry(t)
	engine := NewEngine(store, stats, logger, metrics, thresholds, nil)
	if err := engine.Seed(context.Background()); err != nil {
		t.Fatalf("failed to seed engine: %v", err)
	}
	return engine, store
}

func TestCheckAlertsCPUBreach(t *testing.T) {
	engine, store := setupEngine(t,
		stubStats{SystemStats{CPUPercent: 96}},
		Thresholds{CPUPercent: 90})
	ctx := context.Background()

	if err := engine.CheckAlerts(ctx, "prod"); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	active, err := store.ListActiveAlerts(ctx, "prod")
	if err != nil {
		t.Fatalf("failed to list active alerts: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(active))
	}
	alert := active[0]
	if alert.Type != "cpu" || alert.Severity != stores.SeverityCritical {
		t.Errorf("unexpected alert: type=%s severity=%s", alert.Type, alert.Severity)
	}
	if alert.Value != 96 || alert.Threshold != 90 {
		t.Errorf("unexpected alert values: value=%f threshold=%f", alert.Value, alert.Threshold)
	}

	// A repeated check before resolution creates no second row.
	if err := engine.CheckAlerts(ctx, "prod"); err != nil {
		t.Fatalf("second check failed: %v", err)
	}
	active, err = store.ListActiveAlerts(ctx, "prod")
	if err != nil {
		t.Fatalf("failed to list active alerts: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected dedup to keep 1 active alert, got %d", len(active))
	}

	// After resolution a subsequent breach creates a new alert.
	resolved, err := engine.Resolve(ctx, alert.ID, "ops")
	if err != nil || !resolved {
		t.Fatalf("expected resolve to succeed, got resolved=%v err=%v", resolved, err)
	}
	if err := engine.CheckAlerts(ctx, "prod"); err != nil {
		t.Fatalf("third check failed: %v", err)
	}
	active, err = store.ListActiveAlerts(ctx, "prod")
	if err != nil {
		t.Fatalf("failed to list active alerts: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected new alert after resolution, got %d active", len(active))
	}
	if active[0].ID == alert.ID {
		t.Error("expected a fresh alert id after resolution")
	}
}

func TestResolveUnknownAlert(t *testing.T) {
	engine, _ := setupEngine(t, stubStats{}, DefaultThresholds())

	resolved, err := engine.Resolve(context.Background(), "missing", "ops")
	if err != nil {
		t.Fatalf("resolve returned error: %v", err)
	}
	if resolved {
		t.Error("expected resolving an unknown id to return false")
	}
}

func TestSeedRestoresDedup(t *testing.T) {
	store := setupTestStore(t)
	logger, metrics := testTelemetry(t)
	ctx := context.Background()

	first := NewEngine(store, stubStats{SystemStats{CPUPercent: 95}}, logger, metrics, Thresholds{CPUPercent: 90}, nil)
	if err := first.Seed(ctx); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}
	if err := first.CheckAlerts(ctx, "prod"); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	// A fresh engine over the same store must not duplicate the
	// unresolved alert.
	second := NewEngine(store, stubStats{SystemStats{CPUPercent: 95}}, logger, metrics, Thresholds{CPUPercent: 90}, nil)
	if err := second.Seed(ctx); err != nil {
		t.Fatalf("failed to seed second engine: %v", err)
	}
	if err := second.CheckAlerts(ctx, "prod"); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	active, err := store.ListActiveAlerts(ctx, "")
	if err != nil {
		t.Fatalf("failed to list active alerts: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("expected 1 active alert after restart, got %d", len(active))
	}
}

func TestCheckEventRepeatedFailures(t *testing.T) {
	engine, store := setupEngine(t, stubStats{}, Thresholds{
		FailureCount:         3,
		FailureWindowSeconds: 60,
	})
	ctx := context.Background()

	event := stores.MonitoringEvent{
		IP:          "10.0.0.9",
		Environment: "prod",
		Endpoint:    "/api/login",
		Method:      "POST",
		StatusCode:  500,
	}
	for i := 0; i < 5; i++ {
		engine.CheckEvent(ctx, event)
	}

	active, err := store.ListActiveAlerts(ctx, "prod")
	if err != nil {
		t.Fatalf("failed to list active alerts: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly 1 repeated-failures alert, got %d", len(active))
	}
	if active[0].Type != "repeated_failures" || active[0].Source != "10.0.0.9" {
		t.Errorf("unexpected alert %+v", active[0])
	}
}

func TestCheckEventIgnoresSuccesses(t *testing.T) {
	engine, store := setupEngine(t, stubStats{}, Thresholds{
		FailureCount:         2,
		FailureWindowSeconds: 60,
	})
	ctx := context.Background()

	event := stores.MonitoringEvent{
		IP:          "10.0.0.9",
		Environment: "prod",
		Endpoint:    "/api/phones",
		Method:      "GET",
		StatusCode:  200,
	}
	for i := 0; i < 10; i++ {
		engine.CheckEvent(ctx, event)
	}

	active, err := store.ListActiveAlerts(ctx, "")
	if err != nil {
		t.Fatalf("failed to list active alerts: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no alerts from successful requests, got %d", len(active))
	}
}

func TestPruneFailuresEvictsIdleWindows(t *testing.T) {
	engine, _ := setupEngine(t, stubStats{}, Thresholds{
		FailureCount:         100,
		FailureWindowSeconds: 60,
	})
	ctx := context.Background()

	base := time.Now()
	current := base
	engine.now = func() time.Time { return current }

	// Distinct failing source IPs each open their own failure window.
	for i := 0; i < 50; i++ {
		engine.CheckEvent(ctx, stores.MonitoringEvent{
			IP:          fmt.Sprintf("10.0.0.%d", i),
			Environment: "prod",
			Endpoint:    "/api/login",
			Method:      "POST",
			StatusCode:  500,
		})
	}
	if got := engine.failures.Size(); got != 50 {
		t.Fatalf("expected 50 failure windows, got %d", got)
	}

	current = base.Add(10 * time.Minute)
	removed := engine.PruneFailures(2 * time.Minute)
	if removed != 50 {
		t.Errorf("expected 50 windows pruned, got %d", removed)
	}
	if got := engine.failures.Size(); got != 0 {
		t.Errorf("expected empty failure set after prune, got %d", got)
	}
}

func TestNotificationChannelFailureIsolation(t *testing.T) {
	store := setupTestStore(t)
	logger, metrics := testTelemetry(t)
	ctx := context.Background()

	var received atomic.Int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	n := newNotifier(store, logger, metrics, []Channel{
		{Name: "bad", URL: bad.URL},
		{Name: "good", URL: good.URL},
	}, 0)

	alert := &stores.TelemetryAlert{
		ID:        "alert-notify",
		Timestamp: time.Now().UTC(),
		Type:      "cpu",
		Severity:  stores.SeverityCritical,
		Source:    "system",
		Metric:    "cpu_percent",
	}
	if err := store.InsertAlert(ctx, alert); err != nil {
		t.Fatalf("failed to insert alert: %v", err)
	}

	// One failing channel must not block delivery to the other.
	n.dispatch(alert)

	if received.Load() != 1 {
		t.Errorf("expected 1 delivery to the healthy channel, got %d", received.Load())
	}
	stored, err := store.GetAlert(ctx, "alert-notify")
	if err != nil {
		t.Fatalf("failed to get alert: %v", err)
	}
	if !stored.Notified {
		t.Error("expected alert marked notified after a successful delivery")
	}
}

func TestNotificationAllChannelsFail(t *testing.T) {
	store := setupTestStore(t)
	logger, metrics := testTelemetry(t)
	ctx := context.Background()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	n := newNotifier(store, logger, metrics, []Channel{{Name: "bad", URL: bad.URL}}, 0)

	alert := &stores.TelemetryAlert{
		ID:        "alert-fail",
		Timestamp: time.Now().UTC(),
		Type:      "memory",
		Severity:  stores.SeverityCritical,
		Source:    "system",
		Metric:    "memory_percent",
	}
	if err := store.InsertAlert(ctx, alert); err != nil {
		t.Fatalf("failed to insert alert: %v", err)
	}

	n.dispatch(alert)

	stored, err := store.GetAlert(ctx, "alert-fail")
	if err != nil {
		t.Fatalf("failed to get alert: %v", err)
	}
	if stored.Notified {
		t.Error("expected alert to stay unnotified when every channel fails")
	}
}

func TestCheckAlertsEmitsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(sdktrace.NewTracerProvider()) })

	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{}, "openpulse", "test", "prod")
	if err != nil {
		t.Fatalf("failed to create tracer: %v", err)
	}

	engine, _ := setupEngine(t,
		stubStats{SystemStats{CPUPercent: 10}},
		Thresholds{CPUPercent: 90})
	engine.SetTracer(tracer)

	if err := engine.CheckAlerts(context.Background(), "prod"); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() == "alert.system" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an ended alert.system span, got %d spans", len(recorder.Ended()))
	}
}

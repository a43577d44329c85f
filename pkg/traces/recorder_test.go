package traces

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/openpulse/openpulse/pkg/monitor"
	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

func setupRecorder(t *testing.T, cfg Config) *Recorder {
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

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return NewRecorder(store, logger, metrics, cfg)
}

func trace(class, method string, durationMs float64) *stores.PerformanceTrace {
	return &stores.PerformanceTrace{
		ClassName:   class,
		MethodName:  method,
		DurationMs:  durationMs,
		Environment: "prod",
	}
}

func TestRecordSingleSlowTrace(t *testing.T) {
	recorder := setupRecorder(t, Config{SampleRate: 1, SlowThresholdMs: 1000})
	ctx := context.Background()

	sampled, err := recorder.Record(ctx, trace("PhoneService", "createPhone", 1500))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !sampled {
		t.Fatal("expected trace to be sampled at rate 1")
	}

	stats, err := recorder.MethodStats(ctx, "PhoneService", "createPhone")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats == nil {
		t.Fatal("expected stats for recorded method")
	}
	if stats.Count != 1 {
		t.Errorf("expected count 1, got %d", stats.Count)
	}
	if stats.P50Ms != 1500 || stats.P95Ms != 1500 || stats.P99Ms != 1500 {
		t.Errorf("expected all percentiles at 1500, got p50=%f p95=%f p99=%f", stats.P50Ms, stats.P95Ms, stats.P99Ms)
	}
}

func TestRecordValidation(t *testing.T) {
	recorder := setupRecorder(t, DefaultConfig())

	_, err := recorder.Record(context.Background(), trace("", "createPhone", 10))
	if !monitor.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSamplingDropsTraces(t *testing.T) {
	recorder := setupRecorder(t, Config{SampleRate: 0.5})
	recorder.sample = func() float64 { return 0.9 }

	sampled, err := recorder.Record(context.Background(), trace("PhoneService", "getPhone", 10))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if sampled {
		t.Error("expected trace above the sample cutoff to be dropped")
	}
	if stats, _ := recorder.MethodStats(context.Background(), "PhoneService", "getPhone"); stats != nil {
		t.Error("expected no durable trace for a dropped sample")
	}

	recorder.sample = func() float64 { return 0.1 }
	sampled, err = recorder.Record(context.Background(), trace("PhoneService", "getPhone", 10))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !sampled {
		t.Error("expected trace below the sample cutoff to be kept")
	}
}

func TestPercentileOrdering(t *testing.T) {
	recorder := setupRecorder(t, Config{SampleRate: 1})
	ctx := context.Background()

	for i := 1; i <= 40; i++ {
		if _, err := recorder.Record(ctx, trace("PhoneService", "listPhones", float64(i*10))); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	stats, err := recorder.MethodStats(ctx, "PhoneService", "listPhones")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Count != 40 {
		t.Fatalf("expected 40 traces, got %d", stats.Count)
	}
	if stats.MinMs != 10 || stats.MaxMs != 400 {
		t.Errorf("unexpected min/max: %f/%f", stats.MinMs, stats.MaxMs)
	}
	if stats.P50Ms > stats.P95Ms || stats.P95Ms > stats.P99Ms || stats.P99Ms > stats.MaxMs {
		t.Errorf("percentiles out of order: p50=%f p95=%f p99=%f max=%f", stats.P50Ms, stats.P95Ms, stats.P99Ms, stats.MaxMs)
	}
	if stats.AvgMs < stats.MinMs || stats.AvgMs > stats.MaxMs {
		t.Errorf("average %f outside [%f, %f]", stats.AvgMs, stats.MinMs, stats.MaxMs)
	}
}

func TestStatsUnknownMethod(t *testing.T) {
	recorder := setupRecorder(t, DefaultConfig())

	stats, err := recorder.MethodStats(context.Background(), "PhoneService", "missing")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats != nil {
		t.Error("expected nil stats for an unknown method")
	}
}

func TestRecentRingCapacity(t *testing.T) {
	recorder := setupRecorder(t, Config{SampleRate: 1})
	ctx := context.Background()

	for i := 0; i < ringSize+20; i++ {
		tr := trace("PhoneService", "updatePhone", float64(i))
		tr.Metadata = ptr(fmt.Sprintf(`{"seq":%d}`, i))
		if _, err := recorder.Record(ctx, tr); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	recent := recorder.Recent("PhoneService", "updatePhone")
	if len(recent) != ringSize {
		t.Fatalf("expected ring capped at %d, got %d", ringSize, len(recent))
	}
	// Newest first; the oldest 20 were evicted.
	if recent[0].DurationMs != float64(ringSize+19) {
		t.Errorf("expected newest trace first, got duration %f", recent[0].DurationMs)
	}
	if recent[len(recent)-1].DurationMs != 20 {
		t.Errorf("expected oldest surviving trace last, got duration %f", recent[len(recent)-1].DurationMs)
	}
}

func TestRecentUnknownMethod(t *testing.T) {
	recorder := setupRecorder(t, DefaultConfig())
	if recent := recorder.Recent("PhoneService", "missing"); recent != nil {
		t.Errorf("expected nil ring for unknown method, got %d entries", len(recent))
	}
}

func ptr(s string) *string { return &s }

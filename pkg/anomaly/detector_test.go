package anomaly

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

func setupDetector(t *testing.T, cfg Config) (*Detector, *stores.SQLiteStore) {
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
	return NewDetector(store, logger, metrics, cfg), store
}

// insertBucket writes n events at the start of a given minute bucket,
// all with the same response time and a 200 status.
func insertBucket(t *testing.T, store *stores.SQLiteStore, bucket time.Time, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		event := &stores.MonitoringEvent{
			Timestamp:      bucket.Add(time.Duration(i) * time.Second),
			IP:             "192.168.1.50",
			Environment:    "prod",
			Endpoint:       "/api/phones",
			Method:         "GET",
			StatusCode:     200,
			ResponseTimeMs: 100,
		}
		if err := store.InsertEvent(ctx, event); err != nil {
			t.Fatalf("failed to insert event: %v", err)
		}
	}
}

func TestDetectColdStart(t *testing.T) {
	detector, store := setupDetector(t, Config{WindowSpan: time.Minute, MinHistory: 3, Factor: 3})
	base := time.Now().UTC().Truncate(time.Minute)

	// Two populated windows is below MinHistory+1.
	insertBucket(t, store, base.Add(-time.Minute), 2)
	insertBucket(t, store, base, 2)

	flagged, err := detector.Detect(context.Background(), "prod")
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(flagged) != 0 {
		t.Errorf("expected no anomalies during cold start, got %d", len(flagged))
	}
}

func TestDetectFlagsEventCountSpike(t *testing.T) {
	detector, store := setupDetector(t, Config{WindowSpan: time.Minute, MinHistory: 3, Factor: 3})
	base := time.Now().UTC().Truncate(time.Minute)

	// Baseline counts 1, 2, 3 (mean 2, nonzero spread), then a spike
	// of 10 in the newest window.
	insertBucket(t, store, base.Add(-3*time.Minute), 1)
	insertBucket(t, store, base.Add(-2*time.Minute), 2)
	insertBucket(t, store, base.Add(-time.Minute), 3)
	insertBucket(t, store, base, 10)

	flagged, err := detector.Detect(context.Background(), "prod")
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(flagged) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(flagged))
	}
	anomaly := flagged[0]
	if anomaly.Metric != "event_count" {
		t.Errorf("expected event_count anomaly, got %s", anomaly.Metric)
	}
	if anomaly.Value != 10 || anomaly.Baseline != 2 {
		t.Errorf("unexpected anomaly values: value=%f baseline=%f", anomaly.Value, anomaly.Baseline)
	}

	// The anomaly is durable.
	listed, err := detector.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != anomaly.ID {
		t.Errorf("expected the flagged anomaly in the store")
	}
}

func TestDetectStableBaselineNotFlagged(t *testing.T) {
	detector, store := setupDetector(t, Config{WindowSpan: time.Minute, MinHistory: 3, Factor: 3})
	base := time.Now().UTC().Truncate(time.Minute)

	// A flat history has zero spread; the newest window matches it.
	for i := 3; i >= 0; i-- {
		insertBucket(t, store, base.Add(-time.Duration(i)*time.Minute), 5)
	}

	flagged, err := detector.Detect(context.Background(), "prod")
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(flagged) != 0 {
		t.Errorf("expected no anomalies on a stable baseline, got %d", len(flagged))
	}
}

func TestResolveAnomaly(t *testing.T) {
	detector, store := setupDetector(t, DefaultConfig())
	ctx := context.Background()

	anomaly := &stores.Anomaly{
		ID:          "anom-1",
		Timestamp:   time.Now().UTC(),
		Metric:      "error_count",
		Environment: "prod",
		Value:       42,
		Baseline:    2,
		Deviation:   40,
		Factor:      8,
	}
	if err := store.InsertAnomaly(ctx, anomaly); err != nil {
		t.Fatalf("failed to insert anomaly: %v", err)
	}

	resolved, err := detector.Resolve(ctx, "anom-1")
	if err != nil || !resolved {
		t.Fatalf("expected resolve to succeed, got resolved=%v err=%v", resolved, err)
	}
	resolved, err = detector.Resolve(ctx, "anom-1")
	if err != nil {
		t.Fatalf("second resolve returned error: %v", err)
	}
	if resolved {
		t.Error("expected resolving twice to return false")
	}

	stats, err := detector.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 1 || stats.Unresolved != 0 {
		t.Errorf("unexpected stats: total=%d unresolved=%d", stats.Total, stats.Unresolved)
	}
}

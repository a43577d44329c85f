package alerts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeStatFile(t *testing.T, path, line string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(line+"\ncpu0 1 2 3 4 5 6 7 8\n"), 0o644); err != nil {
		t.Fatalf("failed to write stat file: %v", err)
	}
}

func TestCPUPercentDelta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	stats := &RuntimeStats{statPath: path}
	ctx := context.Background()

	// First reading seeds the counters and reports zero.
	writeStatFile(t, path, "cpu 100 0 100 800 0 0 0 0")
	first, err := stats.SystemStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if first.CPUPercent != 0 {
		t.Errorf("expected zero on first reading, got %v", first.CPUPercent)
	}

	// Busy advanced 200 jiffies out of 400 total.
	writeStatFile(t, path, "cpu 200 0 200 1000 0 0 0 0")
	second, err := stats.SystemStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if second.CPUPercent != 50 {
		t.Errorf("expected 50%% utilization, got %v", second.CPUPercent)
	}
	if second.Connections <= 0 {
		t.Errorf("expected positive goroutine count, got %d", second.Connections)
	}
}

func TestCPUPercentMissingStatFile(t *testing.T) {
	stats := &RuntimeStats{statPath: filepath.Join(t.TempDir(), "missing")}

	got, err := stats.SystemStats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if got.CPUPercent != 0 {
		t.Errorf("expected zero without a stat file, got %v", got.CPUPercent)
	}
}

func TestCPUPercentCounterReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	stats := &RuntimeStats{statPath: path}
	ctx := context.Background()

	writeStatFile(t, path, "cpu 200 0 200 1000 0 0 0 0")
	if _, err := stats.SystemStats(ctx); err != nil {
		t.Fatalf("stats failed: %v", err)
	}

	// Totals going backwards must not produce a negative or huge value.
	writeStatFile(t, path, "cpu 10 0 10 50 0 0 0 0")
	got, err := stats.SystemStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if got.CPUPercent != 0 {
		t.Errorf("expected zero after counter reset, got %v", got.CPUPercent)
	}
}

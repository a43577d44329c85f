package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openpulse/openpulse/pkg/telemetry"
)

func testRunner(t *testing.T) *Runner {
	t.Helper()

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return NewRunner(logger, metrics)
}

func waitFor(t *testing.T, counter *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if counter.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter stalled at %d, want at least %d", counter.Load(), want)
}

func TestRunnerExecutesTasks(t *testing.T) {
	runner := testRunner(t)

	var runs atomic.Int64
	runner.Register("tick", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	runner.Start(context.Background())
	defer runner.Stop()

	waitFor(t, &runs, 3)
}

func TestFailingTaskDoesNotStopOthers(t *testing.T) {
	runner := testRunner(t)

	var healthy atomic.Int64
	runner.Register("failing", 10*time.Millisecond, func(ctx context.Context) error {
		return errors.New("boom")
	})
	runner.Register("panicking", 10*time.Millisecond, func(ctx context.Context) error {
		panic("boom")
	})
	runner.Register("healthy", 10*time.Millisecond, func(ctx context.Context) error {
		healthy.Add(1)
		return nil
	})

	runner.Start(context.Background())
	defer runner.Stop()

	waitFor(t, &healthy, 5)
}

func TestStopWaitsForTasks(t *testing.T) {
	runner := testRunner(t)

	var runs atomic.Int64
	runner.Register("tick", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	runner.Start(context.Background())
	waitFor(t, &runs, 1)
	runner.Stop()

	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != after {
		t.Error("expected no task runs after Stop")
	}
}

func TestRegisterValidation(t *testing.T) {
	runner := testRunner(t)

	assertPanics := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s: expected panic", name)
			}
		}()
		fn()
	}

	assertPanics("non-positive interval", func() {
		runner.Register("bad", 0, func(ctx context.Context) error { return nil })
	})

	runner.Start(context.Background())
	defer runner.Stop()
	assertPanics("register after start", func() {
		runner.Register("late", time.Second, func(ctx context.Context) error { return nil })
	})
}

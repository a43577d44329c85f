// Package scheduler runs named background tasks on fixed intervals.
// Each task body executes inside its own error boundary: a panic or
// returned error is logged and counted, and never stops the other
// tasks or the process.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openpulse/openpulse/pkg/telemetry"
)

// Task is one periodic unit of work.
type Task func(ctx context.Context) error

type entry struct {
	name     string
	interval time.Duration
	task     Task
}

// Runner schedules registered tasks. Register all tasks before Start;
// Stop waits for in-flight runs to finish.
type Runner struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	mu      sync.Mutex
	entries []entry
	started bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates an empty task runner.
func NewRunner(logger *telemetry.Logger, metrics *telemetry.Metrics) *Runner {
	return &Runner{
		logger:  logger.NewComponentLogger("scheduler"),
		metrics: metrics,
	}
}

// Register adds a task. Panics if called after Start or with a
// non-positive interval.
func (r *Runner) Register(name string, interval time.Duration, task Task) {
	if interval <= 0 {
		panic(fmt.Sprintf("scheduler: non-positive interval for task %q", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		panic("scheduler: Register after Start")
	}
	r.entries = append(r.entries, entry{name: name, interval: interval, task: task})
}

// Start launches one goroutine per registered task.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	for _, e := range r.entries {
		r.wg.Add(1)
		go r.loop(ctx, e)
	}
	r.logger.WithField("tasks", len(r.entries)).Info("scheduler started")
}

// Stop cancels all task loops and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, e entry) {
	defer r.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, e)
		}
	}
}

// runOnce executes one tick inside its own error boundary.
func (r *Runner) runOnce(ctx context.Context, e entry) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.RecordTaskRun(e.name, "panic", time.Since(start))
			r.logger.WithField("task", e.name).Errorf("task panicked: %v", rec)
		}
	}()

	if err := e.task(ctx); err != nil {
		r.metrics.RecordTaskRun(e.name, "error", time.Since(start))
		r.logger.WithError(err).WithField("task", e.name).Error("task failed")
		return
	}
	r.metrics.RecordTaskRun(e.name, "ok", time.Since(start))
}

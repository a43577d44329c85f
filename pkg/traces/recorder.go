// Package traces implements sampled performance-trace recording with
// per-method in-memory rings for recent-trace queries and durable
// history for percentile statistics.
package traces

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/openpulse/openpulse/pkg/monitor"
	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

// ringSize is the number of recent traces kept in memory per
// (class.method) key.
const ringSize = 100

// Config controls sampling and slow-trace logging.
type Config struct {
	// SampleRate in [0, 1]. 1 records every trace, 0 none.
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`

	// SlowThresholdMs triggers an immediate warning log for any
	// sampled trace at or above this duration.
	SlowThresholdMs float64 `yaml:"slow_threshold_ms" json:"slow_threshold_ms"`
}

// DefaultConfig samples everything and flags traces over one second.
func DefaultConfig() Config {
	return Config{SampleRate: 1, SlowThresholdMs: 1000}
}

// MethodStats summarizes the durable trace history for one method key.
type MethodStats struct {
	ClassName  string  `json:"class_name"`
	MethodName string  `json:"method_name"`
	Count      int     `json:"count"`
	MinMs      float64 `json:"min_ms"`
	MaxMs      float64 `json:"max_ms"`
	AvgMs      float64 `json:"avg_ms"`
	P50Ms      float64 `json:"p50_ms"`
	P95Ms      float64 `json:"p95_ms"`
	P99Ms      float64 `json:"p99_ms"`
}

type ring struct {
	traces []stores.PerformanceTrace
	next   int
	full   bool
}

func (r *ring) push(t stores.PerformanceTrace) {
	if len(r.traces) < ringSize {
		r.traces = append(r.traces, t)
		return
	}
	r.traces[r.next] = t
	r.next = (r.next + 1) % ringSize
	r.full = true
}

// recent returns the ring contents newest first.
func (r *ring) recent() []stores.PerformanceTrace {
	out := make([]stores.PerformanceTrace, 0, len(r.traces))
	if r.full {
		for i := 0; i < ringSize; i++ {
			out = append(out, r.traces[(r.next-1-i+2*ringSize)%ringSize])
		}
		return out
	}
	for i := len(r.traces) - 1; i >= 0; i-- {
		out = append(out, r.traces[i])
	}
	return out
}

// Recorder applies probabilistic sampling and keeps sampled traces
// both in per-method rings and in the durable store.
type Recorder struct {
	store   *stores.SQLiteStore
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	// sample returns a uniform value in [0, 1). Injectable for tests.
	sample func() float64

	mu    sync.Mutex
	cfg   Config
	rings map[string]*ring
}

// NewRecorder creates a trace recorder.
func NewRecorder(store *stores.SQLiteStore, logger *telemetry.Logger, metrics *telemetry.Metrics, cfg Config) *Recorder {
	if cfg.SampleRate < 0 {
		cfg.SampleRate = 0
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
	return &Recorder{
		store:   store,
		logger:  logger.NewComponentLogger("traces"),
		metrics: metrics,
		now:     time.Now,
		sample:  rand.Float64,
		cfg:     cfg,
		rings:   make(map[string]*ring),
	}
}

func methodKey(className, methodName string) string {
	return className + "." + methodName
}

// Record samples one trace. Unsampled traces are dropped without side
// effects. A sampled trace at or above the slow threshold is logged
// immediately. Returns whether the trace was sampled.
func (r *Recorder) Record(ctx context.Context, trace *stores.PerformanceTrace) (bool, error) {
	if trace.ClassName == "" || trace.MethodName == "" {
		return false, monitor.NewValidationError("trace class and method are required", nil).WithOperation("record_trace")
	}

	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	if r.sample() >= cfg.SampleRate {
		r.metrics.RecordTraceSample("dropped")
		return false, nil
	}

	if trace.Timestamp.IsZero() {
		trace.Timestamp = r.now().UTC()
	}

	if cfg.SlowThresholdMs > 0 && trace.DurationMs >= cfg.SlowThresholdMs {
		r.logger.WithMethodKey(trace.ClassName, trace.MethodName).
			WithField("duration_ms", trace.DurationMs).
			WithField("threshold_ms", cfg.SlowThresholdMs).
			Warn("slow operation")
	}

	if err := r.store.InsertTrace(ctx, trace); err != nil {
		r.metrics.RecordTraceSample("error")
		return false, monitor.NewStorageError("failed to store trace", err).WithOperation("record_trace")
	}

	r.mu.Lock()
	key := methodKey(trace.ClassName, trace.MethodName)
	rb, ok := r.rings[key]
	if !ok {
		rb = &ring{}
		r.rings[key] = rb
	}
	rb.push(*trace)
	r.mu.Unlock()

	r.metrics.RecordTraceSample("recorded")
	return true, nil
}

// SetConfig replaces sampling settings. Used by config hot reload.
func (r *Recorder) SetConfig(cfg Config) {
	if cfg.SampleRate < 0 {
		cfg.SampleRate = 0
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Recent returns the in-memory ring for a method key, newest first.
func (r *Recorder) Recent(className, methodName string) []stores.PerformanceTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	rb, ok := r.rings[methodKey(className, methodName)]
	if !ok {
		return nil
	}
	return rb.recent()
}

// MethodStats computes count, min, max, avg and p50/p95/p99 over the
// durable sample for one method key. Returns nil when no traces exist
// for the key.
func (r *Recorder) MethodStats(ctx context.Context, className, methodName string) (*MethodStats, error) {
	durations, err := r.store.TraceDurations(ctx, className, methodName)
	if err != nil {
		return nil, monitor.NewStorageError("failed to load trace durations", err).
			WithResource(methodKey(className, methodName)).
			WithOperation("method_stats")
	}
	if len(durations) == 0 {
		return nil, nil
	}

	sorted := make([]float64, len(durations))
	copy(sorted, durations)
	sort.Float64s(sorted)

	var sum float64
	for _, d := range sorted {
		sum += d
	}

	return &MethodStats{
		ClassName:  className,
		MethodName: methodName,
		Count:      len(sorted),
		MinMs:      sorted[0],
		MaxMs:      sorted[len(sorted)-1],
		AvgMs:      sum / float64(len(sorted)),
		P50Ms:      percentile(sorted, 50),
		P95Ms:      percentile(sorted, 95),
		P99Ms:      percentile(sorted, 99),
	}, nil
}

// percentile returns the nearest-rank percentile of a sorted sample.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int((p / 100) * float64(len(sorted)-1))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// Cleanup removes durable traces older than the given number of days
// and returns the deleted count.
func (r *Recorder) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, monitor.NewValidationError("olderThanDays must be positive", nil).WithOperation("trace_cleanup")
	}
	deleted, err := r.store.DeleteTracesBefore(ctx, r.now().AddDate(0, 0, -olderThanDays))
	if err != nil {
		return 0, monitor.NewStorageError("failed to clean up traces", err).WithOperation("trace_cleanup")
	}
	r.logger.WithField("deleted", deleted).Info("trace cleanup completed")
	return deleted, nil
}

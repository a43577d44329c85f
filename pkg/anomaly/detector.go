// Package anomaly implements adaptive-baseline detection over recent
// aggregate event windows. Unlike threshold alerts, anomalies are
// flagged relative to a moving baseline computed from history, so a
// metric that is always high is not anomalous while a sudden spike on
// a quiet metric is.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openpulse/openpulse/pkg/monitor"
	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

// Config controls baseline computation.
type Config struct {
	// WindowSpan is the width of one aggregate bucket.
	WindowSpan time.Duration `yaml:"window_span" json:"window_span"`

	// MinHistory is the number of baseline windows required before
	// anything is flagged. Below it Detect returns an empty set.
	MinHistory int `yaml:"min_history" json:"min_history"`

	// Factor is the number of standard deviations beyond which the
	// newest window is flagged.
	Factor float64 `yaml:"factor" json:"factor"`
}

// DefaultConfig returns conservative detection settings.
func DefaultConfig() Config {
	return Config{
		WindowSpan: time.Minute,
		MinHistory: 5,
		Factor:     3,
	}
}

// Detector computes moving baselines from recent event windows and
// flags deviations.
type Detector struct {
	store   *stores.SQLiteStore
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu  sync.Mutex
	cfg Config
}

// NewDetector creates a detector over the given store.
func NewDetector(store *stores.SQLiteStore, logger *telemetry.Logger, metrics *telemetry.Metrics, cfg Config) *Detector {
	if cfg.WindowSpan <= 0 {
		cfg.WindowSpan = time.Minute
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = 5
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 3
	}
	return &Detector{
		store:   store,
		logger:  logger.NewComponentLogger("anomaly"),
		metrics: metrics,
		now:     time.Now,
		cfg:     cfg,
	}
}

// SetConfig replaces the detection settings. Used by config hot reload.
func (d *Detector) SetConfig(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Detect evaluates the newest aggregate window for an environment
// against the baseline of the windows before it and persists any
// flagged anomalies. During cold start, when fewer than MinHistory
// baseline windows exist, it returns an empty set.
func (d *Detector) Detect(ctx context.Context, environment string) ([]*stores.Anomaly, error) {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()

	// Newest window plus the baseline history behind it.
	windows, err := d.store.EventWindows(ctx, environment, cfg.WindowSpan, cfg.MinHistory+1)
	if err != nil {
		return nil, monitor.NewStorageError("failed to load event windows", err).WithOperation("detect")
	}
	if len(windows) < cfg.MinHistory+1 {
		return nil, nil
	}

	latest := windows[0]
	history := windows[1:]

	var flagged []*stores.Anomaly
	for _, m := range []struct {
		name string
		read func(stores.WindowStat) float64
	}{
		{"event_count", func(w stores.WindowStat) float64 { return float64(w.Count) }},
		{"error_count", func(w stores.WindowStat) float64 { return float64(w.ErrorCount) }},
		{"avg_response_ms", func(w stores.WindowStat) float64 { return w.AvgResponseMs }},
	} {
		metric := m.name
		baseline, stddev := baselineStats(history, m.read)
		observed := m.read(latest)

		deviation := math.Abs(observed - baseline)
		if stddev == 0 || deviation <= cfg.Factor*stddev {
			continue
		}

		anomaly := &stores.Anomaly{
			ID:          uuid.New().String(),
			Timestamp:   d.now().UTC(),
			Metric:      metric,
			Environment: environment,
			Value:       observed,
			Baseline:    baseline,
			Deviation:   deviation,
			Factor:      deviation / stddev,
		}
		if err := d.store.InsertAnomaly(ctx, anomaly); err != nil {
			return flagged, monitor.NewStorageError("failed to store anomaly", err).
				WithResource(anomaly.ID).
				WithOperation("detect")
		}

		d.metrics.RecordAnomaly(metric)
		d.logger.WithEnvironment(environment).
			WithField("metric", metric).
			WithField("value", observed).
			WithField("baseline", baseline).
			Warn(fmt.Sprintf("anomaly on %s: observed %.2f against baseline %.2f", metric, observed, baseline))
		flagged = append(flagged, anomaly)
	}
	return flagged, nil
}

// baselineStats computes the mean and population standard deviation
// of one metric over the history windows.
func baselineStats(history []stores.WindowStat, read func(stores.WindowStat) float64) (mean, stddev float64) {
	n := float64(len(history))
	if n == 0 {
		return 0, 0
	}

	var sum float64
	for _, w := range history {
		sum += read(w)
	}
	mean = sum / n

	var variance float64
	for _, w := range history {
		diff := read(w) - mean
		variance += diff * diff
	}
	return mean, math.Sqrt(variance / n)
}

// Resolve marks an anomaly resolved. Unknown or already-resolved ids
// return false with no side effects.
func (d *Detector) Resolve(ctx context.Context, id string) (bool, error) {
	resolved, err := d.store.ResolveAnomaly(ctx, id, d.now().UTC())
	if err != nil {
		return false, monitor.NewStorageError("failed to resolve anomaly", err).
			WithResource(id).
			WithOperation("resolve_anomaly")
	}
	return resolved, nil
}

// List returns recorded anomalies, newest first.
func (d *Detector) List(ctx context.Context, limit, offset int) ([]*stores.Anomaly, error) {
	if limit <= 0 {
		limit = 50
	}
	anomalies, err := d.store.ListAnomalies(ctx, limit, offset)
	if err != nil {
		return nil, monitor.NewStorageError("failed to list anomalies", err).WithOperation("list_anomalies")
	}
	return anomalies, nil
}

// Stats summarizes recorded anomalies.
func (d *Detector) Stats(ctx context.Context) (*stores.AnomalyStats, error) {
	stats, err := d.store.GetAnomalyStats(ctx)
	if err != nil {
		return nil, monitor.NewStorageError("failed to load anomaly stats", err).WithOperation("anomaly_stats")
	}
	return stats, nil
}

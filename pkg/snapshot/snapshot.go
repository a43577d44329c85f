// Package snapshot captures point-in-time composites of process and
// monitoring metrics, persisting each to the store and mirroring it
// to a filesystem artifact.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/openpulse/openpulse/pkg/monitor"
	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

// SummarySource supplies the monitoring half of a snapshot.
type SummarySource interface {
	GetSummary(ctx context.Context) (*monitor.Summary, error)
}

// payload is the persisted snapshot body.
type payload struct {
	System     systemMetrics    `json:"system"`
	Monitoring *monitor.Summary `json:"monitoring,omitempty"`
}

type systemMetrics struct {
	Goroutines   int    `json:"goroutines"`
	HeapAllocB   uint64 `json:"heap_alloc_bytes"`
	HeapSysB     uint64 `json:"heap_sys_bytes"`
	TotalAllocB  uint64 `json:"total_alloc_bytes"`
	NumGC        uint32 `json:"num_gc"`
	PauseTotalNs uint64 `json:"gc_pause_total_ns"`
}

// Taker builds and persists snapshots.
type Taker struct {
	store   *stores.SQLiteStore
	summary SummarySource
	logger  *telemetry.Logger
	dir     string
	now     func() time.Time
}

// NewTaker creates a snapshot taker. When dir is empty no filesystem
// artifact is written.
func NewTaker(store *stores.SQLiteStore, summary SummarySource, logger *telemetry.Logger, dir string) *Taker {
	return &Taker{
		store:   store,
		summary: summary,
		logger:  logger.NewComponentLogger("snapshot"),
		dir:     dir,
		now:     time.Now,
	}
}

// Take captures a snapshot, persists it, and mirrors it to a file
// named from the label and timestamp. An artifact write failure is
// logged but does not fail the snapshot; the store row remains.
func (t *Taker) Take(ctx context.Context, label, environment string) (*stores.SystemSnapshot, error) {
	if label == "" {
		label = "periodic"
	}
	now := t.now().UTC()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	body := payload{
		System: systemMetrics{
			Goroutines:   runtime.NumGoroutine(),
			HeapAllocB:   mem.HeapAlloc,
			HeapSysB:     mem.HeapSys,
			TotalAllocB:  mem.TotalAlloc,
			NumGC:        mem.NumGC,
			PauseTotalNs: mem.PauseTotalNs,
		},
	}

	if t.summary != nil {
		summary, err := t.summary.GetSummary(ctx)
		if err != nil {
			t.logger.WithError(err).Warn("snapshot proceeding without monitoring summary")
		} else {
			body.Monitoring = summary
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, monitor.NewValidationError("failed to encode snapshot", err).WithOperation("take_snapshot")
	}

	snap := &stores.SystemSnapshot{
		ID:          uuid.New().String(),
		Timestamp:   now,
		Label:       label,
		Environment: environment,
		Data:        string(data),
	}
	if t.dir != "" {
		snap.ArtifactPath = filepath.Join(t.dir, fmt.Sprintf("%s-%d.json", label, now.UnixMilli()))
	}

	if err := t.store.InsertSnapshot(ctx, snap); err != nil {
		return nil, monitor.NewStorageError("failed to store snapshot", err).
			WithResource(snap.ID).
			WithOperation("take_snapshot")
	}

	if snap.ArtifactPath != "" {
		if err := t.writeArtifact(snap.ArtifactPath, data); err != nil {
			t.logger.WithError(err).WithField("path", snap.ArtifactPath).Error("failed to write snapshot artifact")
		}
	}

	t.logger.WithEnvironment(environment).WithField("label", label).Info("snapshot captured")
	return snap, nil
}

func (t *Taker) writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Latest returns the most recent snapshot for an environment, or nil
// when none exists. An empty environment matches all.
func (t *Taker) Latest(ctx context.Context, environment string) (*stores.SystemSnapshot, error) {
	snap, err := t.store.LatestSnapshot(ctx, environment)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, nil
		}
		return nil, monitor.NewStorageError("failed to load latest snapshot", err).WithOperation("latest_snapshot")
	}
	return snap, nil
}

// List returns snapshots, newest first.
func (t *Taker) List(ctx context.Context, limit int) ([]*stores.SystemSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	snaps, err := t.store.ListSnapshots(ctx, limit)
	if err != nil {
		return nil, monitor.NewStorageError("failed to list snapshots", err).WithOperation("list_snapshots")
	}
	return snaps, nil
}

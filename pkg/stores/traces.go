package stores

import (
	"context"
	"fmt"
	"time"
)

// InsertTrace appends a performance trace and sets its auto-generated ID.
func (s *SQLiteStore) InsertTrace(ctx context.Context, trace *PerformanceTrace) error {
	query := `
		INSERT INTO traces (timestamp, class_name, method_name, duration_ms, environment, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		toMillis(trace.Timestamp),
		trace.ClassName,
		trace.MethodName,
		trace.DurationMs,
		trace.Environment,
		trace.Metadata,
	)

	if err != nil {
		return fmt.Errorf("failed to insert trace: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get trace ID: %w", err)
	}

	trace.ID = id
	return nil
}

// ListTracesByMethod lists traces for one (class, method) key, newest first.
func (s *SQLiteStore) ListTracesByMethod(ctx context.Context, className, methodName string, limit int) ([]*PerformanceTrace, error) {
	query := `
		SELECT id, timestamp, class_name, method_name, duration_ms, environment, metadata
		FROM traces
		WHERE class_name = ? AND method_name = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, className, methodName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	defer rows.Close()

	traces := []*PerformanceTrace{}
	for rows.Next() {
		trace := &PerformanceTrace{}
		var ts int64
		err := rows.Scan(
			&trace.ID,
			&ts,
			&trace.ClassName,
			&trace.MethodName,
			&trace.DurationMs,
			&trace.Environment,
			&trace.Metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		trace.Timestamp = fromMillis(ts)
		traces = append(traces, trace)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating traces: %w", err)
	}

	return traces, nil
}

// TraceDurations returns all durable duration samples for one
// (class, method) key, in insertion order.
func (s *SQLiteStore) TraceDurations(ctx context.Context, className, methodName string) ([]float64, error) {
	query := `
		SELECT duration_ms
		FROM traces
		WHERE class_name = ? AND method_name = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, className, methodName)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace durations: %w", err)
	}
	defer rows.Close()

	durations := []float64{}
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan trace duration: %w", err)
		}
		durations = append(durations, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trace durations: %w", err)
	}

	return durations, nil
}

// DeleteTracesBefore removes traces older than the cutoff and returns
// the number of deleted rows.
func (s *SQLiteStore) DeleteTracesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM traces WHERE timestamp < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete traces: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

package stores

import (
	"context"
	"fmt"
	"time"
)

// InsertAnomaly persists a flagged anomaly.
func (s *SQLiteStore) InsertAnomaly(ctx context.Context, anomaly *Anomaly) error {
	query := `
		INSERT INTO anomalies (
			id, timestamp, metric, environment, value, baseline, deviation,
			factor, resolved, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		anomaly.ID,
		toMillis(anomaly.Timestamp),
		anomaly.Metric,
		anomaly.Environment,
		anomaly.Value,
		anomaly.Baseline,
		anomaly.Deviation,
		anomaly.Factor,
		anomaly.Resolved,
		nullableMillis(anomaly.ResolvedAt),
	)

	if err != nil {
		return fmt.Errorf("failed to insert anomaly: %w", err)
	}

	return nil
}

// ListAnomalies lists anomalies with pagination, newest first.
func (s *SQLiteStore) ListAnomalies(ctx context.Context, limit, offset int) ([]*Anomaly, error) {
	query := `
		SELECT id, timestamp, metric, environment, value, baseline, deviation,
		       factor, resolved, resolved_at
		FROM anomalies
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	anomalies := []*Anomaly{}
	for rows.Next() {
		anomaly := &Anomaly{}
		var ts int64
		var resolvedAt *int64
		err := rows.Scan(
			&anomaly.ID,
			&ts,
			&anomaly.Metric,
			&anomaly.Environment,
			&anomaly.Value,
			&anomaly.Baseline,
			&anomaly.Deviation,
			&anomaly.Factor,
			&anomaly.Resolved,
			&resolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		anomaly.Timestamp = fromMillis(ts)
		if resolvedAt != nil {
			t := fromMillis(*resolvedAt)
			anomaly.ResolvedAt = &t
		}
		anomalies = append(anomalies, anomaly)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomalies: %w", err)
	}

	return anomalies, nil
}

// ResolveAnomaly marks an unresolved anomaly as resolved. Returns
// false when the anomaly is unknown or already resolved.
func (s *SQLiteStore) ResolveAnomaly(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE anomalies SET resolved = 1, resolved_at = ? WHERE id = ? AND resolved = 0`,
		toMillis(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to resolve anomaly: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// GetAnomalyStats summarizes recorded anomalies.
func (s *SQLiteStore) GetAnomalyStats(ctx context.Context) (*AnomalyStats, error) {
	stats := &AnomalyStats{ByMetric: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN resolved = 0 THEN 1 ELSE 0 END), 0) FROM anomalies`,
	).Scan(&stats.Total, &stats.Unresolved)
	if err != nil {
		return nil, fmt.Errorf("failed to count anomalies: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT metric, COUNT(*) FROM anomalies GROUP BY metric`)
	if err != nil {
		return nil, fmt.Errorf("failed to count anomalies by metric: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var metric string
		var count int64
		if err := rows.Scan(&metric, &count); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly count: %w", err)
		}
		stats.ByMetric[metric] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomaly counts: %w", err)
	}

	return stats, nil
}

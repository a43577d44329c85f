package stores

import (
	"context"
	"fmt"
	"time"
)

// InsertAlert persists a newly triggered alert.
func (s *SQLiteStore) InsertAlert(ctx context.Context, alert *TelemetryAlert) error {
	query := `
		INSERT INTO alerts (
			id, timestamp, type, severity, source, metric, value, threshold,
			unit, message, environment, resolved, resolved_by, resolved_at,
			notified, notification_channels
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		alert.ID,
		toMillis(alert.Timestamp),
		alert.Type,
		alert.Severity,
		alert.Source,
		alert.Metric,
		alert.Value,
		alert.Threshold,
		alert.Unit,
		alert.Message,
		alert.Environment,
		alert.Resolved,
		alert.ResolvedBy,
		nullableMillis(alert.ResolvedAt),
		alert.Notified,
		alert.Channels,
	)

	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

const alertColumns = `id, timestamp, type, severity, source, metric, value, threshold,
	unit, message, environment, resolved, resolved_by, resolved_at, notified, notification_channels`

func scanAlert(scanner interface{ Scan(...any) error }) (*TelemetryAlert, error) {
	alert := &TelemetryAlert{}
	var ts int64
	var resolvedAt *int64
	err := scanner.Scan(
		&alert.ID,
		&ts,
		&alert.Type,
		&alert.Severity,
		&alert.Source,
		&alert.Metric,
		&alert.Value,
		&alert.Threshold,
		&alert.Unit,
		&alert.Message,
		&alert.Environment,
		&alert.Resolved,
		&alert.ResolvedBy,
		&resolvedAt,
		&alert.Notified,
		&alert.Channels,
	)
	if err != nil {
		return nil, err
	}
	alert.Timestamp = fromMillis(ts)
	if resolvedAt != nil {
		t := fromMillis(*resolvedAt)
		alert.ResolvedAt = &t
	}
	return alert, nil
}

// GetAlert retrieves an alert by ID. Returns ErrNotFound if it does not exist.
func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (*TelemetryAlert, error) {
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE id = ?`, alertColumns)

	alert, err := scanAlert(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("alert %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// ListActiveAlerts lists unresolved alerts, newest first. An empty
// environment matches all environments.
func (s *SQLiteStore) ListActiveAlerts(ctx context.Context, environment string) ([]*TelemetryAlert, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		WHERE resolved = 0 AND (? = '' OR environment = ?)
		ORDER BY timestamp DESC, id DESC
	`, alertColumns)

	return s.listAlerts(ctx, query, environment, environment)
}

// ListAlerts lists alerts with pagination, newest first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, limit, offset int) ([]*TelemetryAlert, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, alertColumns)

	return s.listAlerts(ctx, query, limit, offset)
}

func (s *SQLiteStore) listAlerts(ctx context.Context, query string, args ...any) ([]*TelemetryAlert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*TelemetryAlert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, nil
}

// ResolveAlert marks an unresolved alert as resolved. Returns false
// when the alert is unknown or already resolved; that is not an error.
func (s *SQLiteStore) ResolveAlert(ctx context.Context, id, resolvedBy string, at time.Time) (bool, error) {
	query := `
		UPDATE alerts
		SET resolved = 1, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND resolved = 0
	`

	result, err := s.db.ExecContext(ctx, query, resolvedBy, toMillis(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to resolve alert: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// MarkAlertNotified flips the notified flag after a successful delivery.
func (s *SQLiteStore) MarkAlertNotified(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alerts SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert notified: %w", err)
	}
	return nil
}

// CountActiveAlerts returns the number of unresolved alerts.
func (s *SQLiteStore) CountActiveAlerts(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE resolved = 0`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active alerts: %w", err)
	}
	return count, nil
}

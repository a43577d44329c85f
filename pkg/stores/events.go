package stores

import (
	"context"
	"fmt"
	"time"
)

// InsertEvent appends a monitoring event and sets its auto-generated ID.
func (s *SQLiteStore) InsertEvent(ctx context.Context, event *MonitoringEvent) error {
	query := `
		INSERT INTO events (
			timestamp, ip, environment, endpoint, method, status_code,
			response_time_ms, user_agent, device_type, device_fingerprint, path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		toMillis(event.Timestamp),
		event.IP,
		event.Environment,
		event.Endpoint,
		event.Method,
		event.StatusCode,
		event.ResponseTimeMs,
		event.UserAgent,
		event.DeviceType,
		event.DeviceFingerprint,
		event.Path,
	)

	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

const eventColumns = `id, timestamp, ip, environment, endpoint, method, status_code,
	response_time_ms, user_agent, device_type, device_fingerprint, path`

// scanEvent scans one event row.
func scanEvent(scanner interface{ Scan(...any) error }) (*MonitoringEvent, error) {
	event := &MonitoringEvent{}
	var ts int64
	err := scanner.Scan(
		&event.ID,
		&ts,
		&event.IP,
		&event.Environment,
		&event.Endpoint,
		&event.Method,
		&event.StatusCode,
		&event.ResponseTimeMs,
		&event.UserAgent,
		&event.DeviceType,
		&event.DeviceFingerprint,
		&event.Path,
	)
	if err != nil {
		return nil, err
	}
	event.Timestamp = fromMillis(ts)
	return event, nil
}

// ListEventsByIP lists events for an (ip, environment) pair,
// newest first with insertion order as tie-break.
func (s *SQLiteStore) ListEventsByIP(ctx context.Context, ip, environment string, limit int) ([]*MonitoringEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE ip = ? AND environment = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, eventColumns)

	rows, err := s.db.QueryContext(ctx, query, ip, environment, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events by ip: %w", err)
	}
	defer rows.Close()

	events := []*MonitoringEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// ListEventsByDevice lists events for a device fingerprint, newest first.
func (s *SQLiteStore) ListEventsByDevice(ctx context.Context, fingerprint string, limit int) ([]*MonitoringEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE device_fingerprint = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, eventColumns)

	rows, err := s.db.QueryContext(ctx, query, fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events by device: %w", err)
	}
	defer rows.Close()

	events := []*MonitoringEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// ListEvents lists the newest events across all environments.
func (s *SQLiteStore) ListEvents(ctx context.Context, limit, offset int) ([]*MonitoringEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, eventColumns)

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*MonitoringEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// DeleteEventsBefore removes all events older than the cutoff and
// returns the number of deleted rows. Destructive and irreversible.
func (s *SQLiteStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// CountEvents returns the number of events recorded since the given time.
// A zero time counts all events.
func (s *SQLiteStore) CountEvents(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	var err error
	if since.IsZero() {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE timestamp >= ?`, toMillis(since)).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// CountEventsByEnvironment returns per-environment event counts.
func (s *SQLiteStore) CountEventsByEnvironment(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT environment, COUNT(*) FROM events GROUP BY environment`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by environment: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var env string
		var count int64
		if err := rows.Scan(&env, &count); err != nil {
			return nil, fmt.Errorf("failed to scan environment count: %w", err)
		}
		counts[env] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating environment counts: %w", err)
	}

	return counts, nil
}

// GetEnvironmentMetrics computes aggregate metrics for one environment.
func (s *SQLiteStore) GetEnvironmentMetrics(ctx context.Context, environment string) (*EnvironmentMetrics, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(response_time_ms), 0),
			COUNT(DISTINCT ip),
			COUNT(DISTINCT CASE WHEN device_fingerprint != '' THEN device_fingerprint END)
		FROM events
		WHERE environment = ?
	`

	metrics := &EnvironmentMetrics{Environment: environment}
	err := s.db.QueryRowContext(ctx, query, environment).Scan(
		&metrics.TotalEvents,
		&metrics.ErrorCount,
		&metrics.AvgResponseMs,
		&metrics.UniqueIPs,
		&metrics.UniqueDevices,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get environment metrics: %w", err)
	}

	if metrics.TotalEvents > 0 {
		metrics.ErrorRate = float64(metrics.ErrorCount) / float64(metrics.TotalEvents)
	}

	return metrics, nil
}

// TopIPs returns the most frequent source IPs for an environment.
func (s *SQLiteStore) TopIPs(ctx context.Context, environment string, limit int) ([]TopEntry, error) {
	query := `
		SELECT ip, COUNT(*) AS n
		FROM events
		WHERE environment = ?
		GROUP BY ip
		ORDER BY n DESC, ip ASC
		LIMIT ?
	`
	return s.topEntries(ctx, query, environment, limit)
}

// TopDevices returns the most frequent device fingerprints for an environment.
func (s *SQLiteStore) TopDevices(ctx context.Context, environment string, limit int) ([]TopEntry, error) {
	query := `
		SELECT device_fingerprint, COUNT(*) AS n
		FROM events
		WHERE environment = ? AND device_fingerprint != ''
		GROUP BY device_fingerprint
		ORDER BY n DESC, device_fingerprint ASC
		LIMIT ?
	`
	return s.topEntries(ctx, query, environment, limit)
}

func (s *SQLiteStore) topEntries(ctx context.Context, query, environment string, limit int) ([]TopEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, environment, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top entries: %w", err)
	}
	defer rows.Close()

	entries := []TopEntry{}
	for rows.Next() {
		var entry TopEntry
		if err := rows.Scan(&entry.Key, &entry.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating top entries: %w", err)
	}

	return entries, nil
}

// EventWindows returns the most recent fixed-span aggregate buckets for
// an environment, newest first. Used by the baseline detector.
func (s *SQLiteStore) EventWindows(ctx context.Context, environment string, span time.Duration, n int) ([]WindowStat, error) {
	spanMs := span.Milliseconds()
	if spanMs <= 0 {
		return nil, fmt.Errorf("window span must be positive")
	}

	query := `
		SELECT
			(timestamp / ?) * ? AS bucket,
			COUNT(*),
			COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(response_time_ms), 0)
		FROM events
		WHERE environment = ?
		GROUP BY bucket
		ORDER BY bucket DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, spanMs, spanMs, environment, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query event windows: %w", err)
	}
	defer rows.Close()

	windows := []WindowStat{}
	for rows.Next() {
		var w WindowStat
		var start int64
		if err := rows.Scan(&start, &w.Count, &w.ErrorCount, &w.AvgResponseMs); err != nil {
			return nil, fmt.Errorf("failed to scan event window: %w", err)
		}
		w.Start = fromMillis(start)
		windows = append(windows, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event windows: %w", err)
	}

	return windows, nil
}

package stores

import (
	"context"
	"fmt"
)

// InsertSnapshot persists a system snapshot.
func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snapshot *SystemSnapshot) error {
	query := `
		INSERT INTO snapshots (id, timestamp, label, environment, data, artifact_path)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		snapshot.ID,
		toMillis(snapshot.Timestamp),
		snapshot.Label,
		snapshot.Environment,
		snapshot.Data,
		snapshot.ArtifactPath,
	)

	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

const snapshotColumns = `id, timestamp, label, environment, data, artifact_path`

func scanSnapshot(scanner interface{ Scan(...any) error }) (*SystemSnapshot, error) {
	snapshot := &SystemSnapshot{}
	var ts int64
	err := scanner.Scan(
		&snapshot.ID,
		&ts,
		&snapshot.Label,
		&snapshot.Environment,
		&snapshot.Data,
		&snapshot.ArtifactPath,
	)
	if err != nil {
		return nil, err
	}
	snapshot.Timestamp = fromMillis(ts)
	return snapshot, nil
}

// LatestSnapshot returns the newest snapshot for an environment.
// An empty environment matches all environments. Returns ErrNotFound
// when no snapshot has been taken yet.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, environment string) (*SystemSnapshot, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM snapshots
		WHERE (? = '' OR environment = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, snapshotColumns)

	snapshot, err := scanSnapshot(s.db.QueryRowContext(ctx, query, environment, environment))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("snapshot for %q: %w", environment, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	return snapshot, nil
}

// ListSnapshots lists snapshots, newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, limit int) ([]*SystemSnapshot, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM snapshots
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, snapshotColumns)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []*SystemSnapshot{}
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

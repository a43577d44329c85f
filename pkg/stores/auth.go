package stores

import (
	"context"
	"fmt"
	"time"
)

// InsertToken persists a newly issued token.
func (s *SQLiteStore) InsertToken(ctx context.Context, token *AuthToken) error {
	query := `
		INSERT INTO tokens (token, name, role, permissions, created_at, expires_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		token.Token,
		token.Name,
		token.Role,
		token.Permissions,
		toMillis(token.CreatedAt),
		toMillis(token.ExpiresAt),
		token.Revoked,
	)

	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}

	return nil
}

// GetToken retrieves a token record. Returns ErrNotFound for unknown
// tokens; expiry and revocation checks are the caller's concern.
func (s *SQLiteStore) GetToken(ctx context.Context, token string) (*AuthToken, error) {
	query := `
		SELECT token, name, role, permissions, created_at, expires_at, revoked
		FROM tokens
		WHERE token = ?
	`

	record := &AuthToken{}
	var createdAt, expiresAt int64
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&record.Token,
		&record.Name,
		&record.Role,
		&record.Permissions,
		&createdAt,
		&expiresAt,
		&record.Revoked,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("token: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	record.CreatedAt = fromMillis(createdAt)
	record.ExpiresAt = fromMillis(expiresAt)
	return record, nil
}

// RevokeToken marks a token as revoked. Returns false for unknown or
// already revoked tokens.
func (s *SQLiteStore) RevokeToken(ctx context.Context, token string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE tokens SET revoked = 1 WHERE token = ? AND revoked = 0`, token)
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// ListTokens lists issued tokens, newest first.
func (s *SQLiteStore) ListTokens(ctx context.Context, limit int) ([]*AuthToken, error) {
	query := `
		SELECT token, name, role, permissions, created_at, expires_at, revoked
		FROM tokens
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	tokens := []*AuthToken{}
	for rows.Next() {
		record := &AuthToken{}
		var createdAt, expiresAt int64
		err := rows.Scan(
			&record.Token,
			&record.Name,
			&record.Role,
			&record.Permissions,
			&createdAt,
			&expiresAt,
			&record.Revoked,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		record.ExpiresAt = fromMillis(expiresAt)
		tokens = append(tokens, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}

	return tokens, nil
}

// DeleteExpiredTokens removes tokens whose expiry has passed and
// returns the number of deleted rows.
func (s *SQLiteStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// UpsertUser inserts or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (username, password_hash, role, permissions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			password_hash = excluded.password_hash,
			role = excluded.role,
			permissions = excluded.permissions,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		user.Username,
		user.PasswordHash,
		user.Role,
		user.Permissions,
		toMillis(user.CreatedAt),
		toMillis(user.UpdatedAt),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	return nil
}

// GetUser retrieves a user by username. Returns ErrNotFound for
// unknown usernames.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT username, password_hash, role, permissions, created_at, updated_at
		FROM users
		WHERE username = ?
	`

	user := &User{}
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.Permissions,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	return user, nil
}

// UpdateUserPassword replaces a user's password hash.
func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, username, passwordHash string, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE username = ?`,
		passwordHash, toMillis(now), username)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("user %s: %w", username, ErrNotFound)
	}

	return nil
}

// AppendAuditEntry appends an audit log entry and sets its
// auto-generated ID. Entries are append-only.
func (s *SQLiteStore) AppendAuditEntry(ctx context.Context, entry *AuditLogEntry) error {
	query := `
		INSERT INTO audit (timestamp, token, action, resource, ip, user_agent, success, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		toMillis(entry.Timestamp),
		entry.Token,
		entry.Action,
		entry.Resource,
		entry.IP,
		entry.UserAgent,
		entry.Success,
		entry.Reason,
	)

	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with pagination, newest first.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, limit, offset int) ([]*AuditLogEntry, error) {
	query := `
		SELECT id, timestamp, token, action, resource, ip, user_agent, success, reason
		FROM audit
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditLogEntry{}
	for rows.Next() {
		entry := &AuditLogEntry{}
		var ts int64
		err := rows.Scan(
			&entry.ID,
			&ts,
			&entry.Token,
			&entry.Action,
			&entry.Resource,
			&entry.IP,
			&entry.UserAgent,
			&entry.Success,
			&entry.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp = fromMillis(ts)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

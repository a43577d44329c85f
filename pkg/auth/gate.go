// Package auth implements token issuance and validation, permission
// checks, and the append-only audit trail around every privileged
// action.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/openpulse/openpulse/pkg/monitor"
	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

// Audit action names.
const (
	ActionLogin          = "login"
	ActionLoginFailed    = "login_failed"
	ActionLogout         = "logout"
	ActionAccessDenied   = "access_denied"
	ActionPasswordChange = "password_change"
	ActionTokenIssued    = "token_issued"
)

// PermissionAll grants every permission.
const PermissionAll = "*"

const defaultTokenTTL = 24 * time.Hour

// Requester carries the caller identity fields recorded on audit
// entries.
type Requester struct {
	IP        string
	UserAgent string
}

// Gate validates credentials and tokens and writes the audit trail.
// Every privileged action appends its audit entry synchronously
// before the caller receives a result, so the trail is consistent
// even on failure paths.
type Gate struct {
	store    *stores.SQLiteStore
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tokenTTL time.Duration
	now      func() time.Time
}

// NewGate creates the auth gate. A non-positive tokenTTL falls back
// to 24 hours.
func NewGate(store *stores.SQLiteStore, logger *telemetry.Logger, metrics *telemetry.Metrics, tokenTTL time.Duration) *Gate {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &Gate{
		store:    store,
		logger:   logger.NewComponentLogger("auth"),
		metrics:  metrics,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

func (g *Gate) audit(ctx context.Context, token, action, resource string, req Requester, success bool, reason string) {
	entry := &stores.AuditLogEntry{
		Timestamp: g.now().UTC(),
		Token:     token,
		Action:    action,
		Resource:  resource,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Success:   success,
		Reason:    reason,
	}
	if err := g.store.AppendAuditEntry(ctx, entry); err != nil {
		// The trail must not silently lose entries; surface loudly.
		g.metrics.RecordError(string(monitor.ErrorClassStorage))
		g.logger.WithError(err).WithField("action", action).Error("failed to append audit entry")
	}
}

// CreateUser registers or updates a credentialled principal.
func (g *Gate) CreateUser(ctx context.Context, username, password, role string, permissions []string) error {
	if username == "" || password == "" {
		return monitor.NewValidationError("username and password are required", nil).WithOperation("create_user")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return monitor.NewAuthError("failed to hash password", err).WithOperation("create_user")
	}

	perms, _ := json.Marshal(permissions)
	now := g.now().UTC()
	user := &stores.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		Permissions:  string(perms),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := g.store.UpsertUser(ctx, user); err != nil {
		return monitor.NewStorageError("failed to store user", err).
			WithResource(username).
			WithOperation("create_user")
	}
	return nil
}

// Authenticate verifies credentials and issues a token. A failed
// attempt returns (nil, nil) after appending a login_failed audit
// entry; only storage failures return an error.
func (g *Gate) Authenticate(ctx context.Context, username, password string, req Requester) (*stores.AuthToken, error) {
	user, err := g.store.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			g.audit(ctx, "", ActionLoginFailed, username, req, false, "unknown user")
			return nil, nil
		}
		return nil, monitor.NewStorageError("failed to load user", err).
			WithResource(username).
			WithOperation("authenticate")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		g.audit(ctx, "", ActionLoginFailed, username, req, false, "invalid password")
		return nil, nil
	}

	token, err := g.issue(ctx, username, user.Role, user.Permissions, g.tokenTTL)
	if err != nil {
		return nil, err
	}

	g.audit(ctx, token.Token, ActionLogin, username, req, true, "")
	g.logger.WithField("username", username).Info("authentication succeeded")
	return token, nil
}

// IssueToken creates a token outside the credential flow, for
// operator tooling. The permission list is stored as given.
func (g *Gate) IssueToken(ctx context.Context, name, role string, permissions []string, ttl time.Duration, req Requester) (*stores.AuthToken, error) {
	if name == "" {
		return nil, monitor.NewValidationError("token name is required", nil).WithOperation("issue_token")
	}
	if ttl <= 0 {
		ttl = g.tokenTTL
	}

	perms, _ := json.Marshal(permissions)
	token, err := g.issue(ctx, name, role, string(perms), ttl)
	if err != nil {
		return nil, err
	}

	g.audit(ctx, token.Token, ActionTokenIssued, name, req, true, "")
	return token, nil
}

func (g *Gate) issue(ctx context.Context, name, role, permissions string, ttl time.Duration) (*stores.AuthToken, error) {
	now := g.now().UTC()
	token := &stores.AuthToken{
		Token:       uuid.New().String(),
		Name:        name,
		Role:        role,
		Permissions: permissions,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := g.store.InsertToken(ctx, token); err != nil {
		return nil, monitor.NewStorageError("failed to store token", err).
			WithResource(name).
			WithOperation("issue_token")
	}
	return token, nil
}

// ValidateToken resolves a token string. Unknown, revoked, and
// expired tokens all return (nil, nil); an expired token is invalid
// regardless of its stored state.
func (g *Gate) ValidateToken(ctx context.Context, token string) (*stores.AuthToken, error) {
	stored, err := g.store.GetToken(ctx, token)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, nil
		}
		return nil, monitor.NewStorageError("failed to load token", err).WithOperation("validate_token")
	}
	if stored.Revoked || !stored.ExpiresAt.After(g.now()) {
		return nil, nil
	}
	return stored, nil
}

// HasPermission reports whether the token grants a permission. Any
// denial, including an invalid token, appends an access_denied audit
// entry before returning.
func (g *Gate) HasPermission(ctx context.Context, token, permission string, req Requester) (bool, error) {
	stored, err := g.ValidateToken(ctx, token)
	if err != nil {
		return false, err
	}
	if stored == nil {
		g.audit(ctx, token, ActionAccessDenied, permission, req, false, "invalid token")
		return false, nil
	}

	var perms []string
	if stored.Permissions != "" {
		if err := json.Unmarshal([]byte(stored.Permissions), &perms); err != nil {
			g.audit(ctx, token, ActionAccessDenied, permission, req, false, "malformed permission set")
			return false, nil
		}
	}
	for _, p := range perms {
		if p == permission || p == PermissionAll {
			return true, nil
		}
	}

	g.audit(ctx, token, ActionAccessDenied, permission, req, false, "permission not granted")
	return false, nil
}

// RevokeToken invalidates a token immediately. Returns false for
// unknown or already-revoked tokens.
func (g *Gate) RevokeToken(ctx context.Context, token string, req Requester) (bool, error) {
	revoked, err := g.store.RevokeToken(ctx, token)
	if err != nil {
		return false, monitor.NewStorageError("failed to revoke token", err).WithOperation("revoke_token")
	}
	if revoked {
		g.audit(ctx, token, ActionLogout, "", req, true, "")
	}
	return revoked, nil
}

// ListTokens returns issued tokens, newest first.
func (g *Gate) ListTokens(ctx context.Context, limit int) ([]*stores.AuthToken, error) {
	if limit <= 0 {
		limit = 50
	}
	tokens, err := g.store.ListTokens(ctx, limit)
	if err != nil {
		return nil, monitor.NewStorageError("failed to list tokens", err).WithOperation("list_tokens")
	}
	return tokens, nil
}

// ChangePassword rotates a user's credential. Both outcomes are
// audited; a wrong current password returns an auth error.
func (g *Gate) ChangePassword(ctx context.Context, username, current, updated string, req Requester) error {
	user, err := g.store.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			g.audit(ctx, "", ActionPasswordChange, username, req, false, "unknown user")
			return monitor.NewAuthError("invalid credentials", nil).WithCode(monitor.ErrCodePermissionDenied)
		}
		return monitor.NewStorageError("failed to load user", err).
			WithResource(username).
			WithOperation("change_password")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		g.audit(ctx, "", ActionPasswordChange, username, req, false, "invalid password")
		return monitor.NewAuthError("invalid credentials", nil).WithCode(monitor.ErrCodePermissionDenied)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(updated), bcrypt.DefaultCost)
	if err != nil {
		return monitor.NewAuthError("failed to hash password", err).WithOperation("change_password")
	}
	if err := g.store.UpdateUserPassword(ctx, username, string(hash), g.now().UTC()); err != nil {
		return monitor.NewStorageError("failed to update password", err).
			WithResource(username).
			WithOperation("change_password")
	}

	g.audit(ctx, "", ActionPasswordChange, username, req, true, "")
	g.logger.WithField("username", username).Info("password changed")
	return nil
}

// AuditLog returns audit entries, newest first, with pagination.
func (g *Gate) AuditLog(ctx context.Context, limit, offset int) ([]*stores.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	entries, err := g.store.ListAuditEntries(ctx, limit, offset)
	if err != nil {
		return nil, monitor.NewStorageError("failed to list audit entries", err).WithOperation("audit_log")
	}
	return entries, nil
}

// SweepExpiredTokens removes tokens whose expiry has passed and
// returns the deleted count.
func (g *Gate) SweepExpiredTokens(ctx context.Context) (int64, error) {
	deleted, err := g.store.DeleteExpiredTokens(ctx, g.now().UTC())
	if err != nil {
		return 0, monitor.NewStorageError("failed to sweep expired tokens", err).WithOperation("token_sweep")
	}
	if deleted > 0 {
		g.logger.WithField("deleted", deleted).Info("expired tokens removed")
	}
	return deleted, nil
}

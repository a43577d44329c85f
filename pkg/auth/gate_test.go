package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/openpulse/openpulse/pkg/monitor"
	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

var testRequester = Requester{IP: "10.1.2.3", UserAgent: "gate-test"}

func setupGate(t *testing.T) (*Gate, *stores.SQLiteStore) {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return NewGate(store, logger, metrics, time.Hour), store
}

func lastAuditEntry(t *testing.T, store *stores.SQLiteStore) *stores.AuditLogEntry {
	t.Helper()
	entries, err := store.ListAuditEntries(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("failed to list audit entries: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one audit entry")
	}
	return entries[0]
}

func TestAuthenticateSuccess(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()

	if err := gate.CreateUser(ctx, "alice", "s3cret", "admin", []string{PermissionAll}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	token, err := gate.Authenticate(ctx, "alice", "s3cret", testRequester)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if token == nil {
		t.Fatal("expected a token for valid credentials")
	}
	if token.Name != "alice" || token.Role != "admin" {
		t.Errorf("unexpected token identity: name=%s role=%s", token.Name, token.Role)
	}
	if !token.ExpiresAt.After(time.Now()) {
		t.Error("expected token expiry in the future")
	}

	entry := lastAuditEntry(t, store)
	if entry.Action != ActionLogin || !entry.Success {
		t.Errorf("expected successful login audit, got action=%s success=%v", entry.Action, entry.Success)
	}
	if entry.IP != testRequester.IP {
		t.Errorf("expected requester IP on audit entry, got %s", entry.IP)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()

	if err := gate.CreateUser(ctx, "alice", "s3cret", "admin", nil); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	token, err := gate.Authenticate(ctx, "alice", "wrong", testRequester)
	if err != nil {
		t.Fatalf("authenticate returned error: %v", err)
	}
	if token != nil {
		t.Fatal("expected nil token for wrong password")
	}

	entry := lastAuditEntry(t, store)
	if entry.Action != ActionLoginFailed || entry.Success {
		t.Errorf("expected login_failed audit, got action=%s success=%v", entry.Action, entry.Success)
	}
}

func TestAuthenticateUnknownUser(t *testing.T) {
	gate, store := setupGate(t)

	token, err := gate.Authenticate(context.Background(), "nobody", "pw", testRequester)
	if err != nil {
		t.Fatalf("authenticate returned error: %v", err)
	}
	if token != nil {
		t.Fatal("expected nil token for unknown user")
	}
	if entry := lastAuditEntry(t, store); entry.Action != ActionLoginFailed {
		t.Errorf("expected login_failed audit, got %s", entry.Action)
	}
}

func TestValidateTokenExpiry(t *testing.T) {
	gate, _ := setupGate(t)
	ctx := context.Background()

	token, err := gate.IssueToken(ctx, "cron", "service", []string{"audit:read"}, time.Hour, testRequester)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	valid, err := gate.ValidateToken(ctx, token.Token)
	if err != nil || valid == nil {
		t.Fatalf("expected a live token to validate, got token=%v err=%v", valid, err)
	}

	// Move the clock past expiry.
	gate.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	valid, err = gate.ValidateToken(ctx, token.Token)
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if valid != nil {
		t.Error("expected an expired token to be invalid")
	}
}

func TestValidateRevokedToken(t *testing.T) {
	gate, _ := setupGate(t)
	ctx := context.Background()

	token, err := gate.IssueToken(ctx, "cron", "service", nil, time.Hour, testRequester)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	revoked, err := gate.RevokeToken(ctx, token.Token, testRequester)
	if err != nil || !revoked {
		t.Fatalf("expected revoke to succeed, got revoked=%v err=%v", revoked, err)
	}
	revoked, err = gate.RevokeToken(ctx, token.Token, testRequester)
	if err != nil {
		t.Fatalf("second revoke returned error: %v", err)
	}
	if revoked {
		t.Error("expected revoking twice to return false")
	}

	valid, err := gate.ValidateToken(ctx, token.Token)
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if valid != nil {
		t.Error("expected a revoked token to be invalid")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	gate, _ := setupGate(t)

	valid, err := gate.ValidateToken(context.Background(), "not-a-token")
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if valid != nil {
		t.Error("expected an unknown token to be invalid")
	}
}

func TestHasPermission(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()

	scoped, err := gate.IssueToken(ctx, "reader", "viewer", []string{"audit:read"}, time.Hour, testRequester)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	admin, err := gate.IssueToken(ctx, "root", "admin", []string{PermissionAll}, time.Hour, testRequester)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	ok, err := gate.HasPermission(ctx, scoped.Token, "audit:read", testRequester)
	if err != nil || !ok {
		t.Errorf("expected granted permission, got ok=%v err=%v", ok, err)
	}
	ok, err = gate.HasPermission(ctx, admin.Token, "alerts:write", testRequester)
	if err != nil || !ok {
		t.Errorf("expected wildcard to grant any permission, got ok=%v err=%v", ok, err)
	}

	ok, err = gate.HasPermission(ctx, scoped.Token, "alerts:write", testRequester)
	if err != nil {
		t.Fatalf("permission check returned error: %v", err)
	}
	if ok {
		t.Error("expected ungranted permission to be denied")
	}
	entry := lastAuditEntry(t, store)
	if entry.Action != ActionAccessDenied || entry.Resource != "alerts:write" {
		t.Errorf("expected access_denied audit for alerts:write, got action=%s resource=%s", entry.Action, entry.Resource)
	}
}

func TestChangePassword(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()

	if err := gate.CreateUser(ctx, "alice", "old-pw", "admin", nil); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	err := gate.ChangePassword(ctx, "alice", "wrong", "new-pw", testRequester)
	if !monitor.IsAuth(err) {
		t.Errorf("expected auth error for wrong current password, got %v", err)
	}
	if entry := lastAuditEntry(t, store); entry.Action != ActionPasswordChange || entry.Success {
		t.Errorf("expected failed password_change audit, got action=%s success=%v", entry.Action, entry.Success)
	}

	if err := gate.ChangePassword(ctx, "alice", "old-pw", "new-pw", testRequester); err != nil {
		t.Fatalf("change password failed: %v", err)
	}

	// Old credential no longer works, new one does.
	if token, _ := gate.Authenticate(ctx, "alice", "old-pw", testRequester); token != nil {
		t.Error("expected old password to be rejected after rotation")
	}
	if token, _ := gate.Authenticate(ctx, "alice", "new-pw", testRequester); token == nil {
		t.Error("expected new password to authenticate")
	}
}

func TestSweepExpiredTokens(t *testing.T) {
	gate, _ := setupGate(t)
	ctx := context.Background()

	if _, err := gate.IssueToken(ctx, "short", "service", nil, time.Minute, testRequester); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := gate.IssueToken(ctx, "long", "service", nil, 10*time.Hour, testRequester); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	gate.now = func() time.Time { return time.Now().Add(time.Hour) }
	deleted, err := gate.SweepExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 expired token removed, got %d", deleted)
	}

	tokens, err := gate.ListTokens(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tokens) != 1 || tokens[0].Name != "long" {
		t.Errorf("expected only the long-lived token to remain, got %d", len(tokens))
	}
}

package stores

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTokenLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	token := &AuthToken{
		Token:       "tok-1",
		Name:        "ops",
		Role:        "operator",
		Permissions: `["*"]`,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := store.InsertToken(ctx, token); err != nil {
		t.Fatalf("failed to insert token: %v", err)
	}

	stored, err := store.GetToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("failed to get token: %v", err)
	}
	if stored.Name != "ops" || stored.Revoked {
		t.Errorf("unexpected token state: %+v", stored)
	}

	revoked, err := store.RevokeToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("failed to revoke token: %v", err)
	}
	if !revoked {
		t.Error("expected revoke to succeed")
	}

	// Second revoke is a no-op.
	revoked, err = store.RevokeToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("failed on second revoke: %v", err)
	}
	if revoked {
		t.Error("expected second revoke to return false")
	}

	_, err = store.GetToken(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteExpiredTokens(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	expired := &AuthToken{Token: "old", Name: "old", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	live := &AuthToken{Token: "live", Name: "live", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	for _, tok := range []*AuthToken{expired, live} {
		if err := store.InsertToken(ctx, tok); err != nil {
			t.Fatalf("failed to insert token: %v", err)
		}
	}

	deleted, err := store.DeleteExpiredTokens(ctx, now)
	if err != nil {
		t.Fatalf("failed to delete expired tokens: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted token, got %d", deleted)
	}

	if _, err := store.GetToken(ctx, "live"); err != nil {
		t.Errorf("expected live token to remain: %v", err)
	}
}

func TestUserUpsertAndPassword(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	user := &User{
		Username:     "admin",
		PasswordHash: "hash-1",
		Role:         "admin",
		Permissions:  `["*"]`,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.UpsertUser(ctx, user); err != nil {
		t.Fatalf("failed to upsert user: %v", err)
	}

	// Upsert replaces the hash for an existing username.
	user.PasswordHash = "hash-2"
	if err := store.UpsertUser(ctx, user); err != nil {
		t.Fatalf("failed to re-upsert user: %v", err)
	}

	stored, err := store.GetUser(ctx, "admin")
	if err != nil {
		t.Fatalf("failed to get user: %v", err)
	}
	if stored.PasswordHash != "hash-2" {
		t.Errorf("expected replaced hash, got %q", stored.PasswordHash)
	}

	if err := store.UpdateUserPassword(ctx, "admin", "hash-3", now); err != nil {
		t.Fatalf("failed to update password: %v", err)
	}
	err = store.UpdateUserPassword(ctx, "ghost", "hash", now)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestAuditAppendAndPagination(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		entry := &AuditLogEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Action:    "login",
			Resource:  fmt.Sprintf("user-%d", i),
			Success:   true,
		}
		if err := store.AppendAuditEntry(ctx, entry); err != nil {
			t.Fatalf("failed to append entry: %v", err)
		}
		if entry.ID == 0 {
			t.Error("expected audit entry ID to be set")
		}
	}

	page1, err := store.ListAuditEntries(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page1))
	}
	if page1[0].Resource != "user-4" {
		t.Errorf("expected newest entry first, got %q", page1[0].Resource)
	}

	page2, err := store.ListAuditEntries(ctx, 2, 2)
	if err != nil {
		t.Fatalf("failed to list second page: %v", err)
	}
	if len(page2) != 2 || page2[0].Resource != "user-2" {
		t.Errorf("unexpected second page: %+v", page2)
	}
}

func TestAnomalyStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, metric := range []string{"error_count", "error_count", "event_count"} {
		anomaly := &Anomaly{
			ID:          fmt.Sprintf("anom-%d", i),
			Timestamp:   now,
			Metric:      metric,
			Environment: "prod",
			Value:       100,
			Baseline:    10,
			Deviation:   90,
			Factor:      5,
		}
		if err := store.InsertAnomaly(ctx, anomaly); err != nil {
			t.Fatalf("failed to insert anomaly: %v", err)
		}
	}

	resolved, err := store.ResolveAnomaly(ctx, "anom-0", now)
	if err != nil || !resolved {
		t.Fatalf("expected resolve to succeed, got resolved=%v err=%v", resolved, err)
	}

	stats, err := store.GetAnomalyStats(ctx)
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("expected 3 total anomalies, got %d", stats.Total)
	}
	if stats.Unresolved != 2 {
		t.Errorf("expected 2 unresolved, got %d", stats.Unresolved)
	}
	if stats.ByMetric["error_count"] != 2 {
		t.Errorf("expected 2 error_count anomalies, got %d", stats.ByMetric["error_count"])
	}
}

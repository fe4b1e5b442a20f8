package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ongoingai/promptops/internal/sqlstore"
)

func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("PROMPTOPS_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("PROMPTOPS_TEST_POSTGRES_DSN is not set")
	}

	db, err := sqlstore.OpenPostgres(dsn)
	if err != nil {
		t.Fatalf("OpenPostgres() error: %v", err)
	}
	store, err := NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close postgres store: %v", err)
		}
	})
	return store
}

func uniqueTenant(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func cleanupPostgresTenant(t *testing.T, store *PostgresStore, tenants ...string) {
	t.Helper()

	t.Cleanup(func() {
		for _, tenant := range tenants {
			if _, err := store.db.ExecContext(context.Background(), `DELETE FROM projects WHERE tenant_id = $1`, tenant); err != nil {
				t.Fatalf("cleanup tenant %q: %v", tenant, err)
			}
		}
	})
}

func TestPostgresStoreVersionLifecycleAndTenantIsolation(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	tenantA := uniqueTenant("tenant-a")
	tenantB := uniqueTenant("tenant-b")
	cleanupPostgresTenant(t, store, tenantA, tenantB)

	seeded := seedPrompt(t, store, tenantA, "support", "greeting")

	bySlug, err := store.GetProject(ctx, tenantA, Slug("support"))
	if err != nil {
		t.Fatalf("GetProject(slug) error: %v", err)
	}
	if bySlug.ID != seeded.project.ID {
		t.Fatalf("project id=%d, want %d", bySlug.ID, seeded.project.ID)
	}

	if _, err := store.GetProject(ctx, tenantB, NumericID(seeded.project.ID)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetProject(other tenant) error=%v, want ErrNotFound", err)
	}
	if _, err := store.GetActiveVersion(ctx, tenantB, seeded.project.ID, seeded.prompt.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetActiveVersion(other tenant) error=%v, want ErrNotFound", err)
	}

	second, err := store.PublishVersion(ctx, tenantA, seeded.project.ID, seeded.prompt.ID, PublishInput{
		Provider: "google",
		Model:    "gemini-2.0-flash",
		Body:     json.RawMessage(testBody),
	})
	if err != nil {
		t.Fatalf("PublishVersion() error: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("second version=%d, want 2", second.Version)
	}

	active, err := store.GetActiveVersion(ctx, tenantA, seeded.project.ID, seeded.prompt.ID)
	if err != nil {
		t.Fatalf("GetActiveVersion() error: %v", err)
	}
	if active.Version != 1 {
		t.Fatalf("active version=%d, want 1 until router moves", active.Version)
	}

	if err := store.SetActiveVersion(ctx, tenantA, seeded.project.ID, seeded.prompt.ID, 2); err != nil {
		t.Fatalf("SetActiveVersion() error: %v", err)
	}
	activeID, err := store.ActiveVersionID(ctx, tenantA, seeded.project.ID, seeded.prompt.ID)
	if err != nil {
		t.Fatalf("ActiveVersionID() error: %v", err)
	}
	if activeID != second.ID {
		t.Fatalf("active id=%d, want %d", activeID, second.ID)
	}
	if err := store.SetActiveVersion(ctx, tenantB, seeded.project.ID, seeded.prompt.ID, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetActiveVersion(other tenant) error=%v, want ErrNotFound", err)
	}

	if err := store.SetPromptActive(ctx, tenantA, seeded.project.ID, seeded.prompt.ID, false); err != nil {
		t.Fatalf("SetPromptActive() error: %v", err)
	}
	prompt, err := store.GetPrompt(ctx, tenantA, seeded.project.ID, Slug("greeting"))
	if err != nil {
		t.Fatalf("GetPrompt() error: %v", err)
	}
	if prompt.Active {
		t.Fatal("expected prompt to be inactive")
	}

	if _, err := store.CreateProject(ctx, tenantA, "support", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("CreateProject(duplicate) error=%v, want ErrConflict", err)
	}
}

package execlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ongoingai/promptops/internal/sqlstore"
)

func newPostgresTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("PROMPTOPS_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("PROMPTOPS_TEST_POSTGRES_DSN is not set")
	}
	db, err := sqlstore.OpenPostgres(dsn)
	if err != nil {
		t.Fatalf("OpenPostgres() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPostgresStoreRecordsAndStats(t *testing.T) {
	db := newPostgresTestDB(t)
	store, err := NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	ctx := context.Background()
	tenant := fmt.Sprintf("tenant-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		if _, err := db.ExecContext(context.Background(), `DELETE FROM execution_logs WHERE tenant_id = $1`, tenant); err != nil {
			t.Fatalf("cleanup tenant %q: %v", tenant, err)
		}
	})

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		record := testRecord(fmt.Sprintf("%s-log-%d", tenant, i), base.Add(time.Duration(i)*time.Second))
		record.TenantID = tenant
		record.Version = 1 + i%2
		record.IsSuccess = i != 1
		if err := store.WriteRecord(ctx, record); err != nil {
			t.Fatalf("WriteRecord() error: %v", err)
		}
	}

	got, err := store.GetRecord(ctx, tenant, tenant+"-log-1")
	if err != nil {
		t.Fatalf("GetRecord() error: %v", err)
	}
	if got.IsSuccess || got.Version != 2 || !got.CreatedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("record=%+v", got)
	}
	if _, err := store.GetRecord(ctx, "someone-else", tenant+"-log-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross tenant error=%v, want ErrNotFound", err)
	}

	first, err := store.QueryRecords(ctx, Filter{TenantID: tenant, Limit: 2})
	if err != nil {
		t.Fatalf("QueryRecords() error: %v", err)
	}
	if len(first.Items) != 2 || first.NextCursor == "" {
		t.Fatalf("first page=%d items cursor=%q", len(first.Items), first.NextCursor)
	}
	second, err := store.QueryRecords(ctx, Filter{TenantID: tenant, Limit: 2, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("QueryRecords() page 2 error: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != tenant+"-log-0" {
		t.Fatalf("second page=%+v", second.Items)
	}

	stats, err := store.GetVersionStats(ctx, StatsFilter{TenantID: tenant})
	if err != nil {
		t.Fatalf("GetVersionStats() error: %v", err)
	}
	if len(stats) != 2 || stats[0].Version != 2 || stats[0].Failures != 1 || stats[1].Executions != 2 {
		t.Fatalf("stats=%+v", stats)
	}

	blobs, err := NewDBBlobStore(db, "postgres")
	if err != nil {
		t.Fatalf("NewDBBlobStore() error: %v", err)
	}
	key := ArtifactKey(tenant, "log", ArtifactInput)
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM log_artifacts WHERE key = $1`, key)
	})
	if err := blobs.Put(ctx, key, []byte(`[1]`)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	body, err := blobs.Get(ctx, key)
	if err != nil || string(body) != `[1]` {
		t.Fatalf("Get()=%s, %v", body, err)
	}
}

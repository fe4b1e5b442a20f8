package execlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

func TestIsMinIONotFound(t *testing.T) {
	t.Parallel()

	if !isMinIONotFound(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}) {
		t.Fatalf("NoSuchKey should map to not found")
	}
	if isMinIONotFound(minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: 404}) {
		t.Fatalf("a missing bucket is a configuration error, not a missing artifact")
	}
	if isMinIONotFound(errors.New("boom")) {
		t.Fatalf("plain errors are not not-found")
	}
}

func TestNewMinIOBlobStoreValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewMinIOBlobStore(context.Background(), MinIOConfig{Bucket: "logs"}); err == nil {
		t.Fatalf("missing endpoint should fail")
	}
	if _, err := NewMinIOBlobStore(context.Background(), MinIOConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("missing bucket should fail")
	}
}

// Runs against a real MinIO when PROMPTOPS_TEST_MINIO_ENDPOINT is set, e.g.
// a local `minio server` with the default minioadmin credentials.
func TestMinIOBlobStoreRoundTrip(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("PROMPTOPS_TEST_MINIO_ENDPOINT"))
	if endpoint == "" {
		t.Skip("PROMPTOPS_TEST_MINIO_ENDPOINT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewMinIOBlobStore(ctx, MinIOConfig{
		Endpoint:  endpoint,
		Bucket:    "promptops-test",
		AccessKey: envOr("PROMPTOPS_TEST_MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey: envOr("PROMPTOPS_TEST_MINIO_SECRET_KEY", "minioadmin"),
	})
	if err != nil {
		t.Fatalf("NewMinIOBlobStore() error: %v", err)
	}

	key := ArtifactKey("tenant-a", fmt.Sprintf("log-%d", time.Now().UnixNano()), ArtifactResponse)
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing object error=%v, want ErrNotFound", err)
	}
	if err := store.Put(ctx, key, []byte(`{"response":"hi"}`)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	body, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(body) != `{"response":"hi"}` {
		t.Fatalf("body=%s", body)
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

package execlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ongoingai/promptops/internal/sqlstore"
)

// BlobStore persists artifact payloads by key. Get returns ErrNotFound for
// missing keys.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// DBBlobStore keeps artifacts in the log_artifacts table next to the log
// rows.
type DBBlobStore struct {
	db       *sql.DB
	postgres bool
	writeMu  sync.Mutex
}

// NewDBBlobStore wraps a database opened by sqlstore. driver is "sqlite" or
// "postgres".
func NewDBBlobStore(db *sql.DB, driver string) (*DBBlobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("artifact database is required")
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		return &DBBlobStore{db: db}, nil
	case "postgres":
		return &DBBlobStore{db: db, postgres: true}, nil
	default:
		return nil, fmt.Errorf("unsupported artifact database driver %q", driver)
	}
}

func (s *DBBlobStore) Put(ctx context.Context, key string, body []byte) error {
	if body == nil {
		body = []byte{}
	}
	if s.postgres {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO log_artifacts (key, body) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body`, key, body)
		if err != nil {
			return fmt.Errorf("put artifact %q: %w", key, err)
		}
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := sqlstore.RetrySQLiteBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO log_artifacts (key, body) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET body = excluded.body`, key, body)
		return err
	})
	if err != nil {
		return fmt.Errorf("put artifact %q: %w", key, err)
	}
	return nil
}

func (s *DBBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := "SELECT body FROM log_artifacts WHERE key = ? LIMIT 1"
	if s.postgres {
		query = "SELECT body FROM log_artifacts WHERE key = $1 LIMIT 1"
	}
	var body []byte
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get artifact %q: %w", key, err)
	}
	return body, nil
}

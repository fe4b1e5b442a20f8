package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

const DefaultVersionCacheSize = 1024

// SharedVersionCache is a cache tier shared between processes.
type SharedVersionCache interface {
	GetVersion(ctx context.Context, key string) (*Version, bool, error)
	SetVersion(ctx context.Context, key string, version *Version) error
}

// VersionCache decorates a VersionSource. The router pointer is always read
// from the source; only the immutable version row it points at is cached.
type VersionCache struct {
	VersionSource

	local  *lru.Cache[string, *Version]
	shared SharedVersionCache
	logger *slog.Logger

	localHits  atomic.Int64
	sharedHits atomic.Int64
	misses     atomic.Int64
}

type VersionCacheStats struct {
	Size       int   `json:"size"`
	LocalHits  int64 `json:"local_hits"`
	SharedHits int64 `json:"shared_hits"`
	Misses     int64 `json:"misses"`
}

// NewVersionCache builds the local LRU tier. shared may be nil.
func NewVersionCache(source VersionSource, size int, shared SharedVersionCache, logger *slog.Logger) (*VersionCache, error) {
	if source == nil {
		return nil, fmt.Errorf("version source is required")
	}
	if size <= 0 {
		size = DefaultVersionCacheSize
	}
	local, err := lru.New[string, *Version](size)
	if err != nil {
		return nil, fmt.Errorf("create version lru: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionCache{
		VersionSource: source,
		local:         local,
		shared:        shared,
		logger:        logger,
	}, nil
}

func (c *VersionCache) GetActiveVersion(ctx context.Context, tenantID string, projectID, promptID int64) (*Version, error) {
	versionID, err := c.VersionSource.ActiveVersionID(ctx, tenantID, projectID, promptID)
	if err != nil {
		return nil, err
	}
	return c.GetVersion(ctx, tenantID, projectID, promptID, versionID)
}

func (c *VersionCache) GetVersion(ctx context.Context, tenantID string, projectID, promptID, versionID int64) (*Version, error) {
	key := versionCacheKey(tenantID, projectID, promptID, versionID)

	if cached, ok := c.local.Get(key); ok && cached.TenantID == tenantID {
		c.localHits.Add(1)
		return cloneVersion(cached), nil
	}

	if c.shared != nil {
		cached, ok, err := c.shared.GetVersion(ctx, key)
		if err != nil {
			c.logger.Warn("shared version cache read failed", "key", key, "error", err)
		} else if ok && cached.TenantID == tenantID && cached.ID == versionID {
			c.sharedHits.Add(1)
			c.local.Add(key, cached)
			return cloneVersion(cached), nil
		}
	}

	c.misses.Add(1)
	version, err := c.VersionSource.GetVersion(ctx, tenantID, projectID, promptID, versionID)
	if err != nil {
		return nil, err
	}

	c.local.Add(key, cloneVersion(version))
	if c.shared != nil {
		if err := c.shared.SetVersion(ctx, key, version); err != nil {
			c.logger.Warn("shared version cache write failed", "key", key, "error", err)
		}
	}
	return version, nil
}

func (c *VersionCache) Stats() VersionCacheStats {
	return VersionCacheStats{
		Size:       c.local.Len(),
		LocalHits:  c.localHits.Load(),
		SharedHits: c.sharedHits.Load(),
		Misses:     c.misses.Load(),
	}
}

func versionCacheKey(tenantID string, projectID, promptID, versionID int64) string {
	return strconv.Quote(tenantID) + ":" +
		strconv.FormatInt(projectID, 10) + ":" +
		strconv.FormatInt(promptID, 10) + ":" +
		strconv.FormatInt(versionID, 10)
}

func cloneVersion(in *Version) *Version {
	if in == nil {
		return nil
	}
	out := *in
	out.Body = append(json.RawMessage(nil), in.Body...)
	return &out
}

// RedisVersionCache stores versions as JSON under a key prefix.
type RedisVersionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

const defaultRedisKeyPrefix = "promptops:version:"

// redisVersionEntry carries the body as opaque bytes; a stored body is not
// guaranteed to be valid JSON.
type redisVersionEntry struct {
	Version
	Body []byte `json:"raw_body"`
}

func NewRedisVersionCache(client *redis.Client, ttl time.Duration) *RedisVersionCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisVersionCache{
		client: client,
		prefix: defaultRedisKeyPrefix,
		ttl:    ttl,
	}
}

// OpenRedis parses a redis:// URL and verifies the server answers.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisVersionCache) GetVersion(ctx context.Context, key string) (*Version, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var entry redisVersionEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cached version: %w", err)
	}
	version := entry.Version
	version.Body = json.RawMessage(entry.Body)
	return &version, true, nil
}

func (c *RedisVersionCache) SetVersion(ctx context.Context, key string, version *Version) error {
	if version == nil {
		return nil
	}
	entry := redisVersionEntry{Version: *version, Body: []byte(version.Body)}
	entry.Version.Body = nil
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode version: %w", err)
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ongoingai/promptops/internal/config"
	"github.com/ongoingai/promptops/internal/execlog"
	"github.com/ongoingai/promptops/internal/executor"
	"github.com/ongoingai/promptops/internal/limits"
	"github.com/ongoingai/promptops/internal/observability"
	"github.com/ongoingai/promptops/internal/prompt"
	"github.com/ongoingai/promptops/internal/providers"
	"github.com/ongoingai/promptops/internal/scheduler"
	"github.com/ongoingai/promptops/internal/sqlstore"
)

// dependencies is everything serve and exec share: storage, the version
// cache, providers and the executor built on top of them.
type dependencies struct {
	db         *sql.DB
	redis      *redis.Client
	Prompts    prompt.AdminStore
	Records    execlog.RecordStore
	Blobs      execlog.BlobStore
	Dispatcher *providers.Dispatcher
	Executor   *executor.Executor
}

func buildDependencies(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
	otelRuntime *observability.Runtime,
	sched scheduler.Scheduler,
) (*dependencies, error) {
	deps := &dependencies{}
	ok := false
	defer func() {
		if !ok {
			deps.Close(logger)
		}
	}()

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		return nil, err
	}
	deps.db = db

	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "sqlite":
		if deps.Prompts, err = prompt.NewSQLiteStore(db); err != nil {
			return nil, err
		}
		if deps.Records, err = execlog.NewSQLiteStore(db); err != nil {
			return nil, err
		}
	case "postgres":
		if deps.Prompts, err = prompt.NewPostgresStore(db); err != nil {
			return nil, err
		}
		if deps.Records, err = execlog.NewPostgresStore(db); err != nil {
			return nil, err
		}
	}

	if deps.Blobs, err = openBlobStore(ctx, cfg, db); err != nil {
		return nil, err
	}

	var versions prompt.Store = deps.Prompts
	if cfg.Cache.Size > 0 {
		var shared prompt.SharedVersionCache
		if redisURL := strings.TrimSpace(cfg.Cache.RedisURL); redisURL != "" {
			client, err := prompt.OpenRedis(ctx, redisURL)
			if err != nil {
				return nil, fmt.Errorf("open shared version cache: %w", err)
			}
			deps.redis = client
			shared = prompt.NewRedisVersionCache(client, cfg.Cache.TTL())
		}
		cache, err := prompt.NewVersionCache(deps.Prompts, cfg.Cache.Size, shared, logger)
		if err != nil {
			return nil, err
		}
		versions = cache
	}

	if deps.Dispatcher, err = buildDispatcher(ctx, cfg.Providers); err != nil {
		return nil, err
	}

	options := executor.Options{
		Store:      versions,
		Dispatcher: deps.Dispatcher,
		Records:    deps.Records,
		Blobs:      deps.Blobs,
		Scheduler:  sched,
		Logger:     logger,
	}
	limiter := limits.NewTenantLimiter(deps.Records, limits.Policy{
		RequestsPerSecond: cfg.Limits.RequestsPerSecond,
		Burst:             cfg.Limits.Burst,
		MaxTokensPerDay:   cfg.Limits.MaxTokensPerDay,
		MaxCostUSDPerDay:  cfg.Limits.MaxCostUSDPerDay,
	})
	if limiter.Enabled() {
		options.Limiter = limiter
	}
	if otelRuntime.Enabled() {
		options.Metrics = otelRuntime
	}
	if deps.Executor, err = executor.New(options); err != nil {
		return nil, err
	}

	ok = true
	return deps, nil
}

func openDatabase(cfg config.StorageConfig) (*sql.DB, error) {
	switch strings.TrimSpace(cfg.Driver) {
	case "sqlite":
		db, err := sqlstore.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite storage: %w", err)
		}
		return db, nil
	case "postgres":
		db, err := sqlstore.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres storage: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported storage.driver %q", cfg.Driver)
	}
}

func openBlobStore(ctx context.Context, cfg config.Config, db *sql.DB) (execlog.BlobStore, error) {
	if strings.TrimSpace(cfg.Blobs.Driver) == config.BlobDriverMinIO {
		minio := cfg.Blobs.MinIO
		store, err := execlog.NewMinIOBlobStore(ctx, execlog.MinIOConfig{
			Endpoint:  minio.Endpoint,
			Bucket:    minio.Bucket,
			AccessKey: minio.AccessKey,
			SecretKey: minio.SecretKey,
			Region:    minio.Region,
			UseSSL:    minio.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize minio artifact store: %w", err)
		}
		return store, nil
	}
	store, err := execlog.NewDBBlobStore(db, cfg.Storage.Driver)
	if err != nil {
		return nil, fmt.Errorf("initialize artifact store: %w", err)
	}
	return store, nil
}

func buildDispatcher(ctx context.Context, cfg config.ProvidersConfig) (*providers.Dispatcher, error) {
	var enabled []providers.Provider
	if p := cfg.OpenAI; p.Enabled {
		enabled = append(enabled, providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       p.APIKey(),
			Organization: p.Organization,
			Endpoint:     providerEndpoint(p),
			HTTPClient:   providers.NewHTTPClient(p.Timeout(), nil),
		}))
	}
	if p := cfg.Google; p.Enabled {
		enabled = append(enabled, providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:     p.APIKey(),
			Endpoint:   providerEndpoint(p),
			HTTPClient: providers.NewHTTPClient(p.Timeout(), nil),
		}))
	}
	if p := cfg.Anthropic; p.Enabled {
		enabled = append(enabled, providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:     p.APIKey(),
			Endpoint:   providerEndpoint(p),
			HTTPClient: providers.NewHTTPClient(p.Timeout(), nil),
		}))
	}
	if p := cfg.Bedrock; p.Enabled {
		bedrock, err := providers.NewBedrockProvider(ctx, providers.BedrockConfig{
			Region:     p.Region,
			Endpoint:   providerEndpoint(p),
			HTTPClient: providers.NewHTTPClient(p.Timeout(), nil),
		})
		if err != nil {
			return nil, fmt.Errorf("initialize bedrock provider: %w", err)
		}
		enabled = append(enabled, bedrock)
	}
	return providers.NewDispatcher(enabled...), nil
}

func providerEndpoint(cfg config.ProviderConfig) providers.Endpoint {
	return providers.Endpoint{
		BaseURL:      cfg.BaseURL,
		ProxyBaseURL: cfg.ProxyBaseURL,
	}
}

// Ping reports whether the relational store answers.
func (d *dependencies) Ping(ctx context.Context) error {
	if d == nil || d.db == nil {
		return fmt.Errorf("storage is not initialized")
	}
	return d.db.PingContext(ctx)
}

func (d *dependencies) Close(logger *slog.Logger) {
	if d == nil {
		return
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil && logger != nil {
			logger.Error("failed to close redis client", "error", err)
		}
		d.redis = nil
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil && logger != nil {
			logger.Error("failed to close storage", "error", err)
		}
		d.db = nil
	}
}

func newBackgroundScheduler(cfg config.Config, logger *slog.Logger, otelRuntime *observability.Runtime) *scheduler.Background {
	background := scheduler.NewBackground(scheduler.Options{
		QueueSize:   cfg.Scheduler.QueueSize,
		Workers:     cfg.Scheduler.Workers,
		TaskTimeout: cfg.Scheduler.TaskTimeout(),
	})
	background.SetFailureHandler(executor.FailureLogger(logger, executorMetrics(otelRuntime)))
	if otelRuntime.Enabled() {
		background.SetMetrics(&scheduler.Metrics{
			OnInline: otelRuntime.RecordSchedulerInline,
		})
	}
	return background
}

func newInlineScheduler(cfg config.Config, logger *slog.Logger, otelRuntime *observability.Runtime) *scheduler.Inline {
	return scheduler.NewInline(cfg.Scheduler.TaskTimeout(), executor.FailureLogger(logger, executorMetrics(otelRuntime)))
}

func executorMetrics(otelRuntime *observability.Runtime) executor.Metrics {
	if !otelRuntime.Enabled() {
		return nil
	}
	return otelRuntime
}

func shutdownScheduler(logger *slog.Logger, background *scheduler.Background, timeout time.Duration) {
	if background == nil {
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := background.Shutdown(ctx); err != nil {
		if logger != nil {
			logger.Error(
				"failed to flush pending execution logs before shutdown",
				"error", err,
				"timeout", timeout.String(),
				"queue_depth", background.QueueLen(),
			)
		}
		return
	}

	if logger != nil {
		logger.Info("flushed pending execution logs before shutdown", "duration_ms", time.Since(start).Milliseconds())
	}
}

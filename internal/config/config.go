package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Blobs         BlobsConfig         `yaml:"blobs"`
	Cache         CacheConfig         `yaml:"cache"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Limits        LimitsConfig        `yaml:"limits"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

const (
	BlobDriverDB    = "db"
	BlobDriverMinIO = "minio"
)

type BlobsConfig struct {
	Driver string      `yaml:"driver"`
	MinIO  MinIOConfig `yaml:"minio"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CacheConfig sizes the prompt version cache. RedisURL enables the shared
// tier; an empty value keeps the cache process-local.
type CacheConfig struct {
	Size     int    `yaml:"size"`
	RedisURL string `yaml:"redis_url"`
	TTLMS    int    `yaml:"ttl_ms"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMS) * time.Millisecond
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Google    ProviderConfig `yaml:"google"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	Bedrock   ProviderConfig `yaml:"bedrock"`
}

type ProviderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BaseURL      string `yaml:"base_url"`
	ProxyBaseURL string `yaml:"proxy_base_url"`
	APIKeyEnv    string `yaml:"api_key_env"`
	Organization string `yaml:"organization"`
	Region       string `yaml:"region"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

// APIKey reads the credential from the environment variable named by
// api_key_env. Keys are never stored in the config file.
func (c ProviderConfig) APIKey() string {
	name := strings.TrimSpace(c.APIKeyEnv)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

const (
	SchedulerModeBackground = "background"
	SchedulerModeInline     = "inline"
)

type SchedulerConfig struct {
	Mode              string `yaml:"mode"`
	QueueSize         int    `yaml:"queue_size"`
	Workers           int    `yaml:"workers"`
	TaskTimeoutMS     int    `yaml:"task_timeout_ms"`
	ShutdownTimeoutMS int    `yaml:"shutdown_timeout_ms"`
}

func (c SchedulerConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMS) * time.Millisecond
}

func (c SchedulerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// LimitsConfig applies to every tenant. Zero values disable a limit.
type LimitsConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxTokensPerDay   int64   `yaml:"max_tokens_per_day"`
	MaxCostUSDPerDay  float64 `yaml:"max_cost_usd_per_day"`
}

// AuthConfig controls API key checks. With auth disabled every request acts
// as an admin of Tenant.
type AuthConfig struct {
	Enabled bool           `yaml:"enabled"`
	Header  string         `yaml:"header"`
	Keys    []APIKeyConfig `yaml:"keys"`
	Tenant  string         `yaml:"tenant"`
}

// APIKeyConfig binds a key to the tenant whose data it may touch. Either
// token or token_hash (hex sha256 of the token) must be set.
type APIKeyConfig struct {
	ID        string `yaml:"id"`
	Token     string `yaml:"token"`
	TokenHash string `yaml:"token_hash"`
	TenantID  string `yaml:"tenant_id"`
	Role      string `yaml:"role"`
}

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Endpoint               string  `yaml:"endpoint"`
	Insecure               bool    `yaml:"insecure"`
	ServiceName            string  `yaml:"service_name"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
	SamplingRatio          float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
}

const (
	defaultOTELEndpoint               = "localhost:4318"
	defaultOTELServiceName            = "promptops"
	defaultOTELSamplingRatio          = 1.0
	defaultOTELExportTimeoutMS        = 3000
	defaultOTELMetricExportIntervalMS = 10000
)

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./data/promptops.db",
		},
		Blobs: BlobsConfig{
			Driver: BlobDriverDB,
			MinIO: MinIOConfig{
				Bucket: "promptops-logs",
			},
		},
		Cache: CacheConfig{
			Size:  1024,
			TTLMS: 3_600_000,
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				Enabled:   true,
				BaseURL:   "https://api.openai.com/v1",
				APIKeyEnv: "OPENAI_API_KEY",
				TimeoutMS: 120_000,
			},
			Google: ProviderConfig{
				Enabled:   true,
				BaseURL:   "https://generativelanguage.googleapis.com",
				APIKeyEnv: "GOOGLE_API_KEY",
				TimeoutMS: 120_000,
			},
			Anthropic: ProviderConfig{
				Enabled:   true,
				BaseURL:   "https://api.anthropic.com",
				APIKeyEnv: "ANTHROPIC_API_KEY",
				TimeoutMS: 120_000,
			},
			Bedrock: ProviderConfig{
				Enabled:   false,
				TimeoutMS: 120_000,
			},
		},
		Scheduler: SchedulerConfig{
			Mode:              SchedulerModeBackground,
			QueueSize:         256,
			Workers:           2,
			TaskTimeoutMS:     30_000,
			ShutdownTimeoutMS: 10_000,
		},
		Auth: AuthConfig{
			Enabled: false,
			Header:  "X-PromptOps-Key",
			Tenant:  "default",
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:                false,
				Endpoint:               defaultOTELEndpoint,
				Insecure:               true,
				ServiceName:            defaultOTELServiceName,
				TracesEnabled:          true,
				MetricsEnabled:         true,
				SamplingRatio:          defaultOTELSamplingRatio,
				ExportTimeoutMS:        defaultOTELExportTimeoutMS,
				MetricExportIntervalMS: defaultOTELMetricExportIntervalMS,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
			// A trailing document would silently be ignored.
			var trailing any
			trailingErr := decoder.Decode(&trailing)
			if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
			}
			if trailing != nil {
				return Config{}, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", cfg.Server.Port)
	}

	switch strings.TrimSpace(cfg.Storage.Driver) {
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres (got %q)", cfg.Storage.Driver)
	}

	switch strings.TrimSpace(cfg.Blobs.Driver) {
	case BlobDriverDB:
	case BlobDriverMinIO:
		if strings.TrimSpace(cfg.Blobs.MinIO.Endpoint) == "" {
			return errors.New("blobs.minio.endpoint is required when blobs.driver=minio")
		}
		if strings.TrimSpace(cfg.Blobs.MinIO.Bucket) == "" {
			return errors.New("blobs.minio.bucket is required when blobs.driver=minio")
		}
	default:
		return fmt.Errorf("blobs.driver must be one of db, minio (got %q)", cfg.Blobs.Driver)
	}

	if cfg.Cache.Size < 0 {
		return fmt.Errorf("cache.size must be >= 0 (got %d)", cfg.Cache.Size)
	}
	if redisURL := strings.TrimSpace(cfg.Cache.RedisURL); redisURL != "" {
		parsed, err := url.Parse(redisURL)
		if err != nil {
			return fmt.Errorf("parse cache.redis_url: %w", err)
		}
		if parsed.Scheme != "redis" && parsed.Scheme != "rediss" {
			return fmt.Errorf("cache.redis_url must use redis:// or rediss:// (got %q)", cfg.Cache.RedisURL)
		}
		if cfg.Cache.TTLMS <= 0 {
			return fmt.Errorf("cache.ttl_ms must be > 0 when cache.redis_url is set (got %d)", cfg.Cache.TTLMS)
		}
	}

	providers := []struct {
		name string
		cfg  ProviderConfig
	}{
		{"providers.openai", cfg.Providers.OpenAI},
		{"providers.google", cfg.Providers.Google},
		{"providers.anthropic", cfg.Providers.Anthropic},
		{"providers.bedrock", cfg.Providers.Bedrock},
	}
	enabled := 0
	for _, provider := range providers {
		if !provider.cfg.Enabled {
			continue
		}
		enabled++
		if err := validateProvider(provider.name, provider.cfg); err != nil {
			return err
		}
	}
	if enabled == 0 {
		return errors.New("providers: at least one provider must be enabled")
	}

	if err := validateScheduler(cfg.Scheduler); err != nil {
		return err
	}

	if cfg.Limits.RequestsPerSecond < 0 {
		return fmt.Errorf("limits.requests_per_second must be >= 0 (got %f)", cfg.Limits.RequestsPerSecond)
	}
	if cfg.Limits.Burst < 0 {
		return fmt.Errorf("limits.burst must be >= 0 (got %d)", cfg.Limits.Burst)
	}
	if cfg.Limits.MaxTokensPerDay < 0 {
		return fmt.Errorf("limits.max_tokens_per_day must be >= 0 (got %d)", cfg.Limits.MaxTokensPerDay)
	}
	if cfg.Limits.MaxCostUSDPerDay < 0 {
		return fmt.Errorf("limits.max_cost_usd_per_day must be >= 0 (got %f)", cfg.Limits.MaxCostUSDPerDay)
	}

	if err := validateAuth(cfg.Auth); err != nil {
		return err
	}
	if err := validateOTelConfig(cfg.Observability.OTel); err != nil {
		return err
	}

	return nil
}

func validateScheduler(cfg SchedulerConfig) error {
	switch strings.TrimSpace(cfg.Mode) {
	case SchedulerModeBackground:
		if cfg.QueueSize <= 0 {
			return fmt.Errorf("scheduler.queue_size must be > 0 (got %d)", cfg.QueueSize)
		}
		if cfg.Workers <= 0 {
			return fmt.Errorf("scheduler.workers must be > 0 (got %d)", cfg.Workers)
		}
		if cfg.ShutdownTimeoutMS <= 0 {
			return fmt.Errorf("scheduler.shutdown_timeout_ms must be > 0 (got %d)", cfg.ShutdownTimeoutMS)
		}
	case SchedulerModeInline:
	default:
		return fmt.Errorf("scheduler.mode must be one of background, inline (got %q)", cfg.Mode)
	}
	if cfg.TaskTimeoutMS <= 0 {
		return fmt.Errorf("scheduler.task_timeout_ms must be > 0 (got %d)", cfg.TaskTimeoutMS)
	}
	return nil
}

func validateAuth(cfg AuthConfig) error {
	if strings.TrimSpace(cfg.Header) == "" {
		return errors.New("auth.header must not be empty")
	}
	if !cfg.Enabled {
		if strings.TrimSpace(cfg.Tenant) == "" {
			return errors.New("auth.tenant is required when auth.enabled=false")
		}
		return nil
	}
	if len(cfg.Keys) == 0 {
		return errors.New("auth.keys must not be empty when auth.enabled=true")
	}
	seen := make(map[string]struct{}, len(cfg.Keys))
	for idx, key := range cfg.Keys {
		name := fmt.Sprintf("auth.keys[%d]", idx)
		id := strings.TrimSpace(key.ID)
		if id == "" {
			return fmt.Errorf("%s.id is required", name)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%s.id %q is duplicated", name, key.ID)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(key.TenantID) == "" {
			return fmt.Errorf("%s.tenant_id is required", name)
		}
		token := strings.TrimSpace(key.Token)
		hash := strings.TrimSpace(key.TokenHash)
		if token == "" && hash == "" {
			return fmt.Errorf("%s requires token or token_hash", name)
		}
		if token != "" && hash != "" {
			return fmt.Errorf("%s must set only one of token, token_hash", name)
		}
		if hash != "" && !isSHA256Hex(hash) {
			return fmt.Errorf("%s.token_hash must be 64 hex characters", name)
		}
		switch strings.ToLower(strings.TrimSpace(key.Role)) {
		case "", "admin", "developer", "viewer":
		default:
			return fmt.Errorf("%s.role must be one of admin, developer, viewer (got %q)", name, key.Role)
		}
	}
	return nil
}

func isSHA256Hex(value string) bool {
	if len(value) != 64 {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("observability.otel.endpoint is required when observability.otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("observability.otel.service_name is required when observability.otel.enabled=true")
	}
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return errors.New("observability.otel requires traces_enabled and/or metrics_enabled when enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("observability.otel.sampling_ratio must be between 0 and 1 (got %f)", cfg.SamplingRatio)
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("observability.otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	if cfg.MetricExportIntervalMS <= 0 {
		return fmt.Errorf("observability.otel.metric_export_interval_ms must be > 0 (got %d)", cfg.MetricExportIntervalMS)
	}
	return nil
}

func validateProvider(name string, provider ProviderConfig) error {
	if err := validateOptionalURL(name+".base_url", provider.BaseURL); err != nil {
		return err
	}
	if err := validateOptionalURL(name+".proxy_base_url", provider.ProxyBaseURL); err != nil {
		return err
	}
	if provider.TimeoutMS < 0 {
		return fmt.Errorf("%s.timeout_ms must be >= 0 (got %d)", name, provider.TimeoutMS)
	}
	return nil
}

func validateOptionalURL(name, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("%s must include scheme and host (got %q)", name, value)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("PROMPTOPS_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PROMPTOPS_PORT"); port != "" {
		v, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PROMPTOPS_PORT: %w", err)
		}
		cfg.Server.Port = v
	}

	if storageDriver := os.Getenv("PROMPTOPS_STORAGE_DRIVER"); storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if storagePath := os.Getenv("PROMPTOPS_STORAGE_PATH"); storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if storageDSN := os.Getenv("PROMPTOPS_STORAGE_DSN"); storageDSN != "" {
		cfg.Storage.DSN = storageDSN
	}

	if blobDriver := os.Getenv("PROMPTOPS_BLOBS_DRIVER"); blobDriver != "" {
		cfg.Blobs.Driver = blobDriver
	}
	if endpoint := os.Getenv("PROMPTOPS_MINIO_ENDPOINT"); endpoint != "" {
		cfg.Blobs.MinIO.Endpoint = endpoint
	}
	if accessKey := os.Getenv("PROMPTOPS_MINIO_ACCESS_KEY"); accessKey != "" {
		cfg.Blobs.MinIO.AccessKey = accessKey
	}
	if secretKey := os.Getenv("PROMPTOPS_MINIO_SECRET_KEY"); secretKey != "" {
		cfg.Blobs.MinIO.SecretKey = secretKey
	}

	if redisURL := os.Getenv("PROMPTOPS_REDIS_URL"); redisURL != "" {
		cfg.Cache.RedisURL = redisURL
	}

	if mode := os.Getenv("PROMPTOPS_SCHEDULER_MODE"); mode != "" {
		cfg.Scheduler.Mode = mode
	}
	if workers := os.Getenv("PROMPTOPS_SCHEDULER_WORKERS"); workers != "" {
		v, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid PROMPTOPS_SCHEDULER_WORKERS: %w", err)
		}
		cfg.Scheduler.Workers = v
	}

	if rps := os.Getenv("PROMPTOPS_LIMITS_RPS"); rps != "" {
		v, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return fmt.Errorf("invalid PROMPTOPS_LIMITS_RPS: %w", err)
		}
		cfg.Limits.RequestsPerSecond = v
	}

	if authEnabled := os.Getenv("PROMPTOPS_AUTH_ENABLED"); authEnabled != "" {
		v, err := strconv.ParseBool(authEnabled)
		if err != nil {
			return fmt.Errorf("invalid PROMPTOPS_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = v
	}
	if authHeader := os.Getenv("PROMPTOPS_AUTH_HEADER"); authHeader != "" {
		cfg.Auth.Header = authHeader
	}

	return applyOTelEnv(&cfg.Observability.OTel)
}

func applyOTelEnv(cfg *OTelConfig) error {
	otelConfigured := false
	otelSDKDisabledSet := false
	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.Enabled = !v
		otelSDKDisabledSet = true
		otelConfigured = true
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Endpoint = endpoint
		otelConfigured = true
	}
	if insecure := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); insecure != "" {
		v, err := strconv.ParseBool(insecure)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Insecure = v
		otelConfigured = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.ServiceName = serviceName
		otelConfigured = true
	}
	if tracesExporter := strings.TrimSpace(os.Getenv("OTEL_TRACES_EXPORTER")); tracesExporter != "" {
		enabled, err := otelExporterEnabled(tracesExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_EXPORTER: %w", err)
		}
		cfg.TracesEnabled = enabled
		otelConfigured = true
	}
	if metricsExporter := strings.TrimSpace(os.Getenv("OTEL_METRICS_EXPORTER")); metricsExporter != "" {
		enabled, err := otelExporterEnabled(metricsExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRICS_EXPORTER: %w", err)
		}
		cfg.MetricsEnabled = enabled
		otelConfigured = true
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.SamplingRatio = v
		otelConfigured = true
	}
	if exportTimeout := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT")); exportTimeout != "" {
		v, err := strconv.Atoi(exportTimeout)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_TIMEOUT: %w", err)
		}
		cfg.ExportTimeoutMS = v
		otelConfigured = true
	}
	if metricExportInterval := strings.TrimSpace(os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")); metricExportInterval != "" {
		v, err := strconv.Atoi(metricExportInterval)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRIC_EXPORT_INTERVAL: %w", err)
		}
		cfg.MetricExportIntervalMS = v
		otelConfigured = true
	}
	if otelConfigured && !otelSDKDisabledSet {
		cfg.Enabled = true
	}
	return nil
}

func otelExporterEnabled(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "otlp":
		return true, nil
	case "none":
		return false, nil
	default:
		return false, fmt.Errorf("must be one of otlp, none (got %q)", value)
	}
}

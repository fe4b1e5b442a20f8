package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ongoingai/promptops/internal/api"
	"github.com/ongoingai/promptops/internal/auth"
	"github.com/ongoingai/promptops/internal/config"
	"github.com/ongoingai/promptops/internal/observability"
	"github.com/ongoingai/promptops/internal/scheduler"
	"github.com/ongoingai/promptops/internal/version"
)

const defaultConfigPath = "promptops.yaml"

const otelShutdownTimeout = 5 * time.Second
const serverShutdownTimeout = 5 * time.Second
const serverReadHeaderTimeout = 10 * time.Second
const serverReadTimeout = 30 * time.Second
const serverIdleTimeout = 2 * time.Minute

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return runServe(nil, os.Stdout, os.Stderr)
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return 0
	case "serve":
		return runServe(args[1:], os.Stdout, os.Stderr)
	case "exec":
		return runExec(args[1:], os.Stdin, os.Stdout, os.Stderr)
	case "migrate":
		return runMigrate(args[1:], os.Stdout, os.Stderr)
	case "config":
		return runConfig(args[1:], os.Stdout, os.Stderr)
	default:
		printUsage(os.Stderr)
		return 2
	}
}

func runConfig(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printConfigUsage(errOut)
		return 2
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], out, errOut)
	default:
		printConfigUsage(errOut)
		return 2
	}
}

func runConfigValidate(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("config validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "config validate does not accept positional arguments")
		return 2
	}

	if _, _, err := loadAndValidateConfig(*configPath); err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "config is valid: %s\n", *configPath)
	return 0
}

func runServe(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, ok := loadConfigOrReport(*configPath, errOut)
	if !ok {
		return 1
	}

	logger := newLogger(out)
	otelRuntime, otelErr := observability.Setup(context.Background(), cfg.Observability.OTel, version.String(), logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
	}
	if otelRuntime != nil {
		defer shutdownOpenTelemetry(logger, otelRuntime, otelShutdownTimeout)
	}

	var sched scheduler.Scheduler
	var background *scheduler.Background
	if strings.TrimSpace(cfg.Scheduler.Mode) == config.SchedulerModeInline {
		sched = newInlineScheduler(cfg, logger, otelRuntime)
	} else {
		background = newBackgroundScheduler(cfg, logger, otelRuntime)
		background.Start(context.Background())
		sched = background
	}

	deps, err := buildDependencies(context.Background(), cfg, logger, otelRuntime, sched)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize: %v\n", err)
		if background != nil {
			shutdownScheduler(logger, background, cfg.Scheduler.ShutdownTimeout())
		}
		return 1
	}
	defer deps.Close(logger)
	// Drains queued log writes before storage closes.
	if background != nil {
		defer shutdownScheduler(logger, background, cfg.Scheduler.ShutdownTimeout())
	}

	authorizer, err := auth.NewAuthorizer(authOptionsFromConfig(cfg.Auth))
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize auth config: %v\n", err)
		return 1
	}

	routerOptions := api.RouterOptions{
		AppVersion:    version.String(),
		Executor:      deps.Executor,
		Prompts:       deps.Prompts,
		Records:       deps.Records,
		Blobs:         deps.Blobs,
		SchedulerMode: cfg.Scheduler.Mode,
		Providers:     deps.Dispatcher.Names(),
		StorageDriver: cfg.Storage.Driver,
		Ping:          deps.Ping,
		AuthHeader:    authorizer.HeaderName(),
		Logger:        logger,
	}
	if background != nil {
		routerOptions.Scheduler = background
	}

	var handler http.Handler = api.NewRouter(routerOptions)
	handler = otelRuntime.SpanEnrichmentMiddleware(handler)
	handler = auth.Middleware(authorizer, auth.MiddlewareOptions{
		AuditRecorder: newAuthAuditRecorder(logger),
	}, handler)
	handler = otelRuntime.WrapHTTPHandler(handler)
	server := newServer(cfg, logger, handler)

	logger.Info(
		"startup banner",
		"version", version.String(),
		"addr", server.Addr,
		"storage_driver", cfg.Storage.Driver,
		"blob_driver", cfg.Blobs.Driver,
		"scheduler_mode", cfg.Scheduler.Mode,
		"providers", deps.Dispatcher.Names(),
		"cache_size", cfg.Cache.Size,
		"shared_cache", strings.TrimSpace(cfg.Cache.RedisURL) != "",
		"config_path", *configPath,
		"auth_enabled", cfg.Auth.Enabled,
	)

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown", "error", err)
			return 1
		}
		logger.Info("promptops stopped")
		return 0
	case err := <-errCh:
		if err != nil {
			logger.Error("promptops failed", "error", err)
			return 1
		}
		return 0
	}
}

func newServer(cfg config.Config, logger *slog.Logger, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           api.LoggingMiddleware(logger, handler),
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
}

// newLogger writes JSON lines that carry the trace id of the request being
// served.
func newLogger(out io.Writer) *slog.Logger {
	return slog.New(observability.NewTraceLogHandler(
		slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}),
	))
}

func authOptionsFromConfig(cfg config.AuthConfig) auth.Options {
	keys := make([]auth.KeyConfig, 0, len(cfg.Keys))
	for _, key := range cfg.Keys {
		keys = append(keys, auth.KeyConfig{
			ID:        key.ID,
			Token:     key.Token,
			TokenHash: key.TokenHash,
			TenantID:  key.TenantID,
			Role:      key.Role,
		})
	}
	return auth.Options{
		Enabled:       cfg.Enabled,
		Header:        cfg.Header,
		Keys:          keys,
		DefaultTenant: cfg.Tenant,
	}
}

func newAuthAuditRecorder(logger *slog.Logger) auth.AuditRecorder {
	if logger == nil {
		return nil
	}
	return func(req *http.Request, event auth.AuditEvent) {
		ctx := context.Background()
		if req != nil {
			ctx = req.Context()
		}
		logger.WarnContext(
			ctx,
			"audit api auth deny",
			"audit_outcome", strings.TrimSpace(event.Outcome),
			"audit_reason", strings.TrimSpace(event.Reason),
			"status_code", event.StatusCode,
			"path", strings.TrimSpace(event.Path),
			"audit_resource", strings.TrimSpace(event.Resource),
			"required_permission", string(event.RequiredPermission),
			"key_id", strings.TrimSpace(event.KeyID),
			"tenant_id", strings.TrimSpace(event.TenantID),
		)
	}
}

func shutdownOpenTelemetry(logger *slog.Logger, runtime *observability.Runtime, timeout time.Duration) {
	if runtime == nil || !runtime.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := runtime.Shutdown(ctx); err != nil {
		if logger != nil {
			logger.Error("failed to shutdown opentelemetry providers", "error", err, "timeout", timeout.String())
		}
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  promptops serve [--config path/to/promptops.yaml]")
	fmt.Fprintln(out, "  promptops exec [--config path/to/promptops.yaml] [--tenant ID] --project REF --prompt REF [--vars JSON | --vars-file PATH] [--traceparent HEADER] [--format text|json]")
	fmt.Fprintln(out, "  promptops migrate [--config path/to/promptops.yaml] [--format text|json]")
	fmt.Fprintln(out, "  promptops config validate [--config path/to/promptops.yaml]")
	fmt.Fprintln(out, "  promptops version")
}

func printConfigUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  promptops config validate [--config path/to/promptops.yaml]")
}

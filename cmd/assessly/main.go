package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/platinummonkey/assessly/pkg/audit"
	"github.com/platinummonkey/assessly/pkg/config"
	"github.com/platinummonkey/assessly/pkg/httputil"
	"github.com/platinummonkey/assessly/pkg/middleware"
	"github.com/platinummonkey/assessly/pkg/observability"
	"github.com/platinummonkey/assessly/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	port := flag.String("port", "", "Port to listen on (overrides ASSESSLY_PORT)")
	healthPort := flag.String("health-port", "", "Port for /healthz, /readyz and /metrics (overrides ASSESSLY_HEALTH_PORT)")
	backend := flag.String("backend", "", "Grant ledger backend: memory, sqlite, postgres or redis (overrides ASSESSLY_LEDGER_BACKEND)")
	dsn := flag.String("dsn", "", "Ledger database DSN (overrides ASSESSLY_LEDGER_DSN)")
	policyFile := flag.String("policy", "", "YAML policy file (overrides ASSESSLY_POLICY_FILE)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides ASSESSLY_LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *port, *healthPort, *backend, *dsn, *policyFile, *logLevel)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("assessly exited with error")
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, port, healthPort, backend, dsn, policyFile, logLevel string) {
	if port != "" {
		cfg.Server.Port = port
	}
	if healthPort != "" {
		cfg.Server.HealthPort = healthPort
	}
	if backend != "" {
		cfg.Ledger.Backend = backend
	}
	if dsn != "" {
		cfg.Ledger.DSN = dsn
	}
	if policyFile != "" {
		cfg.Policy.File = policyFile
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = observability.ParseLogLevel(logLevel)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, cfg.OTelConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var engineOpts []rbac.Option
	if cfg.Audit.Enabled {
		auditLogger, closeAudit, err := newAuditLogger(cfg.Audit, os.Stdout)
		if err != nil {
			shutdown.Shutdown(context.Background())
			return err
		}
		shutdown.Register("audit", func(context.Context) error { return closeAudit() })
		engineOpts = append(engineOpts, rbac.WithAuditLogger(auditLogger))
	}

	rbacConfig, err := cfg.RBACConfig()
	if err != nil {
		return err
	}
	manager, err := rbac.NewManager(ctx, rbacConfig, logger, metrics, engineOpts...)
	if err != nil {
		shutdown.Shutdown(context.Background())
		return fmt.Errorf("failed to initialize rbac: %w", err)
	}
	shutdown.Register("rbac", func(context.Context) error { return manager.Close() })

	if cfg.Sweeper.Enabled {
		sweeper, err := rbac.NewSweeper(manager.Engine(), cfg.Sweeper.Schedule, logger)
		if err != nil {
			shutdown.Shutdown(context.Background())
			return err
		}
		sweeper.Start()
		shutdown.Register("sweeper", func(ctx context.Context) error {
			sweeper.Stop(ctx)
			return nil
		})
	}

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		limiter = newLimiter(cfg, manager)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      newAPIHandler(cfg, manager, limiter, metrics, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     newHealthHandler(manager, registry),
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	shutdown.RegisterServer("health", healthServer)
	shutdown.RegisterServer("api", apiServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(apiServer, logger.WithField("server", "api")) })
	g.Go(func() error { return serve(healthServer, logger.WithField("server", "health")) })
	if ml, ok := limiter.(*middleware.MemoryLimiter); ok {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.RateLimit.Window)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					ml.Cleanup()
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

func newAPIHandler(cfg *config.Config, manager *rbac.Manager, limiter middleware.Limiter, metrics *observability.Metrics, logger *observability.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.IdentityMiddleware)
	if limiter != nil {
		router.Use(middleware.RateLimitMiddleware(limiter, logger))
	}
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	manager.RegisterRoutes(router)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(router)

	return otelhttp.NewHandler(handler, "assessly.api")
}

// newAuditLogger writes audit events to stdout and, when configured, to a rotating file.
// The returned func closes the file.
func newAuditLogger(cfg config.AuditConfig, stdout io.Writer) (audit.Logger, func() error, error) {
	sinks := []audit.Logger{audit.NewLogrusLogger(stdout)}
	closeFile := func() error { return nil }

	if cfg.File != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			Path:     cfg.File,
			MaxSize:  cfg.FileMaxSize,
			MaxFiles: cfg.FileMaxFiles,
		})
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fileLogger)
		closeFile = fileLogger.Close
	}

	return audit.NewMultiLogger(sinks...), closeFile, nil
}

// newLimiter shares counters through Redis when the ledger already lives there
func newLimiter(cfg *config.Config, manager *rbac.Manager) middleware.Limiter {
	limits := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
		WindowDuration:    cfg.RateLimit.Window,
		BurstSize:         cfg.RateLimit.Burst,
	}
	if client := manager.RedisClient(); client != nil {
		return middleware.NewRedisLimiter(client, limits, cfg.Ledger.RedisKeyPrefix+"ratelimit")
	}
	return middleware.NewMemoryLimiter(limits, nil)
}

func newHealthHandler(manager *rbac.Manager, registry *prometheus.Registry) http.Handler {
	router := mux.NewRouter()
	observability.NewHealthChecker(manager.DB(), manager.RedisClient(), version).RegisterRoutes(router)
	router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	return router
}

func serve(server *http.Server, logger *observability.Logger) error {
	logger.WithField("addr", server.Addr).Info("Listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s failed: %w", server.Addr, err)
	}
	return nil
}

// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health probes and graceful shutdown for assessly.
//
// # Structured Logging
//
// Logger writes JSON through log/slog:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithPermission(user.ID, "teams.manage").Warn("Permission denied")
//
// Request-scoped loggers travel in the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Info("Grant appended")
//
// # Prometheus Metrics
//
// Metrics holds the permission-engine collectors. Every Record method is
// safe on a nil *Metrics:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordCheck(true, "grant", elapsed)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(prometheus.DefaultGatherer))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.RegisterRoutes(router) // /healthz and /readyz
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:  true,
//		Endpoint: "otel-collector:4317",
//		Insecure: true,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/rbac: the instrumented permission engine
//   - pkg/httputil: request logging and recovery middleware
package observability

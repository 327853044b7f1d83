// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry setup for the tenantgate binaries.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", id).Info("tenant created")
//
// Request-scoped loggers travel in the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).WithError(err).Error("authorization failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision("tenants", allowed, err, elapsed)
//
// The authorization engine never touches metrics; decisions are recorded by the
// HTTP layer that calls it.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(redisClient, version)
//	checker.AddDatabase("primary", db)
//	observability.RegisterHealthRoutes(serveMux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability

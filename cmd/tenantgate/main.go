package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/profiles"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
	"github.com/platinummonkey/tenantgate/pkg/storage/postgres"
	"github.com/platinummonkey/tenantgate/pkg/tenants"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("tenantgate exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.WithFields(map[string]interface{}{
		"version": version,
		"port":    cfg.Server.Port,
	}).Info("Starting tenantgate")

	otelProviders, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := postgres.NewConnectionManager(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, replicaErr := range db.ReplicaErrors() {
		logger.WithError(replicaErr).Warn("Replica unavailable at startup")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = postgres.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			db.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	if cfg.Server.RunMigrations {
		if err := rbac.RunMigrations(ctx, db.Primary(), logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Writes go to the primary, decisions read through the dedicated authz
	// pool when one is configured. Replicas can be dropped at runtime, so a
	// long-lived store never holds one.
	store := rbac.NewStore(db.Primary())
	authzStore := store
	if db.HasDedicatedAuthzReader() {
		authzStore = rbac.NewStore(db.AuthzReader())
	}

	if err := seedRolePermissions(ctx, cfg, store, logger); err != nil {
		return err
	}

	var permissionSets rbac.PermissionSetSource = authzStore
	var cache *rbac.CachedPermissionSets
	if cfg.Cache.Enabled {
		cache = rbac.NewCachedPermissionSets(authzStore, redisClient, rbac.CacheConfig{
			Size:     cfg.Cache.L1Size,
			TTL:      cfg.Cache.L1TTL,
			RedisTTL: cfg.Cache.L2TTL,
		}, metrics)
		permissionSets = cache
	}

	engine := rbac.NewEngine(authzStore, permissionSets)
	authorizer := rbac.NewTracedAuthorizer(engine, metrics)

	tenantService := tenants.NewPostgresService(db.Primary())
	profileStore := profiles.NewStore(db.Primary(), profiles.DefaultStoreConfig())

	rbacHandlers := rbac.NewHandlers(rbac.HandlersConfig{
		Store:       store,
		Authorizer:  authorizer,
		Permissions: engine,
		Invalidator: invalidatorFor(cache),
		Members:     tenantService,
	})

	verifier, err := auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
		IssuerURL: cfg.OIDC.IssuerURL,
		ClientID:  cfg.OIDC.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize OIDC verifier: %w", err)
	}

	router := mux.NewRouter()
	router.Use(observability.RecoveryMiddleware(logger))
	router.Use(observability.HTTPMetricsMiddleware(metrics))

	stack := []func(http.Handler) http.Handler{
		middleware.RequestIDMiddleware,
		middleware.LoggingMiddleware(logger),
		middleware.NewAuthMiddleware(verifier, profileStore, false).Handler,
	}
	if cfg.RateLimit.Enabled {
		limiter := newRateLimitMiddleware(ctx, cfg, redisClient)
		limiter.SetOnLimited(metrics.RateLimited)
		stack = append(stack, limiter.Handler)
	}
	stack = append(stack, middleware.TenantContextMiddleware(tenantService))

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(middleware.Chain(stack...))

	rbacHandlers.RegisterRoutes(api)
	tenants.NewHandlers(tenantService, authorizer).RegisterRoutes(api)
	profiles.NewHandlers(profileStore).RegisterRoutes(api)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "tenantgate"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(redisClient, version)
	for name, pool := range db.Pools() {
		checker.AddDatabase(name, pool)
	}
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.AddServer(server)
	shutdown.AddServer(healthServer)
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	// Registered last so it runs first: background loops stop before their clients close.
	shutdown.RegisterShutdownFunc("background", func(context.Context) error {
		cancel()
		return nil
	})

	db.StartHealthCheckRoutine(ctx, func(removed int) {
		logger.WithField("removed", removed).Warn("Removed unhealthy replicas")
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", server.Addr).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	if cache != nil {
		g.Go(func() error {
			return cache.Listen(gctx)
		})
	}
	g.Go(func() error {
		recordPoolStats(gctx, db, metrics)
		return nil
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}

func seedRolePermissions(ctx context.Context, cfg *config.Config, store *rbac.Store, logger *observability.Logger) error {
	if cfg.Seed.File == "" {
		seeded, err := rbac.SeedDefaultsIfEmpty(ctx, store)
		if err != nil {
			return fmt.Errorf("failed to seed default roles: %w", err)
		}
		if seeded {
			logger.Info("Seeded built-in role permissions")
		}
		return nil
	}

	if cfg.Seed.OnlyIfEmpty {
		count, err := store.CountRolePermissionSets(ctx)
		if err != nil {
			return fmt.Errorf("failed to count role permissions: %w", err)
		}
		if count > 0 {
			return nil
		}
	}

	sets, err := rbac.LoadSeed(cfg.Seed.File)
	if err != nil {
		return err
	}
	if err := rbac.ApplySeed(ctx, store, nil, sets); err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"file":  cfg.Seed.File,
		"roles": len(sets),
	}).Info("Applied role permission seed")
	return nil
}

// invalidatorFor avoids handing the handlers a typed nil
func invalidatorFor(cache *rbac.CachedPermissionSets) rbac.Invalidator {
	if cache == nil {
		return nil
	}
	return cache
}

func newRateLimitMiddleware(ctx context.Context, cfg *config.Config, redisClient *redis.Client) *middleware.RateLimitMiddleware {
	userConfig := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
		WindowDuration:    cfg.RateLimit.Window,
		BurstSize:         middleware.PerUserRateLimitConfig().BurstSize,
	}
	anonymousConfig := middleware.DefaultRateLimitConfig()

	if redisClient != nil {
		return middleware.NewRateLimitMiddleware(
			middleware.NewDistributedRateLimiter(redisClient, userConfig, ""),
			middleware.NewDistributedRateLimiter(redisClient, anonymousConfig, ""),
		)
	}

	userLimiter := middleware.NewRateLimiter(userConfig)
	anonymousLimiter := middleware.NewRateLimiter(anonymousConfig)
	userLimiter.StartCleanup(ctx)
	anonymousLimiter.StartCleanup(ctx)
	return middleware.NewRateLimitMiddleware(userLimiter, anonymousLimiter)
}

func recordPoolStats(ctx context.Context, db *postgres.ConnectionManager, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, pool := range db.Pools() {
				metrics.RecordPoolStats(name, pool.Stats())
			}
		}
	}
}

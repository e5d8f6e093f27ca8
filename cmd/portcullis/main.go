package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/portcullis/pkg/api"
	"github.com/platinummonkey/portcullis/pkg/audit"
	"github.com/platinummonkey/portcullis/pkg/auth"
	"github.com/platinummonkey/portcullis/pkg/authz"
	"github.com/platinummonkey/portcullis/pkg/config"
	"github.com/platinummonkey/portcullis/pkg/middleware"
	"github.com/platinummonkey/portcullis/pkg/observability"
	"github.com/platinummonkey/portcullis/pkg/routes"
	"github.com/platinummonkey/portcullis/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
		"auth_mode":   cfg.Auth.Mode,
	}).Info("starting portcullis")

	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}

	db, err := postgres.Connect(postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// The bus being down degrades freshness but the TTL backstop still
		// bounds staleness, so start anyway.
		logger.WithError(err).Warn("invalidation bus unreachable at startup")
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	grantStore := postgres.NewGrantStore(db)
	deptSource := postgres.NewDepartmentSource(db)

	deptIndex := authz.NewDeptIndex()
	if err := deptIndex.Rebuild(ctx, deptSource); err != nil {
		logger.WithError(err).Error("initial department tree build failed")
		os.Exit(1)
	}
	metrics.DeptTreeRebuildsTotal.Inc()
	metrics.DeptTreeSize.Set(float64(deptIndex.Size()))
	logger.WithField("departments", deptIndex.Size()).Info("department tree built")

	resolver := authz.NewResolver(grantStore, deptIndex, nil)
	cache := authz.NewBundleCache(resolver, deptIndex, cfg.Cache.Size, cfg.Cache.TTL)

	authenticator, err := buildAuthenticator(ctx, cfg, db)
	if err != nil {
		logger.WithError(err).Error("failed to build authenticator")
		os.Exit(1)
	}

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		logger.WithError(err).Error("failed to initialize decision audit log")
		os.Exit(1)
	}
	auditRecorder := audit.NewRecorder(auditLogger, logger, 0)

	gate := middleware.NewGate(authenticator, cache, logger, metrics).WithAudit(auditRecorder)

	var server *api.Server
	routeWatcher, err := routes.NewWatcher(cfg.Routes.File, logger, func(table *routes.Table) {
		// The initial load fires before the server exists; it is installed
		// through NewServer below.
		if server != nil {
			server.Reload(table)
		}
	})
	if err != nil {
		logger.WithError(err).Error("failed to load route table")
		os.Exit(1)
	}

	server = api.NewServer(gate, cache, grantStore, logger, metrics, routeWatcher.Table())

	busCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	if cfg.Routes.Watch {
		go func() {
			if err := routeWatcher.Run(busCtx); err != nil && busCtx.Err() == nil {
				logger.WithError(err).Error("route watcher stopped")
			}
		}()
	}

	bus := authz.NewSignalBus(redisClient, cache, deptIndex, deptSource, logger)
	go func() {
		if err := bus.Run(busCtx); err != nil && busCtx.Err() == nil {
			logger.WithError(err).Error("invalidation bus stopped")
		}
	}()

	scheduler := cron.New()
	if schedule := cfg.Observability.DeptRefreshSchedule; schedule != "" {
		_, err := scheduler.AddFunc(schedule, func() {
			if err := deptIndex.Rebuild(context.Background(), deptSource); err != nil {
				logger.WithError(err).Error("scheduled department tree rebuild failed")
				return
			}
			metrics.DeptTreeRebuildsTotal.Inc()
			metrics.DeptTreeSize.Set(float64(deptIndex.Size()))
		})
		if err != nil {
			logger.WithError(err).Error("invalid department refresh schedule")
			os.Exit(1)
		}
		scheduler.Start()
	}

	var handler http.Handler = server
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "portcullis")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := startHealthServer(cfg, db, redisClient, metrics, logger)
	go exportCacheStats(busCtx, cache, metrics)

	go func() {
		logger.Infof("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	sm := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelBackground()
		return nil
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		stopCtx := scheduler.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		return nil
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		auditRecorder.Close()
		return nil
	})
	sm.RegisterShutdownFunc(shutdownTracing)

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

// buildAuthenticator selects the authenticator from config. Both modes
// resolve principals through the database.
func buildAuthenticator(ctx context.Context, cfg *config.Config, db *sql.DB) (middleware.Authenticator, error) {
	tokenStore := postgres.NewTokenStore(db)
	switch cfg.Auth.Mode {
	case "oidc":
		return auth.NewOIDCAuthenticator(ctx, &auth.OIDCConfig{
			IssuerURL:    cfg.Auth.OIDCIssuerURL,
			ClientID:     cfg.Auth.OIDCClientID,
			ClientSecret: cfg.Auth.OIDCClientSecret,
			RedirectURL:  cfg.Auth.OIDCRedirectURL,
			Scopes:       cfg.Auth.OIDCScopes,
		}, tokenStore)
	default:
		return auth.NewTokenAuthenticator(tokenStore), nil
	}
}

// startHealthServer serves probes and the metrics scrape endpoint on the
// dedicated health port.
func startHealthServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client, metrics *observability.Metrics, logger *observability.Logger) *http.Server {
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}

	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		logger.Infof("health endpoints listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()
	return healthServer
}

// exportCacheStats mirrors the bundle cache's internal counters into the
// Prometheus registry on an interval.
func exportCacheStats(ctx context.Context, cache *authz.BundleCache, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var lastHits, lastMisses uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hits, misses, size := cache.Stats()
			metrics.CacheHitsTotal.Add(float64(hits - lastHits))
			metrics.CacheMissesTotal.Add(float64(misses - lastMisses))
			metrics.CacheEntries.Set(float64(size))
			lastHits, lastMisses = hits, misses
		}
	}
}

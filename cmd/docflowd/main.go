// Package main is the entry point for the docflow workflow server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quorumdocs/docflow/internal/config"
	"github.com/quorumdocs/docflow/internal/definition"
	"github.com/quorumdocs/docflow/internal/directory"
	"github.com/quorumdocs/docflow/internal/history"
	"github.com/quorumdocs/docflow/internal/lifecycle"
	"github.com/quorumdocs/docflow/internal/observability"
	"github.com/quorumdocs/docflow/internal/policy"
	"github.com/quorumdocs/docflow/internal/projector"
	"github.com/quorumdocs/docflow/internal/store"
	"github.com/quorumdocs/docflow/internal/transition"
	"github.com/quorumdocs/docflow/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "docflowd", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load workflow definitions, validate, build registry.
	loader := definition.NewLoader()
	files, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	verrs := validator.Validate(files)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return 1
	}

	registry := definition.NewRegistry(files)
	metrics.SetDefinitionsLoaded(float64(len(registry.AllWorkflows())))

	// Step 5: Build the authorization gate.
	gate, err := buildGate(cfg.Policy)
	if err != nil {
		logger.Error("policy initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Initialize the instance store.
	instanceStore, storeCloser, err := buildInstanceStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("instance store initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Initialize the status cache (optional).
	statusCache, cacheCloser := buildStatusCache(cfg.Cache, logger)

	// Step 8: Directory service clients.
	docs := directory.NewDocumentClient(cfg.Directory.Documents, logger)
	users := directory.NewUserClient(cfg.Directory.Users, logger)

	// Step 9: Document custom-fields projector (optional).
	var lifecycleProj lifecycle.Projector
	var transitionProj transition.Projector
	var projCloser func()
	if cfg.Projector.Enabled {
		proj := projector.NewDocumentProjector(docs, cfg.Projector.BufferSize, logger)
		lifecycleProj = proj
		transitionProj = proj
		projCloser = proj.Close
	}

	// Step 10: Build the domain services.
	manager := lifecycle.NewManager(registry, instanceStore, statusCache, lifecycleProj, logger)
	engine := transition.NewEngine(registry, instanceStore, statusCache, gate, users, transitionProj, logger)
	recorder := history.NewRecorder(instanceStore, users, logger)

	// Step 11: Idempotency store (optional).
	idempotencyStore, idemCloser := buildIdempotencyStore(cfg.Idempotency, logger)

	// Step 12: Build the HTTP router.
	var authenticate func(http.Handler) http.Handler
	if cfg.Identity.JWKSURL != "" {
		jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
		authenticate = transport.JWTAuthenticator(cfg.Identity, jwks)
	} else {
		logger.Warn("identity JWKS URL not configured, requests are unauthenticated")
	}

	readinessChecks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(registry.AllWorkflows()) > 0 },
	}
	if hc, ok := instanceStore.(observability.HealthChecker); ok {
		readinessChecks.InstanceStore = hc
	}
	if hc, ok := statusCache.(observability.HealthChecker); ok {
		readinessChecks.StatusCache = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:           cfg,
		Logger:           logger,
		Authenticate:     authenticate,
		Manager:          manager,
		Engine:           engine,
		Recorder:         recorder,
		Registry:         registry,
		Metrics:          metrics,
		IdempotencyStore: idempotencyStore,
		ReadinessChecks:  readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 13: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("workflows", len(registry.AllWorkflows())),
		zap.String("definitions_checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Drain the projector queue before closing stores.
	if projCloser != nil {
		projCloser()
	}
	if cacheCloser != nil {
		cacheCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}
	if storeCloser != nil {
		storeCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildGate creates the authorization gate, loading a policy file when one
// is configured.
func buildGate(cfg config.PolicyConfig) (*policy.Gate, error) {
	if cfg.File == "" {
		return policy.Default(), nil
	}
	return policy.NewGate(cfg.File)
}

// buildInstanceStore creates the workflow instance store based on config.
func buildInstanceStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.InstanceStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory instance store")
		return store.NewMemoryStore(), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" && cfg.DSNEnv != "" {
			return nil, nil, fmt.Errorf("instance store: %s environment variable not set", cfg.DSNEnv)
		}
		if dsn == "" {
			logger.Warn("instance store DSN not configured, using in-memory store")
			return store.NewMemoryStore(), nil, nil
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("instance store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("instance store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("instance store: ping: %w", err)
		}

		return store.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported instance store driver: %q", cfg.Driver)
	}
}

// buildStatusCache creates the workflow status cache based on config.
func buildStatusCache(cfg config.StatusCacheConfig, logger *zap.Logger) (store.StatusCache, func()) {
	switch cfg.Driver {
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			logger.Warn("status cache address not configured, caching disabled",
				zap.String("addr_env", cfg.AddrEnv))
			return store.NoopCache{}, nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		logger.Info("using redis status cache", zap.String("addr", addr))
		return store.NewRedisCache(client, cfg.TTL), func() { _ = client.Close() }
	default:
		return store.NoopCache{}, nil
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns nil when idempotency is disabled, which makes the middleware a
// passthrough.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (transport.IdempotencyStore, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Driver {
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			logger.Warn("idempotency redis address not configured, using in-memory store",
				zap.String("addr_env", cfg.AddrEnv))
			return transport.NewMemoryIdempotencyStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return transport.NewRedisIdempotencyStore(client), func() { _ = client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return transport.NewMemoryIdempotencyStore(), nil
	}
}

// @title           Tenant Service API
// @version         0.1.0
// @description     Multi-tenant organization lifecycle: provisioning, rename with collection migration, deletion and admin login.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Access token from POST /admin/login: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Banner, health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and pprof are served on dedicated ports, never through the Gin router. Configure them with TNT_TELEMETRY_METRICS_PROMETHEUS_PORT and TNT_TELEMETRY_PROFILING_PORT.

// Package main is the entry point for the tenant service binary.
// It dispatches four subcommands (serve, migrate, check and version) via a
// switch on os.Args. serve applies registry migrations on startup.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- served only on the dedicated profiling port, never by the Gin router
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tenant-service/tenant-service/internal/api"
	"github.com/tenant-service/tenant-service/internal/auth"
	"github.com/tenant-service/tenant-service/internal/collections"
	"github.com/tenant-service/tenant-service/internal/config"
	"github.com/tenant-service/tenant-service/internal/db"
	"github.com/tenant-service/tenant-service/internal/db/repositories"
	"github.com/tenant-service/tenant-service/internal/jobs"
	"github.com/tenant-service/tenant-service/internal/middleware"
	"github.com/tenant-service/tenant-service/internal/safego"
	"github.com/tenant-service/tenant-service/internal/services"
	"github.com/tenant-service/tenant-service/internal/storage"
	_ "github.com/tenant-service/tenant-service/internal/storage/local"
	_ "github.com/tenant-service/tenant-service/internal/storage/s3"
	"github.com/tenant-service/tenant-service/internal/telemetry"
)

// errFindings makes check exit non-zero without printing an error
var errFindings = errors.New("registry and collection store disagree")

func main() {
	if err := run(); err != nil {
		if errors.Is(err, errFindings) {
			os.Exit(2)
		}
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("Tenant Service v%s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Telemetry.ServiceName)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "check":
		return check(cfg)
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, check, version", command)
	}
}

// stores are the two halves of tenant state
type stores struct {
	database *sqlx.DB
	registry *repositories.RegistryRepository
	store    collections.Store
}

func (s *stores) Close() {
	if err := s.store.Close(); err != nil {
		slog.Warn("failed to close collection store", "error", err)
	}
	if err := s.database.Close(); err != nil {
		slog.Warn("failed to close registry database", "error", err)
	}
}

func openStores(cfg *config.Config) (*stores, error) {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlxDB := sqlx.NewDb(database, "postgres")

	store, err := collections.NewFromConfig(cfg.Collections, sqlxDB)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open collection store: %w", err)
	}
	return &stores{
		database: sqlxDB,
		registry: repositories.NewRegistryRepository(sqlxDB),
		store:    store,
	}, nil
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	secret, err := auth.ResolveSigningSecret(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}
	tokens, err := auth.NewTokenService(secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	hasher, err := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	slog.Info("connecting to registry database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "user", cfg.Database.User, "ssl_mode", cfg.Database.SSLMode)

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	slog.Info("stores opened", "collections_backend", cfg.Collections.Backend)

	if err := db.RunMigrations(st.database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(st.database.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("registry schema ready", "version", version, "dirty", dirty)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	telemetry.StartDBStatsCollector(ctx, st.database.DB, 30*time.Second)

	manager := services.NewTenantManager(st.registry, st.store, hasher, tokens, cfg.Auth.TokenTTL)

	checker := jobs.NewConsistencyChecker(manager, cfg.Jobs.ConsistencyCheckInterval)
	safego.Go("consistency-checker", func() { checker.Start(ctx) })
	defer checker.Stop()

	// a typed nil *CollectionArchiver would defeat the nil check in the readiness check
	var archive api.ArchiveChecker
	if cfg.Archive.Enabled {
		backend, err := storage.NewStorage(&cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to initialize archive backend: %w", err)
		}
		archiver := storage.NewCollectionArchiver(backend)
		manager.WithArchiver(archiver)
		archive = archiver
		slog.Info("archive before delete enabled", "backend", cfg.Archive.Backend)
	}

	var redisClient *redis.Client
	if rl := cfg.Security.RateLimiting; rl.Enabled && rl.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		redisClient, err = middleware.NewRedisClient(pingCtx, rl.RedisAddr, rl.RedisPassword, rl.RedisDB)
		cancel()
		if err != nil {
			// limits still apply, just per instance
			slog.Warn("redis unavailable, falling back to in-memory rate limits", "error", err)
			redisClient = nil
		}
	}

	if cfg.Telemetry.Metrics.Enabled {
		startSideServer("metrics", fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort), metricsMux(), 10*time.Second)
	}
	if cfg.Telemetry.Profiling.Enabled {
		startSideServer("pprof", fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port), http.DefaultServeMux, 30*time.Second)
	}

	router, bgServices := api.NewRouter(api.Dependencies{
		Config:  cfg,
		DB:      st.database.DB,
		Tenants: manager,
		Archive: archive,
		Redis:   redisClient,
	})

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	safego.Go("http-server", func() {
		slog.Info("starting server", "addr", server.Addr, "base_url", cfg.Server.BaseURL, "tls", cfg.Security.TLS.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serveErr:
		bgServices.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()
	slog.Info("server stopped gracefully")
	return nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// startSideServer serves handler on its own port, off the public ingress path
func startSideServer(name, addr string, handler http.Handler, timeout time.Duration) {
	safego.Go(name+"-server", func() {
		slog.Info("starting side server", "server", name, "addr", addr)
		srv := &http.Server{ // #nosec G112 -- internal-only port
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("side server error", "server", name, "error", err)
		}
	})
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}

// check prints a consistency report as JSON on stdout. With archives enabled
// each dangling organization is paired with the archive to restore it from.
func check(cfg *config.Config) error {
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report, err := services.CheckConsistency(ctx, st.registry, st.store)
	if err != nil {
		return err
	}
	if cfg.Archive.Enabled && len(report.Dangling) > 0 {
		backend, err := storage.NewStorage(&cfg.Archive)
		if err != nil {
			return fmt.Errorf("failed to initialize archive backend: %w", err)
		}
		report.AttachArchives(ctx, storage.NewCollectionArchiver(backend))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Clean() {
		return errFindings
	}
	return nil
}

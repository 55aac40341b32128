// @title        Orbit API
// @version      0.1.0
// @description  Workspace permissions and group role synchronization for Orbit.
// @basePath     /
// @schemes      http https
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Workspaces
// @tag.description  Membership, roles, sync configuration and sync triggers of one workspace.

// Package main is the entry point for the Orbit server binary. It dispatches
// four subcommands (serve, migrate, sync and version) via a switch on os.Args.
// The serve command runs migrations on startup.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/orbit-workspaces/orbit/internal/api"
	"github.com/orbit-workspaces/orbit/internal/config"
	"github.com/orbit-workspaces/orbit/internal/db"
	"github.com/orbit-workspaces/orbit/internal/jobs"
	"github.com/orbit-workspaces/orbit/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if command == "version" {
		fmt.Printf("Orbit v%s\n", api.Version)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Telemetry.ServiceName)

	switch command {
	case "serve":
		return serve(cfg, configPath)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "sync":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s sync <workspace-id>", os.Args[0])
		}
		workspaceID, err := strconv.ParseInt(os.Args[2], 10, 64)
		if err != nil || workspaceID <= 0 {
			return fmt.Errorf("invalid workspace id: %s", os.Args[2])
		}
		return runSync(cfg, workspaceID)
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, sync, version", command)
	}
}

// connect opens the database and, when a driver needs it, redis.
func connect(ctx context.Context, cfg *config.Config) (*api.Services, func(), error) {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	var rdb redis.UniversalClient
	if api.NeedsRedis(cfg) {
		rdb, err = api.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			database.Close()
			return nil, nil, err
		}
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	closeAll := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		database.Close()
	}

	svc, err := api.NewServices(cfg, database, rdb)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return svc, func() {
		if err := svc.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
		closeAll()
	}, nil
}

func serve(cfg *config.Config, configPath string) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	svc, closeAll, err := connect(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	telemetry.StartDBStatsCollector(svc.DB)

	slog.Info("running database migrations")
	if err := db.RunMigrations(svc.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(svc.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema version", "version", version, "dirty", dirty)
	}

	// Metrics are served on their own port, away from the public API ingress.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router, bgServices, err := api.NewRouter(cfg, svc)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	if configPath != "" {
		err := config.Watch(configPath, func(next *config.Config) {
			telemetry.SetLogLevel(next.Logging.Level)
			if next.Sync.Enabled {
				bgServices.Reschedule(next.Sync.Schedule)
			}
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		}
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server", "addr", cfg.Server.GetAddress(), "base_url", cfg.Server.BaseURL,
			"permission_cache", cfg.Permissions.CacheDriver, "sync_enabled", cfg.Sync.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// runSync performs one synchronous workspace sync and prints its report.
func runSync(cfg *config.Config, workspaceID int64) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, closeAll, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	report, err := svc.SyncJob.Run(ctx, workspaceID, jobs.TriggerCLI)
	if report != nil {
		fmt.Printf("workspace %d: %d succeeded, %d failed\n", workspaceID, len(report.Succeeded), len(report.Failed))
		for _, f := range report.Failed {
			fmt.Printf("  failed %s (user %d, group role %d): %s\n", f.Op, f.UserID, f.GroupRoleID, f.Error)
		}
	}
	return err
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

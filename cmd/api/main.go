package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/healthtrack/healthtrack-go/internal/catalog"
	"github.com/healthtrack/healthtrack-go/internal/config"
	"github.com/healthtrack/healthtrack-go/internal/functions"
	"github.com/healthtrack/healthtrack-go/internal/handler"
	"github.com/healthtrack/healthtrack-go/internal/identity"
	"github.com/healthtrack/healthtrack-go/internal/lock"
	"github.com/healthtrack/healthtrack-go/internal/repository"
	"github.com/healthtrack/healthtrack-go/internal/service"
)

// redisLockTTL bounds how long a crashed instance can hold the import lock.
const redisLockTTL = 15 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg := config.Load()
	setupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.FromPath(cfg.CatalogPath)
	if err != nil {
		slog.Error("loading table catalog failed", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}
	for _, name := range cfg.ExportPurgeTables {
		if !cat.Has(name) {
			slog.Warn("purge table is not in the catalog and will be ignored", "table", name)
		}
	}
	if cfg.ExportAdminPassword != "" {
		slog.Warn("EXPORT_ADMIN_PASSWORD is deprecated; exports will require it as the encryption password")
	}

	db, err := repository.NewDB(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		slog.Error("opening database failed", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo, err := repository.NewStore(db, cfg.DatabaseDriver)
	if err != nil {
		slog.Error("creating store failed", "error", err)
		os.Exit(1)
	}
	store := service.NewSQLStore(repo)

	var remote service.RemoteFetcher
	if cfg.FunctionsURL != "" {
		remote = functions.NewClient(cfg.FunctionsURL)
	}

	var idp identity.Provider = identity.Nop{}
	if cfg.AuthAdminURL != "" {
		idp = identity.NewGoTrue(cfg.AuthAdminURL, cfg.ServiceRoleKey)
	} else {
		slog.Info("AUTH_ADMIN_URL not set, identity accounts will not be managed")
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		rl, err := lock.NewRedisFromURL(ctx, cfg.RedisURL, redisLockTTL)
		if err != nil {
			slog.Error("connecting to redis failed", "error", err)
			os.Exit(1)
		}
		defer rl.Close()
		locker = rl
	}

	exportService := service.NewExportService(cat, store, remote, idp, service.ExportOptions{
		Concurrency:   cfg.FetchConcurrency,
		PurgeTables:   cfg.ExportPurgeTables,
		AdminPassword: cfg.ExportAdminPassword,
	})
	importService := service.NewImportService(cat, store, locker, idp, cfg.ImportLockTimeout)
	backupHandler := handler.NewBackupHandler(exportService, importService, cfg.MaxImportBytes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(ctx, cfg, backupHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Env, "dialect", repo.Dialect().Name)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

func setupLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.IsProduction() {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

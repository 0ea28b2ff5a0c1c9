package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/healthtrack/healthtrack-go/internal/config"
	"github.com/healthtrack/healthtrack-go/internal/crypto"
	"github.com/healthtrack/healthtrack-go/internal/handler"
	"github.com/healthtrack/healthtrack-go/internal/middleware"
)

func newRouter(ctx context.Context, cfg config.Config, backup *handler.BackupHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.CORS)
	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	tokenOpts := crypto.TokenOptions{Audience: cfg.JWTAudience, Issuer: cfg.JWTIssuer}
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst))
		r.Use(middleware.JWTAuth(cfg.JWTSecret, tokenOpts))

		r.Post("/api/v1/backup/export", backup.HandleExport)
		r.Post("/api/v1/backup/import", backup.HandleImport)

		// Paths used by existing dashboard clients.
		r.Post("/functions/v1/export-database", backup.HandleExport)
		r.Post("/functions/v1/import-database", backup.HandleImport)
	})

	return r
}

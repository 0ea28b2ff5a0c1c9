package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const devJWTSecret = "dev-secret-change-in-production"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Port     string
	Env      string
	LogLevel slog.Level

	DatabaseDriver string
	DatabaseDSN    string

	JWTSecret   string
	JWTAudience string
	JWTIssuer   string

	CatalogPath    string
	FunctionsURL   string
	AuthAdminURL   string
	ServiceRoleKey string

	ExportPurgeTables   []string
	ExportAdminPassword string
	FetchConcurrency    int
	MaxImportBytes      int64
	ImportLockTimeout   time.Duration
	RedisURL            string

	RateLimitRPS   float64
	RateLimitBurst int
}

func Load() Config {
	return Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getLevel("LOG_LEVEL", slog.LevelInfo),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "mysql"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "root:password@tcp(127.0.0.1:3306)/healthtrack?parseTime=true"),

		JWTSecret:   getEnv("JWT_SECRET", devJWTSecret),
		JWTAudience: getEnv("JWT_AUDIENCE", "authenticated"),
		JWTIssuer:   os.Getenv("JWT_ISSUER"),

		CatalogPath:    os.Getenv("CATALOG_PATH"),
		FunctionsURL:   os.Getenv("FUNCTIONS_URL"),
		AuthAdminURL:   os.Getenv("AUTH_ADMIN_URL"),
		ServiceRoleKey: os.Getenv("SERVICE_ROLE_KEY"),

		ExportPurgeTables:   getList("EXPORT_PURGE_TABLES"),
		ExportAdminPassword: os.Getenv("EXPORT_ADMIN_PASSWORD"),
		FetchConcurrency:    getInt("FETCH_CONCURRENCY", 4),
		MaxImportBytes:      int64(getInt("MAX_IMPORT_BYTES", 64<<20)),
		ImportLockTimeout:   getDuration("IMPORT_LOCK_TIMEOUT", 30*time.Second),
		RedisURL:            os.Getenv("REDIS_URL"),

		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 5),
	}
}

// Validate reports settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Env == "production" && c.JWTSecret == devJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set in production environment"))
	}
	if c.AuthAdminURL != "" && c.ServiceRoleKey == "" {
		errs = append(errs, errors.New("SERVICE_ROLE_KEY is required with AUTH_ADMIN_URL"))
	}
	if c.FetchConcurrency < 1 {
		errs = append(errs, errors.New("FETCH_CONCURRENCY must be at least 1"))
	}
	if c.MaxImportBytes < 1 {
		errs = append(errs, errors.New("MAX_IMPORT_BYTES must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool { return c.Env == "production" }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using default", "key", key, "value", v)
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
		return fallback
	}
	return d
}

func getLevel(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("invalid log level in environment, using default", "key", key, "value", v)
		return fallback
	}
	return l
}

func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

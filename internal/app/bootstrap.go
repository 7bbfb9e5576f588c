package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"inventory-admin/internal/auth"
	"inventory-admin/internal/db"
	"inventory-admin/internal/maintenance"
	"inventory-admin/internal/observability"
	"inventory-admin/internal/session"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build wires the full service: config, database, migrations, auth gateway,
// session registry, duration scheduler, and the HTTP surface.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	accessSecret, err := mustEnv("JWT_ACCESS_SECRET")
	if err != nil {
		return nil, err
	}
	refreshSecret, err := mustEnv("JWT_REFRESH_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	issuer := auth.NewTokenIssuer(accessSecret, refreshSecret)
	issuer.WithTTLs(
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)

	userRepo := auth.NewRepository(database)
	sessionRepo := session.NewRepository(database)

	authService := auth.NewService(userRepo, issuer, sessionRepo, logger)
	authService.WithLockoutPolicy(
		envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
	)
	authHandler := auth.NewHandler(authService, logger, EnvBoolOrDefault("SECURE_COOKIES", true))
	sessionHandler := session.NewHandler(sessionRepo)

	name, email, password, err := ownerSeedEnv()
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	if email != "" {
		if err := userRepo.UpsertOwner(context.Background(), name, email, password); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("bootstrap owner: %w", err)
		}
	}

	scheduler := session.NewScheduler(
		sessionRepo,
		logger,
		envSecondsOrDefault("SESSION_TICK_SECONDS", 10),
	)
	scheduler.Start(context.Background())

	pruneHandler := maintenance.NewPruneHandler(
		sessionRepo,
		userRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("SESSION_RETENTION_DAYS", 90),
		envDaysOrDefault("LOGIN_ATTEMPT_RETENTION_DAYS", 7),
		envIntOrDefault("SESSION_CLEANUP_BATCH_SIZE", 500),
	)

	loginLimiter := auth.NewLoginRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	ownerOnly := func(next http.Handler) http.Handler {
		return authHandler.Authenticate(authHandler.RequireOwner(next))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/refresh-token", authHandler.Refresh)
	mux.Handle("POST /auth/logout", authHandler.Authenticate(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("GET /auth/me", authHandler.Authenticate(http.HandlerFunc(authHandler.Me)))
	mux.Handle("POST /auth/force-logout", ownerOnly(http.HandlerFunc(authHandler.ForceLogout)))
	mux.Handle("GET /sessions", ownerOnly(http.HandlerFunc(sessionHandler.List)))
	mux.Handle("GET /sessions/active", ownerOnly(http.HandlerFunc(sessionHandler.ListActive)))
	mux.Handle("GET /sessions/stats", ownerOnly(http.HandlerFunc(sessionHandler.Stats)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", pruneHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", pruneHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			scheduler.Stop()
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

// ownerSeedEnv reads the owner-seed config. Setting only one of the two
// required variables is a deployment mistake and fails the boot rather than
// silently skipping the seed.
func ownerSeedEnv() (name, email, password string, err error) {
	name = strings.TrimSpace(os.Getenv("ADMIN_NAME"))
	email = strings.TrimSpace(strings.ToLower(os.Getenv("ADMIN_EMAIL")))
	password = strings.TrimSpace(os.Getenv("ADMIN_PASSWORD"))
	if email == "" && password == "" {
		return "", "", "", nil
	}
	if email == "" || password == "" {
		return "", "", "", fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if name == "" {
		name = "Owner"
	}
	return name, email, password, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

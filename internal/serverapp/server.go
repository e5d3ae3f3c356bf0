package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"taskhive/internal/auth"
	"taskhive/internal/config"
	"taskhive/internal/httpmw"
	"taskhive/internal/ops"
	"taskhive/internal/task"
	"taskhive/internal/telemetry"
)

type Options struct {
	Config *config.Config
	Logger *log.Logger
	// Backend overrides the storage chosen by Config.Storage.
	Backend task.Backend
}

// App is the assembled server: the HTTP handler plus the stores and the
// janitor that keeps them tidy.
type App struct {
	Handler http.Handler
	Backend task.Backend
	Auth    *auth.FileRepo
	Events  *telemetry.MemoryRepository
	Janitor *ops.Janitor
	Limiter *httpmw.Limiter

	logger *log.Logger
}

// OpenBackend builds the task store named by cfg.Storage.Backend.
func OpenBackend(ctx context.Context, cfg *config.Config) (task.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return task.NewMemoryRepo(), nil
	case config.BackendFile, "":
		return task.NewFileRepo(filepath.Join(cfg.Server.DataDir, "tasks"))
	case config.BackendRedis:
		return task.NewRedisRepoFromURL(cfg.Storage.RedisURL, cfg.Storage.RedisNamespace)
	case config.BackendPostgres:
		return task.OpenPostgres(ctx, cfg.Storage.PostgresDSN)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

func authSettings(cfg config.AuthConfig) auth.Settings {
	return auth.Settings{
		CookieName:     cfg.CookieName,
		CookieSecure:   cfg.CookieSecure,
		CookieSameSite: auth.ParseSameSite(cfg.CookieSameSite),
		SessionTTL:     cfg.SessionTTL,
		OTPTTL:         cfg.OTPTTL,
		MaxOTPAttempts: cfg.OTPMaxAttempts,
	}
}

func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	logger := opts.Logger

	backend := opts.Backend
	if backend == nil {
		var err error
		if backend, err = OpenBackend(ctx, cfg); err != nil {
			return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
		}
	}

	var (
		authRepo *auth.FileRepo
		err      error
	)
	if cfg.Storage.Backend == config.BackendMemory {
		authRepo = auth.NewMemoryRepo()
	} else if authRepo, err = auth.NewFileRepo(filepath.Join(cfg.Server.DataDir, "auth")); err != nil {
		_ = backend.Close()
		return nil, err
	}

	authService := auth.NewService(authRepo, authSettings(cfg.Auth), logger)
	logSecurityHints(logger, cfg)
	events := telemetry.NewMemoryRepository()

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "taskhive",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := backend.Ping(pingCtx); err != nil {
			logger.Warn("readiness check failed", "storage", cfg.Storage.Backend, "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":    false,
				"error": "task storage unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "taskhive",
			"storage": cfg.Storage.Backend,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	authHandler := auth.NewHandler(authService)
	mux.HandleFunc("/api/auth/request-otp", authHandler.RequestOTP)
	mux.HandleFunc("/api/auth/verify-otp", authHandler.VerifyOTP)
	mux.HandleFunc("/api/auth/session", authHandler.Session)
	mux.HandleFunc("/api/auth/logout", authHandler.Logout)

	schemas, err := task.LoadSchemas()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	taskHandler := task.NewHandler(backend, schemas)
	taskHandler.SetEvents(events)
	taskHandler.SetLogger(logger)
	taskHandler.SetRetentionDays(cfg.Trash.RetentionDays)

	protect := func(fn http.HandlerFunc) http.Handler {
		return authService.RequireAPI(fn)
	}
	mux.Handle("/api/tasks", protect(taskHandler.TasksRoot))
	mux.Handle("/api/tasks/", protect(taskHandler.TasksSub))
	mux.Handle("/api/trash", protect(taskHandler.TrashRoot))
	mux.Handle("/api/trash/", protect(taskHandler.TrashSub))
	mux.Handle("/api/activity/stats", protect(taskHandler.ActivityStats))

	mux.Handle("/api/config", protect(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, redacted(cfg))
	}))

	limiter := httpmw.NewLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	middlewares := []func(http.Handler) http.Handler{
		httpmw.WithAccessLog(logger),
		httpmw.WithRequestID,
		httpmw.WithRecover(logger),
	}
	if cfg.RateLimit.Requests > 0 {
		middlewares = append(middlewares, httpmw.WithRateLimit(limiter))
	}

	return &App{
		Handler: httpmw.Chain(mux, middlewares...),
		Backend: backend,
		Auth:    authRepo,
		Events:  events,
		Janitor: &ops.Janitor{
			Tasks:     backend,
			Sessions:  authRepo,
			Events:    events,
			Retention: time.Duration(cfg.Trash.RetentionDays) * 24 * time.Hour,
			Logger:    logger,
		},
		Limiter: limiter,
		logger:  logger,
	}, nil
}

// RunMaintenance purges expired trash and sessions and forgets idle rate
// limit buckets every interval until ctx is done.
func (a *App) RunMaintenance(ctx context.Context, interval time.Duration) {
	go a.Janitor.Run(ctx, interval)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Limiter.Sweep()
		}
	}
}

func (a *App) Close() error {
	return a.Backend.Close()
}

// redacted hides connection secrets from /api/config.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	if out.Storage.RedisURL != "" {
		out.Storage.RedisURL = "<redacted>"
	}
	if out.Storage.PostgresDSN != "" {
		out.Storage.PostgresDSN = "<redacted>"
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func logSecurityHints(logger *log.Logger, cfg *config.Config) {
	env := strings.ToLower(strings.TrimSpace(cfg.Server.Env))
	if env != "production" && env != "prod" {
		return
	}
	if strings.ToLower(cfg.Auth.CookieSecure) != "true" {
		logger.Warn("security: cookie_secure is not explicitly true in production", "env", env)
	}
	if cfg.Storage.Backend == config.BackendMemory {
		logger.Warn("security: memory storage loses all tasks on restart", "env", env)
	}
}

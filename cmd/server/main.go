package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-activity/internal/activity"
	"github.com/p-n-ai/pai-activity/internal/api"
	"github.com/p-n-ai/pai-activity/internal/content"
	"github.com/p-n-ai/pai-activity/internal/platform/cache"
	"github.com/p-n-ai/pai-activity/internal/platform/config"
	"github.com/p-n-ai/pai-activity/internal/platform/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var (
		checks []readinessCheck
		store  activity.Store = activity.NewMemoryStore()
		sinks  activity.MultiEventLogger
		locker activity.Locker
	)

	if cfg.UsesPostgres() {
		db, err := database.New(ctx, database.Options{
			URL:             cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		if cfg.Database.Migrate {
			if err := db.Migrate(ctx, activity.Schema); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			slog.Info("database schema applied")
		}

		pg, err := activity.NewPostgresStore(db.Pool)
		if err != nil {
			return err
		}
		store = pg
		sinks = append(sinks, activity.NewPostgresEventLogger(db.Pool))
		checks = append(checks, readinessCheck{name: "database", check: db.HealthCheck})
	}

	if cfg.UsesRedis() {
		c, err := cache.New(ctx, cache.Options{URL: cfg.Cache.URL, KeyPrefix: cfg.Cache.KeyPrefix})
		if err != nil {
			return fmt.Errorf("connect cache: %w", err)
		}
		defer c.Close()

		locker = c.Locker(cfg.Activity.LockTTL)
		checks = append(checks, readinessCheck{name: "cache", check: c.HealthCheck})
	}

	broadcaster := activity.NewBroadcaster(0)
	sinks = append(sinks, broadcaster)
	recorder := activity.NewRecorder(sinks, cfg.Activity.EventBuffer)

	engine := activity.NewEngine(activity.EngineConfig{
		Store:          store,
		Locker:         locker,
		Events:         recorder,
		StorageTimeout: cfg.Activity.StorageTimeout,
	})

	importer, err := content.NewImporter(engine)
	if err != nil {
		return err
	}

	if cfg.Activity.SeedConfigs {
		if _, err := engine.SeedDefaultConfigs(ctx); err != nil {
			return fmt.Errorf("seed activity configs: %w", err)
		}
	}
	if cfg.Activity.SeedPath != "" {
		if _, err := content.SeedDir(ctx, cfg.Activity.SeedPath, importer); err != nil {
			return fmt.Errorf("seed questions: %w", err)
		}
	}

	mux := newMux(checks...)
	api.New(api.Config{
		Engine:   engine,
		Importer: importer,
		Events:   broadcaster,
	}).Register(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"addr", srv.Addr,
			"store", cfg.Activity.Store,
			"locker", cfg.Activity.Locker,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		slog.Warn("analytics events not flushed", "error", err)
	}
	if n := recorder.Dropped(); n > 0 {
		slog.Warn("analytics events dropped", "count", n)
	}
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

type readinessCheck struct {
	name  string
	check func(context.Context) error
}

// newMux creates the HTTP router with health check endpoints. readyz
// reports 503 when any dependency check fails.
func newMux(checks ...readinessCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(checks))
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(checks []readinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				failed[c.name] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "unavailable", "checks": failed})
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}

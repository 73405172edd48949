package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"assistant-agent/internal/app"
	"assistant-agent/internal/config"
	"assistant-agent/internal/httpapi"
	"assistant-agent/internal/usecase"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env", "err", err)
		os.Exit(1)
	}

	getenv := func(key string) string {
		if key == "LOG_FORMAT" {
			if v, ok := os.LookupEnv(key); ok {
				return v
			}
			return config.FormatText
		}
		return os.Getenv(key)
	}
	cfg, err := config.Load(getenv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build services", "err", err)
		stop()
		os.Exit(1)
	}
	code := run(ctx, cfg, a, logger)
	stop()
	os.Exit(code)
}

// run serves until ctx is done and returns the exit code. a is closed before
// it returns, whatever the outcome.
func run(ctx context.Context, cfg config.Config, a *app.App, logger *slog.Logger) int {
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", "err", err)
		}
	}()

	api, err := httpapi.New(httpapi.Deps{
		Chat:      a.Chat,
		Reminders: a.Reminders,
		Briefing:  a.Briefing,
		Calendar:  a.Google,
		Tasks:     a.Google,
		Auth:      a.Google,
	}, httpapi.Config{
		CronSecret:    cfg.CronSecret,
		WebhookSecret: cfg.TelegramWebhookSecret,
		TaskListID:    cfg.GoogleTaskListID,
		Location:      cfg.Location,
	}, logger.With("component", "http"))
	if err != nil {
		logger.Error("failed to create http api", "err", err)
		return 1
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	if cfg.SchedulerInterval > 0 {
		go runTicker(ctx, a.Reminders, cfg.SchedulerInterval, logger.With("component", "ticker"))
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "err", err)
		}
	}()

	logger.Info("listening", "addr", srv.Addr, "store", cfg.StoreBackend, "llm", cfg.LLMProvider)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		return 1
	}
	logger.Info("server stopped")
	return 0
}

type ticker interface {
	Tick(ctx context.Context, now time.Time) ([]usecase.TriggeredReminder, error)
}

// runTicker drives reminder evaluation in-process for deployments without an
// external scheduler.
func runTicker(ctx context.Context, reminders ticker, every time.Duration, logger *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			triggered, err := reminders.Tick(ctx, now)
			if err != nil {
				logger.Error("reminder tick failed", "err", err)
				continue
			}
			if len(triggered) > 0 {
				logger.Info("reminders triggered", "count", len(triggered))
			}
		}
	}
}

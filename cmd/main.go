package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"assistant-agent/handler"
	"assistant-agent/internal/app"
	"assistant-agent/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("mode", cfg.HandlerMode)
	slog.SetDefault(logger)

	// ---- Services ----
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build services", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	switch cfg.HandlerMode {
	case config.ModeScheduler:
		s, err := handler.NewScheduler(a.Reminders, a.Briefing, logger.With("component", "scheduler"))
		if err != nil {
			logger.Error("failed to create scheduler handler", "err", err)
			os.Exit(1)
		}
		lambda.Start(s.Handle)
	default:
		h, err := handler.NewHandler(a.Chat,
			handler.WithWebhookSecret(cfg.TelegramWebhookSecret),
			handler.WithLogger(logger.With("component", "webhook")),
		)
		if err != nil {
			logger.Error("failed to create webhook handler", "err", err)
			os.Exit(1)
		}
		lambda.Start(h.Handle)
	}
}

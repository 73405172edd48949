// Package app builds the dependency graph shared by the Lambda and server
// binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"assistant-agent/internal/config"
	"assistant-agent/internal/integrations/anthropic"
	"assistant-agent/internal/integrations/google"
	"assistant-agent/internal/integrations/openai"
	"assistant-agent/internal/integrations/paramstore"
	"assistant-agent/internal/integrations/telegram"
	"assistant-agent/internal/repository"
	"assistant-agent/internal/repository/postgres"
	"assistant-agent/internal/tools"
	"assistant-agent/internal/usecase"
)

// Store is everything the services persist: turns, reminders and tokens.
type Store interface {
	usecase.ConversationStore
	usecase.ReminderStore
	google.TokenStore
}

type App struct {
	Config    config.Config
	Chat      *usecase.ChatService
	Reminders *usecase.ReminderService
	Briefing  *usecase.BriefingService
	Google    *google.Provider
	Telegram  *telegram.Client

	closers []func() error
}

// New resolves secrets, opens the configured store and wires the services.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	var (
		awsCfg    aws.Config
		awsLoaded bool
	)
	loadAWS := func() (aws.Config, error) {
		if awsLoaded {
			return awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg, awsLoaded = c, true
		return awsCfg, nil
	}

	if cfg.ParamPrefix != "" {
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		params, err := paramstore.New(awsssm.NewFromConfig(ac), cfg.ParamPrefix)
		if err != nil {
			return nil, fmt.Errorf("app: paramstore: %w", err)
		}
		if err := cfg.ResolveSecrets(ctx, params); err != nil {
			return nil, err
		}
	}

	var (
		store   Store
		closers []func() error
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.MaxHistoryTurns)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		store = pg
		closers = append(closers, pg.Close)
	default:
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		dyn, err := repository.New(awsdynamodb.NewFromConfig(ac), cfg.StateTable, repository.WithMaxTurns(cfg.MaxHistoryTurns))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		store = dyn
	}

	a, err := Assemble(cfg, store, logger)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	return a, nil
}

// Assemble wires the services on top of an opened store. A store that is an
// io.Closer is closed by App.Close.
func Assemble(cfg config.Config, store Store, logger *slog.Logger) (*App, error) {
	if store == nil {
		return nil, errors.New("app: store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	llm, err := newLLM(cfg)
	if err != nil {
		return nil, err
	}
	if llm == nil {
		logger.Warn("no model API key configured, assistant replies are disabled", "provider", cfg.LLMProvider)
	}

	tg := telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID, telegram.WithLogger(logger.With("component", "telegram")))

	provider, err := google.New(google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		CalendarID:   cfg.GoogleCalendarID,
	}, store, google.WithLogger(logger.With("component", "google")))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	registry, err := tools.NewRegistry(provider, provider, cfg.Location,
		tools.WithTaskList(cfg.GoogleTaskListID),
		tools.WithLogger(logger.With("component", "tools")),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	chat, err := usecase.NewChatService(llm, store, registry, tg, usecase.ChatConfig{
		MaxIterations: cfg.MaxToolIterations,
		ModelTimeout:  cfg.ModelTimeout,
		ToolTimeout:   cfg.ToolTimeout,
		Location:      cfg.Location,
		Owner:         cfg.Owner,
		AllowedChatID: cfg.TelegramChatID,
	}, logger.With("component", "chat"))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	reminders, err := usecase.NewReminderService(store, tg, provider, cfg.Location, logger.With("component", "reminders"))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	briefing, err := usecase.NewBriefingService(provider, provider, store, tg, usecase.BriefingConfig{
		ChatID:     cfg.TelegramChatID,
		TaskListID: cfg.GoogleTaskListID,
		Owner:      cfg.Owner,
		Location:   cfg.Location,
	}, logger.With("component", "briefing"))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		Config:    cfg,
		Chat:      chat,
		Reminders: reminders,
		Briefing:  briefing,
		Google:    provider,
		Telegram:  tg,
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	return a, nil
}

// newLLM returns nil (an untyped nil interface) when the selected provider has
// no key, which the chat service treats as disabled.
func newLLM(cfg config.Config) (usecase.LLMClient, error) {
	key := cfg.LLMKey()
	if key == "" {
		return nil, nil
	}
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		c, err := anthropic.NewClient(key, anthropic.WithModel(cfg.AnthropicModel))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return c, nil
	default:
		c, err := openai.NewClient(key, openai.WithModel(cfg.OpenAIModel), openai.WithBaseURL(cfg.OpenAIBaseURL))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return c, nil
	}
}

// Close releases the store connection, if any.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

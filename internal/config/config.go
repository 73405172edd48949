// Package config reads the service configuration from the environment and
// resolves secrets from SSM Parameter Store.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	// TIME_ZONE must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"
)

const (
	ModeWebhook   = "webhook"
	ModeScheduler = "scheduler"

	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// SSM parameter names, resolved under PARAM_PREFIX.
const (
	secretOpenAIKey     = "openai-api-key"
	secretAnthropicKey  = "anthropic-api-key"
	secretTelegramToken = "telegram-bot-token"
	secretWebhookSecret = "telegram-webhook-secret"
	secretGoogleClient  = "google-client-secret"
	secretCronBearer    = "cron-secret"
)

type Config struct {
	HandlerMode  string
	StoreBackend string
	StateTable   string
	DatabaseURL  string
	ParamPrefix  string

	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AnthropicModel  string

	TelegramBotToken      string
	TelegramChatID        string
	TelegramWebhookSecret string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleCalendarID   string
	GoogleTaskListID   string

	Location          *time.Location
	Owner             string
	MaxHistoryTurns   int
	MaxToolIterations int
	ModelTimeout      time.Duration
	ToolTimeout       time.Duration

	CronSecret        string
	SchedulerInterval time.Duration

	LogLevel  slog.Level
	LogFormat string
	Port      string
}

// SecretSource resolves a secret by short name. A missing secret is "" with a
// nil error.
type SecretSource interface {
	Secret(ctx context.Context, name string) (string, error)
}

// Load reads the configuration through getenv (os.Getenv in production). All
// problems are reported together.
func Load(getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var errs []error
	intVar := func(key string, def int) int {
		raw := env(key, "")
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s: want a positive integer, got %q", key, raw))
			return def
		}
		return n
	}
	durationVar := func(key string, def time.Duration, allowZero bool) time.Duration {
		raw := env(key, "")
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil && raw == "0" {
			d, err = 0, nil
		}
		if err != nil || d < 0 || (d == 0 && !allowZero) {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, raw))
			return def
		}
		return d
	}

	c := Config{
		HandlerMode:  strings.ToLower(env("HANDLER_MODE", ModeWebhook)),
		StoreBackend: strings.ToLower(env("STORE_BACKEND", BackendDynamoDB)),
		StateTable:   env("STATE_TABLE", ""),
		DatabaseURL:  env("DATABASE_URL", ""),
		ParamPrefix:  env("PARAM_PREFIX", ""),

		LLMProvider:     strings.ToLower(env("LLM_PROVIDER", ProviderOpenAI)),
		OpenAIAPIKey:    env("OPENAI_API_KEY", ""),
		OpenAIModel:     env("OPENAI_MODEL", "gpt-4.1-mini"),
		OpenAIBaseURL:   env("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey: env("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  env("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),

		TelegramBotToken:      env("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:        env("TELEGRAM_CHAT_ID", ""),
		TelegramWebhookSecret: env("TELEGRAM_WEBHOOK_SECRET", ""),

		GoogleClientID:     env("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: env("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  env("GOOGLE_REDIRECT_URL", ""),
		GoogleCalendarID:   env("GOOGLE_CALENDAR_ID", "primary"),
		GoogleTaskListID:   env("GOOGLE_TASK_LIST_ID", "@default"),

		Owner:             env("ASSISTANT_OWNER", "대표님"),
		MaxHistoryTurns:   intVar("MAX_HISTORY_TURNS", 10),
		MaxToolIterations: intVar("MAX_TOOL_ITERATIONS", 10),
		ModelTimeout:      durationVar("MODEL_TIMEOUT", 60*time.Second, false),
		ToolTimeout:       durationVar("TOOL_TIMEOUT", 20*time.Second, false),

		CronSecret:        env("CRON_SECRET", ""),
		SchedulerInterval: durationVar("SCHEDULER_INTERVAL", 0, true),

		LogFormat: strings.ToLower(env("LOG_FORMAT", FormatJSON)),
		Port:      env("PORT", "8080"),
	}

	tz := env("TIME_ZONE", "Asia/Seoul")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Errorf("TIME_ZONE: %w", err))
		loc = time.UTC
	}
	c.Location = loc

	level, err := ParseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	c.LogLevel = level

	switch c.HandlerMode {
	case ModeWebhook, ModeScheduler:
	default:
		errs = append(errs, fmt.Errorf("HANDLER_MODE: unknown mode %q", c.HandlerMode))
	}
	switch c.StoreBackend {
	case BackendDynamoDB:
		if c.StateTable == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND: unknown backend %q", c.StoreBackend))
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER: unknown provider %q", c.LLMProvider))
	}
	switch c.LogFormat {
	case FormatJSON, FormatText:
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT: unknown format %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return c, nil
}

type secretTarget struct {
	name string
	dst  *string
}

// ResolveSecrets fills every secret not set in the environment from src.
// Only the model key of the selected provider is looked up.
func (c *Config) ResolveSecrets(ctx context.Context, src SecretSource) error {
	if src == nil {
		return nil
	}
	targets := []secretTarget{
		{secretTelegramToken, &c.TelegramBotToken},
		{secretWebhookSecret, &c.TelegramWebhookSecret},
		{secretGoogleClient, &c.GoogleClientSecret},
		{secretCronBearer, &c.CronSecret},
	}
	if c.LLMProvider == ProviderAnthropic {
		targets = append(targets, secretTarget{secretAnthropicKey, &c.AnthropicAPIKey})
	} else {
		targets = append(targets, secretTarget{secretOpenAIKey, &c.OpenAIAPIKey})
	}
	for _, t := range targets {
		if *t.dst != "" {
			continue
		}
		v, err := src.Secret(ctx, t.name)
		if err != nil {
			return fmt.Errorf("config: secret %s: %w", t.name, err)
		}
		*t.dst = strings.TrimSpace(v)
	}
	return nil
}

// LLMKey returns the API key of the selected model provider.
func (c Config) LLMKey() string {
	if c.LLMProvider == ProviderAnthropic {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

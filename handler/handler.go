package handler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"assistant-agent/internal/integrations/telegram"
	"assistant-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatHandler interface {
	Accepts(chatID string) bool
	Handle(ctx context.Context, in usecase.HandleInput) (usecase.HandleOutput, error)
}

// Handler adapts API Gateway proxy requests carrying Telegram webhook updates
// to the chat service.
type Handler struct {
	chat   ChatHandler
	secret string
	logger *slog.Logger
}

type Option func(*Handler)

// WithWebhookSecret rejects updates whose secret token header does not match.
func WithWebhookSecret(secret string) Option {
	return func(h *Handler) { h.secret = secret }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

type webhookResponse struct {
	OK    bool   `json:"ok"`
	Reply string `json:"reply,omitempty"`
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(chat ChatHandler, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat handler must not be nil")
	}
	h := &Handler{chat: chat, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle always answers 200 once the secret checks out, so Telegram never
// redelivers an update the assistant already saw.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := header(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", corrID)

	if req.HTTPMethod == http.MethodGet {
		return respond(http.StatusOK, corrID, map[string]string{"status": "Telegram webhook is active"}), nil
	}
	if h.secret != "" {
		got := header(req.Headers, telegram.SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			logger.Warn("webhook secret mismatch")
			return respond(http.StatusUnauthorized, corrID, errorResponse{Error: "UNAUTHORIZED"}), nil
		}
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			logger.Warn("webhook body not base64", "err", err)
			return respond(http.StatusOK, corrID, webhookResponse{OK: true, Error: "unreadable body"}), nil
		}
		body = decoded
	}

	update, err := telegram.ParseUpdate(body)
	if err != nil {
		logger.Warn("webhook update malformed", "err", err)
		return respond(http.StatusOK, corrID, webhookResponse{OK: true, Error: "malformed update"}), nil
	}
	chatID, text, ok := update.TextMessage()
	if !ok {
		logger.Debug("ignoring non-text update", "update_id", update.UpdateID)
		return respond(http.StatusOK, corrID, webhookResponse{OK: true}), nil
	}
	if !h.chat.Accepts(chatID) {
		logger.Warn("ignoring message from unauthorized chat", "chat", chatID)
		return respond(http.StatusOK, corrID, webhookResponse{OK: true}), nil
	}

	out, err := h.chat.Handle(ctx, usecase.HandleInput{ConversationID: chatID, MessageID: update.MessageKey(), Text: text})
	if err != nil {
		logger.Error("chat handling failed", "chat", chatID, "outcome", out.Outcome, "err", err)
		return respond(http.StatusOK, corrID, webhookResponse{OK: true, Reply: out.Reply, Error: "internal error"}), nil
	}
	logger.Info("message handled", "chat", chatID, "outcome", out.Outcome, "iterations", out.Iterations, "delivered", out.Delivered)
	return respond(http.StatusOK, corrID, webhookResponse{OK: true, Reply: out.Reply}), nil
}

// header looks up name case-insensitively; API Gateway passes headers through
// with whatever casing the client used.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func respond(status int, corrID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

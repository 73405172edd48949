package httpapi

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"assistant-agent/internal/integrations/telegram"
	"assistant-agent/internal/usecase"
)

const webhookPath = "/api/telegram/webhook"

type webhookResponse struct {
	OK    bool   `json:"ok"`
	Reply string `json:"reply,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) registerWebhook(r *mux.Router) {
	r.HandleFunc(webhookPath, s.webhookStatus).Methods(http.MethodGet)
	r.HandleFunc(webhookPath, s.webhook).Methods(http.MethodPost)
}

func (s *Server) webhookStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "Telegram webhook is active",
		"endpoint": webhookPath,
	})
}

// webhook answers 200 to every update Telegram sends, including ones that
// fail, so Telegram does not redeliver them. Requests without the configured
// secret are rejected with 401.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.logger)

	if s.cfg.WebhookSecret != "" {
		got := r.Header.Get(telegram.SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
			logger.Warn("webhook secret mismatch")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"})
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("webhook body unreadable", "err", err)
		writeJSON(w, http.StatusOK, webhookResponse{OK: true, Error: "unreadable body"})
		return
	}
	update, err := telegram.ParseUpdate(body)
	if err != nil {
		logger.Warn("webhook update malformed", "err", err)
		writeJSON(w, http.StatusOK, webhookResponse{OK: true, Error: "malformed update"})
		return
	}
	chatID, text, ok := update.TextMessage()
	if !ok {
		writeJSON(w, http.StatusOK, webhookResponse{OK: true})
		return
	}
	if !s.deps.Chat.Accepts(chatID) {
		logger.Warn("ignoring message from unauthorized chat", "chat", chatID)
		writeJSON(w, http.StatusOK, webhookResponse{OK: true})
		return
	}

	out, err := s.deps.Chat.Handle(r.Context(), usecase.HandleInput{ConversationID: chatID, MessageID: update.MessageKey(), Text: text})
	if err != nil {
		logger.Error("chat handling failed", "chat", chatID, "outcome", out.Outcome, "err", err)
		writeJSON(w, http.StatusOK, webhookResponse{OK: true, Reply: out.Reply, Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{OK: true, Reply: out.Reply})
}

// Package telegram delivers replies and reminders through the Telegram Bot API
// and decodes webhook updates.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	parseModeHTML  = "HTML"
	// maxMessageRunes stays under the Bot API limit of 4096 characters.
	maxMessageRunes = 4000
)

// HTTPStatusError captures non-2xx Bot API responses.
type HTTPStatusError struct {
	StatusCode int
	Method     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("telegram: unexpected status %d from %s: %s", e.StatusCode, e.Method, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// Client sends messages as the configured bot. A Client without a token is
// valid and reports every delivery as failed.
type Client struct {
	baseURL    string
	token      string
	ownerChat  string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Client. ownerChat receives reminders and briefings.
func New(token, ownerChat string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      strings.TrimSpace(token),
		ownerChat:  strings.TrimSpace(ownerChat),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deliver sends text to chatID as HTML. A 400 (usually malformed markup) is
// retried once as plain text. Long texts are split into several messages.
func (c *Client) Deliver(ctx context.Context, chatID, text string) bool {
	if c.token == "" {
		c.logger.Warn("telegram bot token not set, skipping message")
		return false
	}
	if strings.TrimSpace(chatID) == "" {
		c.logger.Warn("telegram chat id empty, skipping message")
		return false
	}
	for _, part := range splitMessage(text, maxMessageRunes) {
		if err := c.sendWithFallback(ctx, chatID, part); err != nil {
			c.logger.Error("telegram send failed", "chat", chatID, "err", err)
			return false
		}
	}
	return true
}

// SendReminder notifies the owner chat with an escaped bold title.
func (c *Client) SendReminder(ctx context.Context, title, message string) bool {
	if c.ownerChat == "" {
		c.logger.Warn("telegram owner chat not set, skipping reminder")
		return false
	}
	text := fmt.Sprintf("🔔 <b>%s</b>\n%s", escape(title), escape(message))
	return c.Deliver(ctx, c.ownerChat, text)
}

func (c *Client) sendWithFallback(ctx context.Context, chatID, text string) error {
	err := c.sendMessage(ctx, sendMessageRequest{ChatID: chatID, Text: text, ParseMode: parseModeHTML})
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest {
		c.logger.Warn("telegram rejected HTML, retrying as plain text", "chat", chatID)
		return c.sendMessage(ctx, sendMessageRequest{ChatID: chatID, Text: text})
	}
	return err
}

func (c *Client) sendMessage(ctx context.Context, payload sendMessageRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, Method: "sendMessage", Body: string(buf)}
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// escape replaces the characters Telegram's HTML mode treats as markup.
func escape(s string) string {
	return html.EscapeString(s)
}

// splitMessage cuts text into parts of at most limit runes, preferring line
// breaks as cut points.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SecretHeader carries the webhook secret configured with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

type Update struct {
	UpdateID int      `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int    `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// ParseUpdate decodes a webhook body.
func ParseUpdate(body []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return Update{}, fmt.Errorf("telegram: decode update: %w", err)
	}
	return u, nil
}

// TextMessage returns the chat id and text of a plain text message. ok is
// false for updates the assistant ignores (edits, stickers, callbacks).
func (u Update) TextMessage() (chatID, text string, ok bool) {
	if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
		return "", "", false
	}
	return strconv.FormatInt(u.Message.Chat.ID, 10), u.Message.Text, true
}

// MessageKey identifies the message within its chat. Telegram keeps it on
// redelivery. It is empty when the update carries no message.
func (u Update) MessageKey() string {
	if u.Message == nil || u.Message.MessageID == 0 {
		return ""
	}
	return strconv.Itoa(u.Message.MessageID)
}

// Package postgres implements the conversation, reminder and token stores on
// PostgreSQL for self-hosted deployments.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"assistant-agent/internal/domain"
)

const defaultMaxTurns = 10

const schema = `
CREATE TABLE IF NOT EXISTS chat_history (
	id         BIGSERIAL PRIMARY KEY,
	chat_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS chat_history_chat_id_idx ON chat_history (chat_id, id DESC);

CREATE TABLE IF NOT EXISTS reminders (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	type              TEXT NOT NULL,
	google_event_id   TEXT NOT NULL DEFAULT '',
	minutes_before    INTEGER NOT NULL DEFAULT 0,
	cron_expression   TEXT NOT NULL DEFAULT '',
	deadline_at       TIMESTAMPTZ,
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	last_triggered_at TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS reminder_logs (
	id           BIGSERIAL PRIMARY KEY,
	reminder_id  TEXT NOT NULL REFERENCES reminders(id) ON DELETE CASCADE,
	message      TEXT NOT NULL,
	status       TEXT NOT NULL,
	triggered_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS oauth_tokens (
	label         TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	scope         TEXT NOT NULL DEFAULT '',
	expiry        TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Store is a PostgreSQL-backed implementation of the conversation, reminder
// and token stores.
type Store struct {
	db       *sql.DB
	maxTurns int
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string, maxTurns int) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("postgres: database url must not be empty")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(db, maxTurns)
}

// New wraps an existing handle.
func New(db *sql.DB, maxTurns int) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres: db must not be nil")
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Store{db: db, maxTurns: maxTurns}, nil
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the most recent turns of a conversation, oldest first.
func (s *Store) Load(ctx context.Context, conversationID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at FROM (
			SELECT id, role, content, created_at
			FROM chat_history
			WHERE chat_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC`, conversationID, s.maxTurns)
	if err != nil {
		return nil, fmt.Errorf("postgres: Load query: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		t := domain.Turn{ConversationID: conversationID}
		if err := rows.Scan(&t.Sequence, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: Load scan: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: Load rows: %w", err)
	}
	return turns, nil
}

// Append stores one turn, then deletes every turn older than the
// maxTurns-th newest one.
func (s *Store) Append(ctx context.Context, conversationID, role, content string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("postgres: Append: conversation id is required")
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (chat_id, role, content) VALUES ($1, $2, $3)`,
		conversationID, role, content); err != nil {
		return fmt.Errorf("postgres: Append insert: %w", err)
	}

	var boundary int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM chat_history
		WHERE chat_id = $1
		ORDER BY id DESC
		OFFSET $2 LIMIT 1`, conversationID, s.maxTurns-1).Scan(&boundary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres: Append boundary: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_history WHERE chat_id = $1 AND id < $2`,
		conversationID, boundary); err != nil {
		return fmt.Errorf("postgres: Append trim: %w", err)
	}
	return nil
}

// GetToken returns domain.ErrTokenNotFound when nothing is stored under label.
func (s *Store) GetToken(ctx context.Context, label string) (domain.OAuthToken, error) {
	var (
		tok    domain.OAuthToken
		expiry sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, token_type, scope, expiry, updated_at
		FROM oauth_tokens WHERE label = $1`, label).
		Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &tok.Scope, &expiry, &tok.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OAuthToken{}, fmt.Errorf("postgres: GetToken %s: %w", label, domain.ErrTokenNotFound)
	}
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("postgres: GetToken: %w", err)
	}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	return tok, nil
}

// PutToken replaces the credential stored under label.
func (s *Store) PutToken(ctx context.Context, label string, tok domain.OAuthToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (label, access_token, refresh_token, token_type, scope, expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (label) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expiry = EXCLUDED.expiry,
			updated_at = NOW()`,
		label, tok.AccessToken, tok.RefreshToken, tok.TokenType, tok.Scope, nullTime(&tok.Expiry))
	if err != nil {
		return fmt.Errorf("postgres: PutToken: %w", err)
	}
	return nil
}

// nullTime maps nil and zero times to SQL NULL.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

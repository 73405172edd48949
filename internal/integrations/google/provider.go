// Package google is the domain operations provider backed by Google Calendar v3
// and Google Tasks v1. OAuth tokens live in the token store and refreshed
// tokens are written back.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/tasks/v1"

	"assistant-agent/internal/domain"
)

const (
	// TokenLabel is the single credential slot of the assistant's owner.
	TokenLabel        = "owner"
	defaultCalendarID = "primary"
)

// ErrNotConfigured is returned by the auth flow when no OAuth client is set.
var ErrNotConfigured = errors.New("google: oauth client not configured")

// TokenStore persists the owner's OAuth credential.
type TokenStore interface {
	GetToken(ctx context.Context, label string) (domain.OAuthToken, error)
	PutToken(ctx context.Context, label string, tok domain.OAuthToken) error
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	CalendarID   string
}

type Provider struct {
	oauth      *oauth2.Config
	store      TokenStore
	calendarID string
	logger     *slog.Logger
	now        func() time.Time

	baseHTTP         *http.Client
	calendarEndpoint string
	tasksEndpoint    string

	// mu serializes token refresh writes.
	mu sync.Mutex
}

type Option func(*Provider)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHTTPClient sets the transport under the OAuth layer.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.baseHTTP = c }
}

// WithEndpoints overrides the API base URLs and the OAuth token URL.
func WithEndpoints(calendarURL, tasksURL, tokenURL string) Option {
	return func(p *Provider) {
		p.calendarEndpoint = calendarURL
		p.tasksEndpoint = tasksURL
		if tokenURL != "" {
			p.oauth.Endpoint.TokenURL = tokenURL
		}
	}
}

func New(cfg Config, store TokenStore, opts ...Option) (*Provider, error) {
	if store == nil {
		return nil, errors.New("google: token store must not be nil")
	}
	p := &Provider{
		oauth: &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
			Endpoint:     googleoauth.Endpoint,
			Scopes:       []string{calendar.CalendarScope, tasks.TasksScope},
		},
		store:      store,
		calendarID: strings.TrimSpace(cfg.CalendarID),
		logger:     slog.Default(),
		now:        time.Now,
		baseHTTP:   &http.Client{Timeout: 20 * time.Second},
	}
	if p.calendarID == "" {
		p.calendarID = defaultCalendarID
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) configured() bool {
	return p.oauth.ClientID != "" && p.oauth.ClientSecret != ""
}

// AuthURL returns the consent page URL. Offline access with a forced prompt
// makes Google hand out a refresh token on every consent.
func (p *Provider) AuthURL(state string) (string, error) {
	if !p.configured() {
		return "", ErrNotConfigured
	}
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for a token and stores it.
func (p *Provider) Exchange(ctx context.Context, code string) error {
	if !p.configured() {
		return ErrNotConfigured
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("google: authorization code is required")
	}
	tok, err := p.oauth.Exchange(p.httpContext(ctx), code)
	if err != nil {
		return fmt.Errorf("google: exchange code: %w", err)
	}
	stored := fromOAuth(tok)
	if stored.RefreshToken == "" {
		// Re-consent without a new refresh token keeps the previous one.
		if prev, err := p.store.GetToken(ctx, TokenLabel); err == nil {
			stored.RefreshToken = prev.RefreshToken
		}
	}
	if err := p.store.PutToken(ctx, TokenLabel, stored); err != nil {
		return fmt.Errorf("google: store token: %w", err)
	}
	p.logger.Info("google account connected", "expires", stored.Expiry)
	return nil
}

type Status struct {
	Connected bool      `json:"connected"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Status reports whether a credential is stored.
func (p *Provider) Status(ctx context.Context) (Status, error) {
	tok, err := p.store.GetToken(ctx, TokenLabel)
	if errors.Is(err, domain.ErrTokenNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("google: load token: %w", err)
	}
	return Status{
		Connected: tok.RefreshToken != "" || tok.Expiry.After(p.now()),
		ExpiresAt: tok.Expiry,
		UpdatedAt: tok.UpdatedAt,
	}, nil
}

func (p *Provider) httpContext(ctx context.Context) context.Context {
	if p.baseHTTP == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.baseHTTP)
}

// authorizedClient loads the stored token and returns an HTTP client that
// refreshes it on demand. No stored token means domain.ErrNotConnected.
func (p *Provider) authorizedClient(ctx context.Context) (*http.Client, error) {
	stored, err := p.store.GetToken(ctx, TokenLabel)
	if errors.Is(err, domain.ErrTokenNotFound) {
		return nil, fmt.Errorf("google: %w", domain.ErrNotConnected)
	}
	if err != nil {
		return nil, fmt.Errorf("google: load token: %w", err)
	}
	if stored.RefreshToken == "" && !stored.Expiry.IsZero() && !stored.Expiry.After(p.now()) {
		return nil, fmt.Errorf("google: token expired without refresh token: %w", domain.ErrNotConnected)
	}

	hctx := p.httpContext(ctx)
	initial := toOAuth(stored)
	src := &persistingSource{
		ctx:    ctx,
		base:   p.oauth.TokenSource(hctx, initial),
		p:      p,
		access: initial.AccessToken,
	}
	return oauth2.NewClient(hctx, oauth2.ReuseTokenSource(initial, src)), nil
}

// persistingSource writes every newly minted access token back to the store.
type persistingSource struct {
	ctx    context.Context
	base   oauth2.TokenSource
	p      *Provider
	access string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == s.access {
		return tok, nil
	}
	s.access = tok.AccessToken

	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	stored := fromOAuth(tok)
	if stored.RefreshToken == "" {
		if prev, err := s.p.store.GetToken(s.ctx, TokenLabel); err == nil {
			stored.RefreshToken = prev.RefreshToken
		}
	}
	if err := s.p.store.PutToken(s.ctx, TokenLabel, stored); err != nil {
		// The fresh token still serves this request.
		s.p.logger.Warn("google token refresh not persisted", "err", err)
	} else {
		s.p.logger.Debug("google token refreshed", "expires", stored.Expiry)
	}
	return tok, nil
}

func (p *Provider) calendarService(ctx context.Context) (*calendar.Service, error) {
	client, err := p.authorizedClient(ctx)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.calendarEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.calendarEndpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: calendar service: %w", err)
	}
	return svc, nil
}

func (p *Provider) tasksService(ctx context.Context) (*tasks.Service, error) {
	client, err := p.authorizedClient(ctx)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.tasksEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.tasksEndpoint))
	}
	svc, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: tasks service: %w", err)
	}
	return svc, nil
}

// mapErr turns a revoked grant into domain.ErrNotConnected and prefixes the
// rest with the failing operation.
func mapErr(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && (re.ErrorCode == "invalid_grant" || re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized) {
		return fmt.Errorf("google: %s: %w: %v", op, domain.ErrNotConnected, err)
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) && ge.Code == http.StatusUnauthorized {
		return fmt.Errorf("google: %s: %w: %v", op, domain.ErrNotConnected, err)
	}
	return fmt.Errorf("google: %s: %w", op, err)
}

func isStatus(err error, code int) bool {
	var ge *googleapi.Error
	return errors.As(err, &ge) && ge.Code == code
}

func toOAuth(t domain.OAuthToken) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

func fromOAuth(t *oauth2.Token) domain.OAuthToken {
	out := domain.OAuthToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
	if scope, ok := t.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out
}

package domain

import (
	"errors"
	"time"
)

// ErrTokenNotFound is returned by token stores when no credential is stored
// under the requested label.
var ErrTokenNotFound = errors.New("token not found")

// Turn is a single persisted conversation turn. Turns of one conversation are
// totally ordered by Sequence.
type Turn struct {
	ConversationID string
	Role           string
	Content        string
	Sequence       int64
	CreatedAt      time.Time
}

// OAuthToken is the stored credential for the upstream calendar/task account.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
	UpdatedAt    time.Time
}

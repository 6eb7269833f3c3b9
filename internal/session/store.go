package session

import (
	"context"
	"time"
)

// Session represents an authenticated user session.
// It stores only identity pointers, not auth state.
type Session struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`       // references users.id
	Authenticator string    `json:"authenticator"` // name of the authenticator that signed the user in
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"` // absolute expiry time
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store defines how sessions are stored and retrieved.
type Store interface {
	Create(ctx context.Context, s Session) error
	// Get returns (nil, nil) when the session does not exist.
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}

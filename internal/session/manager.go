package session

import (
	"context"
	"time"
)

// Manager starts and ends sessions.
type Manager struct {
	store  Store
	tokens *Tokens
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(store Store, tokens *Tokens, ttl time.Duration) *Manager {
	return &Manager{store: store, tokens: tokens, ttl: ttl, now: time.Now}
}

// Start persists a new session for the user and returns its signed token.
func (m *Manager) Start(ctx context.Context, userID, authenticator string) (string, error) {
	sessionID, err := GenerateID()
	if err != nil {
		return "", err
	}

	now := m.now()
	s := Session{
		SessionID:     sessionID,
		UserID:        userID,
		Authenticator: authenticator,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	}

	if err := m.store.Create(ctx, s); err != nil {
		return "", err
	}
	return m.tokens.Issue(s)
}

// Verify resolves a token to its live session. A missing or expired
// session is reported as ErrInvalidToken.
func (m *Manager) Verify(ctx context.Context, token string) (*Session, error) {
	claims, err := m.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	s, err := m.store.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	if s.Expired(m.now()) {
		_ = m.store.Delete(ctx, s.SessionID)
		return nil, ErrInvalidToken
	}
	return s, nil
}

// End deletes the session; ending an unknown session is not an error.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

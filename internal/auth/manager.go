package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ivanstrassberg/storefront/internal/types"
)

// Manager ties signed tokens to server-side sessions.
type Manager struct {
	tokens   *TokenIssuer
	sessions SessionStore
}

func NewManager(tokens *TokenIssuer, sessions SessionStore) *Manager {
	return &Manager{tokens: tokens, sessions: sessions}
}

// Login opens a session for an already authenticated user.
func (m *Manager) Login(ctx context.Context, u *types.User) (string, time.Time, error) {
	sessionID, err := m.sessions.Create(ctx, u.ID, m.tokens.TTL())
	if err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt, err := m.tokens.Issue(u.ID, u.Role, sessionID)
	if err != nil {
		_ = m.sessions.Delete(ctx, sessionID)
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Resolve validates the token and its session. The role in the result is the
// one recorded at login; callers that care re-read the user.
func (m *Manager) Resolve(ctx context.Context, token string) (Identity, error) {
	claims, err := m.tokens.Parse(token)
	if err != nil {
		return Identity{}, err
	}
	owner, err := m.sessions.Get(ctx, claims.Id)
	if errors.Is(err, ErrSessionNotFound) {
		return Identity{}, fmt.Errorf("%w: session revoked", ErrInvalidToken)
	}
	if err != nil {
		return Identity{}, err
	}
	if owner != claims.UserID {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.UserID, Role: claims.Role, SessionID: claims.Id}, nil
}

func (m *Manager) Logout(ctx context.Context, id Identity) error {
	if id.SessionID == "" {
		return nil
	}
	return m.sessions.Delete(ctx, id.SessionID)
}

// RevokeOthers ends every session of the user except keep.
func (m *Manager) RevokeOthers(ctx context.Context, userID, keep string) error {
	return m.sessions.RevokeUser(ctx, userID, keep)
}

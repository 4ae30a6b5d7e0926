package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/Saymandev/Advanced-Poss-sub004/internal/logger"
	"github.com/Saymandev/Advanced-Poss-sub004/internal/store"
)

// SessionManager holds the auth session in memory and mirrors it to the
// durable store so a restart does not force a re-login. All call sites observe
// either the pre-refresh or post-refresh token pair, never a torn state.
type SessionManager struct {
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	user         json.RawMessage

	store store.Store
}

func NewSessionManager(s store.Store) *SessionManager {
	return &SessionManager{store: s}
}

// Restore loads the durable mirror into memory. Called once at startup;
// a missing or unreadable mirror just leaves the session empty.
func (m *SessionManager) Restore(ctx context.Context) {
	sess, err := m.store.GetSession(ctx)
	if err != nil {
		logger.Log.Error("Failed to restore session mirror", zap.Error(err))
		return
	}
	if sess == nil {
		return
	}
	m.mu.Lock()
	m.accessToken = sess.AccessToken
	m.refreshToken = sess.RefreshToken
	m.user = sess.User
	m.mu.Unlock()
}

// AccessToken returns the current access token, falling back to the durable
// mirror when the in-memory copy is empty. Empty means "no session".
func (m *SessionManager) AccessToken(ctx context.Context) string {
	m.mu.RLock()
	token := m.accessToken
	m.mu.RUnlock()
	if token != "" {
		return token
	}

	sess, err := m.store.GetSession(ctx)
	if err != nil || sess == nil {
		return ""
	}
	m.mu.Lock()
	m.accessToken = sess.AccessToken
	m.refreshToken = sess.RefreshToken
	m.user = sess.User
	m.mu.Unlock()
	return sess.AccessToken
}

func (m *SessionManager) RefreshToken(ctx context.Context) string {
	m.mu.RLock()
	token := m.refreshToken
	m.mu.RUnlock()
	if token != "" {
		return token
	}

	sess, err := m.store.GetSession(ctx)
	if err != nil || sess == nil {
		return ""
	}
	return sess.RefreshToken
}

func (m *SessionManager) User() json.RawMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

// SetTokens swaps in a new token pair atomically and persists the mirror.
// An empty refreshToken keeps the previous one (the refresh endpoint may
// rotate only the access token).
func (m *SessionManager) SetTokens(ctx context.Context, accessToken, refreshToken string) {
	m.mu.Lock()
	m.accessToken = accessToken
	if refreshToken != "" {
		m.refreshToken = refreshToken
	}
	sess := &store.Session{
		AccessToken:  m.accessToken,
		RefreshToken: m.refreshToken,
		User:         m.user,
	}
	m.mu.Unlock()

	if err := m.store.SaveSession(ctx, sess); err != nil {
		logger.Log.Error("Failed to persist session mirror", zap.Error(err))
	}
}

// SetUser attaches identity claims after a successful authentication.
func (m *SessionManager) SetUser(ctx context.Context, user json.RawMessage) {
	m.mu.Lock()
	m.user = user
	sess := &store.Session{
		AccessToken:  m.accessToken,
		RefreshToken: m.refreshToken,
		User:         m.user,
	}
	m.mu.Unlock()

	if err := m.store.SaveSession(ctx, sess); err != nil {
		logger.Log.Error("Failed to persist session mirror", zap.Error(err))
	}
}

// Clear wipes both the in-memory session and the durable mirror.
func (m *SessionManager) Clear(ctx context.Context) {
	m.mu.Lock()
	m.accessToken = ""
	m.refreshToken = ""
	m.user = nil
	m.mu.Unlock()

	if err := m.store.ClearSession(ctx); err != nil {
		logger.Log.Error("Failed to clear session mirror", zap.Error(err))
	}
}

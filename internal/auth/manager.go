package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/gmailmcp/internal/logging"
)

// refreshKey is the singleflight key. The manager guards a single
// credential, so one key suffices.
const refreshKey = "refresh"

// Manager owns the cached credential and serializes refreshes. Concurrent
// callers that find the token stale share the outcome of one provider
// call. The refreshed credential is persisted before any waiter is
// released, so an immediate crash after release cannot lose it.
type Manager struct {
	store  *Store
	oauth  *oauth2.Config
	logger *slog.Logger

	refreshTimeout time.Duration
	now            func() time.Time

	// onRefresh is invoked after a successful refresh or install, outside
	// the credential lock. Used for metrics.
	onRefresh func(cred *Credential)

	group singleflight.Group

	mu   sync.RWMutex
	cred *Credential
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRefreshTimeout bounds each provider refresh call.
func WithRefreshTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshTimeout = d
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRefreshCallback registers a hook called with the new credential
// after every successful install or refresh.
func WithRefreshCallback(fn func(cred *Credential)) ManagerOption {
	return func(m *Manager) {
		m.onRefresh = fn
	}
}

// NewManager creates a token manager. The initial credential may be nil,
// in which case every access fails with ErrAuthRequired until Install is
// called from the login flow.
func NewManager(store *Store, oauthCfg *oauth2.Config, initial *Credential, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:          store,
		oauth:          oauthCfg,
		logger:         logger,
		refreshTimeout: 15 * time.Second,
		now:            time.Now,
		cred:           initial,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the cached credential without triggering a refresh.
// It may be nil or expired.
func (m *Manager) Current() *Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cred
}

// Install replaces the credential, persisting it first. Called by the
// login flow after a successful code exchange.
func (m *Manager) Install(cred *Credential) error {
	if err := m.store.Save(cred); err != nil {
		return fmt.Errorf("persisting credential: %w", err)
	}
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()

	m.logger.Info("credential installed",
		logging.Operation("install"),
		slog.String("access_token", logging.SanitizeToken(cred.AccessToken)),
		slog.Int64("expires_at", cred.ExpiresAt))
	if m.onRefresh != nil {
		m.onRefresh(cred)
	}
	return nil
}

// AccessToken returns a usable access token, refreshing if the cached one
// is missing, stale, or within the expiry margin. Concurrent calls share
// a single refresh.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	cred := m.Current()
	if cred.Valid(m.now()) {
		return cred.AccessToken, nil
	}
	refreshed, err := m.refresh(ctx)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// ForceRefresh joins or starts a refresh flight without waiting for the
// expiry margin. A credential that is still valid when the flight runs is
// returned as is.
func (m *Manager) ForceRefresh(ctx context.Context) (*Credential, error) {
	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) (*Credential, error) {
	ch := m.group.DoChan(refreshKey, func() (interface{}, error) {
		return m.doRefresh()
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Credential), nil
	}
}

// doRefresh performs the actual provider call. It runs at most once per
// flight; waiters observe its result. The new credential is written to
// the store before this function returns, which is what releases the
// waiters.
func (m *Manager) doRefresh() (*Credential, error) {
	cred := m.Current()
	// A racing flight may have refreshed already.
	if cred.Valid(m.now()) {
		return cred, nil
	}
	if cred == nil || cred.RefreshToken == "" {
		return nil, ErrAuthRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()

	start := m.now()
	// Hand the source only the refresh token so it always performs a
	// provider call instead of echoing the stale access token back.
	stale := &oauth2.Token{RefreshToken: cred.RefreshToken}
	tok, err := m.oauth.TokenSource(ctx, stale).Token()
	if err != nil {
		m.logger.Error("token refresh failed",
			logging.Operation("refresh"),
			logging.Status(logging.StatusError),
			logging.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	next := FromToken(tok, cred, cred.Scopes)
	if err := m.store.Save(next); err != nil {
		return nil, fmt.Errorf("%w: persisting refreshed credential: %v", ErrRefreshFailed, err)
	}
	m.mu.Lock()
	m.cred = next
	m.mu.Unlock()

	m.logger.Info("token refreshed",
		logging.Operation("refresh"),
		logging.Status(logging.StatusSuccess),
		slog.Duration("duration", m.now().Sub(start)),
		slog.Int64("expires_at", next.ExpiresAt))
	if m.onRefresh != nil {
		m.onRefresh(next)
	}
	return next, nil
}

// TokenSource adapts the manager to oauth2.TokenSource so Google API
// clients refresh through the manager instead of their own source.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerSource{ctx: ctx, m: m}
}

type managerSource struct {
	ctx context.Context
	m   *Manager
}

func (s *managerSource) Token() (*oauth2.Token, error) {
	if _, err := s.m.AccessToken(s.ctx); err != nil {
		return nil, err
	}
	return s.m.Current().Token(), nil
}

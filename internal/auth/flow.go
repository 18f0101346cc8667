package auth

import (
	"context"
	"crypto/rand"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/gmailmcp/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

// stateTTL bounds how long a login attempt may sit between the redirect
// to the provider and the callback.
const stateTTL = 10 * time.Minute

// stateCleanupInterval controls how often expired states are reaped.
const stateCleanupInterval = time.Minute

// Flow implements the three-step browser authorization: /login issues a
// state token and redirects to the provider, the provider redirects back
// to /callback, and the callback exchanges the code and installs the
// credential. Multiple logins may be in flight at once; each state token
// is single use.
type Flow struct {
	manager    *Manager
	oauth      *oauth2.Config
	loginRoute string
	logger     *slog.Logger

	now func() time.Time

	mu     sync.Mutex
	states map[string]time.Time

	stopOnce sync.Once
	stop     chan struct{}

	success *template.Template
	failure *template.Template
}

// NewFlow creates a login flow and starts its state reaper. Call Close
// when shutting down.
func NewFlow(manager *Manager, oauthCfg *oauth2.Config, loginRoute string, logger *slog.Logger) *Flow {
	f := &Flow{
		manager:    manager,
		oauth:      oauthCfg,
		loginRoute: loginRoute,
		logger:     logger,
		now:        time.Now,
		states:     make(map[string]time.Time),
		stop:       make(chan struct{}),
		success:    template.Must(template.ParseFS(templateFS, "templates/success.html")),
		failure:    template.Must(template.ParseFS(templateFS, "templates/error.html")),
	}
	go f.reapLoop()
	return f
}

// Close stops the state reaper.
func (f *Flow) Close() {
	f.stopOnce.Do(func() { close(f.stop) })
}

func (f *Flow) reapLoop() {
	ticker := time.NewTicker(stateCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.reapStates()
		}
	}
}

func (f *Flow) reapStates() {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for state, expiry := range f.states {
		if now.After(expiry) {
			delete(f.states, state)
		}
	}
}

// newState mints and registers a fresh anti-forgery state token.
func (f *Flow) newState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating state token: %w", err)
	}
	state := hex.EncodeToString(buf)
	f.mu.Lock()
	f.states[state] = f.now().Add(stateTTL)
	f.mu.Unlock()
	return state, nil
}

// consumeState validates and removes a state token. It returns false for
// unknown, expired, or already consumed tokens.
func (f *Flow) consumeState(state string) bool {
	if state == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	expiry, ok := f.states[state]
	if !ok {
		return false
	}
	delete(f.states, state)
	return f.now().Before(expiry)
}

// HandleLogin issues a state token and redirects to the provider consent
// page. Offline access and forced consent ensure the provider returns a
// refresh token even on repeat authorizations.
func (f *Flow) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := f.newState()
	if err != nil {
		f.logger.Error("login failed", logging.Operation("login"), logging.Err(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	url := f.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	f.logger.Info("redirecting to provider", logging.Operation("login"))
	http.Redirect(w, r, url, http.StatusFound)
}

// HandleCallback completes the flow: it verifies the state token,
// exchanges the authorization code, and installs the credential. State
// verification happens before anything else so a forged callback cannot
// touch the token manager.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		f.logger.Warn("provider denied authorization",
			logging.Operation("callback"),
			slog.String("provider_error", errParam))
		f.renderError(w, http.StatusBadRequest, fmt.Sprintf("The provider reported an error: %s.", errParam))
		return
	}

	if !f.consumeState(query.Get("state")) {
		f.logger.Warn("callback with invalid state", logging.Operation("callback"), logging.Err(ErrInvalidState))
		f.renderError(w, http.StatusForbidden, "The login attempt is invalid or has expired.")
		return
	}

	code := query.Get("code")
	if code == "" {
		f.renderError(w, http.StatusBadRequest, "The provider response is missing the authorization code.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	tok, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		f.logger.Error("code exchange failed",
			logging.Operation("callback"),
			logging.Status(logging.StatusError),
			logging.Err(err))
		f.renderError(w, http.StatusBadGateway, "The provider rejected the authorization code.")
		return
	}

	cred := FromToken(tok, f.manager.Current(), f.oauth.Scopes)
	if err := f.manager.Install(cred); err != nil {
		f.logger.Error("installing credential failed",
			logging.Operation("callback"),
			logging.Status(logging.StatusError),
			logging.Err(err))
		f.renderError(w, http.StatusInternalServerError, "The credential could not be saved.")
		return
	}

	f.logger.Info("authorization complete",
		logging.Operation("callback"),
		logging.Status(logging.StatusSuccess))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := f.success.Execute(w, nil); err != nil {
		f.logger.Error("rendering success page failed", logging.Err(err))
	}
}

func (f *Flow) renderError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	data := struct {
		Message    string
		LoginRoute string
	}{Message: message, LoginRoute: f.loginRoute}
	if err := f.failure.Execute(w, data); err != nil {
		f.logger.Error("rendering error page failed", logging.Err(err))
	}
}

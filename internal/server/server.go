package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/gmailmcp/internal/auth"
	"github.com/teemow/gmailmcp/internal/config"
	"github.com/teemow/gmailmcp/internal/instrumentation"
	"github.com/teemow/gmailmcp/internal/mcp"
	"github.com/teemow/gmailmcp/internal/tools/gmail_tools"
)

// GmailScopes are the OAuth scopes the server requests: read access for
// search and extraction, compose and send for the draft tools.
var GmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.compose",
	"https://www.googleapis.com/auth/gmail.send",
}

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// Server wires the MCP transports, the OAuth flow and the operational
// endpoints onto one HTTP listener.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	manager *auth.Manager
	flow    *auth.Flow
	router  *mcp.Router
	health  *HealthChecker

	provider *instrumentation.Provider

	httpServer *http.Server
}

// OAuthConfig builds the oauth2 configuration for the configured client
// credentials.
func OAuthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		Scopes:       GmailScopes,
		Endpoint:     google.Endpoint,
	}
}

// New assembles a server from its dependencies. The token manager and
// instrumentation provider are created by the caller so the CLI can
// report startup problems before binding the listener.
func New(cfg *config.Config, manager *auth.Manager, provider *instrumentation.Provider, version string, logger *slog.Logger) *Server {
	oauthCfg := OAuthConfig(cfg)
	flow := auth.NewFlow(manager, oauthCfg, cfg.LoginRoute, logger)

	registry := mcp.NewRegistry()
	svc := gmail_tools.NewService(manager, logger)
	gmail_tools.Register(registry, svc, cfg.ReadOnly)

	router := mcp.NewRouter(registry, logger,
		mcp.WithIdleTimeout(cfg.SessionIdleTimeout),
		mcp.WithToolTimeout(cfg.ToolTimeout),
		mcp.WithMetrics(provider.Metrics()),
		mcp.WithServerInfo("gmailmcp", version,
			"Gmail MCP server. Tools: search_threads, create_draft, extract_attachment_by_filename, "+
				"fetch_email_bodies, download_attachment, forward_email, send_draft."))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		manager:  manager,
		flow:     flow,
		router:   router,
		provider: provider,
	}
	s.health = NewHealthChecker(s)
	return s
}

// Router exposes the session router, for tests.
func (s *Server) Router() *mcp.Router {
	return s.router
}

// Handler builds the full HTTP handler tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	stream := mcp.NewStreamHandler(s.router, s.logger)
	sse := mcp.NewSSEHandler(s.router, s.logger, s.cfg.SSEPostRoute(), s.cfg.SSEKeepAlive)

	mux.Handle(s.cfg.StreamRoute, stream)
	mux.HandleFunc(s.cfg.SSERoute(), sse.ServeStream)
	mux.HandleFunc(s.cfg.SSEPostRoute(), sse.ServeMessage)

	mux.HandleFunc(s.cfg.LoginRoute, s.flow.HandleLogin)
	mux.HandleFunc(s.cfg.CallbackRoute, s.flow.HandleCallback)
	mux.HandleFunc("/refresh", s.handleRefresh)

	if s.provider.Enabled() {
		mux.Handle(s.cfg.MetricsRoute, promhttp.Handler())
	}
	s.health.RegisterEndpoints(mux, s.cfg.HealthRoute)
	mux.HandleFunc(s.cfg.RootRoute, s.handleIndex)

	return s.withRequestMetrics(mux)
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully. SSE streams are long lived, so WriteTimeout stays unset
// and only the request headers are bounded.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			slog.String("addr", s.httpServer.Addr),
			slog.String("stream_route", s.cfg.StreamRoute),
			slog.String("sse_route", s.cfg.SSERoute()))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	s.health.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	s.router.Close()
	s.flow.Close()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// handleRefresh forces a token refresh. Useful when debugging
// authorization problems without waiting for expiry.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cred, err := s.manager.ForceRefresh(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":     "refreshed",
		"expires_at": cred.ExpiresAt,
	})
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) withRequestMetrics(next http.Handler) http.Handler {
	metrics := s.provider.Metrics()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rec.status, time.Since(start))
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("http_status", rec.status))
	})
}

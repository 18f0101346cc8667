package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default values for the serve command. Routes are overridable via flags or
// environment variables; the SSE sub-paths are fixed relative to the prefix.
const (
	DefaultPort         = 8080
	DefaultMetricsRoute = "/metrics"
	DefaultStreamRoute  = "/mcp"
	DefaultSSEPrefix    = "/mcp-sse"
	DefaultLoginRoute   = "/login"
	DefaultCallbackRoute = "/callback"
	DefaultHealthRoute  = "/health"
	DefaultRootRoute    = "/"

	// sseRoute and ssePostRoute are relative to SSEPrefix.
	sseRoute     = "/sse"
	ssePostRoute = "/message"

	DefaultSessionIdleTimeout = 5 * time.Minute
	DefaultToolTimeout        = 60 * time.Second
	DefaultRefreshTimeout     = 15 * time.Second
	DefaultSSEKeepAlive       = 15 * time.Second
)

// Config holds the runtime configuration for the server.
type Config struct {
	Port int

	// Google OAuth client credentials. Required for serve.
	GmailClientID     string
	GmailClientSecret string

	// OAuthRedirectURL overrides the default http://localhost:{port}{CallbackRoute}.
	OAuthRedirectURL string

	// Route configuration.
	MetricsRoute  string
	StreamRoute   string
	SSEPrefix     string
	LoginRoute    string
	CallbackRoute string
	HealthRoute   string
	RootRoute     string

	// AppDataDir is where the token file lives. Empty means platform default.
	AppDataDir string

	// ReadOnly disables the write tools (draft creation, sending, downloads).
	ReadOnly bool

	SessionIdleTimeout time.Duration
	ToolTimeout        time.Duration
	RefreshTimeout     time.Duration
	SSEKeepAlive       time.Duration
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Port:               DefaultPort,
		MetricsRoute:       DefaultMetricsRoute,
		StreamRoute:        DefaultStreamRoute,
		SSEPrefix:          DefaultSSEPrefix,
		LoginRoute:         DefaultLoginRoute,
		CallbackRoute:      DefaultCallbackRoute,
		HealthRoute:        DefaultHealthRoute,
		RootRoute:          DefaultRootRoute,
		SessionIdleTimeout: DefaultSessionIdleTimeout,
		ToolTimeout:        DefaultToolTimeout,
		RefreshTimeout:     DefaultRefreshTimeout,
		SSEKeepAlive:       DefaultSSEKeepAlive,
	}
}

// Validate checks that the configuration is usable for serving.
func (c *Config) Validate() error {
	if c.GmailClientID == "" {
		return fmt.Errorf("GMAIL_CLIENT_ID not set")
	}
	if c.GmailClientSecret == "" {
		return fmt.Errorf("GMAIL_CLIENT_SECRET not set")
	}
	for name, route := range map[string]string{
		"metrics":  c.MetricsRoute,
		"stream":   c.StreamRoute,
		"sse":      c.SSEPrefix,
		"login":    c.LoginRoute,
		"callback": c.CallbackRoute,
		"health":   c.HealthRoute,
		"root":     c.RootRoute,
	} {
		if !strings.HasPrefix(route, "/") {
			return fmt.Errorf("%s route %q must start with /", name, route)
		}
	}
	return nil
}

// RedirectURL returns the configured OAuth redirect URL, falling back to
// http://localhost:{port}{callback} for local development.
func (c *Config) RedirectURL() string {
	if c.OAuthRedirectURL != "" {
		return c.OAuthRedirectURL
	}
	return fmt.Sprintf("http://localhost:%d%s", c.Port, c.CallbackRoute)
}

// SSERoute returns the full path of the SSE stream endpoint.
func (c *Config) SSERoute() string {
	return c.SSEPrefix + sseRoute
}

// SSEPostRoute returns the full path of the SSE companion message endpoint.
func (c *Config) SSEPostRoute() string {
	return c.SSEPrefix + ssePostRoute
}

// DataDir resolves the app data directory, creating it if necessary.
func (c *Config) DataDir() (string, error) {
	dir := c.AppDataDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve user config dir: %w", err)
		}
		dir = filepath.Join(base, "gmailmcp")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create app data directory %s: %w", dir, err)
	}
	return dir, nil
}

// TokenFile returns the path of the persisted credential file.
func (c *Config) TokenFile() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "token.json"), nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teemow/gmailmcp/internal/auth"
	"github.com/teemow/gmailmcp/internal/config"
	"github.com/teemow/gmailmcp/internal/instrumentation"
	"github.com/teemow/gmailmcp/internal/logging"
	"github.com/teemow/gmailmcp/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		debugMode      bool
		yolo           bool
		metricsEnabled bool
		cfg            = config.Default()
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Gmail MCP server",
		Long: `Start the Model Context Protocol (MCP) server exposing Gmail tools
over two HTTP transports: a streaming HTTP endpoint and an SSE endpoint.

OAuth Configuration:
  Google OAuth client credentials are required:
    --client-id and --client-secret flags
    OR GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET env vars
    (a .env file in the working directory is read as well)

  The redirect URL defaults to http://localhost:{port}{callback route};
  override it with --redirect-url or OAUTH_REDIRECT_URL for deployed
  instances.

Safety Mode:
  By default, the server operates in read-only mode, providing only safe
  operations. Use --yolo to enable draft creation and sending.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// A .env file is optional; real environment wins.
			_ = godotenv.Load()

			applyEnvFallbacks(cmd, cfg)
			cfg.ReadOnly = !yolo
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg, debugMode, metricsEnabled)
		},
	}

	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&yolo, "yolo", false, "Enable write operations (draft creation, sending). Default is read-only mode.")
	cmd.Flags().IntVar(&cfg.Port, "port", config.DefaultPort, "HTTP listen port. Can also use PORT env var.")
	cmd.Flags().StringVar(&cfg.GmailClientID, "client-id", "", "Google OAuth client ID. Can also use GMAIL_CLIENT_ID env var.")
	cmd.Flags().StringVar(&cfg.GmailClientSecret, "client-secret", "", "Google OAuth client secret. Can also use GMAIL_CLIENT_SECRET env var.")
	cmd.Flags().StringVar(&cfg.OAuthRedirectURL, "redirect-url", "", "OAuth redirect URL. Can also use OAUTH_REDIRECT_URL env var.")
	cmd.Flags().StringVar(&cfg.AppDataDir, "data-dir", "", "Directory for the persisted token file. Defaults to the user config dir.")
	cmd.Flags().StringVar(&cfg.StreamRoute, "stream-route", config.DefaultStreamRoute, "Route of the streaming HTTP transport")
	cmd.Flags().StringVar(&cfg.SSEPrefix, "sse-prefix", config.DefaultSSEPrefix, "Path prefix of the SSE transport endpoints")
	cmd.Flags().StringVar(&cfg.LoginRoute, "login-route", config.DefaultLoginRoute, "Route that starts the OAuth login flow")
	cmd.Flags().StringVar(&cfg.CallbackRoute, "callback-route", config.DefaultCallbackRoute, "Route of the OAuth callback")
	cmd.Flags().StringVar(&cfg.MetricsRoute, "metrics-route", config.DefaultMetricsRoute, "Route of the Prometheus metrics endpoint")
	cmd.Flags().StringVar(&cfg.HealthRoute, "health-route", config.DefaultHealthRoute, "Route of the health endpoint")
	cmd.Flags().DurationVar(&cfg.SessionIdleTimeout, "session-idle-timeout", config.DefaultSessionIdleTimeout, "Idle time before an MCP session is reaped")
	cmd.Flags().DurationVar(&cfg.ToolTimeout, "tool-timeout", config.DefaultToolTimeout, "Per-invocation tool timeout")
	cmd.Flags().DurationVar(&cfg.RefreshTimeout, "refresh-timeout", config.DefaultRefreshTimeout, "Timeout for OAuth token refresh calls")
	cmd.Flags().DurationVar(&cfg.SSEKeepAlive, "sse-keepalive", config.DefaultSSEKeepAlive, "Interval between SSE keepalive comments")
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Expose Prometheus metrics. Can also use METRICS_ENABLED env var.")

	return cmd
}

// applyEnvFallbacks fills settings from the environment when the
// corresponding flag was not set explicitly.
func applyEnvFallbacks(cmd *cobra.Command, cfg *config.Config) {
	if !cmd.Flags().Changed("port") {
		if portStr := os.Getenv("PORT"); portStr != "" {
			if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
				cfg.Port = port
			}
		}
	}
	if cfg.GmailClientID == "" {
		cfg.GmailClientID = os.Getenv("GMAIL_CLIENT_ID")
	}
	if cfg.GmailClientSecret == "" {
		cfg.GmailClientSecret = os.Getenv("GMAIL_CLIENT_SECRET")
	}
	if cfg.OAuthRedirectURL == "" {
		cfg.OAuthRedirectURL = os.Getenv("OAUTH_REDIRECT_URL")
	}
	if cfg.AppDataDir == "" {
		cfg.AppDataDir = os.Getenv("GMAILMCP_DATA_DIR")
	}
}

func runServe(cfg *config.Config, debugMode, metricsEnabled bool) error {
	logger := logging.Setup(debugMode)

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if os.Getenv("METRICS_ENABLED") == "false" {
		metricsEnabled = false
	}
	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
		ServiceName:    "gmailmcp",
		ServiceVersion: version,
		Enabled:        metricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("creating instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown", logging.Err(err))
		}
	}()

	tokenFile, err := cfg.TokenFile()
	if err != nil {
		return err
	}
	store := auth.NewStore(tokenFile)

	// A corrupt token file is fatal: silently discarding it would force a
	// surprising re-authorization. Startup without any token is fine.
	initial, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading persisted credential from %s: %w", tokenFile, err)
	}
	if initial != nil {
		logger.Info("loaded persisted credential",
			logging.Operation("startup"),
			slog.String("access_token", logging.SanitizeToken(initial.AccessToken)),
			slog.Int64("expires_at", initial.ExpiresAt))
	} else {
		logger.Info("no persisted credential, authorization required",
			logging.Operation("startup"))
	}

	metrics := provider.Metrics()
	if initial != nil {
		metrics.RecordTokenTimestamps(ctx, 0, initial.ExpiresAt)
	}
	manager := auth.NewManager(store, server.OAuthConfig(cfg), initial, logger,
		auth.WithRefreshTimeout(cfg.RefreshTimeout),
		auth.WithRefreshCallback(func(cred *auth.Credential) {
			metrics.RecordTokenTimestamps(context.Background(), time.Now().Unix(), cred.ExpiresAt)
		}))

	if cfg.ReadOnly {
		logger.Info("starting in read-only mode (use --yolo to enable write operations)")
	} else {
		logger.Info("write operations enabled")
	}

	srv := server.New(cfg, manager, provider, version, logger)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

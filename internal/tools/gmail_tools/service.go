package gmail_tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/gmailmcp/internal/auth"
	"github.com/teemow/gmailmcp/internal/gmail"
	"github.com/teemow/gmailmcp/internal/logging"
	"github.com/teemow/gmailmcp/internal/mcp"
)

// Service carries the shared dependencies of the Gmail tool handlers.
// The Gmail client is built lazily on first use so the server can start
// before the user has authorized an account.
type Service struct {
	manager     *auth.Manager
	logger      *slog.Logger
	downloadDir string
	clientOpts  []option.ClientOption

	mu     sync.Mutex
	client *gmail.Client
}

// Option configures a Service.
type Option func(*Service)

// WithDownloadDir sets the default directory for download_attachment.
func WithDownloadDir(dir string) Option {
	return func(s *Service) { s.downloadDir = dir }
}

// WithClientOptions adds Gmail API client options, for tests that point
// the client at a fake endpoint.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *Service) { s.clientOpts = append(s.clientOpts, opts...) }
}

// WithClient injects a prebuilt Gmail client.
func WithClient(c *gmail.Client) Option {
	return func(s *Service) { s.client = c }
}

// NewService creates the handler dependencies. manager may be nil when a
// client is injected directly.
func NewService(manager *auth.Manager, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		manager: manager,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// gmailClient returns the shared Gmail client, verifying first that a
// usable access token exists. The token source keeps later calls fresh.
func (s *Service) gmailClient(ctx context.Context) (*gmail.Client, error) {
	if s.manager != nil {
		if _, err := s.manager.AccessToken(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	opts := s.clientOpts
	if s.manager != nil {
		opts = append([]option.ClientOption{
			option.WithTokenSource(s.manager.TokenSource(context.Background())),
		}, opts...)
	}
	client, err := gmail.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

// fail maps a handler error to a tool outcome. Authorization problems
// and upstream API failures surface as protocol errors so clients can
// react to the code; everything else is reported as a tool-level error
// the model can read and recover from.
func (s *Service) fail(toolName string, err error) (*mcpgo.CallToolResult, error) {
	s.logger.Warn("tool call failed",
		logging.Tool(toolName),
		logging.Err(err))

	switch {
	case errors.Is(err, auth.ErrAuthRequired), errors.Is(err, auth.ErrRefreshFailed):
		return nil, &mcp.ErrorObject{
			Code:    mcp.CodeAuthRequired,
			Message: "Google authorization required: open the server's /login page to connect an account",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return nil, err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return nil, &mcp.ErrorObject{
			Code:    mcp.CodeUpstreamAPIError,
			Message: fmt.Sprintf("Gmail API error: %d - %s", apiErr.Code, apiErr.Message),
		}
	}

	return mcpgo.NewToolResultError(err.Error()), nil
}

// jsonResult marshals a tool result payload.
func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return mcpgo.NewToolResultText(string(data)), nil
}

// Register adds the Gmail tools to the registry. Write tools are
// skipped in read-only mode; download_attachment counts as a write
// tool because it creates files on the server's disk.
func Register(registry *mcp.Registry, svc *Service, readOnly bool) {
	registerThreadTools(registry, svc)
	registerAttachmentTools(registry, svc)
	if !readOnly {
		registerDownloadTool(registry, svc)
		registerDraftTools(registry, svc)
	}
}

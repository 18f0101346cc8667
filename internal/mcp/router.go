package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/gmailmcp/internal/instrumentation"
	"github.com/teemow/gmailmcp/internal/logging"
)

// sessionCleanupInterval controls how often the idle reaper runs.
const sessionCleanupInterval = 30 * time.Second

// Router owns the live session table and connects transports to tool
// handlers. It allocates sessions, dispatches inbound JSON-RPC messages,
// and routes each response back to the transport that must carry it.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *instrumentation.Metrics

	idleTimeout time.Duration
	toolTimeout time.Duration
	newID       func() (string, error)
	now         func() time.Time

	serverName    string
	serverVersion string
	instructions  string

	mu       sync.Mutex
	sessions map[string]*Session

	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	stopOnce      sync.Once
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithIdleTimeout sets how long a session may sit without traffic before
// it is reaped.
func WithIdleTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.idleTimeout = d }
}

// WithToolTimeout bounds each tool invocation.
func WithToolTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.toolTimeout = d }
}

// WithIDGenerator overrides session ID generation, for tests.
func WithIDGenerator(fn func() (string, error)) RouterOption {
	return func(r *Router) { r.newID = fn }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *instrumentation.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithServerInfo sets the identity reported on initialize.
func WithServerInfo(name, version, instructions string) RouterOption {
	return func(r *Router) {
		r.serverName = name
		r.serverVersion = version
		r.instructions = instructions
	}
}

// NewRouter creates a session router and starts its idle reaper. Call
// Close on shutdown.
func NewRouter(registry *Registry, logger *slog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		registry:      registry,
		logger:        logger,
		metrics:       &instrumentation.Metrics{},
		idleTimeout:   5 * time.Minute,
		toolTimeout:   60 * time.Second,
		newID:         randomSessionID,
		now:           time.Now,
		serverName:    "gmailmcp",
		serverVersion: "dev",
		sessions:      make(map[string]*Session),
		cleanupTicker: time.NewTicker(sessionCleanupInterval),
		cleanupDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.cleanupLoop()
	return r
}

// Close stops the reaper and tears down every live session.
func (r *Router) Close() {
	r.stopOnce.Do(func() {
		r.cleanupTicker.Stop()
		close(r.cleanupDone)
	})

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		r.teardown(s, "shutdown")
	}
}

func randomSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateSession allocates a fresh session with a collision-checked random
// ID and binds it to the given transport. binding may be nil for the
// streaming HTTP transport, whose responder is per request.
func (r *Router) CreateSession(kind TransportKind, binding Binding) (*Session, error) {
	for attempt := 0; attempt < 8; attempt++ {
		id, err := r.newID()
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if _, exists := r.sessions[id]; exists {
			r.mu.Unlock()
			continue
		}
		s := &Session{
			id:        id,
			kind:      kind,
			binding:   binding,
			createdAt: r.now(),
			lastSeen:  r.now(),
			pending:   make(map[string]*pendingRequest),
		}
		r.sessions[id] = s
		r.mu.Unlock()

		r.metrics.SessionOpened(context.Background(), string(kind))
		r.logger.Info("session created",
			logging.Session(id),
			logging.Transport(string(kind)))
		return s, nil
	}
	return nil, errors.New("could not allocate a unique session id")
}

// LookupSession returns a live session and refreshes its idle clock.
func (r *Router) LookupSession(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.touch(r.now())
	}
	return s, ok
}

// RemoveSession tears down a session, typically on transport disconnect.
// Results of still-running invocations are discarded.
func (r *Router) RemoveSession(id, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.teardown(s, reason)
}

func (r *Router) teardown(s *Session, reason string) {
	// The binding is closed before the drain: with the stream reader
	// already gone its buffer never empties, and a blocking Deliver
	// would wedge the teardown. Waiters with per-request responders
	// still receive their expiry notices.
	if s.binding != nil {
		s.binding.Close()
	}
	drained := s.drainPending()
	for key, entry := range drained {
		resp := NewErrorResponse(json.RawMessage(key), CodeSessionExpired, "session expired", nil)
		if err := entry.responder.Deliver(resp.Marshal()); err != nil {
			r.logger.Debug("undeliverable expiry notice",
				logging.Session(s.id),
				logging.Request(key))
		}
	}
	r.metrics.SessionClosed(context.Background(), string(s.kind))
	r.logger.Info("session closed",
		logging.Session(s.id),
		logging.Transport(string(s.kind)),
		slog.String("reason", reason),
		slog.Int("abandoned_requests", len(drained)))
}

func (r *Router) cleanupLoop() {
	for {
		select {
		case <-r.cleanupDone:
			return
		case <-r.cleanupTicker.C:
			r.reapIdle()
		}
	}
}

// reapIdle removes sessions without traffic for the idle timeout. Their
// pending requests fail with SessionExpired.
func (r *Router) reapIdle() {
	now := r.now()
	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if s.idleSince(now) > r.idleTimeout {
			delete(r.sessions, id)
			idle = append(idle, s)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		r.teardown(s, "idle timeout")
	}
}

// SessionCount returns the number of live sessions.
func (r *Router) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type toolListResult struct {
	Tools []mcpgo.Tool `json:"tools"`
}

// Dispatch handles one inbound message for a session. Responses are
// delivered through responder; the return value reports whether the
// message will produce a response at all (false for notifications).
// Tool calls run on their own goroutine and deliver asynchronously.
func (r *Router) Dispatch(s *Session, raw []byte, responder Responder) bool {
	s.touch(r.now())

	req, errResp := ParseRequest(raw)
	if errResp != nil {
		r.deliver(s, responder, errResp)
		return true
	}

	switch req.Method {
	case "initialize":
		r.deliver(s, responder, NewResponse(req.ID, initializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      serverInfo{Name: r.serverName, Version: r.serverVersion},
			Instructions:    r.instructions,
		}))
		return true

	case "ping":
		r.deliver(s, responder, NewResponse(req.ID, struct{}{}))
		return true

	case "tools/list":
		r.deliver(s, responder, NewResponse(req.ID, toolListResult{Tools: r.registry.List()}))
		return true

	case "tools/call":
		return r.dispatchToolCall(s, req, responder)

	default:
		if req.IsNotification() {
			// Notifications for unknown methods are ignored, including
			// notifications/initialized.
			r.logger.Debug("notification received",
				logging.Session(s.id),
				slog.String("mcp_method", req.Method))
			return false
		}
		r.deliver(s, responder, NewErrorResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("method %q not found", req.Method), nil))
		return true
	}
}

func (r *Router) dispatchToolCall(s *Session, req *Request, responder Responder) bool {
	if req.IsNotification() {
		r.logger.Warn("tool call without request id dropped", logging.Session(s.id))
		return false
	}

	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		r.deliver(s, responder, NewErrorResponse(req.ID, CodeInvalidParams, "invalid tool call params", err.Error()))
		return true
	}

	tool, handler, ok := r.registry.Get(params.Name)
	if !ok {
		r.deliver(s, responder, NewErrorResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("unknown tool %q", params.Name), nil))
		return true
	}

	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}
	if err := ValidateArguments(tool, params.Arguments); err != nil {
		r.deliver(s, responder, NewErrorResponse(req.ID, CodeInvalidParams, err.Error(), nil))
		return true
	}

	key := req.RequestKey()
	onTimeout := func() { r.expirePending(s, key, params.Name) }
	if !s.addPending(key, responder, r.toolTimeout, onTimeout) {
		r.deliver(s, responder, NewErrorResponse(req.ID, CodeInvalidRequest,
			fmt.Sprintf("request id %s is already pending", key), nil))
		return true
	}

	go r.runTool(s, req.ID, key, tool, handler, params)
	return true
}

// expirePending fires when a tool invocation outlives its timeout: the
// slot is released and the client is told, even though the handler may
// still be running. Its eventual result will find the slot gone and be
// discarded.
func (r *Router) expirePending(s *Session, key, toolName string) {
	entry, ok := s.takePending(key)
	if !ok {
		return
	}
	r.logger.Warn("tool invocation timed out",
		logging.Session(s.id),
		logging.Request(key),
		logging.Tool(toolName))
	resp := NewErrorResponse(json.RawMessage(key), CodeUpstreamTimeout,
		fmt.Sprintf("tool %q did not complete in time", toolName), nil)
	if err := entry.responder.Deliver(resp.Marshal()); err != nil {
		r.logger.Debug("undeliverable timeout notice", logging.Session(s.id), logging.Request(key))
	}
}

// callTool invokes the handler, turning a panic in the handler or one
// of its parsers into an error instead of taking the process down.
func callTool(ctx context.Context, handler ToolHandlerFunc, req mcpgo.CallToolRequest) (result *mcpgo.CallToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &ErrorObject{
				Code:    CodeInternalError,
				Message: fmt.Sprintf("tool handler panicked: %v", rec),
			}
		}
	}()
	return handler(ctx, req)
}

func (r *Router) runTool(s *Session, id json.RawMessage, key string, tool mcpgo.Tool, handler ToolHandlerFunc, params toolCallParams) {
	ctx, cancel := context.WithTimeout(context.Background(), r.toolTimeout)
	defer cancel()

	var callReq mcpgo.CallToolRequest
	callReq.Params.Name = params.Name
	callReq.Params.Arguments = params.Arguments

	start := r.now()
	result, err := callTool(ctx, handler, callReq)
	elapsed := r.now().Sub(start)

	status := logging.StatusSuccess
	var resp *Response
	switch {
	case err != nil:
		status = logging.StatusError
		resp = NewErrorResponse(id, classifyToolError(err), err.Error(), nil)
	case result != nil && result.IsError:
		status = logging.StatusError
		resp = NewResponse(id, result)
	default:
		resp = NewResponse(id, result)
	}
	r.metrics.RecordToolInvocation(context.Background(), params.Name, status, elapsed)

	entry, ok := s.takePending(key)
	if !ok {
		// Timed out or the session was reaped while the handler ran.
		r.logger.Warn("discarding result for released request",
			logging.Session(s.id),
			logging.Request(key),
			logging.Tool(params.Name))
		return
	}

	r.logger.Info("tool call completed",
		logging.Session(s.id),
		logging.Request(key),
		logging.Tool(params.Name),
		logging.Status(status),
		slog.Duration("duration", elapsed))
	if err := entry.responder.Deliver(resp.Marshal()); err != nil {
		r.logger.Warn("failed to deliver tool result",
			logging.Session(s.id),
			logging.Request(key),
			logging.Err(err))
	}
}

// classifyToolError maps handler errors to protocol error codes. Handlers
// may return an *ErrorObject to pick their own code; context deadline
// errors become upstream timeouts.
func classifyToolError(err error) int {
	var protoErr *ErrorObject
	if errors.As(err, &protoErr) {
		return protoErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeUpstreamTimeout
	}
	return CodeInternalError
}

func (r *Router) deliver(s *Session, responder Responder, resp *Response) {
	if err := responder.Deliver(resp.Marshal()); err != nil {
		r.logger.Warn("failed to deliver response",
			logging.Session(s.id),
			logging.Err(err))
	}
}

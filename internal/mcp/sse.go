package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/teemow/gmailmcp/internal/logging"
)

// sseBufferSize is how many undelivered events an SSE session may queue
// before writers block.
const sseBufferSize = 16

// sseBinding is the long-lived transport attachment of an SSE session:
// delivered messages are pushed as events on the open stream.
type sseBinding struct {
	ch        chan json.RawMessage
	done      chan struct{}
	closeOnce sync.Once
}

func newSSEBinding() *sseBinding {
	return &sseBinding{
		ch:   make(chan json.RawMessage, sseBufferSize),
		done: make(chan struct{}),
	}
}

func (b *sseBinding) Deliver(msg json.RawMessage) error {
	select {
	case b.ch <- msg:
		return nil
	case <-b.done:
		return errors.New("sse stream closed")
	}
}

func (b *sseBinding) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// SSEHandler serves the push transport: a GET opens the event stream and
// allocates a session, a POST to the companion message endpoint feeds
// requests into that session. Results arrive as events on the stream.
type SSEHandler struct {
	router    *Router
	logger    *slog.Logger
	postRoute string
	keepAlive time.Duration
}

// NewSSEHandler creates the SSE transport adapter. postRoute is the
// message endpoint path advertised in the initial endpoint event.
func NewSSEHandler(router *Router, logger *slog.Logger, postRoute string, keepAlive time.Duration) *SSEHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &SSEHandler{
		router:    router,
		logger:    logger,
		postRoute: postRoute,
		keepAlive: keepAlive,
	}
}

// ServeStream handles the GET that opens an SSE connection.
func (h *SSEHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	binding := newSSEBinding()
	session, err := h.router.CreateSession(TransportSSE, binding)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// The first event tells the client where to POST its requests.
	fmt.Fprintf(w, "event: endpoint\ndata: %s?session_id=%s\n\n", h.postRoute, session.ID())
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case msg := <-binding.ch:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-binding.done:
			// Closed by the router (idle reap or shutdown).
			return
		case <-r.Context().Done():
			h.router.RemoveSession(session.ID(), "client disconnected")
			return
		}
	}
}

// ServeMessage handles the companion POST endpoint. The request is
// attributed to the SSE session named in the query; its result arrives on
// the stream, the HTTP response is a bare acknowledgement.
func (h *SSEHandler) ServeMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	session, ok := h.router.LookupSession(sessionID)
	if !ok {
		h.logger.Warn("message for unknown session", logging.Session(sessionID))
		writeSessionExpired(w)
		return
	}
	if session.Kind() != TransportSSE || session.Binding() == nil {
		http.Error(w, "session is not an sse session", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	h.router.Dispatch(session, body, session.Binding())
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprint(w, "Accepted")
}

func writeSessionExpired(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	resp := NewErrorResponse(nil, CodeSessionExpired, "session not found or expired", nil)
	w.Write(resp.Marshal())
}

package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// HeaderSessionID carries the session ID on the streaming HTTP transport.
// The server echoes it on every response; clients send it back to stay in
// the same session.
const HeaderSessionID = "Mcp-Session-Id"

// maxBodyBytes bounds inbound JSON-RPC request bodies.
const maxBodyBytes = 4 << 20

// oneShot is the per-request responder of the streaming HTTP transport:
// the first delivered message completes the HTTP exchange.
type oneShot struct {
	ch chan json.RawMessage
}

func newOneShot() *oneShot {
	return &oneShot{ch: make(chan json.RawMessage, 1)}
}

func (o *oneShot) Deliver(msg json.RawMessage) error {
	select {
	case o.ch <- msg:
		return nil
	default:
		return errors.New("response already delivered")
	}
}

// StreamHandler serves the synchronous MCP transport: one POSTed JSON-RPC
// request, one JSON-RPC response on the same exchange.
type StreamHandler struct {
	router *Router
	logger *slog.Logger
}

// NewStreamHandler creates the streaming HTTP transport adapter.
func NewStreamHandler(router *Router, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{router: router, logger: logger}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	// Requests without a live session get a fresh one; the ID rides back
	// on the response header.
	var session *Session
	if id := r.Header.Get(HeaderSessionID); id != "" {
		session, _ = h.router.LookupSession(id)
	}
	if session == nil {
		session, err = h.router.CreateSession(TransportHTTPStream, nil)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set(HeaderSessionID, session.ID())

	reply := newOneShot()
	if !h.router.Dispatch(session, body, reply) {
		// Notification: acknowledged, nothing to wait for.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// Tool invocations resolve asynchronously but always resolve: the
	// router's per-request timeout delivers an error if the handler
	// does not finish.
	select {
	case msg := <-reply.ch:
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(msg); err != nil {
			h.logger.Debug("client went away before response write")
		}
	case <-r.Context().Done():
	}
}

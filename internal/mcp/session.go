package mcp

import (
	"encoding/json"
	"sync"
	"time"
)

// TransportKind identifies which adapter carries a session's traffic.
type TransportKind string

const (
	TransportHTTPStream TransportKind = "http_stream"
	TransportSSE        TransportKind = "sse"
)

// Responder delivers one outbound JSON-RPC message toward a client. For
// the streaming HTTP transport this is the still-open response of the
// originating POST; for SSE it is the session's event stream.
type Responder interface {
	Deliver(msg json.RawMessage) error
}

// Binding is a long-lived transport attachment owned by a session.
type Binding interface {
	Responder
	Close()
}

// pendingRequest tracks a dispatched tool call awaiting its result.
type pendingRequest struct {
	responder Responder
	timer     *time.Timer
}

// Session is one logical client, independent of which transport carries
// its traffic.
type Session struct {
	id        string
	kind      TransportKind
	binding   Binding
	createdAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
	pending  map[string]*pendingRequest
}

// ID returns the opaque session identifier.
func (s *Session) ID() string {
	return s.id
}

// Kind returns the transport kind the session was created on.
func (s *Session) Kind() TransportKind {
	return s.kind
}

// Binding returns the session's long-lived transport binding, nil for
// streaming HTTP sessions whose responder is per request.
func (s *Session) Binding() Binding {
	return s.binding
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// addPending registers a request slot. It fails if the request ID is
// already pending in this session.
func (s *Session) addPending(key string, responder Responder, timeout time.Duration, onTimeout func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[key]; exists {
		return false
	}
	entry := &pendingRequest{responder: responder}
	if timeout > 0 {
		entry.timer = time.AfterFunc(timeout, onTimeout)
	}
	s.pending[key] = entry
	return true
}

// takePending removes and returns a request slot. The second return is
// false if the slot was already released (timed out or session reaped).
func (s *Session) takePending(key string) (*pendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[key]
	if !ok {
		return nil, false
	}
	delete(s.pending, key)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry, true
}

// drainPending removes every pending slot and returns the entries, used
// when a session is reaped.
func (s *Session) drainPending() map[string]*pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.pending
	s.pending = make(map[string]*pendingRequest)
	for _, entry := range drained {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	return drained
}

func (s *Session) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

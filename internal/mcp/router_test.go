package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// captureResponder records every delivered message.
type captureResponder struct {
	mu   sync.Mutex
	msgs []json.RawMessage
}

func (c *captureResponder) Deliver(msg json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureResponder) Close() {}

func (c *captureResponder) wait(t *testing.T, n int) []json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.msgs) >= n {
			msgs := append([]json.RawMessage(nil), c.msgs...)
			c.mu.Unlock()
			return msgs
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages", n)
	return nil
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *ErrorObject    `json:"error"`
}

func decodeResponse(t *testing.T, raw json.RawMessage) rpcResponse {
	t.Helper()
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func newTestRouter(t *testing.T, registry *Registry, opts ...RouterOption) *Router {
	t.Helper()
	r := NewRouter(registry, testLogger(), opts...)
	t.Cleanup(r.Close)
	return r
}

func TestDispatchInitialize(t *testing.T) {
	router := newTestRouter(t, NewRegistry(), WithServerInfo("gmailmcp", "1.2.3", "Gmail tools"))
	session, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)

	responder := &captureResponder{}
	ok := router.Dispatch(session, []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`), responder)
	require.True(t, ok)

	resp := decodeResponse(t, responder.wait(t, 1)[0])
	require.Nil(t, resp.Error)

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "gmailmcp", result.ServerInfo.Name)
}

func TestDispatchNotificationProducesNoResponse(t *testing.T) {
	router := newTestRouter(t, NewRegistry())
	session, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)

	responder := &captureResponder{}
	ok := router.Dispatch(session, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`), responder)
	assert.False(t, ok)
	assert.Empty(t, responder.msgs)
}

func TestDispatchToolsList(t *testing.T) {
	registry := NewRegistry()
	registry.Add(mcpgo.NewTool("search_threads",
		mcpgo.WithDescription("Search Gmail threads"),
		mcpgo.WithString("query", mcpgo.Required()),
	), noopHandler)

	router := newTestRouter(t, registry)
	session, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)

	responder := &captureResponder{}
	router.Dispatch(session, []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`), responder)

	resp := decodeResponse(t, responder.wait(t, 1)[0])
	require.Nil(t, resp.Error)
	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "search_threads", result.Tools[0].Name)
}

func TestDispatchToolCall(t *testing.T) {
	registry := NewRegistry()
	var gotQuery string
	registry.Add(mcpgo.NewTool("search_threads",
		mcpgo.WithString("query", mcpgo.Required()),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args := request.GetArguments()
		gotQuery, _ = args["query"].(string)
		return mcpgo.NewToolResultText("3 threads"), nil
	})

	router := newTestRouter(t, registry)
	session, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)

	responder := &captureResponder{}
	router.Dispatch(session, []byte(`{"jsonrpc":"2.0","id":"r1","method":"tools/call","params":{"name":"search_threads","arguments":{"query":"from:alice"}}}`), responder)

	resp := decodeResponse(t, responder.wait(t, 1)[0])
	require.Nil(t, resp.Error)
	assert.Equal(t, `"r1"`, string(resp.ID))
	assert.Equal(t, "from:alice", gotQuery)
	assert.Contains(t, string(resp.Result), "3 threads")
	assert.Zero(t, session.pendingCount(), "slot released after delivery")
}

func TestDispatchToolCallUnknownTool(t *testing.T) {
	router := newTestRouter(t, NewRegistry())
	session, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)

	responder := &captureResponder{}
	router.Dispatch(session, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope","arguments":{}}}`), responder)

	resp := decodeResponse(t, responder.wait(t, 1)[0])
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatchToolCallInvalidArguments(t *testing.T) {
	registry := NewRegistry()
	handlerCalled := false
	registry.Add(mcpgo.NewTool("send_draft",
		mcpgo.WithString("draft_id", mcpgo.Required()),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		handlerCalled = true
		return mcpgo.NewToolResultText("sent"), nil
	})

	router := newTestRouter(t, registry)
	session, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)

	responder := &captureResponder{}
	router.Dispatch(session, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"send_draft","arguments":{}}}`), responder)

	resp := decodeResponse(t, responder.wait(t, 1)[0])
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
	assert.False(t, handlerCalled, "validation failure must not reach the handler")
}

func TestDispatchMethodNotFound(t *testing.T) {
	router := newTestRouter(t, NewRegistry())
	session, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)

	responder := &captureResponder{}
	router.Dispatch(session, []byte(`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`), responder)

	resp := decodeResponse(t, responder.wait(t, 1)[0])
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestSessionIDCollisionRetries(t *testing.T) {
	ids := []string{"dup", "dup", "unique"}
	var calls int
	router := newTestRouter(t, NewRegistry(), WithIDGenerator(func() (string, error) {
		id := ids[calls%len(ids)]
		calls++
		return id, nil
	}))

	first, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)
	assert.Equal(t, "dup", first.ID())

	// The generator now yields "dup" again, which must be rejected in
	// favor of the next fresh value.
	second, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)
	assert.Equal(t, "unique", second.ID())
	assert.Equal(t, 3, calls)
}

func TestSessionIDCollisionExhaustion(t *testing.T) {
	router := newTestRouter(t, NewRegistry(), WithIDGenerator(func() (string, error) {
		return "always-the-same", nil
	}))

	_, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)

	_, err = router.CreateSession(TransportHTTPStream, nil)
	assert.Error(t, err)
}

func TestToolCallTimeout(t *testing.T) {
	registry := NewRegistry()
	release := make(chan struct{})
	registry.Add(mcpgo.NewTool("slow",
		mcpgo.WithString("x"),
	), func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		<-release
		return mcpgo.NewToolResultText("late"), nil
	})

	router := newTestRouter(t, registry, WithToolTimeout(30*time.Millisecond))
	session, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)

	responder := &captureResponder{}
	router.Dispatch(session, []byte(`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"slow","arguments":{}}}`), responder)

	resp := decodeResponse(t, responder.wait(t, 1)[0])
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUpstreamTimeout, resp.Error.Code)
	assert.Zero(t, session.pendingCount(), "slot released on timeout")

	// Let the handler finish; its late result must be discarded, not
	// delivered as a second message.
	close(release)
	time.Sleep(50 * time.Millisecond)
	responder.mu.Lock()
	assert.Len(t, responder.msgs, 1)
	responder.mu.Unlock()
}

func TestIdleSessionsAreReaped(t *testing.T) {
	registry := NewRegistry()
	router := newTestRouter(t, registry, WithIdleTimeout(10*time.Millisecond))

	binding := &captureResponder{}
	session, err := router.CreateSession(TransportSSE, binding)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	router.reapIdle()

	_, ok := router.LookupSession(session.ID())
	assert.False(t, ok)
	assert.Zero(t, router.SessionCount())
}

func TestReapFailsPendingWithSessionExpired(t *testing.T) {
	registry := NewRegistry()
	block := make(chan struct{})
	defer close(block)
	registry.Add(mcpgo.NewTool("hang", mcpgo.WithString("x")),
		func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			<-block
			return mcpgo.NewToolResultText("never"), nil
		})

	router := newTestRouter(t, registry,
		WithIdleTimeout(10*time.Millisecond),
		WithToolTimeout(time.Minute))

	binding := &captureResponder{}
	session, err := router.CreateSession(TransportSSE, binding)
	require.NoError(t, err)
	router.Dispatch(session, []byte(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"hang","arguments":{}}}`), binding)

	time.Sleep(20 * time.Millisecond)
	router.reapIdle()

	resp := decodeResponse(t, binding.wait(t, 1)[0])
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeSessionExpired, resp.Error.Code)
	assert.Equal(t, "5", string(resp.ID))
}

func TestDuplicatePendingRequestID(t *testing.T) {
	registry := NewRegistry()
	block := make(chan struct{})
	defer close(block)
	registry.Add(mcpgo.NewTool("hang", mcpgo.WithString("x")),
		func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			<-block
			return mcpgo.NewToolResultText("done"), nil
		})

	router := newTestRouter(t, registry, WithToolTimeout(time.Minute))
	session, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)

	first := &captureResponder{}
	second := &captureResponder{}
	call := []byte(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"hang","arguments":{}}}`)
	router.Dispatch(session, call, first)
	router.Dispatch(session, call, second)

	resp := decodeResponse(t, second.wait(t, 1)[0])
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestResponsesDeliverInCompletionOrder(t *testing.T) {
	registry := NewRegistry()
	firstDone := make(chan struct{})
	registry.Add(mcpgo.NewTool("slow", mcpgo.WithString("x")),
		func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			<-firstDone
			return mcpgo.NewToolResultText("slow result"), nil
		})
	registry.Add(mcpgo.NewTool("fast", mcpgo.WithString("x")),
		func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultText("fast result"), nil
		})

	router := newTestRouter(t, registry, WithToolTimeout(time.Minute))
	binding := &captureResponder{}
	session, err := router.CreateSession(TransportSSE, binding)
	require.NoError(t, err)

	router.Dispatch(session, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"slow","arguments":{}}}`), binding)
	router.Dispatch(session, []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"fast","arguments":{}}}`), binding)

	// The fast call completes first even though it arrived second; each
	// response carries its own id so the client can correlate.
	msgs := binding.wait(t, 1)
	fastResp := decodeResponse(t, msgs[0])
	assert.Equal(t, "2", string(fastResp.ID))

	close(firstDone)
	msgs = binding.wait(t, 2)
	slowResp := decodeResponse(t, msgs[1])
	assert.Equal(t, "1", string(slowResp.ID))
}

func TestClassifyToolError(t *testing.T) {
	assert.Equal(t, CodeAuthRequired, classifyToolError(&ErrorObject{Code: CodeAuthRequired, Message: "login"}))
	assert.Equal(t, CodeUpstreamTimeout, classifyToolError(context.DeadlineExceeded))
	assert.Equal(t, CodeUpstreamTimeout, classifyToolError(fmt.Errorf("calling api: %w", context.DeadlineExceeded)))
	assert.Equal(t, CodeInternalError, classifyToolError(fmt.Errorf("boom")))
}

func TestToolCallPanicBecomesInternalError(t *testing.T) {
	registry := NewRegistry()
	registry.Add(mcpgo.NewTool("parse", mcpgo.WithString("x")),
		func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			panic("slice index out of range")
		})

	router := newTestRouter(t, registry)
	session, err := router.CreateSession(TransportHTTPStream, nil)
	require.NoError(t, err)

	responder := &captureResponder{}
	router.Dispatch(session, []byte(`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"parse","arguments":{}}}`), responder)

	resp := decodeResponse(t, responder.wait(t, 1)[0])
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "panicked")
	assert.Zero(t, session.pendingCount(), "slot released after panic")
}

// Package mcp implements the server side of the Model Context Protocol:
// the JSON-RPC message envelope, the tool registry, the session router,
// and the two transport adapters (streaming HTTP and SSE).
package mcp

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// JSON-RPC 2.0 error codes, plus server-defined codes in the reserved
// -32000..-32099 range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeAuthRequired     = -32001
	CodeSessionExpired   = -32002
	CodeUpstreamTimeout  = -32003
	CodeUpstreamAPIError = -32004
)

// Request is an inbound JSON-RPC message. A missing ID marks a
// notification, which never receives a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no ID.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// RequestKey returns the ID in a form usable as a map key.
func (r *Request) RequestKey() string {
	return string(r.ID)
}

// Response is an outbound JSON-RPC message. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error payload.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewResponse builds a success response for the given request ID.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse builds an error response for the given request ID.
// A nil id yields `"id": null`, per the JSON-RPC spec for requests whose
// ID could not be determined.
func NewErrorResponse(id json.RawMessage, code int, message string, data any) *Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message, Data: data},
	}
}

// Marshal encodes a response, falling back to an internal-error envelope
// if the result payload cannot be serialized.
func (r *Response) Marshal() json.RawMessage {
	data, err := json.Marshal(r)
	if err != nil {
		fallback := NewErrorResponse(r.ID, CodeInternalError, "failed to encode response", nil)
		data, _ = json.Marshal(fallback)
	}
	return data
}

// ParseRequest decodes and minimally validates an inbound message.
func ParseRequest(raw []byte) (*Request, *Response) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, NewErrorResponse(nil, CodeParseError, "parse error", err.Error())
	}
	if req.JSONRPC != "2.0" {
		return nil, NewErrorResponse(req.ID, CodeInvalidRequest, "unsupported jsonrpc version", nil)
	}
	if req.Method == "" {
		return nil, NewErrorResponse(req.ID, CodeInvalidRequest, "missing method", nil)
	}
	return &req, nil
}

// initializeResult is the payload answered to an initialize request.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type serverCapabilities struct {
	Tools struct{} `json:"tools"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

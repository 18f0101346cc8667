// Package gmail wraps the Gmail REST API for the MCP tools: thread
// search, message and body retrieval, attachment download, drafts, and
// forwarding. All calls go through the token manager's TokenSource so
// expired credentials refresh transparently.
package gmail

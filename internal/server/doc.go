// Package server assembles the HTTP surface of the Gmail MCP server:
// both MCP transports, the OAuth login flow, health and metrics
// endpoints, and a small landing page.
package server

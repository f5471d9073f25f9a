// Package domain contains the errors shared by the browser MCP service.
// It stays free of transport (HTTP/SSE) and infrastructure (Redis/Chrome) code.
package domain

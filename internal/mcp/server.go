// Package mcp implements the JSON-RPC 2.0 message layer of the Model Context
// Protocol: initialize, ping, tools/list and tools/call.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"browsermcp/internal/infra/logging"
)

const LatestProtocolVersion = "2025-03-26"

var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Server struct {
	info  ServerInfo
	tools *Registry
}

func NewServer(name, version string, tools *Registry) *Server {
	if tools == nil {
		tools = NewRegistry()
	}
	return &Server{info: ServerInfo{Name: name, Version: version}, tools: tools}
}

func (s *Server) Tools() *Registry { return s.tools }

// Handle processes one raw message for the given session. A nil response
// means nothing is sent back.
func (s *Server) Handle(ctx context.Context, sessionID string, raw []byte) *Response {
	req, errResp := ParseMessage(raw)
	if errResp != nil {
		return errResp
	}
	return s.HandleRequest(ctx, sessionID, req)
}

// HandleRequest processes an already parsed request.
func (s *Server) HandleRequest(ctx context.Context, sessionID string, req *Request) *Response {
	resp := s.dispatch(ctx, sessionID, req)
	if req.IsNotification() {
		return nil
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, sessionID string, req *Request) *Response {
	switch {
	case req.Method == "initialize":
		return s.initialize(req)
	case req.Method == "ping":
		return NewResult(req.ID, struct{}{})
	case req.Method == "tools/list":
		return s.listTools(req)
	case req.Method == "tools/call":
		return s.callTool(ctx, sessionID, req)
	case strings.HasPrefix(req.Method, "notifications/"):
		logging.Debug("notification received", "session_id", sessionID, "method", req.Method)
		return nil
	default:
		return NewError(req.ID, CodeMethodNotFound, "Method not found: "+req.Method)
	}
}

type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ClientInfo      json.RawMessage `json:"clientInfo,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

func (s *Server) initialize(req *Request) *Response {
	var p initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return NewError(req.ID, CodeInvalidParams, "Invalid params: "+err.Error())
		}
	}
	version := LatestProtocolVersion
	if supportedProtocolVersions[p.ProtocolVersion] {
		version = p.ProtocolVersion
	}
	return NewResult(req.ID, initializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		ServerInfo: s.info,
	})
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func (s *Server) listTools(req *Request) *Response {
	list := s.tools.List()
	out := make([]toolDescriptor, 0, len(list))
	for _, t := range list {
		out = append(out, toolDescriptor{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	return NewResult(req.ID, map[string]any{"tools": out})
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (s *Server) callTool(ctx context.Context, sessionID string, req *Request) *Response {
	var p callParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Name == "" {
		return NewError(req.ID, CodeInvalidParams, "Invalid params: tool name is required")
	}
	tool, ok := s.tools.Get(p.Name)
	if !ok {
		return NewError(req.ID, CodeInvalidParams, "Unknown tool: "+p.Name)
	}
	args := p.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	res, err := tool.Call(ctx, CallContext{SessionID: sessionID}, args)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return NewError(req.ID, rpcErr.Code, rpcErr.Message)
		}
		logging.Warn("tool call failed", "session_id", sessionID, "tool", p.Name, "error", err)
		return NewResult(req.ID, ErrorResult(err))
	}
	return NewResult(req.ID, res)
}

// InvalidParams returns an error that tools/call reports as -32602 instead of a tool failure.
func InvalidParams(msg string) error {
	return &Error{Code: CodeInvalidParams, Message: "Invalid params: " + msg}
}

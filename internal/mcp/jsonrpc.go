package mcp

import (
	"bytes"
	"encoding/json"
)

const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and expects no reply.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, []byte("null"))
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

var nullID = json.RawMessage("null")

func NewResult(id json.RawMessage, result any) *Response {
	if len(id) == 0 {
		id = nullID
	}
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

func NewError(id json.RawMessage, code int, msg string) *Response {
	if len(id) == 0 {
		id = nullID
	}
	return &Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: msg}}
}

// ParseMessage decodes a single JSON-RPC request. On failure the returned
// response is the error to deliver to the peer and the request is nil.
func ParseMessage(raw []byte) (*Request, *Response) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, NewError(nil, CodeParseError, "Parse error")
	}
	if req.JSONRPC != Version {
		return nil, NewError(req.ID, CodeInvalidRequest, "Invalid Request: jsonrpc must be \"2.0\"")
	}
	if req.Method == "" {
		return nil, NewError(req.ID, CodeInvalidRequest, "Invalid Request: method is required")
	}
	return &req, nil
}

// Marshal renders a response for the wire. A response that cannot be encoded
// is replaced by an internal error with the same id.
func Marshal(resp *Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(NewError(resp.ID, CodeInternalError, "Internal error: "+err.Error()))
	}
	return b
}

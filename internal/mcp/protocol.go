// Package mcp implements both sides of the Model Context Protocol:
// a client that connects to remote MCP servers over stdio or HTTP and
// re-registers their tools as FunctionRegistry entries, and a server
// that exposes an agent's own capabilities as MCP tools over JSON-RPC.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultProtocolVersion is the MCP protocol version AgentUp negotiates
// when a caller does not override it.
const DefaultProtocolVersion = "2024-11-05"

// SupportedProtocolVersions lists every MCP-Protocol-Version value the
// server will accept.
var SupportedProtocolVersions = []string{"2024-11-05", "2024-10-07"}

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) callerError() error {
	return fmt.Errorf("mcp: %s (code %d)", e.Message, e.Code)
}

// ToolInfo describes one tool as returned by a server's tools/list.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ResourceInfo describes one resource as returned by resources/list.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// CallRequest is one tools/call invocation.
type CallRequest struct {
	Tool    string
	Payload map[string]any
}

// CallResponse is a normalized tools/call result: either plain text or a
// structured payload, mirroring the content-block shape MCP servers
// return.
type CallResponse struct {
	Text       string
	Structured any
	IsError    bool
}

// toolsCallResult is the wire shape of a tools/call result before
// normalization.
type toolsCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func normalizeToolResult(result toolsCallResult) (CallResponse, error) {
	resp := CallResponse{IsError: result.IsError}
	var text string
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			if text != "" {
				text += "\n"
			}
			text += block.Text
		case "data", "json":
			var v any
			if err := json.Unmarshal(block.Data, &v); err == nil {
				resp.Structured = v
			}
		}
	}
	resp.Text = text
	return resp, nil
}

// Caller is the client-side transport abstraction: a connection to one
// remote MCP server capable of listing and invoking its tools.
type Caller interface {
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, req CallRequest) (CallResponse, error)
	Close() error
}

type toolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

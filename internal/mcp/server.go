package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentup/agentup/internal/apperr"
	"github.com/agentup/agentup/internal/capability"
	"github.com/agentup/agentup/internal/telemetry"
)

// heartbeatInterval is how often the SSE stream emits a keep-alive
// comment while idle.
const heartbeatInterval = 30 * time.Second

// Invoker runs a registered capability's handler chain against a
// synthetic single-message task and returns its raw result, bridging the
// MCP server to the same per-capability handler chain direct A2A
// requests use, without going through the Executor's task lifecycle.
type Invoker interface {
	Invoke(ctx context.Context, capabilityID, text string) (any, error)
}

// Server exposes the agent's own capabilities as MCP tools over
// JSON-RPC, per the MCP server integration.
type Server struct {
	capRegistry    *capability.Registry
	exposeHandlers bool
	invoker        Invoker
}

// NewServer constructs a Server. exposeHandlers gates whether tools/list
// reveals locally-registered capabilities at all.
func NewServer(capRegistry *capability.Registry, exposeHandlers bool, invoker Invoker) *Server {
	return &Server{capRegistry: capRegistry, exposeHandlers: exposeHandlers, invoker: invoker}
}

// ServeHTTP implements the /mcp endpoint: POST for JSON-RPC calls, GET
// for the SSE notification/heartbeat stream.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !isLocalOrigin(origin) {
		telemetry.Warn(r.Context(), "mcp: request from non-local origin", telemetry.Fields{}, "origin", origin)
	}

	switch r.Method {
	case http.MethodGet:
		s.serveSSE(w, r)
	case http.MethodPost:
		s.serveRPC(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if v := r.Header.Get("MCP-Protocol-Version"); v != "" && !supportedVersion(v) {
		http.Error(w, fmt.Sprintf("unsupported MCP-Protocol-Version %q", v), http.StatusBadRequest)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, -32700, "parse error")
		return
	}

	// A request with no id is a notification: the server performs the
	// side effect, if any, and never writes a body.
	isNotification := req.ID == nil

	var (
		result any
		rpcErr *rpcError
	)
	switch req.Method {
	case "initialize":
		result = map[string]any{
			"protocolVersion": DefaultProtocolVersion,
			"serverInfo":      map[string]any{"name": "agentup", "version": "dev"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}
	case "tools/list":
		result = map[string]any{"tools": s.listTools()}
	case "tools/call":
		result, rpcErr = s.callTool(r.Context(), req.Params)
	case "resources/list":
		result = map[string]any{"resources": []ResourceInfo{}}
	case "resources/read":
		rpcErr = &rpcError{Code: -32002, Message: "resource not found"}
	default:
		rpcErr = &rpcError{Code: -32601, Message: "method not found"}
	}

	if isNotification {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	writeRPCResult(w, req.ID, result)
}

func (s *Server) listTools() []ToolInfo {
	if !s.exposeHandlers {
		return []ToolInfo{}
	}
	out := make([]ToolInfo, 0)
	for _, info := range s.capRegistry.All() {
		out = append(out, ToolInfo{
			Name:        info.ID,
			Description: info.Name,
			InputSchema: info.ConfigSchema,
		})
	}
	return out
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var call struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	}
	if !s.exposeHandlers {
		return nil, &rpcError{Code: -32601, Message: "tool not found"}
	}
	if _, ok := s.capRegistry.Info(call.Name); !ok {
		return nil, &rpcError{Code: -32601, Message: "tool not found"}
	}

	text := syntheticMessageText(call.Arguments)
	value, err := s.invoker.Invoke(ctx, call.Name, text)
	if err != nil {
		if apperr.Is(err, apperr.KindAuth) {
			return nil, &rpcError{Code: -32001, Message: "insufficient scope"}
		}
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	return toolsCallResult{Content: []contentBlock{valueToBlock(value)}}, nil
}

// syntheticMessageText builds the text of the synthetic task's latest
// user message: arguments.message verbatim if present, else the
// JSON-encoded arguments map.
func syntheticMessageText(args map[string]any) string {
	if msg, ok := args["message"].(string); ok {
		return msg
	}
	raw, _ := json.Marshal(args)
	return string(raw)
}

func valueToBlock(value any) contentBlock {
	if text, ok := value.(string); ok {
		return contentBlock{Type: "text", Text: text}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return contentBlock{Type: "text", Text: fmt.Sprint(value)}
	}
	return contentBlock{Type: "data", Data: raw}
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: notifications/initialized\ndata: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func supportedVersion(v string) bool {
	for _, sv := range SupportedProtocolVersions {
		if sv == v {
			return true
		}
	}
	return false
}

func isLocalOrigin(origin string) bool {
	return origin == "" ||
		hasAnyPrefix(origin, "http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1")
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if len(s) >= len(p) && s[:len(p)] == p {
			return true
		}
	}
	return false
}

func writeRPCResult(w http.ResponseWriter, id any, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		writeRPCError(w, id, -32603, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: raw})
}

func writeRPCError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

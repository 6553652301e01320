package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agentup/agentup/internal/telemetry"
)

// HTTPOptions configures the HTTP-based MCP client transport.
type HTTPOptions struct {
	Endpoint        string
	Client          *http.Client
	ProtocolVersion string
	ClientName      string
	ClientVersion   string
	InitTimeout     time.Duration
	// Notifications, when true, opens a GET SSE stream alongside the
	// POST transport to observe server-initiated notifications.
	Notifications bool
}

// HTTPCaller is a Caller backed by JSON-RPC-over-HTTP, with an optional
// companion SSE stream for server notifications.
type HTTPCaller struct {
	endpoint string
	client   *http.Client
	id       uint64
	sseStop  context.CancelFunc
}

// NewHTTPCaller dials endpoint and performs the MCP initialize handshake.
func NewHTTPCaller(ctx context.Context, opts HTTPOptions) (*HTTPCaller, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		return nil, fmt.Errorf("mcp http: endpoint must not be empty")
	}
	httpClient := opts.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &HTTPCaller{endpoint: endpoint, client: httpClient}

	initCtx := ctx
	if opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, opts.InitTimeout)
		defer cancel()
	}
	protocol := opts.ProtocolVersion
	if protocol == "" {
		protocol = DefaultProtocolVersion
	}
	clientName := opts.ClientName
	if clientName == "" {
		clientName = "agentup"
	}
	clientVersion := opts.ClientVersion
	if clientVersion == "" {
		clientVersion = "dev"
	}
	payload := map[string]any{
		"protocolVersion": protocol,
		"clientInfo":      map[string]any{"name": clientName, "version": clientVersion},
	}
	if err := c.call(initCtx, "initialize", payload, nil); err != nil {
		return nil, fmt.Errorf("mcp http: initialize failed: %w", err)
	}
	if opts.Notifications {
		sseCtx, cancel := context.WithCancel(context.Background())
		c.sseStop = cancel
		go c.watchNotifications(sseCtx)
	}
	return c, nil
}

// ListTools invokes tools/list.
func (c *HTTPCaller) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var result toolsListResult
	if err := c.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes tools/call over HTTP and normalizes the response.
func (c *HTTPCaller) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	params := map[string]any{"name": req.Tool, "arguments": req.Payload}
	var result toolsCallResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return CallResponse{}, err
	}
	return normalizeToolResult(result)
}

// Close stops the companion SSE listener, if any.
func (c *HTTPCaller) Close() error {
	if c.sseStop != nil {
		c.sseStop()
	}
	return nil
}

func (c *HTTPCaller) nextID() uint64 {
	return atomic.AddUint64(&c.id, 1)
}

func (c *HTTPCaller) call(ctx context.Context, method string, params, result any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID(), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("MCP-Protocol-Version", DefaultProtocolVersion)
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp http: rpc status %d", resp.StatusCode)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error.callerError()
	}
	if result != nil && rpcResp.Result != nil {
		return json.Unmarshal(rpcResp.Result, result)
	}
	return nil
}

// watchNotifications holds a GET SSE connection open against the
// endpoint's base path, logging server-initiated notifications; a
// connected agent does not currently act on any notification type, but
// keeping the stream open lets the server observe client liveness.
func (c *HTTPCaller) watchNotifications(ctx context.Context) {
	base := strings.TrimSuffix(c.endpoint, "/rpc")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			telemetry.Debug(ctx, "mcp http: notification received", telemetry.Fields{}, "data", strings.TrimSpace(line[5:]))
		}
	}
}

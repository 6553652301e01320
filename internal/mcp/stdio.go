package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/agentup/agentup/internal/telemetry"
)

// StdioOptions configures a child-process MCP server launched and spoken
// to over stdin/stdout.
type StdioOptions struct {
	Command         string
	Args            []string
	Env             []string
	Dir             string
	ProtocolVersion string
	ClientName      string
	ClientVersion   string
	InitTimeout     time.Duration
}

// StdioCaller is a Caller backed by a child process communicating via
// newline-delimited JSON-RPC over stdin/stdout, per the stdio transport.
type StdioCaller struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	pendingMu sync.Mutex
	pending   map[uint64]chan rpcResponse
	writeMu   sync.Mutex
	nextID    uint64
	closed    chan struct{}
	closeOnce sync.Once
}

// NewStdioCaller launches opts.Command and performs the MCP initialize
// handshake before returning.
func NewStdioCaller(ctx context.Context, opts StdioOptions) (*StdioCaller, error) {
	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp stdio: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp stdio: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp stdio: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp stdio: start %s: %w", opts.Command, err)
	}

	c := &StdioCaller{
		cmd:     cmd,
		stdin:   stdin,
		pending: map[uint64]chan rpcResponse{},
		closed:  make(chan struct{}),
	}
	go io.Copy(io.Discard, stderr) //nolint:errcheck // diagnostic output only
	go c.readLoop(stdout)

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
		_ = c.Close()
		return nil, fmt.Errorf("mcp stdio: initialize failed: %w", err)
	}
	return c, nil
}

// ListTools invokes tools/list.
func (c *StdioCaller) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var result toolsListResult
	if err := c.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes tools/call and normalizes the response.
func (c *StdioCaller) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	params := map[string]any{"name": req.Tool, "arguments": req.Payload}
	var result toolsCallResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return CallResponse{}, err
	}
	return normalizeToolResult(result)
}

// Close terminates the child process and releases every pending call.
func (c *StdioCaller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		close(c.closed)
		_ = c.cmd.Wait()
	})
	return err
}

func (c *StdioCaller) next() uint64 {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.nextID++
	return c.nextID
}

func (c *StdioCaller) call(ctx context.Context, method string, params, result any) error {
	id := c.next()
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ch := make(chan rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer c.removePending(id)

	c.writeMu.Lock()
	_, werr := c.stdin.Write(append(body, '\n'))
	c.writeMu.Unlock()
	if werr != nil {
		return fmt.Errorf("mcp stdio: write: %w", werr)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("mcp stdio: connection closed")
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error.callerError()
		}
		if result != nil && resp.Result != nil {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
}

func (c *StdioCaller) removePending(id uint64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *StdioCaller) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			telemetry.Warn(context.Background(), "mcp stdio: malformed response line", telemetry.Fields{}, "error", err.Error())
			continue
		}
		if resp.ID == nil {
			continue // server-initiated notification, no pending caller to notify
		}
		var id uint64
		switch v := resp.ID.(type) {
		case float64:
			id = uint64(v)
		case json.Number:
			n, _ := v.Int64()
			id = uint64(n)
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[id]
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
	c.failPending(fmt.Errorf("mcp stdio: server closed stdout"))
}

func (c *StdioCaller) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = map[uint64]chan rpcResponse{}
	c.pendingMu.Unlock()
	for _, ch := range pending {
		ch <- rpcResponse{Error: &rpcError{Code: -1, Message: err.Error()}}
	}
}

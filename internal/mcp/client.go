package mcp

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/agentup/agentup/internal/apperr"
	"github.com/agentup/agentup/internal/config"
	"github.com/agentup/agentup/internal/functions"
	"github.com/agentup/agentup/internal/telemetry"
)

// ScopeChecker validates the caller's current scopes against required,
// returning an error if any are missing. Satisfied by
// auth.Manager.RequireScopes bound to the in-flight AuthContext.
type ScopeChecker func(ctx context.Context, required []string) error

// Manager owns every remote MCP server connection and re-registers their
// tools into a functions.Registry, fail-closed against tool_scopes.
type Manager struct {
	mu       sync.Mutex
	servers  map[string]Caller
	registry *functions.Registry
	scopes   ScopeChecker
}

// NewManager constructs a Manager that registers remote tools into
// registry, gating every call behind checkScopes.
func NewManager(registry *functions.Registry, checkScopes ScopeChecker) *Manager {
	return &Manager{servers: map[string]Caller{}, registry: registry, scopes: checkScopes}
}

// Connect dials every configured server in turn and registers its tools.
// A server that fails to connect is logged and skipped; it does not
// abort startup, since a single misbehaving remote tool provider should
// not take down the whole agent.
func (m *Manager) Connect(ctx context.Context, cfgs []config.MCPServerConfig, toolScopes map[string][]string) {
	for _, cfg := range cfgs {
		if err := m.connectOne(ctx, cfg, toolScopes); err != nil {
			telemetry.Error(ctx, "mcp: failed to connect to server", err, telemetry.Fields{}, "server", cfg.Name)
		}
	}
}

func (m *Manager) connectOne(ctx context.Context, cfg config.MCPServerConfig, toolScopes map[string][]string) error {
	var caller Caller
	var err error
	switch cfg.Transport {
	case "stdio":
		caller, err = NewStdioCaller(ctx, StdioOptions{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     flattenEnv(cfg.Env),
			Dir:     cfg.Dir,
		})
	case "http":
		caller, err = NewHTTPCaller(ctx, HTTPOptions{Endpoint: cfg.URL})
	default:
		return apperr.New(apperr.KindConfig, fmt.Sprintf("mcp server %q: unknown transport %q", cfg.Name, cfg.Transport))
	}
	if err != nil {
		return err
	}

	tools, err := caller.ListTools(ctx)
	if err != nil {
		_ = caller.Close()
		return fmt.Errorf("mcp server %q: tools/list: %w", cfg.Name, err)
	}

	m.mu.Lock()
	m.servers[cfg.Name] = caller
	m.mu.Unlock()

	registered := 0
	for _, tool := range tools {
		prefixed := functions.CanonicalMCPName(cfg.Name, tool.Name)
		required, ok := toolScopes[prefixed]
		if !ok {
			telemetry.Warn(ctx, "mcp: tool has no scope mapping, registration refused", telemetry.Fields{}, "tool", prefixed)
			continue
		}
		spec := m.toolSpec(cfg.Name, tool, required, caller)
		if err := m.registry.RegisterMCPFunction(cfg.Name, tool.Name, spec); err != nil {
			telemetry.Warn(ctx, "mcp: tool registration failed", telemetry.Fields{}, "tool", prefixed, "error", err.Error())
			continue
		}
		registered++
	}
	telemetry.Info(ctx, "mcp: connected to server", telemetry.Fields{}, "server", cfg.Name, "tools_discovered", len(tools), "tools_registered", registered)
	return nil
}

func (m *Manager) toolSpec(server string, tool ToolInfo, required []string, caller Caller) functions.Spec {
	return functions.Spec{
		Description:    tool.Description,
		Parameters:     tool.InputSchema,
		RequiredScopes: required,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if m.scopes != nil {
				if err := m.scopes(ctx, required); err != nil {
					return nil, apperr.Wrap(apperr.KindAuth, "insufficient scope for mcp tool "+functions.CanonicalMCPName(server, tool.Name), err)
				}
			}
			resp, err := caller.CallTool(ctx, CallRequest{Tool: tool.Name, Payload: args})
			if err != nil {
				return nil, apperr.Wrap(apperr.KindMCP, "mcp tool call failed", err)
			}
			if resp.Structured != nil {
				return resp.Structured, nil
			}
			return resp.Text, nil
		},
	}
}

// Disconnect closes and forgets the named server, removing every
// function it contributed from the registry (e.g. on hot-reload).
func (m *Manager) Disconnect(name string) {
	m.mu.Lock()
	caller, ok := m.servers[name]
	delete(m.servers, name)
	m.mu.Unlock()
	if ok {
		_ = caller.Close()
	}
	m.registry.RemoveServer(name)
}

// Close disconnects every connected server.
func (m *Manager) Close() {
	m.mu.Lock()
	servers := m.servers
	m.servers = map[string]Caller{}
	m.mu.Unlock()
	for _, caller := range servers {
		_ = caller.Close()
	}
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env)+len(os.Environ()))
	out = append(out, os.Environ()...)
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

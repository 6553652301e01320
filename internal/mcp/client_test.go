package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/internal/functions"
)

type fakeCaller struct {
	tools   []ToolInfo
	calls   []CallRequest
	reply   CallResponse
	closed  bool
}

func (f *fakeCaller) ListTools(ctx context.Context) ([]ToolInfo, error) { return f.tools, nil }

func (f *fakeCaller) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	f.calls = append(f.calls, req)
	return f.reply, nil
}

func (f *fakeCaller) Close() error { f.closed = true; return nil }

func TestManagerToolSpecEnforcesScopes(t *testing.T) {
	registry := functions.NewRegistry()
	var checkedWith []string
	m := NewManager(registry, func(ctx context.Context, required []string) error {
		checkedWith = required
		return assertMissingScope(required)
	})

	caller := &fakeCaller{reply: CallResponse{Text: "ok"}}
	spec := m.toolSpec("fs", ToolInfo{Name: "read_file"}, []string{"fs:read"}, caller)

	_, err := spec.Handler(context.Background(), map[string]any{"path": "a.txt"})
	require.Error(t, err)
	assert.Equal(t, []string{"fs:read"}, checkedWith)
	assert.Empty(t, caller.calls, "handler must not invoke the remote tool when scopes are unsatisfied")
}

func TestManagerToolSpecInvokesOnSuccess(t *testing.T) {
	registry := functions.NewRegistry()
	m := NewManager(registry, func(ctx context.Context, required []string) error { return nil })

	caller := &fakeCaller{reply: CallResponse{Text: "done"}}
	spec := m.toolSpec("fs", ToolInfo{Name: "read_file"}, []string{"fs:read"}, caller)

	out, err := spec.Handler(context.Background(), map[string]any{"path": "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	require.Len(t, caller.calls, 1)
	assert.Equal(t, "read_file", caller.calls[0].Tool)
}

func assertMissingScope(required []string) error {
	if len(required) == 0 {
		return nil
	}
	return errMissingScope{required}
}

type errMissingScope struct{ required []string }

func (e errMissingScope) Error() string { return "missing scope" }

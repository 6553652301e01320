// Package calculator is a capability plugin that exposes arithmetic as
// both a direct-text capability and an LLM-callable function, so it can
// be reached either by keyword routing or by a Dispatcher function call.
package calculator

import (
	"context"
	"fmt"

	"github.com/agentup/agentup/internal/capability"
)

func init() {
	capability.Register("calculator", func() capability.Plugin { return &Plugin{} })
}

// Plugin implements capability.Plugin and capability.AIFunctionProvider.
type Plugin struct{}

// RegisterCapability declares the calculator capability's static metadata.
func (p *Plugin) RegisterCapability() capability.Info {
	return capability.Info{
		ID:         "calculator",
		Name:       "Calculator",
		Version:    "1.0.0",
		Flags:      map[capability.Flag]bool{capability.FlagText: true, capability.FlagAIFunction: true},
		InputMode:  "text",
		OutputMode: "text",
		Priority:   40,
	}
}

// CanHandleTask always reports 0: the calculator does not parse
// direct-mode text, and the function-calling path (add) is its
// interface.
func (p *Plugin) CanHandleTask(tc capability.TaskContext) float64 {
	return 0
}

// ExecuteCapability is never reached via direct routing today (no
// keyword maps to this capability by default); it exists so the plugin
// satisfies capability.Plugin and can be routed to explicitly.
func (p *Plugin) ExecuteCapability(tc capability.TaskContext) (capability.Result, error) {
	return capability.Result{Value: "send a function call instead, e.g. add(a, b)"}, nil
}

// GetAIFunctions exposes add as a Dispatcher-callable function.
func (p *Plugin) GetAIFunctions() []capability.AIFunction {
	return []capability.AIFunction{
		{
			Name:        "add",
			Description: "Add two numbers and return their sum.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"type": "number"},
					"b": map[string]any{"type": "number"},
				},
				"required": []any{"a", "b"},
			},
			Handler: addHandler,
		},
	}
}

func addHandler(ctx context.Context, args map[string]any) (any, error) {
	a, ok := args["a"].(float64)
	if !ok {
		return nil, fmt.Errorf("add: missing or non-numeric argument %q", "a")
	}
	b, ok := args["b"].(float64)
	if !ok {
		return nil, fmt.Errorf("add: missing or non-numeric argument %q", "b")
	}
	return a + b, nil
}

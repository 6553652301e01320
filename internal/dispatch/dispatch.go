// Package dispatch implements the LLM function-calling loop: given a
// conversation and a set of available functions, it drives calls to an
// llm.Client until the model stops requesting functions or the
// configured iteration budget is exhausted.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentup/agentup/internal/apperr"
	"github.com/agentup/agentup/internal/functions"
	"github.com/agentup/agentup/internal/llm"
	"github.com/agentup/agentup/internal/telemetry"
)

// ScopeChecker authorizes a function call against the calling request's
// auth scopes before the handler runs. It returns nil to allow the call.
type ScopeChecker func(ctx context.Context, required []string) error

// Dispatcher drives the function-calling loop against one llm.Client and
// one functions.Registry.
type Dispatcher struct {
	client        llm.Client
	registry      *functions.Registry
	checkScopes   ScopeChecker
	maxIterations int
}

// New constructs a Dispatcher. maxIterations bounds how many model round
// trips a single dispatch performs before returning apperr.ErrMaxIterations
// (spec.md §4.4's "the loop MUST terminate").
func New(client llm.Client, registry *functions.Registry, checkScopes ScopeChecker, maxIterations int) *Dispatcher {
	if maxIterations <= 0 {
		maxIterations = 5
	}
	return &Dispatcher{client: client, registry: registry, checkScopes: checkScopes, maxIterations: maxIterations}
}

// Run drives the loop starting from the given transcript and system
// prompt, returning the final assistant text once the model stops
// requesting functions. If the client has no native function-calling
// capability (spec.md §4.4 "Native vs prompt-based function calling"), a
// synthesized grammar section is appended to the system prompt instead of
// setting Tools, and the model's plain-text response is scanned for
// FUNCTION_CALL directives via ParseCalls.
func (d *Dispatcher) Run(ctx context.Context, systemPrompt string, messages []llm.Message) (string, error) {
	native := d.client.SupportsFunctionCalling()
	toolDefs := d.toolDefinitions()

	prompt := systemPrompt
	if !native {
		if g := grammarPrompt(toolDefs); g != "" {
			if prompt != "" {
				prompt += "\n\n" + g
			} else {
				prompt = g
			}
		}
	}

	transcript := append([]llm.Message(nil), messages...)

	for iteration := 0; iteration < d.maxIterations; iteration++ {
		req := &llm.Request{
			SystemPrompt: prompt,
			Messages:     transcript,
		}
		if native {
			req.Tools = toolDefs
		}
		resp, err := d.client.Complete(ctx, req)
		if err != nil {
			return "", apperr.Wrap(apperr.KindDispatch, "model completion failed", err)
		}

		calls := resp.ToolCalls
		if !native {
			calls = parseFallbackCalls(resp.Content)
		}
		if len(calls) == 0 {
			return flattenContent(resp.Content), nil
		}

		transcript = append(transcript, resp.Content...)
		assistantCall := llm.Message{Role: llm.RoleAssistant}
		for _, call := range calls {
			assistantCall.Parts = append(assistantCall.Parts, llm.ToolUsePart{ID: call.ID, Name: call.Name, Input: call.Payload})
		}
		transcript = append(transcript, assistantCall)

		resultMsg := llm.Message{Role: llm.RoleUser}
		for _, call := range calls {
			result, isErr := d.invoke(ctx, call)
			resultMsg.Parts = append(resultMsg.Parts, llm.ToolResultPart{ToolUseID: call.ID, Content: result, IsError: isErr})
		}
		transcript = append(transcript, resultMsg)
	}
	return "", apperr.Wrap(apperr.KindDispatch, "function-calling loop exceeded max iterations", apperr.ErrMaxIterations)
}

// parseFallbackCalls extracts FUNCTION_CALL directives out of a
// non-native response's flattened text and synthesizes llm.ToolCall
// values for them, since such providers never populate resp.ToolCalls.
func parseFallbackCalls(content []llm.Message) []llm.ToolCall {
	candidates := ParseCalls(flattenContent(content))
	if len(candidates) == 0 {
		return nil
	}
	calls := make([]llm.ToolCall, 0, len(candidates))
	for i, c := range candidates {
		payload, err := json.Marshal(c.Args)
		if err != nil {
			continue
		}
		calls = append(calls, llm.ToolCall{ID: fmt.Sprintf("fallback-%d", i), Name: c.Name, Payload: payload})
	}
	return calls
}

func (d *Dispatcher) invoke(ctx context.Context, call llm.ToolCall) (any, bool) {
	spec, ok := d.registry.Lookup(call.Name)
	if !ok {
		return fmt.Sprintf("unknown function %q", call.Name), true
	}
	if d.checkScopes != nil {
		if err := d.checkScopes(ctx, spec.RequiredScopes); err != nil {
			telemetry.Warn(ctx, "function call rejected: insufficient scope", telemetry.Fields{}, "function", call.Name)
			return fmt.Sprintf("insufficient scope to call %q", call.Name), true
		}
	}
	var args map[string]any
	if len(call.Payload) > 0 {
		if err := json.Unmarshal(call.Payload, &args); err != nil {
			return fmt.Sprintf("invalid arguments for %q: %v", call.Name, err), true
		}
	}
	if err := spec.ValidateArgs(args); err != nil {
		telemetry.Warn(ctx, "function call rejected: invalid arguments", telemetry.Fields{}, "function", call.Name)
		return err.Error(), true
	}
	result, err := spec.Handler(ctx, args)
	if err != nil {
		return err.Error(), true
	}
	return result, false
}

func (d *Dispatcher) toolDefinitions() []llm.ToolDefinition {
	specs := d.registry.All()
	out := make([]llm.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		out = append(out, llm.ToolDefinition{Name: s.Name, Description: s.Description, InputSchema: s.Parameters})
	}
	return out
}

func flattenContent(msgs []llm.Message) string {
	var out string
	for _, m := range msgs {
		for _, part := range m.Parts {
			if tp, ok := part.(llm.TextPart); ok {
				out += tp.Text
			}
		}
	}
	return out
}

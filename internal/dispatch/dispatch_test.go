package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/internal/functions"
	"github.com/agentup/agentup/internal/llm"
)

type stubClient struct {
	responses []*llm.Response
	calls     int
	native    bool
}

func (s *stubClient) Complete(context.Context, *llm.Request) (*llm.Response, error) {
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func (s *stubClient) Stream(context.Context, *llm.Request) (llm.Streamer, error) {
	return nil, llm.ErrStreamingUnsupported
}

func (s *stubClient) SupportsFunctionCalling() bool { return s.native }

func addSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []any{"a", "b"},
	}
}

func newRegistryWithAdd(t *testing.T) *functions.Registry {
	t.Helper()
	reg := functions.NewRegistry()
	err := reg.RegisterPluginFunction(functions.Spec{
		Name:       "add",
		Parameters: addSchema(),
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	})
	require.NoError(t, err)
	return reg
}

func TestRunReturnsTextWhenNoToolCallsRequested(t *testing.T) {
	client := &stubClient{responses: []*llm.Response{
		{Content: []llm.Message{{Role: llm.RoleAssistant, Parts: []llm.Part{llm.TextPart{Text: "hi there"}}}}},
	}}
	d := New(client, functions.NewRegistry(), nil, 3)

	out, err := d.Run(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}

func TestRunInvokesHandlerOnValidArgs(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"a": 2.0, "b": 3.0})
	client := &stubClient{native: true, responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "add", Payload: payload}}},
		{Content: []llm.Message{{Role: llm.RoleAssistant, Parts: []llm.Part{llm.TextPart{Text: "done"}}}}},
	}}
	d := New(client, newRegistryWithAdd(t), nil, 3)

	out, err := d.Run(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestRunFallsBackToGrammarParsingWhenNotNative(t *testing.T) {
	client := &stubClient{native: false, responses: []*llm.Response{
		{Content: []llm.Message{{Role: llm.RoleAssistant, Parts: []llm.Part{
			llm.TextPart{Text: "FUNCTION_CALL: add(a=2, b=3)"},
		}}}},
		{Content: []llm.Message{{Role: llm.RoleAssistant, Parts: []llm.Part{llm.TextPart{Text: "the sum is 5"}}}}},
	}}
	d := New(client, newRegistryWithAdd(t), nil, 3)

	out, err := d.Run(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "the sum is 5", out)
	assert.Empty(t, client.responses[0].ToolCalls, "a non-native response never populates ToolCalls directly")
}

func TestInvokeRejectsArgsFailingSchema(t *testing.T) {
	d := New(&stubClient{}, newRegistryWithAdd(t), nil, 3)
	payload, _ := json.Marshal(map[string]any{"a": 2.0})

	result, isErr := d.invoke(context.Background(), llm.ToolCall{ID: "1", Name: "add", Payload: payload})
	assert.True(t, isErr)
	assert.Contains(t, result.(string), "add")
}

func TestInvokeRejectsUnknownFunction(t *testing.T) {
	d := New(&stubClient{}, functions.NewRegistry(), nil, 3)
	result, isErr := d.invoke(context.Background(), llm.ToolCall{ID: "1", Name: "missing"})
	assert.True(t, isErr)
	assert.Contains(t, result.(string), "unknown function")
}

func TestRunReturnsMaxIterationsError(t *testing.T) {
	resp := &llm.Response{ToolCalls: []llm.ToolCall{{ID: "1", Name: "missing"}}}
	client := &stubClient{native: true, responses: []*llm.Response{resp, resp}}
	d := New(client, functions.NewRegistry(), nil, 2)

	_, err := d.Run(context.Background(), "", nil)
	assert.Error(t, err)
}

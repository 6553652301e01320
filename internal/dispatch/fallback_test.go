package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/internal/llm"
)

func TestParseCallsExtractsSingleCall(t *testing.T) {
	calls := ParseCalls(`FUNCTION_CALL: add(a=2, b=3)`)
	require.Len(t, calls, 1)
	assert.Equal(t, "add", calls[0].Name)
	assert.Equal(t, int64(2), calls[0].Args["a"])
	assert.Equal(t, int64(3), calls[0].Args["b"])
}

func TestParseCallsExtractsMultipleLines(t *testing.T) {
	text := "Let me check that.\n" +
		`FUNCTION_CALL: lookup(city="Paris")` + "\n" +
		`FUNCTION_CALL: convert(amount=10.5, currency="EUR")` + "\n" +
		"Done."
	calls := ParseCalls(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "lookup", calls[0].Name)
	assert.Equal(t, "Paris", calls[0].Args["city"])
	assert.Equal(t, "convert", calls[1].Name)
	assert.Equal(t, 10.5, calls[1].Args["amount"])
}

func TestParseCallsSkipsMalformedLines(t *testing.T) {
	text := "FUNCTION_CALL: broken(\n" + `FUNCTION_CALL: ok(x=true)`
	calls := ParseCalls(text)
	require.Len(t, calls, 1)
	assert.Equal(t, "ok", calls[0].Name)
	assert.Equal(t, true, calls[0].Args["x"])
}

func TestParseCallsIgnoresLinesWithoutThePrefix(t *testing.T) {
	calls := ParseCalls("just a normal reply, no calls here")
	assert.Empty(t, calls)
}

func TestGrammarPromptDescribesEachFunction(t *testing.T) {
	defs := []llm.ToolDefinition{
		{Name: "add", Description: "adds two numbers", InputSchema: map[string]any{
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
		}},
	}
	prompt := grammarPrompt(defs)
	assert.Contains(t, prompt, "add: adds two numbers")
	assert.Contains(t, prompt, "a (number)")
	assert.Contains(t, prompt, "b (number)")
	assert.Contains(t, prompt, "FUNCTION_CALL:")
}

func TestGrammarPromptEmptyWithNoFunctions(t *testing.T) {
	assert.Empty(t, grammarPrompt(nil))
}

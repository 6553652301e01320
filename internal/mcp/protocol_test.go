package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToolResultText(t *testing.T) {
	result := toolsCallResult{Content: []contentBlock{{Type: "text", Text: "hello"}, {Type: "text", Text: "world"}}}
	resp, err := normalizeToolResult(result)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", resp.Text)
	assert.Nil(t, resp.Structured)
	assert.False(t, resp.IsError)
}

func TestNormalizeToolResultData(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"count": 3})
	result := toolsCallResult{Content: []contentBlock{{Type: "data", Data: raw}}, IsError: false}
	resp, err := normalizeToolResult(result)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": float64(3)}, resp.Structured)
}

func TestNormalizeToolResultIsError(t *testing.T) {
	result := toolsCallResult{Content: []contentBlock{{Type: "text", Text: "boom"}}, IsError: true}
	resp, err := normalizeToolResult(result)
	require.NoError(t, err)
	assert.True(t, resp.IsError)
}

func TestSyntheticMessageText(t *testing.T) {
	assert.Equal(t, "do the thing", syntheticMessageText(map[string]any{"message": "do the thing"}))
	assert.JSONEq(t, `{"path":"a.txt"}`, syntheticMessageText(map[string]any{"path": "a.txt"}))
}

func TestValueToBlock(t *testing.T) {
	b := valueToBlock("plain text")
	assert.Equal(t, "text", b.Type)
	assert.Equal(t, "plain text", b.Text)

	b = valueToBlock(map[string]any{"ok": true})
	assert.Equal(t, "data", b.Type)
	assert.JSONEq(t, `{"ok":true}`, string(b.Data))
}

func TestSupportedVersion(t *testing.T) {
	assert.True(t, supportedVersion(DefaultProtocolVersion))
	assert.False(t, supportedVersion("2099-01-01"))
}

func TestIsLocalOrigin(t *testing.T) {
	assert.True(t, isLocalOrigin("http://localhost:3000"))
	assert.True(t, isLocalOrigin("http://127.0.0.1:9000"))
	assert.False(t, isLocalOrigin("https://evil.example.com"))
}

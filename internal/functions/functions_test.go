package functions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberSchema(required ...string) map[string]any {
	req := make([]any, len(required))
	for i, r := range required {
		req[i] = r
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": req,
	}
}

func TestRegisterPluginFunctionCompilesSchema(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterPluginFunction(Spec{
		Name:       "add",
		Parameters: numberSchema("a", "b"),
		Handler:    func(context.Context, map[string]any) (any, error) { return nil, nil },
	})
	require.NoError(t, err)

	spec, ok := r.Lookup("add")
	require.True(t, ok)
	assert.NoError(t, spec.ValidateArgs(map[string]any{"a": 1.0, "b": 2.0}))
	assert.Error(t, spec.ValidateArgs(map[string]any{"a": 1.0}))
}

func TestRegisterPluginFunctionRejectsInvalidSchema(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterPluginFunction(Spec{
		Name:       "broken",
		Parameters: map[string]any{"type": "not-a-real-type"},
		Handler:    func(context.Context, map[string]any) (any, error) { return nil, nil },
	})
	assert.Error(t, err)
}

func TestValidateArgsNilSchemaAcceptsAnything(t *testing.T) {
	spec := Spec{Name: "noop"}
	assert.NoError(t, spec.ValidateArgs(map[string]any{"anything": true}))
}

func TestRegisterMCPFunctionCompilesSchemaForBothNames(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterMCPFunction("fs", "read file", Spec{
		Parameters: numberSchema("a"),
		Handler:    func(context.Context, map[string]any) (any, error) { return nil, nil },
	})
	require.NoError(t, err)

	canonical, ok := r.Lookup(CanonicalMCPName("fs", "read file"))
	require.True(t, ok)
	assert.Error(t, canonical.ValidateArgs(map[string]any{}))

	sanitized, ok := r.Lookup(SanitizedMCPName("fs", "read file"))
	require.True(t, ok)
	assert.Error(t, sanitized.ValidateArgs(map[string]any{}))
}

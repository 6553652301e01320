package calculator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddHandler(t *testing.T) {
	sum, err := addHandler(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, sum)
}

func TestAddHandlerMissingArgument(t *testing.T) {
	_, err := addHandler(context.Background(), map[string]any{"a": 2.0})
	assert.Error(t, err)
}

func TestGetAIFunctionsDeclaresAdd(t *testing.T) {
	p := &Plugin{}
	fns := p.GetAIFunctions()
	require.Len(t, fns, 1)
	assert.Equal(t, "add", fns[0].Name)
}

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/internal/capability"
)

func registryWithActive(ids ...string) *capability.Registry {
	for _, id := range ids {
		id := id
		capability.Register(id, func() capability.Plugin { return stubPlugin{id: id} })
	}
	return capability.NewRegistry(ids)
}

type stubPlugin struct{ id string }

func (s stubPlugin) RegisterCapability() capability.Info {
	return capability.Info{ID: s.id, Name: s.id, Version: "1.0.0"}
}
func (s stubPlugin) CanHandleTask(capability.TaskContext) float64           { return 0 }
func (s stubPlugin) ExecuteCapability(capability.TaskContext) (capability.Result, error) {
	return capability.Result{}, nil
}

func TestSelectKeywordMatchBeforePattern(t *testing.T) {
	reg := registryWithActive("echo", "status")
	r := New([]Rule{
		{CapabilityID: "echo", Keywords: []string{"echo"}},
		{CapabilityID: "status", Patterns: []string{`.*`}},
	}, "", "", false)

	id, mode, err := r.Select("please echo this", reg)
	require.NoError(t, err)
	assert.Equal(t, "echo", id)
	assert.Equal(t, ModeDirect, mode)
}

func TestSelectFallsBackToPatternWhenNoKeywordMatches(t *testing.T) {
	reg := registryWithActive("echo", "status")
	r := New([]Rule{
		{CapabilityID: "echo", Keywords: []string{"echo"}},
		{CapabilityID: "status", Patterns: []string{`^status`}},
	}, "", "", false)

	id, _, err := r.Select("status please", reg)
	require.NoError(t, err)
	assert.Equal(t, "status", id)
}

func TestSelectUsesFallbackWhenNothingMatches(t *testing.T) {
	reg := registryWithActive("status")
	r := New(nil, "status", ModeAI, true)

	id, mode, err := r.Select("random input", reg)
	require.NoError(t, err)
	assert.Equal(t, "status", id)
	assert.Equal(t, ModeAI, mode)
}

func TestSelectReturnsErrorWhenFallbackDisabled(t *testing.T) {
	reg := registryWithActive("status")
	r := New(nil, "status", ModeDirect, false)

	_, _, err := r.Select("random input", reg)
	assert.Error(t, err)
}

func TestSelectSkipsInactiveCapability(t *testing.T) {
	capability.Register("echo-inactive-test", func() capability.Plugin { return stubPlugin{id: "echo-inactive-test"} })
	reg := capability.NewRegistry(nil) // nothing active
	r := New([]Rule{{CapabilityID: "echo-inactive-test", Keywords: []string{"echo"}}}, "", "", false)

	_, _, err := r.Select("echo", reg)
	assert.Error(t, err)
}

func TestRuleModeDefaultsToDirect(t *testing.T) {
	reg := registryWithActive("echo")
	r := New([]Rule{{CapabilityID: "echo", Keywords: []string{"echo"}}}, "", "", false)

	_, mode, err := r.Select("echo", reg)
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, mode)
}

func TestNewFallbackModeDefaultsToDirect(t *testing.T) {
	reg := registryWithActive("status")
	r := New(nil, "status", "", true)

	_, mode, err := r.Select("anything", reg)
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, mode)
}

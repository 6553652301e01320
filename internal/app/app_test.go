package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/internal/capability"
	"github.com/agentup/agentup/internal/config"
	"github.com/agentup/agentup/internal/router"
)

type stubPlugin struct{ id string }

func (s stubPlugin) RegisterCapability() capability.Info {
	return capability.Info{ID: s.id, Name: s.id, Version: "1.0.0"}
}
func (s stubPlugin) CanHandleTask(capability.TaskContext) float64 { return 0 }
func (s stubPlugin) ExecuteCapability(capability.TaskContext) (capability.Result, error) {
	return capability.Result{}, nil
}

func registryWithActive(ids ...string) *capability.Registry {
	for _, id := range ids {
		id := id
		capability.Register(id, func() capability.Plugin { return stubPlugin{id: id} })
	}
	return capability.NewRegistry(ids)
}

func TestCredentialMap(t *testing.T) {
	cfgs := map[string]config.CredentialCfg{
		"token-a": {UserID: "alice", Scopes: []string{"files:read"}},
	}
	out := credentialMap(cfgs)
	require.Contains(t, out, "token-a")
	assert.Equal(t, "alice", out["token-a"].UserID)
	assert.Equal(t, []string{"files:read"}, out["token-a"].Scopes)
}

func TestBuildRouterWiresCapabilityRules(t *testing.T) {
	cfg := config.RoutingConfig{
		FallbackCapability: "status",
		DefaultMode:        "ai",
		FallbackEnabled:    true,
		Capabilities: []config.CapabilityRoutingConfig{
			{CapabilityID: "echo", Mode: "direct", Keywords: []string{"echo"}},
		},
	}
	r := buildRouter(cfg)
	require.NotNil(t, r)

	reg := registryWithActive("echo", "status")
	id, mode, err := r.Select("please echo hi", reg)
	require.NoError(t, err)
	assert.Equal(t, "echo", id)
	assert.Equal(t, router.ModeDirect, mode)
}

func TestBuildRouterPreservesConfiguredOrderForFirstMatchWins(t *testing.T) {
	cfg := config.RoutingConfig{
		Capabilities: []config.CapabilityRoutingConfig{
			{CapabilityID: "echo", Mode: "direct", Keywords: []string{"help"}},
			{CapabilityID: "status", Mode: "direct", Keywords: []string{"help"}},
		},
	}
	r := buildRouter(cfg)
	reg := registryWithActive("echo", "status")

	// Both rules match "help me"; the one declared first (echo) must win,
	// on every run, not whichever a randomized map iteration happened to
	// produce first.
	for i := 0; i < 5; i++ {
		id, _, err := r.Select("help me", reg)
		require.NoError(t, err)
		assert.Equal(t, "echo", id, "the earlier configured rule must win")
	}
}

func TestBuildStateStoreRejectsUnknownBackend(t *testing.T) {
	_, err := buildStateStore(config.StateManagementConfig{Backend: "bogus"})
	assert.Error(t, err)
}

func TestBuildStateStoreDefaultsToMemory(t *testing.T) {
	store, err := buildStateStore(config.StateManagementConfig{})
	require.NoError(t, err)
	assert.NotNil(t, store)
}

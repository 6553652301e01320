// Package status is a capability plugin reporting the agent's own
// operational status. It is a common fallback_capability choice: any
// request the Router can't otherwise classify lands here.
package status

import (
	"github.com/agentup/agentup/internal/capability"
)

func init() {
	capability.Register("status", func() capability.Plugin { return &Plugin{} })
}

// Plugin implements capability.Plugin and capability.HealthReporter.
type Plugin struct{}

// RegisterCapability declares the status capability's static metadata.
func (p *Plugin) RegisterCapability() capability.Info {
	return capability.Info{
		ID:         "status",
		Name:       "Agent Status",
		Version:    "1.0.0",
		Flags:      map[capability.Flag]bool{capability.FlagText: true},
		InputMode:  "text",
		OutputMode: "text",
		Priority:   0,
	}
}

// CanHandleTask always reports a low-but-nonzero confidence so this
// capability is a plausible catch-all, never a strong primary match.
func (p *Plugin) CanHandleTask(tc capability.TaskContext) float64 {
	return 0.1
}

// ExecuteCapability returns a short human-readable status string.
func (p *Plugin) ExecuteCapability(tc capability.TaskContext) (capability.Result, error) {
	return capability.Result{Value: "agent is online and accepting tasks"}, nil
}

// GetHealthStatus reports this plugin as always healthy; it has no
// external dependency to degrade.
func (p *Plugin) GetHealthStatus() capability.HealthStatus {
	return capability.HealthStatus{Healthy: true, Detail: "status capability ready"}
}

// Package echo is a minimal capability plugin: it returns the text after
// the "echo" instruction, case preserved. Useful as a routing smoke test and as a
// template for new capability plugins.
package echo

import (
	"strings"

	"github.com/agentup/agentup/internal/capability"
)

func init() {
	capability.Register("echo", func() capability.Plugin { return &Plugin{} })
}

// Plugin implements capability.Plugin.
type Plugin struct{}

// RegisterCapability declares the echo capability's static metadata.
func (p *Plugin) RegisterCapability() capability.Info {
	return capability.Info{
		ID:         "echo",
		Name:       "Echo",
		Version:    "1.0.0",
		Flags:      map[capability.Flag]bool{capability.FlagText: true},
		InputMode:  "text",
		OutputMode: "text",
		Priority:   50,
	}
}

// CanHandleTask reports high confidence whenever the message mentions
// "echo". Routing does not call it; the Router's keyword match selects
// this capability.
func (p *Plugin) CanHandleTask(tc capability.TaskContext) float64 {
	if strings.Contains(strings.ToLower(tc.Text), "echo") {
		return 1.0
	}
	return 0
}

// ExecuteCapability drops everything up to and including the first
// case-insensitive "echo" (e.g. "please echo") and returns the trimmed
// remainder; text without "echo" is returned trimmed.
func (p *Plugin) ExecuteCapability(tc capability.TaskContext) (capability.Result, error) {
	return capability.Result{Value: extractEchoText(tc.Text)}, nil
}

func extractEchoText(text string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, "echo")
	if idx == -1 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[idx+len("echo"):])
}

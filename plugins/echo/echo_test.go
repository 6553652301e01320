package echo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentup/agentup/internal/capability"
)

func TestExecuteCapabilityStripsLeadingEcho(t *testing.T) {
	p := &Plugin{}
	res, err := p.ExecuteCapability(capability.TaskContext{Text: "please echo hello"})
	assert.NoError(t, err)
	assert.Equal(t, "hello", res.Value)
}

func TestExecuteCapabilityPreservesCase(t *testing.T) {
	p := &Plugin{}
	res, err := p.ExecuteCapability(capability.TaskContext{Text: "ECHO Hello World"})
	assert.NoError(t, err)
	assert.Equal(t, "Hello World", res.Value)
}

func TestCanHandleTask(t *testing.T) {
	p := &Plugin{}
	assert.Equal(t, 1.0, p.CanHandleTask(capability.TaskContext{Text: "please echo hi"}))
	assert.Equal(t, 0.0, p.CanHandleTask(capability.TaskContext{Text: "do something else"}))
}

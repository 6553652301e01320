// Package llm defines the provider-agnostic chat/function-calling
// contract used by the dispatch loop, plus adapters for each supported
// provider (anthropic, openai, bedrock).
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// ConversationRole identifies the speaker for one Message.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

// Part is implemented by every message content block a provider adapter
// understands.
type Part interface{ isPart() }

// TextPart is plain assistant- or user-visible text.
type TextPart struct{ Text string }

// ToolUsePart declares a function call requested by the model.
type ToolUsePart struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultPart carries a function's result back to the model.
type ToolResultPart struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message is one ordered entry in a conversation transcript.
type Message struct {
	Role  ConversationRole
	Parts []Part
}

// ToolDefinition describes one function exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID      string
	Name    string
	Payload json.RawMessage
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Request captures one model invocation.
type Request struct {
	Model       string
	Messages    []Message
	SystemPrompt string
	Temperature float32
	MaxTokens   int
	Tools       []ToolDefinition
}

// Response is the result of a non-streaming Complete call.
type Response struct {
	Content    []Message
	ToolCalls  []ToolCall
	Usage      TokenUsage
	StopReason string
}

// Chunk is one streaming event.
type Chunk struct {
	Type       string
	Text       string
	ToolCall   *ToolCall
	StopReason string
}

const (
	ChunkTypeText     = "text"
	ChunkTypeToolCall = "tool_call"
	ChunkTypeStop     = "stop"
)

// Streamer delivers incremental output from a Stream call.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// Client is the provider-agnostic model client every adapter implements.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) (Streamer, error)

	// SupportsFunctionCalling reports whether the provider has a native
	// tool-calling API. The Dispatcher checks this before deciding
	// whether to send Tools on the Request or fall back to a
	// prompt-based calling convention it parses out of plain text.
	SupportsFunctionCalling() bool
}

// ErrStreamingUnsupported is returned by Stream when a provider adapter
// has no streaming endpoint wired up.
var ErrStreamingUnsupported = errors.New("llm: streaming not supported by this provider")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. Callers treat this as transient and surface it rather than
// retrying in a tight loop.
var ErrRateLimited = errors.New("llm: rate limited")

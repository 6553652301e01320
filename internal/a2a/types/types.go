// Package types defines the A2A protocol data types used for task
// management, message exchange, and agent discovery. Field names use
// camelCase JSON tags to conform to the A2A protocol specification.
//
//nolint:tagliatelle // A2A protocol specification requires camelCase JSON field names
package types

import "encoding/json"

// TaskState enumerates the lifecycle states of a Task. Transitions form a
// DAG rooted at Submitted; Completed, Failed, Canceled, and Rejected are
// terminal.
type TaskState string

const (
	TaskSubmitted     TaskState = "submitted"
	TaskWorking       TaskState = "working"
	TaskInputRequired TaskState = "input_required"
	TaskCompleted     TaskState = "completed"
	TaskFailed        TaskState = "failed"
	TaskCanceled      TaskState = "canceled"
	TaskRejected      TaskState = "rejected"
)

// IsTerminal reports whether the state accepts no further status updates
// or artifacts.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled, TaskRejected:
		return true
	default:
		return false
	}
}

// MessageRole enumerates the role of a Message within a Task's history.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleFunction  MessageRole = "function"
	RoleTool      MessageRole = "tool"
)

// PartType discriminates the kind of content a MessagePart carries.
type PartType string

const (
	PartText PartType = "text"
	PartData PartType = "data"
)

// MessagePart is one atom of message or artifact content: either a plain
// text block or a structured, MIME-typed data block.
type MessagePart struct {
	Type PartType `json:"type"`

	// Text holds the textual content when Type == PartText.
	Text *string `json:"text,omitempty"`

	// MIMEType describes the content type of Data when Type == PartData.
	MIMEType *string `json:"mimeType,omitempty"`

	// Data carries a structured payload when Type == PartData.
	Data json.RawMessage `json:"data,omitempty"`

	// Name optionally labels a data part (e.g. a file name).
	Name *string `json:"name,omitempty"`
}

// TextPart builds a MessagePart carrying plain text.
func TextPart(text string) *MessagePart {
	return &MessagePart{Type: PartText, Text: &text}
}

// DataPart builds a MessagePart carrying a structured, JSON-encoded value.
func DataPart(mimeType string, data json.RawMessage, name string) *MessagePart {
	p := &MessagePart{Type: PartData, MIMEType: &mimeType, Data: data}
	if name != "" {
		p.Name = &name
	}
	return p
}

// Message is one immutable entry in a Task's history.
type Message struct {
	MessageID string         `json:"messageId"`
	Role      MessageRole    `json:"role"`
	Parts     []*MessagePart `json:"parts"`
}

// TaskStatus is a point-in-time snapshot of a Task's lifecycle state.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// Artifact is a named, ordered collection of content parts produced by a
// capability's execution.
type Artifact struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parts       []*MessagePart `json:"parts"`
}

// ArtifactUpdateEvent carries an incremental artifact chunk. Append
// indicates whether Parts should extend the named artifact rather than
// replace it; LastChunk marks the final chunk of a stream.
type ArtifactUpdateEvent struct {
	TaskID    string    `json:"taskId"`
	ContextID string    `json:"contextId"`
	Artifact  *Artifact `json:"artifact"`
	Append    bool      `json:"append"`
	LastChunk bool      `json:"lastChunk"`
}

// StatusUpdateEvent carries a Task status transition.
type StatusUpdateEvent struct {
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final"`
}

// Task is the denormalized view of a unit of work returned by tasks/get
// and streamed incrementally by message/stream.
type Task struct {
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	History   []*Message     `json:"history,omitempty"`
	Artifacts []*Artifact    `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SendMessageParams is the params object for message/send and
// message/stream.
type SendMessageParams struct {
	Message   *Message       `json:"message"`
	TaskID    *string        `json:"taskId,omitempty"`
	ContextID *string        `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskIDParams identifies a task for tasks/get, tasks/cancel, and
// tasks/resubscribe.
type TaskIDParams struct {
	TaskID string `json:"taskId"`
}

// PushNotificationConfig describes a single webhook registration for a
// task.
type PushNotificationConfig struct {
	ID             string         `json:"id"`
	URL            string         `json:"url"`
	Token          string         `json:"token,omitempty"`
	Authentication map[string]any `json:"authentication,omitempty"`
}

// SetPushNotificationParams is the params object for
// tasks/pushNotificationConfig/set.
type SetPushNotificationParams struct {
	TaskID string                  `json:"taskId"`
	Config *PushNotificationConfig `json:"pushNotificationConfig"`
}

// SecurityScheme describes one authentication mechanism advertised by the
// Agent Card.
type SecurityScheme struct {
	Type   string `json:"type"`
	Scheme string `json:"scheme,omitempty"`
}

// Skill is the Agent-Card-facing projection of a registered capability.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	InputMode   string   `json:"inputMode,omitempty"`
	OutputMode  string   `json:"outputMode,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// AgentCard is served at GET /.well-known/agent.json.
type AgentCard struct {
	ProtocolVersion    string                     `json:"protocolVersion"`
	Name               string                     `json:"name"`
	Description        string                     `json:"description,omitempty"`
	URL                string                     `json:"url"`
	Version            string                     `json:"version"`
	Capabilities       map[string]bool            `json:"capabilities,omitempty"`
	DefaultInputModes  []string                   `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string                   `json:"defaultOutputModes,omitempty"`
	Skills             []*Skill                   `json:"skills"`
	SecuritySchemes    map[string]*SecurityScheme `json:"securitySchemes,omitempty"`
}

// Package state defines the conversation-state contract (StateStore) and
// its backends: memory, file, and redis. Every backend enforces the same
// TTL-expiry, optimistic-locking, and history-overflow semantics so
// capabilities never need to know which backend is configured.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/agentup/agentup/internal/a2a/types"
)

// ErrVersionConflict is returned by SetVariable when the caller's expected
// version does not match the store's current version for that key
// (optimistic-locking failure).
var ErrVersionConflict = errors.New("state: version conflict")

// ErrNotFound is returned by GetVariable when the key is absent or
// expired, or its context has no recorded state.
var ErrNotFound = errors.New("state: context not found")

// Variable is one stored conversation-state value with its expiry and
// optimistic-locking version.
type Variable struct {
	Value     any
	Version   int
	ExpiresAt *time.Time // nil means no expiry
}

// Conversation is the full state recorded against one context ID: message
// history (bounded, with overflow handling) plus arbitrary variables.
type Conversation struct {
	ContextID    string
	History      []*types.Message
	Archived     int // count of messages trimmed from History while auto-summarize is on
	Variables    map[string]Variable
	LastActivity time.Time // updated on every AppendMessage/SetVariable touch
}

// Store is the conversation-state contract. Every method is safe for
// concurrent use across tasks sharing a context ID.
type Store interface {
	// AppendMessage appends msg to the context's history, trimming the
	// oldest messages once maxHistorySize is exceeded (counted in Archived
	// when auto-summarize is on; no summary is produced).
	AppendMessage(ctx context.Context, contextID string, msg *types.Message) error

	// History returns the context's message history, oldest first.
	History(ctx context.Context, contextID string) ([]*types.Message, error)

	// SetVariable stores value under key, bound to ttl (zero means no
	// expiry). If expectedVersion is non-nil, the write only succeeds if
	// the stored version matches; otherwise it returns ErrVersionConflict.
	SetVariable(ctx context.Context, contextID, key string, value any, ttl time.Duration, expectedVersion *int) error

	// GetVariable returns the variable stored under key, or ErrNotFound if
	// absent or expired.
	GetVariable(ctx context.Context, contextID, key string) (Variable, error)

	// DeleteVariable removes key from the context's variable set.
	DeleteVariable(ctx context.Context, contextID, key string) error

	// Clear removes every variable and history entry for contextID.
	Clear(ctx context.Context, contextID string) error

	// Close releases any resources (connections, file handles) held by
	// the backend.
	Close() error

	// CleanupOldContexts removes every context whose last recorded
	// activity (the most recent AppendMessage or SetVariable) is older
	// than maxAge, returning the number of contexts removed. It backs
	// the background StateStore cleanup ticker that keeps long-running
	// deployments from accumulating abandoned conversations forever.
	CleanupOldContexts(ctx context.Context, maxAge time.Duration) (int, error)
}

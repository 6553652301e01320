package state

import (
	"context"
	"sync"
	"time"

	"github.com/agentup/agentup/internal/a2a/types"
)

// MemoryStore is an in-memory Store implementation. It is intended for
// single-process deployments and tests; state does not survive a
// restart. Safe for concurrent use.
type MemoryStore struct {
	mu             sync.RWMutex
	conversations  map[string]*Conversation
	maxHistorySize int
	autoSummarize  bool
}

// NewMemoryStore returns an empty MemoryStore. maxHistorySize bounds the
// retained message count per context; autoSummarize selects the overflow
// policy once that bound is exceeded. The oldest messages are removed
// from History either way; true also adds their count to
// Conversation.Archived, false drops them uncounted.
func NewMemoryStore(maxHistorySize int, autoSummarize bool) *MemoryStore {
	return &MemoryStore{
		conversations:  map[string]*Conversation{},
		maxHistorySize: maxHistorySize,
		autoSummarize:  autoSummarize,
	}
}

func (s *MemoryStore) conversation(contextID string) *Conversation {
	c, ok := s.conversations[contextID]
	if !ok {
		c = &Conversation{ContextID: contextID, Variables: map[string]Variable{}}
		s.conversations[contextID] = c
	}
	return c
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(_ context.Context, contextID string, msg *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversation(contextID)
	c.History = append(c.History, msg)
	if s.maxHistorySize > 0 && len(c.History) > s.maxHistorySize {
		overflow := len(c.History) - s.maxHistorySize
		if s.autoSummarize {
			c.Archived += overflow
		}
		c.History = c.History[overflow:]
	}
	c.LastActivity = time.Now()
	return nil
}

// History implements Store.
func (s *MemoryStore) History(_ context.Context, contextID string) ([]*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[contextID]
	if !ok {
		return nil, nil
	}
	out := make([]*types.Message, len(c.History))
	copy(out, c.History)
	return out, nil
}

// SetVariable implements Store.
func (s *MemoryStore) SetVariable(_ context.Context, contextID, key string, value any, ttl time.Duration, expectedVersion *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conversation(contextID)
	current, exists := c.Variables[key]
	if expectedVersion != nil {
		if !exists || current.Version != *expectedVersion {
			return ErrVersionConflict
		}
	}
	v := Variable{Value: value, Version: current.Version + 1}
	if ttl > 0 {
		expires := time.Now().Add(ttl)
		v.ExpiresAt = &expires
	}
	c.Variables[key] = v
	c.LastActivity = time.Now()
	return nil
}

// GetVariable implements Store.
func (s *MemoryStore) GetVariable(_ context.Context, contextID, key string) (Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[contextID]
	if !ok {
		return Variable{}, ErrNotFound
	}
	v, ok := c.Variables[key]
	if !ok {
		return Variable{}, ErrNotFound
	}
	if v.ExpiresAt != nil && time.Now().After(*v.ExpiresAt) {
		delete(c.Variables, key)
		return Variable{}, ErrNotFound
	}
	return v, nil
}

// DeleteVariable implements Store.
func (s *MemoryStore) DeleteVariable(_ context.Context, contextID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[contextID]; ok {
		delete(c.Variables, key)
	}
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, contextID)
	return nil
}

// Close implements Store. MemoryStore holds no external resources.
func (s *MemoryStore) Close() error { return nil }

// CleanupOldContexts implements Store.
func (s *MemoryStore) CleanupOldContexts(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, c := range s.conversations {
		if c.LastActivity.Before(cutoff) {
			delete(s.conversations, id)
			removed++
		}
	}
	return removed, nil
}

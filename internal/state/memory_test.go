package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/internal/a2a/types"
)

func TestMemoryStoreCleanupOldContextsRemovesStaleOnly(t *testing.T) {
	s := NewMemoryStore(100, false)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, "stale", &types.Message{MessageID: "1"}))
	s.conversations["stale"].LastActivity = time.Now().Add(-48 * time.Hour)

	require.NoError(t, s.AppendMessage(ctx, "fresh", &types.Message{MessageID: "2"}))

	removed, err := s.CleanupOldContexts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := s.conversations["stale"]
	assert.False(t, ok, "stale context should be removed")
	_, ok = s.conversations["fresh"]
	assert.True(t, ok, "fresh context should survive cleanup")
}

func TestMemoryStoreCleanupOldContextsNoStaleContexts(t *testing.T) {
	s := NewMemoryStore(100, false)
	ctx := context.Background()
	require.NoError(t, s.AppendMessage(ctx, "fresh", &types.Message{MessageID: "1"}))

	removed, err := s.CleanupOldContexts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/internal/a2a/types"
)

func TestFileStoreCleanupOldContextsRemovesStaleOnly(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, 100, false)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, "stale", &types.Message{MessageID: "1"}))
	c, err := s.read("stale")
	require.NoError(t, err)
	c.LastActivity = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.write(c))

	require.NoError(t, s.AppendMessage(ctx, "fresh", &types.Message{MessageID: "2"}))

	removed, err := s.CleanupOldContexts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	hist, err := s.History(ctx, "stale")
	require.NoError(t, err) // read() treats a missing file as an empty conversation
	assert.Empty(t, hist)

	freshHist, err := s.History(ctx, "fresh")
	require.NoError(t, err)
	assert.Len(t, freshHist, 1)
}

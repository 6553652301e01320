package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentup/agentup/internal/a2a/types"
	"github.com/agentup/agentup/internal/capability"
	"github.com/agentup/agentup/internal/middleware"
	"github.com/agentup/agentup/internal/tasks"
)

func TestExecuteShapesStringResultAndCompletes(t *testing.T) {
	store := tasks.NewStore()
	entry := store.Create("task-1", "ctx-1", func() {})
	x := New(store)
	handler := middleware.Handler(func(tc capability.TaskContext) (capability.Result, error) {
		return capability.Result{Value: "hello"}, nil
	})

	x.Execute(context.Background(), entry, handler, capability.TaskContext{TaskID: "task-1", ContextID: "ctx-1"})

	snap := entry.Snapshot()
	require.Len(t, snap.Artifacts, 1)
	require.Len(t, snap.Artifacts[0].Parts, 1)
	assert.Equal(t, "hello", *snap.Artifacts[0].Parts[0].Text)
	assert.Equal(t, types.TaskCompleted, snap.Status.State)
}

func TestShapeResultWrapsListAsItems(t *testing.T) {
	artifact := ShapeResult([]any{"a", "b", "c"})
	require.Len(t, artifact.Parts, 1)
	part := artifact.Parts[0]
	require.NotNil(t, part.Data)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(part.Data, &decoded))
	items, ok := decoded["items"].([]any)
	require.True(t, ok, "list result must be wrapped under an \"items\" key")
	assert.Equal(t, []any{"a", "b", "c"}, items)
}

func TestShapeResultMapWithSummary(t *testing.T) {
	artifact := ShapeResult(map[string]any{"summary": "ok", "detail": 1.0})
	require.Len(t, artifact.Parts, 2)
	assert.Equal(t, "ok", *artifact.Parts[0].Text)
}

func TestDrainStreamEmitsFinalLastChunkArtifact(t *testing.T) {
	store := tasks.NewStore()
	entry := store.Create("task-2", "ctx-2", func() {})
	x := New(store)

	stream := make(chan capability.StreamChunk, 2)
	stream <- capability.StreamChunk{Value: "chunk one"}
	stream <- capability.StreamChunk{Value: "chunk two"}
	close(stream)

	handler := middleware.Handler(func(tc capability.TaskContext) (capability.Result, error) {
		return capability.Result{Stream: stream}, nil
	})

	sub := x.Subscribe(context.Background(), "task-2")
	x.Execute(context.Background(), entry, handler, capability.TaskContext{TaskID: "task-2", ContextID: "ctx-2"})

	var events []*types.ArtifactUpdateEvent
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case ev := <-sub.C():
			if au, ok := ev.(*types.ArtifactUpdateEvent); ok {
				events = append(events, au)
				if au.LastChunk {
					break loop
				}
			}
			if st, ok := ev.(*types.StatusUpdateEvent); ok && st.Final {
				break loop
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.LastChunk, "the final event emitted on stream close must have LastChunk=true")
	for _, ev := range events {
		assert.True(t, ev.Append, "every streamed artifact chunk must set Append=true")
	}
}

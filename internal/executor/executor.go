// Package executor drives task execution: it invokes a capability's
// wrapped handler, shapes the result into Artifacts, emits exactly one
// status event per transition, and fans streaming chunks out to
// subscribers through a single per-task drainer goroutine.
package executor

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/agentup/agentup/internal/a2a/types"
	"github.com/agentup/agentup/internal/apperr"
	"github.com/agentup/agentup/internal/capability"
	"github.com/agentup/agentup/internal/middleware"
	"github.com/agentup/agentup/internal/tasks"
	"github.com/agentup/agentup/internal/telemetry"
)

// Executor drives task execution against a tasks.Store, broadcasting
// lifecycle events to any active subscribers.
type Executor struct {
	store        *tasks.Store
	broadcasters map[string]*broadcaster
}

// New constructs an Executor bound to store.
func New(store *tasks.Store) *Executor {
	return &Executor{store: store, broadcasters: map[string]*broadcaster{}}
}

func (x *Executor) broadcasterFor(taskID string) *broadcaster {
	b, ok := x.broadcasters[taskID]
	if !ok {
		b = newBroadcaster(32)
		x.broadcasters[taskID] = b
	}
	return b
}

// Subscribe returns a subscription to taskID's event stream, for
// message/stream and tasks/resubscribe.
func (x *Executor) Subscribe(ctx context.Context, taskID string) *subscription {
	return x.broadcasterFor(taskID).subscribe(ctx)
}

// Execute runs handler against tc, driving the task through
// working -> (completed|failed), shaping the result into an Artifact,
// and publishing exactly one status event per transition plus one
// artifact event for the result (spec.md §4.7's result-shaping rules).
//
// A capability's handler reports need for user input by returning a
// Result whose Value is the sentinel *InputRequired; Execute then
// transitions to input_required instead of completed and leaves the task
// open for a follow-up message in the same context.
func (x *Executor) Execute(ctx context.Context, entry *tasks.Entry, handler middleware.Handler, tc capability.TaskContext) {
	bc := x.broadcasterFor(tc.TaskID)

	if ev, err := entry.Transition(types.TaskWorking, nil); err == nil {
		bc.publish(&ev)
	}

	res, err := handler(tc)
	if err != nil {
		x.fail(entry, bc, err)
		return
	}

	if res.Stream != nil {
		x.drainStream(ctx, entry, bc, res.Stream)
		return
	}

	if ir, ok := res.Value.(*InputRequired); ok {
		msg := &types.Message{MessageID: uuid.NewString(), Role: types.RoleAssistant, Parts: []*types.MessagePart{types.TextPart(ir.Prompt)}}
		entry.AppendHistory(msg)
		if ev, err := entry.Transition(types.TaskInputRequired, msg); err == nil {
			bc.publish(&ev)
		}
		return
	}

	artifact := ShapeResult(res.Value)
	entry.AppendArtifact(artifact)
	bc.publish(&types.ArtifactUpdateEvent{TaskID: tc.TaskID, ContextID: tc.ContextID, Artifact: artifact, LastChunk: true})

	if ev, err := entry.Transition(types.TaskCompleted, nil); err == nil {
		bc.publish(&ev)
	}
}

// InputRequired is the sentinel a capability returns as its Result.Value
// to signal the task needs another round of user input before it can
// complete.
type InputRequired struct {
	Prompt string
}

func (x *Executor) fail(entry *tasks.Entry, bc *broadcaster, err error) {
	telemetry.Error(context.Background(), "capability execution failed", err, telemetry.Fields{})
	msg := &types.Message{MessageID: uuid.NewString(), Role: types.RoleAssistant, Parts: []*types.MessagePart{types.TextPart(err.Error())}}
	if ev, terr := entry.Transition(types.TaskFailed, msg); terr == nil {
		bc.publish(&ev)
	}
}

// Cancel transitions a task to canceled and invokes its bound cancel
// function so its running execution observes ctx.Done().
func (x *Executor) Cancel(entry *tasks.Entry) error {
	status := entry.Status()
	if status.State.IsTerminal() {
		return apperr.Wrap(apperr.KindCancellation, "task is already terminal", apperr.ErrTaskTerminal)
	}
	entry.Cancel()
	ev, err := entry.Transition(types.TaskCanceled, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindCancellation, "failed to transition task to canceled", err)
	}
	x.broadcasterFor(entry.Snapshot().TaskID).publish(&ev)
	return nil
}

func (x *Executor) drainStream(ctx context.Context, entry *tasks.Entry, bc *broadcaster, stream <-chan capability.StreamChunk) {
	go func() {
		taskID := entry.Snapshot().TaskID
		contextID := entry.Snapshot().ContextID
		for {
			select {
			case <-ctx.Done():
				x.fail(entry, bc, ctx.Err())
				return
			case chunk, ok := <-stream:
				if !ok {
					bc.publish(&types.ArtifactUpdateEvent{TaskID: taskID, ContextID: contextID, Artifact: &types.Artifact{}, Append: true, LastChunk: true})
					if ev, err := entry.Transition(types.TaskCompleted, nil); err == nil {
						bc.publish(&ev)
					}
					return
				}
				if chunk.Err != nil {
					x.fail(entry, bc, chunk.Err)
					return
				}
				artifact := ShapeResult(chunk.Value)
				entry.AppendArtifact(artifact)
				bc.publish(&types.ArtifactUpdateEvent{TaskID: taskID, ContextID: contextID, Artifact: artifact, Append: true, LastChunk: false})
			}
		}
	}()
}

// ShapeResult converts a capability's raw return value into an Artifact
// per the result-shaping rules: a string becomes a single TextPart; a
// map with a "summary" key becomes a TextPart plus a DataPart carrying
// the full map; a map without "summary" becomes a bare DataPart; a list
// is wrapped as DataPart({"items": list}); anything else is stringified
// into a TextPart.
func ShapeResult(value any) *types.Artifact {
	switch v := value.(type) {
	case string:
		return &types.Artifact{Parts: []*types.MessagePart{types.TextPart(v)}}
	case map[string]any:
		raw, _ := json.Marshal(v)
		if summary, ok := v["summary"].(string); ok {
			return &types.Artifact{Parts: []*types.MessagePart{
				types.TextPart(summary),
				types.DataPart("application/json", raw, "result"),
			}}
		}
		return &types.Artifact{Parts: []*types.MessagePart{types.DataPart("application/json", raw, "result")}}
	case []any:
		raw, _ := json.Marshal(map[string]any{"items": v})
		return &types.Artifact{Parts: []*types.MessagePart{types.DataPart("application/json", raw, "result")}}
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return &types.Artifact{Parts: []*types.MessagePart{types.TextPart("")}}
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return &types.Artifact{Parts: []*types.MessagePart{types.TextPart(text)}}
		}
		return &types.Artifact{Parts: []*types.MessagePart{types.TextPart(string(raw))}}
	}
}

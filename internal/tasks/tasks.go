// Package tasks implements the Task lifecycle state machine and its
// store: per-task mutex, DAG-enforced status transitions, append-only
// history, and a cancel function bound to the task's running execution.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/agentup/agentup/internal/a2a/types"
	"github.com/agentup/agentup/internal/apperr"
)

// validTransitions enumerates the allowed TaskState DAG edges (invariant
// I1). A state absent as a key has no outgoing transitions (terminal).
var validTransitions = map[types.TaskState][]types.TaskState{
	types.TaskSubmitted:    {types.TaskWorking, types.TaskRejected},
	types.TaskWorking:      {types.TaskInputRequired, types.TaskCompleted, types.TaskFailed, types.TaskCanceled},
	types.TaskInputRequired: {types.TaskWorking, types.TaskCanceled},
}

func canTransition(from, to types.TaskState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Entry is one managed task's mutable state.
type Entry struct {
	mu        sync.RWMutex
	task      *types.Task
	cancel    context.CancelFunc
	pushCfgs  map[string]*types.PushNotificationConfig
}

// Status returns the current status snapshot.
func (e *Entry) Status() types.TaskStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.task.Status
}

// Snapshot returns a defensive copy of the task's current state: status,
// history, and artifacts.
func (e *Entry) Snapshot() *types.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := *e.task
	out.History = append([]*types.Message(nil), e.task.History...)
	out.Artifacts = append([]*types.Artifact(nil), e.task.Artifacts...)
	return &out
}

// Transition moves the task to newState if the DAG allows it (invariant
// I1), returns exactly one status-update event (invariant I4), and
// rejects any transition attempted from a terminal state (invariant I2).
func (e *Entry) Transition(newState types.TaskState, statusMessage *types.Message) (types.StatusUpdateEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.task.Status.State
	if current.IsTerminal() {
		return types.StatusUpdateEvent{}, apperr.Wrap(apperr.KindDispatch, "task is already in a terminal state", apperr.ErrTaskTerminal)
	}
	if !canTransition(current, newState) {
		return types.StatusUpdateEvent{}, apperr.New(apperr.KindDispatch, "invalid task state transition")
	}

	e.task.Status = types.TaskStatus{State: newState, Message: statusMessage, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	return types.StatusUpdateEvent{
		TaskID:    e.task.TaskID,
		ContextID: e.task.ContextID,
		Status:    e.task.Status,
		Final:     newState.IsTerminal(),
	}, nil
}

// AppendHistory appends msg to the task's history (invariant I3: history
// is append-only, never mutated or reordered in place).
func (e *Entry) AppendHistory(msg *types.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.task.History = append(e.task.History, msg)
}

// AppendArtifact records art in the task's artifact list.
func (e *Entry) AppendArtifact(art *types.Artifact) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.task.Artifacts = append(e.task.Artifacts, art)
}

// SetPushConfig stores a push-notification config under its ID.
func (e *Entry) SetPushConfig(cfg *types.PushNotificationConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pushCfgs == nil {
		e.pushCfgs = map[string]*types.PushNotificationConfig{}
	}
	e.pushCfgs[cfg.ID] = cfg
}

// PushConfigs returns every push-notification config registered for this
// task.
func (e *Entry) PushConfigs() []*types.PushNotificationConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*types.PushNotificationConfig, 0, len(e.pushCfgs))
	for _, cfg := range e.pushCfgs {
		out = append(out, cfg)
	}
	return out
}

// DeletePushConfig removes a push-notification config by ID.
func (e *Entry) DeletePushConfig(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pushCfgs, id)
}

// Cancel invokes the task's bound cancel function, if any, signaling its
// running execution to stop.
func (e *Entry) Cancel() {
	e.mu.RLock()
	cancel := e.cancel
	e.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Store holds every active and recently-terminal task in the process,
// keyed by task ID. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Entry
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{tasks: map[string]*Entry{}}
}

// Create registers a new task in TaskSubmitted state, bound to cancel for
// later Cancel() calls.
func (s *Store) Create(taskID, contextID string, cancel context.CancelFunc) *Entry {
	entry := &Entry{
		task: &types.Task{
			TaskID:    taskID,
			ContextID: contextID,
			Status:    types.TaskStatus{State: types.TaskSubmitted, Timestamp: time.Now().UTC().Format(time.RFC3339)},
		},
		cancel: cancel,
	}
	s.mu.Lock()
	s.tasks[taskID] = entry
	s.mu.Unlock()
	return entry
}

// Get returns the Entry for taskID, if present.
func (s *Store) Get(taskID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[taskID]
	return e, ok
}

// Delete removes a task entry, e.g. after its terminal state has been
// observed and its resources reclaimed.
func (s *Store) Delete(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}

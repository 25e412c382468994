// Package tasks tracks delegated remote tasks locally, keyed by worker and
// worker-issued task id, and enforces the task state machine.
package tasks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

var (
	// ErrUnknownTask is returned for a handle that is not tracked.
	ErrUnknownTask = errors.New("task not tracked")
	// ErrDuplicateTask is returned when registering a handle twice.
	ErrDuplicateTask = errors.New("task already tracked")
	// ErrTerminal is returned when updating a task that already reached a
	// terminal state. Late results are discarded.
	ErrTerminal = errors.New("task already terminal")
)

// TransitionError reports a transition the state machine does not allow.
type TransitionError struct {
	From, To models.TaskState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid task transition %s -> %s", e.From, e.To)
}

// Update is a state change reported for a task.
type Update struct {
	State  models.TaskState
	Output string
	Error  string
	// Unreachable marks a failure caused by exhausted status probes.
	Unreachable bool
}

// Tracker holds every in-flight and not-yet-consumed task.
type Tracker struct {
	// tasks maps handle keys to tasks.
	tasks map[string]*models.RemoteTask
	// bySession indexes handle keys by owning session.
	bySession map[string]map[string]struct{}
	// mu protects all fields.
	mu sync.RWMutex
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		tasks:     make(map[string]*models.RemoteTask),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Register starts tracking a task. The task's State must be valid.
func (t *Tracker) Register(task *models.RemoteTask) error {
	if !task.State.Valid() {
		return fmt.Errorf("register task %s: invalid state %q", task.ID, task.State)
	}
	key := task.Handle().Key()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tasks[key]; ok {
		return ErrDuplicateTask
	}
	cp := *task
	t.tasks[key] = &cp
	if t.bySession[task.SessionID] == nil {
		t.bySession[task.SessionID] = make(map[string]struct{})
	}
	t.bySession[task.SessionID][key] = struct{}{}
	return nil
}

// Get returns a snapshot of the task.
func (t *Tracker) Get(h models.TaskHandle) (models.RemoteTask, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[h.Key()]
	if !ok {
		return models.RemoteTask{}, false
	}
	return *task, true
}

// Transition applies an update if the state machine allows it and returns
// the updated snapshot. Updates to terminal tasks return ErrTerminal.
func (t *Tracker) Transition(h models.TaskHandle, u Update) (models.RemoteTask, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[h.Key()]
	if !ok {
		return models.RemoteTask{}, ErrUnknownTask
	}
	if task.State.IsTerminal() {
		return *task, ErrTerminal
	}
	if !task.State.CanTransition(u.State) {
		return *task, &TransitionError{From: task.State, To: u.State}
	}

	task.State = u.State
	if u.Output != "" {
		task.Output = u.Output
	}
	if u.Error != "" {
		task.Error = u.Error
	}
	task.Unreachable = u.Unreachable
	return *task, nil
}

// Touch records a status probe.
func (t *Tracker) Touch(h models.TaskHandle, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if task, ok := t.tasks[h.Key()]; ok {
		task.LastPollAt = at
	}
}

// BySession returns snapshots of all tasks owned by a session.
func (t *Tracker) BySession(sessionID string) []models.RemoteTask {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := t.bySession[sessionID]
	out := make([]models.RemoteTask, 0, len(keys))
	for key := range keys {
		out = append(out, *t.tasks[key])
	}
	return out
}

// Remove stops tracking a task.
func (t *Tracker) Remove(h models.TaskHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(h.Key())
}

func (t *Tracker) removeLocked(key string) {
	task, ok := t.tasks[key]
	if !ok {
		return
	}
	delete(t.tasks, key)
	if keys := t.bySession[task.SessionID]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(t.bySession, task.SessionID)
		}
	}
}

// RemoveTerminal drops every terminal task owned by a session and returns
// how many were removed. Non-terminal tasks stay tracked.
func (t *Tracker) RemoveTerminal(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for key := range t.bySession[sessionID] {
		if t.tasks[key].State.IsTerminal() {
			t.removeLocked(key)
			n++
		}
	}
	return n
}

// Count returns the number of tracked tasks.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

package models

import "time"

// TaskState represents the lifecycle state of a delegated remote task.
type TaskState string

const (
	// TaskSubmitted indicates the worker accepted the task but has not reported progress.
	TaskSubmitted TaskState = "submitted"
	// TaskRunning indicates the worker reported the task has started.
	TaskRunning TaskState = "running"
	// TaskCompleted indicates the worker reported terminal success.
	TaskCompleted TaskState = "completed"
	// TaskFailed indicates a terminal error, reported by the worker or by exhausted probes.
	TaskFailed TaskState = "failed"
	// TaskTimedOut indicates the deadline passed before a terminal state was observed.
	TaskTimedOut TaskState = "timed_out"
	// TaskCancelled indicates the caller cancelled the task.
	TaskCancelled TaskState = "cancelled"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskSubmitted, TaskRunning, TaskCompleted, TaskFailed, TaskTimedOut, TaskCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transitions can occur from this state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTimedOut, TaskCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is allowed.
// A worker that reports completion on the very first probe passes through
// running implicitly, so submitted may move straight to any terminal state.
func (s TaskState) CanTransition(next TaskState) bool {
	if !next.Valid() {
		return false
	}
	switch s {
	case TaskSubmitted:
		return next != TaskSubmitted
	case TaskRunning:
		return next != TaskSubmitted
	default:
		return false
	}
}

// TaskHandle identifies a task issued by a worker.
type TaskHandle struct {
	// TaskID is the identifier issued by the worker at creation time.
	TaskID string `json:"task_id"`
	// Worker is the logical worker name the task was sent to.
	Worker string `json:"worker"`
	// SessionID is the owning session.
	SessionID string `json:"session_id"`
	// SubmittedAt is when the worker accepted the task.
	SubmittedAt time.Time `json:"submitted_at"`
}

// Key returns the tracker key for the handle. Task IDs are only unique per worker.
func (h TaskHandle) Key() string {
	return h.Worker + "/" + h.TaskID
}

// RemoteTask is the locally tracked view of a delegated task.
type RemoteTask struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Worker    string    `json:"worker"`
	Payload   string    `json:"payload"`
	State     TaskState `json:"state"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	// Unreachable is set when the task failed because status probes kept failing,
	// as opposed to the worker reporting a failure.
	Unreachable bool      `json:"unreachable,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastPollAt  time.Time `json:"last_poll_at,omitempty"`
}

// Handle returns the handle that identifies this task.
func (t *RemoteTask) Handle() TaskHandle {
	return TaskHandle{
		TaskID:      t.ID,
		Worker:      t.Worker,
		SessionID:   t.SessionID,
		SubmittedAt: t.CreatedAt,
	}
}

// TaskResult is the terminal outcome of a monitored task.
type TaskResult struct {
	Handle TaskHandle `json:"handle"`
	State  TaskState  `json:"state"`
	Output string     `json:"output,omitempty"`
	Error  string     `json:"error,omitempty"`
	// Unreachable distinguishes exhausted status probes from a worker-reported failure.
	Unreachable bool          `json:"unreachable,omitempty"`
	Probes      int           `json:"probes"`
	Elapsed     time.Duration `json:"elapsed"`
}

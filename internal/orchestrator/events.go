package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTurnStarted indicates a turn holds its session lock.
	EventTurnStarted EventType = "turn_started"
	// EventTaskDispatched indicates a worker accepted a delegation.
	EventTaskDispatched EventType = "task_dispatched"
	// EventTaskCompleted indicates a delegation completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a delegation failed or could not be dispatched.
	EventTaskFailed EventType = "task_failed"
	// EventTaskTimedOut indicates a delegation passed its deadline.
	EventTaskTimedOut EventType = "task_timed_out"
	// EventTaskSkipped indicates a delegation was never dispatched because a
	// prerequisite did not complete.
	EventTaskSkipped EventType = "task_skipped"
	// EventTurnCompleted indicates the turn was appended to the session log.
	EventTurnCompleted EventType = "turn_completed"
)

// OrchestratorEvent represents an event emitted while a turn runs.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// ContextID is the caller's conversation id.
	ContextID string
	// SessionID is the internal session id.
	SessionID string
	// DelegationID is the plan-local delegation id, if applicable.
	DelegationID string
	// Worker is the target worker, if applicable.
	Worker string
	// TaskID is the worker-issued task id, if applicable.
	TaskID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is the elapsed time for completion events.
	Duration time.Duration
}

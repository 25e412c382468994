package orchestrator

import "fmt"

// ErrorKind classifies a turn-level failure.
type ErrorKind string

const (
	// KindInvalidInput means the turn text was empty.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindPlannerUnavailable means no delegation decision could be obtained.
	KindPlannerUnavailable ErrorKind = "planner_unavailable"
	// KindInvalidPlan means the plan had unknown dependencies or a cycle.
	KindInvalidPlan ErrorKind = "invalid_plan"
	// KindSessionStore means the session could not be resolved or persisted.
	KindSessionStore ErrorKind = "session_store"
	// KindCancelled means the caller gave up before the session lock was held.
	KindCancelled ErrorKind = "cancelled"
)

// Error is returned by HandleTurn for failures that prevent any answer.
// Worker failures never produce an Error; they degrade the response instead.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("orchestration failed: %s", e.Kind)
	}
	return fmt.Sprintf("orchestration failed: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

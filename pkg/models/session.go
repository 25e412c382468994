package models

import "time"

// Session is the conversational context spanning multiple turns.
type Session struct {
	// ID is the internal execution-session identifier.
	ID string `json:"id"`
	// ContextID is the external conversation identifier supplied by the caller.
	ContextID string `json:"context_id"`
	// CreatedAt is when the session was first resolved.
	CreatedAt time.Time `json:"created_at"`
	// LastActiveAt is updated whenever a turn is appended.
	LastActiveAt time.Time `json:"last_active_at"`
	// Turns is the ordered, append-only turn log.
	Turns []Turn `json:"turns,omitempty"`
}

// History returns the last n turns, oldest first. n <= 0 returns all turns.
func (s *Session) History(n int) []Turn {
	if n <= 0 || n >= len(s.Turns) {
		return append([]Turn(nil), s.Turns...)
	}
	return append([]Turn(nil), s.Turns[len(s.Turns)-n:]...)
}

// Turn is one user input and its resulting output.
type Turn struct {
	// Seq is the 1-based position of the turn within its session.
	Seq int `json:"seq"`
	// Input is the user text.
	Input string `json:"input"`
	// Output is the assembled response.
	Output string `json:"output"`
	// Tasks references the remote tasks delegated for this turn.
	Tasks []TaskRef `json:"tasks,omitempty"`
	// Degraded is true when one or more delegations did not succeed.
	Degraded bool `json:"degraded,omitempty"`
	// CreatedAt is when the turn finished.
	CreatedAt time.Time `json:"created_at"`
}

// TaskRef records a delegated task's final state in the turn log.
type TaskRef struct {
	DelegationID string    `json:"delegation_id"`
	Worker       string    `json:"worker"`
	TaskID       string    `json:"task_id,omitempty"`
	State        TaskState `json:"state"`
	Error        string    `json:"error,omitempty"`
}

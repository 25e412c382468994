// Package remote maintains client connections to worker services and
// defines the HTTP+JSON task protocol spoken between host and workers.
package remote

import (
	"fmt"
	"strings"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// Wire paths, relative to a worker's base URL.
const (
	CardPath  = "/.well-known/agent.json"
	TasksPath = "/tasks"
)

// Worker-reported task states. Workers may use either spelling of cancelled
// and either "working" or "running".
const (
	WireSubmitted = "submitted"
	WireWorking   = "working"
	WireRunning   = "running"
	WireCompleted = "completed"
	WireFailed    = "failed"
	WireCanceled  = "canceled"
)

// AgentCard describes a worker, served at CardPath.
type AgentCard struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	URL          string       `json:"url"`
	Version      string       `json:"version"`
	Capabilities Capabilities `json:"capabilities"`
	Skills       []Skill      `json:"skills,omitempty"`
}

// Capabilities advertises optional protocol features.
type Capabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
}

// Skill is one thing a worker can do.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// CreateTaskRequest is the body of POST /tasks.
type CreateTaskRequest struct {
	// MessageID makes creation idempotent across transport retries.
	MessageID string `json:"message_id"`
	// ContextID carries conversational continuity to the worker.
	ContextID string `json:"context_id,omitempty"`
	Payload   string `json:"payload"`
	// CallbackURL, when set, asks the worker to POST a PushEvent on terminal state.
	CallbackURL string `json:"callback_url,omitempty"`
}

// TaskStatus is returned by POST /tasks and GET /tasks/{id}.
type TaskStatus struct {
	TaskID    string     `json:"task_id"`
	State     string     `json:"state"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Artifact is a result attachment made of parts.
type Artifact struct {
	Name  string `json:"name,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one piece of an artifact: inline text or a link to generated audio.
type Part struct {
	Text     string `json:"text,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

// PushEvent is POSTed by a worker to the host's callback URL.
type PushEvent struct {
	Worker string `json:"worker"`
	TaskStatus
}

// ParseState maps a worker-reported state onto the local task state machine.
func ParseState(s string) (models.TaskState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case WireSubmitted, "pending":
		return models.TaskSubmitted, nil
	case WireWorking, WireRunning:
		return models.TaskRunning, nil
	case WireCompleted:
		return models.TaskCompleted, nil
	case WireFailed:
		return models.TaskFailed, nil
	case WireCanceled, "cancelled":
		return models.TaskCancelled, nil
	default:
		return "", fmt.Errorf("unknown task state %q", s)
	}
}

// Result returns the task's output text. When Output is empty the text
// parts of all artifacts are joined, followed by one line per audio link.
func (s *TaskStatus) Result() string {
	if s.Output != "" {
		return s.Output
	}
	var texts, audio []string
	for _, a := range s.Artifacts {
		for _, p := range a.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
			if p.AudioURL != "" {
				audio = append(audio, "Audio URL: "+p.AudioURL)
			}
		}
	}
	return strings.Join(append(texts, audio...), "\n")
}

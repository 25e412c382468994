// Package dispatch submits delegated sub-tasks to workers and registers
// them for monitoring.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/tasks"
	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// ErrorKind classifies a dispatch failure.
type ErrorKind string

const (
	// KindUnreachable means transport retries were exhausted.
	KindUnreachable ErrorKind = "unreachable"
	// KindRejected means the worker refused the task.
	KindRejected ErrorKind = "rejected"
	// KindNotConfigured means no worker is registered under the name.
	KindNotConfigured ErrorKind = "not_configured"
)

// Error is returned by Submit when a task could not be created.
type Error struct {
	Worker string
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("dispatch to %s: %s: %s", e.Worker, e.Kind, e.Reason)
	}
	return fmt.Sprintf("dispatch to %s: %s", e.Worker, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ConnectionSource resolves worker names to connections.
type ConnectionSource interface {
	Get(worker string) (remote.Connection, error)
}

// Dispatcher creates remote tasks.
type Dispatcher struct {
	conns   ConnectionSource
	tracker *tasks.Tracker
	// callbackURL is advertised to workers for push status; empty disables it.
	callbackURL string
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCallbackURL asks workers to push terminal status to url.
func WithCallbackURL(url string) Option {
	return func(d *Dispatcher) { d.callbackURL = url }
}

// New creates a Dispatcher.
func New(conns ConnectionSource, tracker *tasks.Tracker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		conns:   conns,
		tracker: tracker,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type submitOptions struct {
	contextID string
}

// SubmitOption configures a single submission.
type SubmitOption func(*submitOptions)

// WithContextID forwards the conversation id so the worker can keep its
// own continuity across turns.
func WithContextID(id string) SubmitOption {
	return func(o *submitOptions) { o.contextID = id }
}

// Submit creates a task on the named worker and registers it under the
// session. A worker may complete the task synchronously, in which case the
// task is registered already terminal.
func (d *Dispatcher) Submit(ctx context.Context, sessionID, worker, payload string, opts ...SubmitOption) (models.TaskHandle, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := d.conns.Get(worker)
	if err != nil {
		return models.TaskHandle{}, classify(worker, err)
	}

	req := remote.CreateTaskRequest{
		MessageID:   uuid.NewString(),
		ContextID:   o.contextID,
		Payload:     payload,
		CallbackURL: d.callbackFor(worker),
	}
	status, err := conn.CreateTask(ctx, req)
	if err != nil {
		return models.TaskHandle{}, classify(worker, err)
	}

	state, err := remote.ParseState(status.State)
	if err != nil {
		return models.TaskHandle{}, &Error{Worker: worker, Kind: KindRejected, Reason: err.Error(), Err: err}
	}

	task := &models.RemoteTask{
		ID:        status.TaskID,
		SessionID: sessionID,
		Worker:    worker,
		Payload:   payload,
		State:     state,
		CreatedAt: d.now(),
	}
	if state.IsTerminal() {
		task.Output = status.Result()
		task.Error = status.Error
	}
	if err := d.tracker.Register(task); err != nil {
		return models.TaskHandle{}, fmt.Errorf("track task %s on %s: %w", status.TaskID, worker, err)
	}

	log.Printf("[dispatch] %s accepted task %s for session %s (state %s)", worker, task.ID, sessionID, state)
	return task.Handle(), nil
}

// callbackFor returns the push URL for a worker, tagged with the worker's
// logical name so pushed events can be matched to tracked tasks.
func (d *Dispatcher) callbackFor(worker string) string {
	if d.callbackURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(d.callbackURL, "?") {
		sep = "&"
	}
	return d.callbackURL + sep + "worker=" + url.QueryEscape(worker)
}

// classify maps connection-level errors onto dispatch error kinds.
func classify(worker string, err error) error {
	var connErr *remote.ConnectionError
	var rejected *remote.RejectedError
	switch {
	case errors.As(err, &connErr) && connErr.Kind == remote.NotConfigured:
		return &Error{Worker: worker, Kind: KindNotConfigured, Reason: connErr.Error(), Err: err}
	case errors.As(err, &connErr):
		return &Error{Worker: worker, Kind: KindUnreachable, Err: err}
	case errors.As(err, &rejected):
		return &Error{Worker: worker, Kind: KindRejected, Reason: rejected.Reason, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &Error{Worker: worker, Kind: KindUnreachable, Err: err}
	}
}

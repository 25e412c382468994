// Package monitor follows delegated tasks to a terminal state by polling
// workers, or by accepting pushed status, under a deadline.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/tasks"
	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// ErrCancelled is the cancellation cause for an explicit Cancel.
var ErrCancelled = errors.New("task cancelled by caller")

// ConnectionSource resolves worker names to connections.
type ConnectionSource interface {
	Get(worker string) (remote.Connection, error)
}

// Config controls polling and timeout behavior.
type Config struct {
	PollInitial time.Duration
	PollMax     time.Duration
	Multiplier  float64
	// ProbeRetries is how many consecutive failed probes are retried before
	// the task is declared unreachable.
	ProbeRetries int
	// CancelOnTimeout sends a best-effort cancel to the worker when a task
	// times out. When false the worker is left to finish and its result is
	// discarded.
	CancelOnTimeout bool
	// CancelTimeout bounds each best-effort cancel call.
	CancelTimeout time.Duration
}

// DefaultConfig returns 500ms..5s doubling polls, three probe retries and
// cancel-on-timeout enabled.
func DefaultConfig() Config {
	return Config{
		PollInitial:     500 * time.Millisecond,
		PollMax:         5 * time.Second,
		Multiplier:      2.0,
		ProbeRetries:    3,
		CancelOnTimeout: true,
		CancelTimeout:   5 * time.Second,
	}
}

// Monitor awaits task completion. Each awaited task is polled independently.
type Monitor struct {
	conns   ConnectionSource
	tracker *tasks.Tracker
	cfg     Config

	mu      sync.Mutex
	waiters map[string]*waiter

	// cancels tracks in-flight best-effort cancel calls.
	cancels sync.WaitGroup
}

type waiter struct {
	wake   chan struct{}
	cancel context.CancelCauseFunc
}

// New creates a Monitor.
func New(conns ConnectionSource, tracker *tasks.Tracker, cfg Config) *Monitor {
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = DefaultConfig().PollInitial
	}
	if cfg.PollMax < cfg.PollInitial {
		cfg.PollMax = cfg.PollInitial
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = DefaultConfig().CancelTimeout
	}
	return &Monitor{
		conns:   conns,
		tracker: tracker,
		cfg:     cfg,
		waiters: make(map[string]*waiter),
	}
}

// AwaitCompletion blocks until the task reaches a terminal state, the
// deadline passes (TIMED_OUT), or the task is cancelled (CANCELLED).
// Expiry of ctx's own deadline is also reported as TIMED_OUT; any other
// cancellation of ctx is reported as CANCELLED.
func (m *Monitor) AwaitCompletion(ctx context.Context, h models.TaskHandle, deadline time.Time) models.TaskResult {
	task, ok := m.tracker.Get(h)
	if !ok {
		return models.TaskResult{Handle: h, State: models.TaskFailed, Error: tasks.ErrUnknownTask.Error()}
	}
	if task.State.IsTerminal() {
		return result(task, 0)
	}

	cctx, cancelCause := context.WithCancelCause(ctx)
	defer cancelCause(nil)
	wctx, cancelDeadline := context.WithDeadline(cctx, deadline)
	defer cancelDeadline()

	w := &waiter{wake: make(chan struct{}, 1), cancel: cancelCause}
	key := h.Key()
	m.mu.Lock()
	m.waiters[key] = w
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.waiters[key] == w {
			delete(m.waiters, key)
		}
		m.mu.Unlock()
	}()

	poll := m.pollBackOff()
	timer := time.NewTimer(poll.NextBackOff())
	defer timer.Stop()

	probes, failures := 0, 0
	for {
		select {
		case <-wctx.Done():
			return m.stop(ctx, cctx, h, probes)

		case <-w.wake:
			// Deliver already applied the pushed status.
			if snap, ok := m.tracker.Get(h); ok && snap.State.IsTerminal() {
				return result(snap, probes)
			}
			continue

		case <-timer.C:
		}

		probes++
		if snap, done := m.probe(wctx, h, &failures); done {
			return result(snap, probes)
		}
		if wctx.Err() != nil {
			return m.stop(ctx, cctx, h, probes)
		}

		timer.Reset(poll.NextBackOff())
	}
}

// pollBackOff returns the probe schedule: PollInitial growing by Multiplier
// up to PollMax, without jitter or an elapsed-time limit.
func (m *Monitor) pollBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.PollInitial
	b.MaxInterval = m.cfg.PollMax
	b.Multiplier = m.cfg.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// probe performs one status probe and applies the outcome. It returns the
// task snapshot and true once the task is terminal.
func (m *Monitor) probe(ctx context.Context, h models.TaskHandle, failures *int) (models.RemoteTask, bool) {
	m.tracker.Touch(h, time.Now())

	status, err := m.getStatus(ctx, h)
	if err == nil {
		var state models.TaskState
		if state, err = remote.ParseState(status.State); err == nil {
			*failures = 0
			return m.apply(h, tasks.Update{State: state, Output: status.Result(), Error: status.Error})
		}
	}
	if ctx.Err() != nil {
		return models.RemoteTask{}, false
	}

	var rejected *remote.RejectedError
	if errors.As(err, &rejected) {
		return m.apply(h, tasks.Update{
			State: models.TaskFailed,
			Error: fmt.Sprintf("status probe rejected: %s", rejected.Reason),
		})
	}

	*failures++
	log.Printf("[monitor] probe %d of task %s on %s failed: %v", *failures, h.TaskID, h.Worker, err)
	if *failures > m.cfg.ProbeRetries {
		return m.apply(h, tasks.Update{
			State:       models.TaskFailed,
			Error:       fmt.Sprintf("worker unreachable after %d failed status probes: %v", *failures, err),
			Unreachable: true,
		})
	}
	return models.RemoteTask{}, false
}

func (m *Monitor) getStatus(ctx context.Context, h models.TaskHandle) (*remote.TaskStatus, error) {
	conn, err := m.conns.Get(h.Worker)
	if err != nil {
		return nil, err
	}
	return conn.GetTask(ctx, h.TaskID)
}

// apply transitions the tracked task. A task already made terminal by a
// concurrent push keeps that outcome.
func (m *Monitor) apply(h models.TaskHandle, u tasks.Update) (models.RemoteTask, bool) {
	if u.State == models.TaskSubmitted {
		return models.RemoteTask{}, false
	}
	snap, err := m.tracker.Transition(h, u)
	var te *tasks.TransitionError
	switch {
	case errors.Is(err, tasks.ErrTerminal):
		return snap, true
	case errors.As(err, &te):
		log.Printf("[monitor] ignoring %v for task %s on %s", err, h.TaskID, h.Worker)
		return models.RemoteTask{}, false
	case err != nil:
		return unknownTask(h, err), true
	}
	return snap, snap.State.IsTerminal()
}

// stop resolves a wait that ended without a terminal status.
func (m *Monitor) stop(parent, cctx context.Context, h models.TaskHandle, probes int) models.TaskResult {
	state := models.TaskTimedOut
	reason := "deadline exceeded before the worker finished"
	if errors.Is(context.Cause(cctx), ErrCancelled) ||
		(parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded)) {
		state = models.TaskCancelled
		reason = "cancelled before the worker finished"
	}

	snap, err := m.tracker.Transition(h, tasks.Update{State: state, Error: reason})
	switch {
	case errors.Is(err, tasks.ErrTerminal):
		// A push landed first.
		return result(snap, probes)
	case err != nil:
		return result(unknownTask(h, err), probes)
	}

	log.Printf("[monitor] task %s on %s %s after %d probes", h.TaskID, h.Worker, state, probes)
	if state == models.TaskCancelled || m.cfg.CancelOnTimeout {
		m.cancelRemote(h)
	}
	return result(snap, probes)
}

// cancelRemote sends a best-effort cancel without waiting for it.
func (m *Monitor) cancelRemote(h models.TaskHandle) {
	m.cancels.Add(1)
	go func() {
		defer m.cancels.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CancelTimeout)
		defer cancel()

		conn, err := m.conns.Get(h.Worker)
		if err == nil {
			err = conn.CancelTask(ctx, h.TaskID)
		}
		if err != nil {
			log.Printf("[monitor] best-effort cancel of task %s on %s failed: %v", h.TaskID, h.Worker, err)
		}
	}()
}

// Cancel stops monitoring a task and marks it CANCELLED. A task that is not
// being awaited is transitioned directly. Terminal tasks are left alone.
func (m *Monitor) Cancel(h models.TaskHandle) {
	m.mu.Lock()
	w := m.waiters[h.Key()]
	m.mu.Unlock()
	if w != nil {
		w.cancel(ErrCancelled)
		return
	}

	if _, err := m.tracker.Transition(h, tasks.Update{
		State: models.TaskCancelled,
		Error: "cancelled before the worker finished",
	}); err == nil {
		m.cancelRemote(h)
	}
}

// CancelSession cancels every non-terminal task owned by a session.
func (m *Monitor) CancelSession(sessionID string) int {
	n := 0
	for _, t := range m.tracker.BySession(sessionID) {
		if !t.State.IsTerminal() {
			m.Cancel(t.Handle())
			n++
		}
	}
	return n
}

// Deliver applies a status pushed by a worker and wakes its waiter.
// Pushes for tasks already terminal (e.g. TIMED_OUT) or no longer tracked
// are discarded and logged.
func (m *Monitor) Deliver(ev remote.PushEvent) error {
	state, err := remote.ParseState(ev.State)
	if err != nil {
		return err
	}
	h := models.TaskHandle{TaskID: ev.TaskID, Worker: ev.Worker}

	_, err = m.tracker.Transition(h, tasks.Update{State: state, Output: ev.Result(), Error: ev.Error})
	if errors.Is(err, tasks.ErrTerminal) {
		log.Printf("[monitor] discarding late %s status for task %s on %s", state, ev.TaskID, ev.Worker)
		return err
	}
	if errors.Is(err, tasks.ErrUnknownTask) {
		log.Printf("[monitor] discarding %s status for untracked task %s on %s", state, ev.TaskID, ev.Worker)
		return err
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	w := m.waiters[h.Key()]
	m.mu.Unlock()
	if w != nil {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close waits for outstanding best-effort cancels.
func (m *Monitor) Close() {
	m.cancels.Wait()
}

func result(t models.RemoteTask, probes int) models.TaskResult {
	return models.TaskResult{
		Handle:      t.Handle(),
		State:       t.State,
		Output:      t.Output,
		Error:       t.Error,
		Unreachable: t.Unreachable,
		Probes:      probes,
		Elapsed:     time.Since(t.CreatedAt),
	}
}

func unknownTask(h models.TaskHandle, err error) models.RemoteTask {
	return models.RemoteTask{
		ID:        h.TaskID,
		Worker:    h.Worker,
		SessionID: h.SessionID,
		CreatedAt: h.SubmittedAt,
		State:     models.TaskFailed,
		Error:     err.Error(),
	}
}

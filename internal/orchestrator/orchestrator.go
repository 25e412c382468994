package orchestrator

import (
	"time"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/dispatch"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/monitor"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/planner"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/session"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/tasks"
	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// Orchestrator handles user turns. It is safe for concurrent use; turns for
// one session run strictly one after another, turns for different sessions
// run in parallel.
type Orchestrator struct {
	registry   *session.Registry
	pool       *remote.Pool
	planner    planner.Planner
	tracker    *tasks.Tracker
	dispatcher *dispatch.Dispatcher
	monitor    *monitor.Monitor

	turnDeadline time.Duration
	taskTimeout  time.Duration
	historyTurns int

	emitter *EventEmitter
	logger  *DebugLogger
	now     func() time.Time
}

// New creates an Orchestrator. The registry and pool stay owned by the caller.
func New(req RequiredConfig, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = NopLogger()
	}

	tracker := tasks.NewTracker()
	var dispatchOpts []dispatch.Option
	if o.callbackURL != "" {
		dispatchOpts = append(dispatchOpts, dispatch.WithCallbackURL(o.callbackURL))
	}

	orch := &Orchestrator{
		registry:     req.Registry,
		pool:         req.Pool,
		planner:      req.Planner,
		tracker:      tracker,
		dispatcher:   dispatch.New(req.Pool, tracker, dispatchOpts...),
		monitor:      monitor.New(req.Pool, tracker, o.monitorConfig),
		turnDeadline: o.turnDeadline,
		taskTimeout:  o.taskTimeout,
		historyTurns: o.historyTurns,
		logger:       logger,
		now:          o.now,
	}
	if o.eventBuffer > 0 {
		orch.emitter = NewEventEmitter(o.eventBuffer)
	}
	return orch
}

// Events returns lifecycle events, or nil when events are disabled.
func (o *Orchestrator) Events() <-chan OrchestratorEvent {
	if o.emitter == nil {
		return nil
	}
	return o.emitter.Events()
}

func (o *Orchestrator) emitEvent(ev OrchestratorEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	o.logger.Log("[event] %s session=%s delegation=%s worker=%s task=%s %s",
		ev.Type, ev.SessionID, ev.DelegationID, ev.Worker, ev.TaskID, ev.Message)
	if o.emitter != nil {
		o.emitter.Emit(ev)
	}
}

// Deliver applies a status pushed by a worker.
func (o *Orchestrator) Deliver(ev remote.PushEvent) error {
	return o.monitor.Deliver(ev)
}

// CancelSession cancels every in-flight delegation of a session and returns
// how many were cancelled. The running turn still completes, with those
// capabilities reported as not delivered.
func (o *Orchestrator) CancelSession(sessionID string) int {
	return o.monitor.CancelSession(sessionID)
}

// Session returns a session with its turn log.
func (o *Orchestrator) Session(sessionID string) (*models.Session, error) {
	return o.registry.Get(sessionID)
}

// Workers returns the configured workers with their health flags.
func (o *Orchestrator) Workers() []models.WorkerEndpoint {
	return o.pool.Endpoints()
}

// InFlight returns the number of tasks still tracked.
func (o *Orchestrator) InFlight() int {
	return o.tracker.Count()
}

// Close waits for best-effort cancels and closes the event stream and the
// debug log.
func (o *Orchestrator) Close() error {
	o.monitor.Close()
	if o.emitter != nil {
		o.emitter.Close()
	}
	return o.logger.Close()
}

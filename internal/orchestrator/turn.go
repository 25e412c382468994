package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/dispatch"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/graph"
	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// resultRef matches {{result:<delegation id>}} in payloads.
var resultRef = regexp.MustCompile(`\{\{result:([^}\s]+)\}\}`)

// TurnResult is the outcome of one turn.
type TurnResult struct {
	ContextID string        `json:"context_id"`
	SessionID string        `json:"session_id"`
	Seq       int           `json:"seq"`
	Output    string        `json:"output"`
	Degraded  bool          `json:"degraded"`
	Tasks     []TaskOutcome `json:"tasks,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// TaskOutcome is the final state of one delegation.
type TaskOutcome struct {
	DelegationID string           `json:"delegation_id"`
	Worker       string           `json:"worker"`
	TaskID       string           `json:"task_id,omitempty"`
	State        models.TaskState `json:"state"`
	Output       string           `json:"output,omitempty"`
	// Error is the internal failure detail. It is logged and recorded but
	// never copied into the user-visible output.
	Error         string             `json:"error,omitempty"`
	Unreachable   bool               `json:"unreachable,omitempty"`
	Skipped       bool               `json:"skipped,omitempty"`
	DispatchError dispatch.ErrorKind `json:"dispatch_error,omitempty"`
	Elapsed       time.Duration      `json:"elapsed"`
}

// Ref converts the outcome for the session log.
func (t TaskOutcome) Ref() models.TaskRef {
	return models.TaskRef{
		DelegationID: t.DelegationID,
		Worker:       t.Worker,
		TaskID:       t.TaskID,
		State:        t.State,
		Error:        t.Error,
	}
}

// HandleTurn runs one user turn. An empty contextID starts a new session.
// Worker failures degrade the response; only turn-level failures return an
// *Error.
func (o *Orchestrator) HandleTurn(ctx context.Context, contextID, input string) (*TurnResult, error) {
	start := time.Now()
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, &Error{Kind: KindInvalidInput, Err: errors.New("empty input")}
	}

	lease, err := o.registry.Acquire(ctx, contextID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindCancelled, Err: err}
		}
		return nil, &Error{Kind: KindSessionStore, Err: err}
	}
	defer lease.Release()
	sess := lease.Session

	o.emitEvent(OrchestratorEvent{Type: EventTurnStarted, ContextID: sess.ContextID, SessionID: sess.ID, Message: input})
	o.logger.Log("[turn] session %s turn %d: %q", sess.ID, len(sess.Turns)+1, input)

	turnCtx := ctx
	if o.turnDeadline > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, o.turnDeadline)
		defer cancel()
	}

	plan, err := o.planner.Plan(turnCtx, input, sess.History(o.historyTurns), o.pool.Endpoints())
	if err != nil {
		log.Printf("[orchestrator] planner failed for session %s: %v", sess.ID, err)
		return nil, &Error{Kind: KindPlannerUnavailable, Err: err}
	}
	if plan == nil {
		return nil, &Error{Kind: KindPlannerUnavailable, Err: errors.New("planner returned no plan")}
	}

	result := &TurnResult{ContextID: sess.ContextID, SessionID: sess.ID}
	if !plan.RequiresDelegation() {
		result.Output = plan.Reply
	} else {
		g := graph.New()
		g.SetDebugLog(o.logger.Log)
		if err := g.Build(withImplicitDeps(plan.Delegations)); err != nil {
			return nil, &Error{Kind: KindInvalidPlan, Err: err}
		}
		result.Tasks = o.runBatch(turnCtx, sess, g)
		result.Output, result.Degraded = o.assemble(plan.Reply, result.Tasks)
	}

	turn := &models.Turn{
		Input:     input,
		Output:    result.Output,
		Degraded:  result.Degraded,
		CreatedAt: o.now(),
	}
	for _, t := range result.Tasks {
		turn.Tasks = append(turn.Tasks, t.Ref())
	}
	if err := o.registry.AppendTurn(sess.ID, turn); err != nil {
		return nil, &Error{Kind: KindSessionStore, Err: fmt.Errorf("append turn: %w", err)}
	}
	if n := o.tracker.RemoveTerminal(sess.ID); n > 0 {
		o.logger.Log("[turn] released %d terminal tasks of session %s", n, sess.ID)
	}

	result.Seq = turn.Seq
	result.Elapsed = time.Since(start)
	o.emitEvent(OrchestratorEvent{
		Type:      EventTurnCompleted,
		ContextID: sess.ContextID,
		SessionID: sess.ID,
		Duration:  result.Elapsed,
		Message:   fmt.Sprintf("turn %d degraded=%v", turn.Seq, result.Degraded),
	})
	return result, nil
}

// runBatch dispatches every delegation as soon as its prerequisites have
// completed and waits for all of them. Outcomes are returned in plan order.
func (o *Orchestrator) runBatch(ctx context.Context, sess *models.Session, g *graph.DependencyGraph) []TaskOutcome {
	order, _ := g.TopologicalSort()
	outcomes := make(map[string]TaskOutcome, g.Size())
	done := make(chan TaskOutcome, g.Size())
	inflight := 0

	for {
		for _, id := range g.GetReady() {
			d, _ := g.Get(id)
			d.Payload = models.UnquoteLiteral(substitute(d.Payload, outcomes))
			g.MarkDispatched(id)
			inflight++
			go func(d models.Delegation) {
				done <- o.runDelegation(ctx, sess, d)
			}(d)
		}
		if inflight == 0 {
			break
		}

		out := <-done
		inflight--
		outcomes[out.DelegationID] = out
		if out.State == models.TaskCompleted {
			g.MarkComplete(out.DelegationID)
			continue
		}
		for _, id := range g.MarkFailed(out.DelegationID) {
			d, _ := g.Get(id)
			skipped := TaskOutcome{
				DelegationID: id,
				Worker:       d.Worker,
				State:        models.TaskCancelled,
				Skipped:      true,
				Error:        fmt.Sprintf("not dispatched: prerequisite %s ended %s", out.DelegationID, out.State),
			}
			outcomes[id] = skipped
			o.emitEvent(OrchestratorEvent{
				Type:         EventTaskSkipped,
				ContextID:    sess.ContextID,
				SessionID:    sess.ID,
				DelegationID: id,
				Worker:       d.Worker,
				Message:      skipped.Error,
			})
		}
	}

	// Plan order with dependencies first.
	result := make([]TaskOutcome, 0, len(order))
	for _, id := range order {
		result = append(result, outcomes[id])
	}
	return result
}

// runDelegation dispatches one delegation and awaits its terminal state.
func (o *Orchestrator) runDelegation(ctx context.Context, sess *models.Session, d models.Delegation) TaskOutcome {
	start := time.Now()
	out := TaskOutcome{DelegationID: d.ID, Worker: d.Worker}
	ev := OrchestratorEvent{ContextID: sess.ContextID, SessionID: sess.ID, DelegationID: d.ID, Worker: d.Worker}

	ep, configured := o.pool.Endpoint(d.Worker)
	if configured && !o.pool.Available(d.Worker) {
		out.State = models.TaskFailed
		out.Unreachable = true
		out.DispatchError = dispatch.KindUnreachable
		out.Error = fmt.Sprintf("%s is marked unreachable; not dispatched", d.Worker)
		return o.finish(out, ev, start)
	}

	h, err := o.dispatcher.Submit(ctx, sess.ID, d.Worker, d.Payload, dispatch.WithContextID(sess.ContextID))
	if err != nil {
		var de *dispatch.Error
		switch {
		case errors.As(err, &de):
			out.State = models.TaskFailed
			out.DispatchError = de.Kind
			out.Unreachable = de.Kind == dispatch.KindUnreachable
		case errors.Is(err, context.DeadlineExceeded):
			out.State = models.TaskTimedOut
		case errors.Is(err, context.Canceled):
			out.State = models.TaskCancelled
		default:
			out.State = models.TaskFailed
		}
		out.Error = err.Error()
		return o.finish(out, ev, start)
	}

	out.TaskID = h.TaskID
	ev.TaskID = h.TaskID
	dispatched := ev
	dispatched.Type = EventTaskDispatched
	o.emitEvent(dispatched)

	res := o.monitor.AwaitCompletion(ctx, h, o.taskDeadline(ctx, ep, start))
	out.State = res.State
	out.Output = res.Output
	out.Error = res.Error
	out.Unreachable = res.Unreachable
	return o.finish(out, ev, start)
}

// taskDeadline is the worker's timeout, or the default, capped by the turn deadline.
func (o *Orchestrator) taskDeadline(ctx context.Context, ep models.WorkerEndpoint, start time.Time) time.Time {
	timeout := o.taskTimeout
	if ep.Timeout > 0 {
		timeout = ep.Timeout
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = start.Add(timeout)
	}
	if turn, ok := ctx.Deadline(); ok && (deadline.IsZero() || turn.Before(deadline)) {
		deadline = turn
	}
	if deadline.IsZero() {
		// No bound configured at all; rely on ctx cancellation.
		deadline = start.Add(24 * time.Hour)
	}
	return deadline
}

func (o *Orchestrator) finish(out TaskOutcome, ev OrchestratorEvent, start time.Time) TaskOutcome {
	out.Elapsed = time.Since(start)
	ev.Duration = out.Elapsed
	switch out.State {
	case models.TaskCompleted:
		ev.Type = EventTaskCompleted
	case models.TaskTimedOut:
		ev.Type = EventTaskTimedOut
	default:
		ev.Type = EventTaskFailed
		ev.Message = out.Error
		if out.Error != "" {
			ev.Error = errors.New(out.Error)
		}
	}
	if out.State != models.TaskCompleted {
		log.Printf("[orchestrator] delegation %s to %s ended %s: %s", out.DelegationID, out.Worker, out.State, out.Error)
	}
	o.emitEvent(ev)
	return out
}

// substitute replaces {{result:<id>}} with the output of completed prerequisites.
func substitute(payload string, outcomes map[string]TaskOutcome) string {
	return resultRef.ReplaceAllStringFunc(payload, func(m string) string {
		id := resultRef.FindStringSubmatch(m)[1]
		if out, ok := outcomes[id]; ok && out.State == models.TaskCompleted {
			return models.QuoteLiteral(out.Output)
		}
		return m
	})
}

// withImplicitDeps adds a dependency for every {{result:<id>}} a payload
// references but does not declare.
func withImplicitDeps(delegations []models.Delegation) []models.Delegation {
	out := make([]models.Delegation, len(delegations))
	for i, d := range delegations {
		deps := append([]string(nil), d.DependsOn...)
		for _, m := range resultRef.FindAllStringSubmatch(d.Payload, -1) {
			if !contains(deps, m[1]) {
				deps = append(deps, m[1])
			}
		}
		d.DependsOn = deps
		out[i] = d
	}
	return out
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}

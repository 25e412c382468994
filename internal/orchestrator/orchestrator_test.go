package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/monitor"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/planner"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/session"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/state"
	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// fakeWorker completes each task a fixed delay after creation.
type fakeWorker struct {
	delay   time.Duration
	timeout time.Duration
	respond func(payload string) string
	fail    string
	// createErr is returned by every CreateTask call.
	createErr error

	mu        sync.Mutex
	seq       int
	tasks     map[string]fakeTask
	requests  []remote.CreateTaskRequest
	created   []time.Time
	cancelled []string
}

type fakeTask struct {
	payload string
	created time.Time
}

func (w *fakeWorker) CreateTask(_ context.Context, req remote.CreateTaskRequest) (*remote.TaskStatus, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = append(w.requests, req)
	if w.createErr != nil {
		return nil, w.createErr
	}
	if w.tasks == nil {
		w.tasks = make(map[string]fakeTask)
	}
	w.seq++
	id := fmt.Sprintf("t%d", w.seq)
	now := time.Now()
	w.tasks[id] = fakeTask{payload: req.Payload, created: now}
	w.created = append(w.created, now)
	return &remote.TaskStatus{TaskID: id, State: remote.WireSubmitted}, nil
}

func (w *fakeWorker) GetTask(_ context.Context, id string) (*remote.TaskStatus, error) {
	w.mu.Lock()
	task, ok := w.tasks[id]
	w.mu.Unlock()
	if !ok {
		return nil, &remote.RejectedError{StatusCode: 404, Reason: "no such task"}
	}
	if time.Since(task.created) < w.delay {
		return &remote.TaskStatus{TaskID: id, State: remote.WireWorking}, nil
	}
	if w.fail != "" {
		return &remote.TaskStatus{TaskID: id, State: remote.WireFailed, Error: w.fail}, nil
	}
	out := "done"
	if w.respond != nil {
		out = w.respond(task.payload)
	}
	return &remote.TaskStatus{TaskID: id, State: remote.WireCompleted, Output: out}, nil
}

func (w *fakeWorker) CancelTask(_ context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = append(w.cancelled, id)
	return nil
}

func (w *fakeWorker) Card(context.Context) (*remote.AgentCard, error) {
	return &remote.AgentCard{Name: "fake"}, nil
}

func (w *fakeWorker) snapshot() (reqs []remote.CreateTaskRequest, created []time.Time, cancelled []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append(reqs, w.requests...), append(created, w.created...), append(cancelled, w.cancelled...)
}

func reply(s string) func(string) string {
	return func(string) string { return s }
}

var capabilities = map[string]string{
	"notion_agent":     "search your Notion workspace",
	"elevenlabs_agent": "convert it to audio",
}

type harness struct {
	orch     *Orchestrator
	registry *session.Registry
}

func newHarness(t *testing.T, workers map[string]*fakeWorker, p planner.Planner, opts ...Option) *harness {
	t.Helper()
	registry := session.NewRegistry(state.NewMemory())
	t.Cleanup(func() { registry.Close() })
	return newHarnessWithRegistry(t, registry, workers, p, opts...)
}

func newHarnessWithRegistry(t *testing.T, registry *session.Registry, workers map[string]*fakeWorker, p planner.Planner, opts ...Option) *harness {
	t.Helper()

	var endpoints []models.WorkerEndpoint
	for name, w := range workers {
		endpoints = append(endpoints, models.WorkerEndpoint{
			Name:       name,
			URL:        "http://" + name,
			Capability: capabilities[name],
			Timeout:    w.timeout,
			Healthy:    true,
		})
	}
	pool := remote.NewPool(endpoints, remote.WithFactory(func(ep models.WorkerEndpoint) (remote.Connection, error) {
		return workers[ep.Name], nil
	}))

	base := []Option{
		WithMonitorConfig(monitor.Config{
			PollInitial:     2 * time.Millisecond,
			PollMax:         10 * time.Millisecond,
			Multiplier:      2,
			ProbeRetries:    2,
			CancelOnTimeout: true,
			CancelTimeout:   time.Second,
		}),
		WithTurnDeadline(2 * time.Second),
		WithTaskTimeout(time.Second),
	}
	orch := New(RequiredConfig{Registry: registry, Pool: pool, Planner: p}, append(base, opts...)...)
	t.Cleanup(func() { orch.Close() })

	return &harness{orch: orch, registry: registry}
}

func plan(ds ...models.Delegation) planner.Planner {
	return planner.Static(models.Plan{Delegations: ds})
}

func del(id, worker, payload string, deps ...string) models.Delegation {
	return models.Delegation{ID: id, Worker: worker, Payload: payload, DependsOn: deps}
}

func TestHandleTurn_DirectReply(t *testing.T) {
	h := newHarness(t, nil, planner.Static(models.Plan{Reply: "Hello!"}))

	res, err := h.orch.HandleTurn(context.Background(), "ctx-1", "hi")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if res.Output != "Hello!" || res.Degraded || len(res.Tasks) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	sess, err := h.orch.Session(res.SessionID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(sess.Turns) != 1 || sess.Turns[0].Input != "hi" || sess.Turns[0].Output != "Hello!" {
		t.Errorf("turn not logged: %+v", sess.Turns)
	}
}

func TestHandleTurn_SingleWorkerResult(t *testing.T) {
	notion := &fakeWorker{delay: 10 * time.Millisecond, respond: reply("R: 3 pages about X")}
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": notion},
		plan(del("search", "notion_agent", "search X")))

	res, err := h.orch.HandleTurn(context.Background(), "ctx-1", "search X")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !strings.Contains(res.Output, "R: 3 pages about X") {
		t.Errorf("output missing result: %q", res.Output)
	}
	if res.Degraded {
		t.Error("successful turn must not be degraded")
	}
	if len(res.Tasks) != 1 || res.Tasks[0].State != models.TaskCompleted || res.Tasks[0].TaskID != "t1" {
		t.Errorf("unexpected task outcomes: %+v", res.Tasks)
	}

	sess, _ := h.orch.Session(res.SessionID)
	refs := sess.Turns[0].Tasks
	if len(refs) != 1 || refs[0].State != models.TaskCompleted || refs[0].Worker != "notion_agent" {
		t.Errorf("task refs not logged: %+v", refs)
	}
	if h.orch.InFlight() != 0 {
		t.Errorf("terminal tasks should be released after the turn, %d tracked", h.orch.InFlight())
	}

	reqs, _, _ := notion.snapshot()
	if reqs[0].ContextID != "ctx-1" || reqs[0].Payload != "search X" {
		t.Errorf("worker did not receive context and payload: %+v", reqs[0])
	}
}

func TestHandleTurn_WorkerUnreachable(t *testing.T) {
	notion := &fakeWorker{createErr: &remote.ConnectionError{
		Worker: "notion_agent",
		Kind:   remote.Unreachable,
		Err:    errors.New("dial tcp 127.0.0.1:8002: connect: connection refused"),
	}}
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": notion},
		plan(del("search", "notion_agent", "search X")))

	res, err := h.orch.HandleTurn(context.Background(), "ctx-1", "search X")
	if err != nil {
		t.Fatalf("unreachable worker must not be a hard error: %v", err)
	}
	if !res.Degraded {
		t.Error("expected degraded response")
	}
	want := "I'm sorry, I could not search your Notion workspace (the agent is unreachable). Please try again later."
	if res.Output != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
	if strings.Contains(res.Output, "connection refused") {
		t.Error("raw transport errors must not reach the user")
	}
	if !res.Tasks[0].Unreachable {
		t.Error("outcome should be flagged unreachable")
	}
}

func TestHandleTurn_KnownUnreachableFailsFast(t *testing.T) {
	notion := &fakeWorker{createErr: &remote.ConnectionError{Worker: "notion_agent", Kind: remote.Unreachable}}
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": notion},
		plan(del("search", "notion_agent", "search X")))

	for i := 0; i < 2; i++ {
		if _, err := h.orch.HandleTurn(context.Background(), "ctx-1", "search X"); err != nil {
			t.Fatalf("HandleTurn: %v", err)
		}
	}
	if reqs, _, _ := notion.snapshot(); len(reqs) != 1 {
		t.Errorf("worker marked unreachable should not be called again, got %d calls", len(reqs))
	}
}

func TestHandleTurn_IndependentDelegationsRunConcurrently(t *testing.T) {
	const d = 80 * time.Millisecond
	workers := map[string]*fakeWorker{
		"a": {delay: d, respond: reply("A")},
		"b": {delay: d, respond: reply("B")},
		"c": {delay: d, respond: reply("C")},
	}
	h := newHarness(t, workers, plan(del("a", "a", "x"), del("b", "b", "x"), del("c", "c", "x")))

	start := time.Now()
	res, err := h.orch.HandleTurn(context.Background(), "ctx-1", "fan out")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed >= 2*d {
		t.Errorf("elapsed %v; three %v tasks should overlap", elapsed, d)
	}
	if res.Output != "A\n\nB\n\nC" {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestHandleTurn_TimeoutDoesNotBlockCompletedResult(t *testing.T) {
	notion := &fakeWorker{delay: 20 * time.Millisecond, respond: reply("Found: roadmap")}
	tts := &fakeWorker{delay: time.Hour, timeout: 150 * time.Millisecond}
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": notion, "elevenlabs_agent": tts},
		plan(del("search", "notion_agent", "find roadmap"), del("speak", "elevenlabs_agent", "hello")))

	start := time.Now()
	res, err := h.orch.HandleTurn(context.Background(), "ctx-1", "find roadmap and say hello")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 150*time.Millisecond || elapsed > 300*time.Millisecond {
		t.Errorf("elapsed %v, want about the 150ms timeout", elapsed)
	}
	want := "Found: roadmap\n\nI was able to search your Notion workspace but could not convert it to audio (it took too long to respond)."
	if res.Output != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
	if !res.Degraded || res.Tasks[1].State != models.TaskTimedOut {
		t.Errorf("unexpected outcomes: %+v", res.Tasks)
	}

	// A late completion push for the timed-out task is discarded.
	late := remote.PushEvent{Worker: "elevenlabs_agent", TaskStatus: remote.TaskStatus{
		TaskID: res.Tasks[1].TaskID, State: remote.WireCompleted, Output: "late audio",
	}}
	if err := h.orch.Deliver(late); err == nil {
		t.Error("late push should be rejected")
	}
	sess, _ := h.orch.Session(res.SessionID)
	if strings.Contains(sess.Turns[0].Output, "late audio") {
		t.Error("late result merged into the session log")
	}

	h.orch.Close()
	if _, _, cancelled := tts.snapshot(); len(cancelled) != 1 {
		t.Errorf("timed-out task should be cancelled on the worker, got %v", cancelled)
	}
}

func TestHandleTurn_TurnDeadlineBoundsAllTasks(t *testing.T) {
	slow := &fakeWorker{delay: time.Hour}
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": slow},
		plan(del("search", "notion_agent", "x")),
		WithTurnDeadline(100*time.Millisecond), WithTaskTimeout(time.Minute))

	start := time.Now()
	res, err := h.orch.HandleTurn(context.Background(), "ctx-1", "x")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("turn took %v, deadline was 100ms", elapsed)
	}
	if res.Tasks[0].State != models.TaskTimedOut {
		t.Errorf("State = %s, want timed_out", res.Tasks[0].State)
	}
}

func TestHandleTurn_DependentChainWaitsForPrerequisite(t *testing.T) {
	const searchDelay = 40 * time.Millisecond
	notion := &fakeWorker{delay: searchDelay, respond: reply("Roadmap: Q3 launch")}
	tts := &fakeWorker{delay: 5 * time.Millisecond, respond: func(p string) string { return "Audio URL: https://cdn/" + p }}
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": notion, "elevenlabs_agent": tts},
		plan(
			del("speak", "elevenlabs_agent", "{{result:search}}", "search"),
			del("search", "notion_agent", "find roadmap"),
		))

	res, err := h.orch.HandleTurn(context.Background(), "ctx-1", "find my roadmap and read it aloud")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	_, searchCreated, _ := notion.snapshot()
	speakReqs, speakCreated, _ := tts.snapshot()
	if len(speakReqs) != 1 {
		t.Fatalf("speak dispatched %d times", len(speakReqs))
	}
	if speakCreated[0].Before(searchCreated[0].Add(searchDelay)) {
		t.Error("dependent task dispatched before its prerequisite completed")
	}
	if speakReqs[0].Payload != "Roadmap: Q3 launch" {
		t.Errorf("speak payload = %q, want the search result", speakReqs[0].Payload)
	}
	if res.Tasks[0].DelegationID != "search" || res.Tasks[1].DelegationID != "speak" {
		t.Errorf("outcomes not in dependency order: %+v", res.Tasks)
	}
	if !strings.Contains(res.Output, "Audio URL: https://cdn/Roadmap: Q3 launch") || res.Degraded {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestHandleTurn_ImplicitDependencyFromPlaceholder(t *testing.T) {
	notion := &fakeWorker{delay: 20 * time.Millisecond, respond: reply("notes")}
	tts := &fakeWorker{respond: reply("spoken")}
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": notion, "elevenlabs_agent": tts},
		plan(del("search", "notion_agent", "x"), del("speak", "elevenlabs_agent", "read: {{result:search}}")))

	if _, err := h.orch.HandleTurn(context.Background(), "ctx-1", "x"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if reqs, _, _ := tts.snapshot(); len(reqs) != 1 || reqs[0].Payload != "read: notes" {
		t.Errorf("speak requests = %+v", reqs)
	}
}

func TestHandleTurn_FailedPrerequisiteSkipsDependent(t *testing.T) {
	notion := &fakeWorker{delay: 5 * time.Millisecond, fail: "index offline"}
	tts := &fakeWorker{}
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": notion, "elevenlabs_agent": tts},
		plan(del("search", "notion_agent", "x"), del("speak", "elevenlabs_agent", "{{result:search}}", "search")))

	res, err := h.orch.HandleTurn(context.Background(), "ctx-1", "x")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if reqs, _, _ := tts.snapshot(); len(reqs) != 0 {
		t.Errorf("dependent of a failed task was dispatched: %+v", reqs)
	}
	want := "I'm sorry, I could not search your Notion workspace (the agent reported an error) or convert it to audio (it needed a step that did not complete). Please try again later."
	if res.Output != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
	if !res.Tasks[1].Skipped {
		t.Errorf("speak should be marked skipped: %+v", res.Tasks[1])
	}
}

func TestHandleTurn_PartialFailureGapNotice(t *testing.T) {
	notion := &fakeWorker{delay: 5 * time.Millisecond, respond: reply("Found: A")}
	tts := &fakeWorker{delay: 5 * time.Millisecond, fail: "quota exceeded"}
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": notion, "elevenlabs_agent": tts},
		plan(del("search", "notion_agent", "x"), del("speak", "elevenlabs_agent", "y")))

	res, err := h.orch.HandleTurn(context.Background(), "ctx-1", "x")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	want := "Found: A\n\nI was able to search your Notion workspace but could not convert it to audio (the agent reported an error)."
	if res.Output != want {
		t.Errorf("Output = %q, want %q", res.Output, want)
	}
	if strings.Contains(res.Output, "quota exceeded") {
		t.Error("worker error detail leaked into output")
	}
}

func TestHandleTurn_UnknownWorkerListsAvailable(t *testing.T) {
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": {}},
		plan(del("w", "weather_agent", "forecast")))

	res, err := h.orch.HandleTurn(context.Background(), "ctx-1", "weather?")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !strings.Contains(res.Output, "no agent named weather_agent is configured; available agents: notion_agent") {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestHandleTurn_TurnsForOneSessionAreSequential(t *testing.T) {
	var active, maxActive atomic.Int32
	var mu sync.Mutex
	seen := map[int]bool{}

	p := planner.Func(func(_ context.Context, _ string, history []models.Turn, _ []models.WorkerEndpoint) (*models.Plan, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		mu.Lock()
		seen[len(history)] = true
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return &models.Plan{Reply: "ok"}, nil
	})
	h := newHarness(t, nil, p, WithHistoryTurns(0))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.orch.HandleTurn(context.Background(), "shared", fmt.Sprintf("turn %d", i)); err != nil {
				t.Errorf("HandleTurn: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("max concurrent turns for one session = %d, want 1", maxActive.Load())
	}
	for i := 0; i < 5; i++ {
		if !seen[i] {
			t.Errorf("no turn saw a history of %d turns; turns interleaved: %v", i, seen)
		}
	}
	sess, err := h.registry.ResolveOrCreate("shared")
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	for i, turn := range sess.Turns {
		if turn.Seq != i+1 {
			t.Errorf("turn %d has seq %d", i, turn.Seq)
		}
	}
}

func TestHandleTurn_DifferentSessionsRunInParallel(t *testing.T) {
	const d = 80 * time.Millisecond
	notion := &fakeWorker{delay: d, respond: reply("R")}
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": notion}, plan(del("s", "notion_agent", "x")))

	start := time.Now()
	var wg sync.WaitGroup
	for _, c := range []string{"ctx-a", "ctx-b", "ctx-c"} {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			if _, err := h.orch.HandleTurn(context.Background(), c, "x"); err != nil {
				t.Errorf("HandleTurn: %v", err)
			}
		}(c)
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed >= 2*d {
		t.Errorf("elapsed %v; unrelated sessions should not serialize", elapsed)
	}
}

func TestHandleTurn_NewSessionWhenNoContext(t *testing.T) {
	h := newHarness(t, nil, planner.Static(models.Plan{Reply: "ok"}))

	a, err := h.orch.HandleTurn(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	b, err := h.orch.HandleTurn(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if a.ContextID == "" || a.SessionID == b.SessionID {
		t.Errorf("empty context should start a new session each time: %+v %+v", a, b)
	}

	c, err := h.orch.HandleTurn(context.Background(), a.ContextID, "again")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if c.SessionID != a.SessionID || c.Seq != 2 {
		t.Errorf("reusing the context should continue the session: %+v", c)
	}
}

func TestHandleTurn_Errors(t *testing.T) {
	tests := []struct {
		name  string
		p     planner.Planner
		input string
		want  ErrorKind
	}{
		{"empty input", planner.Static(models.Plan{Reply: "x"}), "   ", KindInvalidInput},
		{
			name: "planner unavailable",
			p: planner.Func(func(context.Context, string, []models.Turn, []models.WorkerEndpoint) (*models.Plan, error) {
				return nil, errors.New("model overloaded")
			}),
			input: "hi",
			want:  KindPlannerUnavailable,
		},
		{"cyclic plan", plan(del("a", "w", "x", "b"), del("b", "w", "x", "a")), "hi", KindInvalidPlan},
		{"unknown dependency", plan(del("a", "w", "{{result:ghost}}")), "hi", KindInvalidPlan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, tt.p)
			_, err := h.orch.HandleTurn(context.Background(), "ctx-1", tt.input)

			var oe *Error
			if !errors.As(err, &oe) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if oe.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", oe.Kind, tt.want)
			}
		})
	}
}

func TestCancelSession_StopsInFlightDelegations(t *testing.T) {
	tts := &fakeWorker{delay: time.Hour}
	h := newHarness(t, map[string]*fakeWorker{"elevenlabs_agent": tts}, plan(del("speak", "elevenlabs_agent", "x")))

	sess, err := h.registry.ResolveOrCreate("ctx-c")
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}

	done := make(chan *TurnResult, 1)
	go func() {
		res, err := h.orch.HandleTurn(context.Background(), "ctx-c", "read aloud")
		if err != nil {
			t.Errorf("HandleTurn: %v", err)
		}
		done <- res
	}()

	deadline := time.Now().Add(time.Second)
	for h.orch.CancelSession(sess.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("task never dispatched")
		}
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case res := <-done:
		if res == nil {
			return
		}
		if res.Tasks[0].State != models.TaskCancelled || !strings.Contains(res.Output, "the request was cancelled") {
			t.Errorf("unexpected result: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled turn did not finish")
	}
}

func TestHandleTurn_EmitsLifecycleEvents(t *testing.T) {
	notion := &fakeWorker{respond: reply("R")}
	h := newHarness(t, map[string]*fakeWorker{"notion_agent": notion},
		plan(del("s", "notion_agent", "x")), WithEvents(32))

	if _, err := h.orch.HandleTurn(context.Background(), "ctx-1", "x"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	var got []EventType
	for len(got) < 4 {
		select {
		case ev := <-h.orch.Events():
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("events = %v", got)
		}
	}
	want := []EventType{EventTurnStarted, EventTaskDispatched, EventTaskCompleted, EventTurnCompleted}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events = %v, want %v", got, want)
			break
		}
	}
}

func TestHandleTurn_ExternalPurgeSkipsActiveSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	db, err := state.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	var mu sync.Mutex
	clock := time.Now().Add(-48 * time.Hour)
	now := func() time.Time { mu.Lock(); defer mu.Unlock(); return clock }
	registry := session.NewRegistry(db, session.WithClock(now))
	t.Cleanup(func() { registry.Close() })

	// The session was last used two days ago.
	if _, err := registry.ResolveOrCreate("ctx-1"); err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	mu.Lock()
	clock = time.Now()
	mu.Unlock()

	notion := &fakeWorker{delay: 300 * time.Millisecond, respond: reply("roadmap")}
	h := newHarnessWithRegistry(t, registry, map[string]*fakeWorker{"notion_agent": notion},
		plan(del("search", "notion_agent", "search X")))

	type outcome struct {
		res *TurnResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.orch.HandleTurn(context.Background(), "ctx-1", "search X")
		done <- outcome{res, err}
	}()

	// A cleanup run from another process shares the file.
	time.Sleep(50 * time.Millisecond)
	other, err := state.Open(path)
	if err != nil {
		t.Fatalf("Open second handle: %v", err)
	}
	defer other.Close()
	purged, err := other.PurgeIdleSessions(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeIdleSessions: %v", err)
	}
	if purged != 0 {
		t.Errorf("cleanup purged %d sessions during a turn, want 0", purged)
	}

	got := <-done
	if got.err != nil {
		t.Fatalf("HandleTurn: %v", got.err)
	}
	if !strings.Contains(got.res.Output, "roadmap") {
		t.Errorf("output missing result: %q", got.res.Output)
	}
	sess, err := h.orch.Session(got.res.SessionID)
	if err != nil || len(sess.Turns) != 1 {
		t.Errorf("turn not logged: %+v, %v", sess, err)
	}
}

func TestHandleTurn_PlaceholderSyntaxInInputIsLiteral(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantSpeak bool
	}{
		{"unknown reference", "search notion for {{result:x}}", false},
		{"self reference", "find {{result:search}} in notion and read it aloud", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notion := &fakeWorker{respond: func(p string) string { return "found: " + p }}
			speech := &fakeWorker{respond: func(p string) string { return "audio for " + p }}
			h := newHarness(t, map[string]*fakeWorker{"notion_agent": notion, "elevenlabs_agent": speech},
				planner.NewRulePlanner(planner.DefaultRules()))

			res, err := h.orch.HandleTurn(context.Background(), "ctx-1", tt.input)
			if err != nil {
				t.Fatalf("HandleTurn: %v", err)
			}
			if res.Degraded {
				t.Errorf("turn degraded: %q", res.Output)
			}

			reqs, _, _ := notion.snapshot()
			if len(reqs) != 1 || reqs[0].Payload != tt.input {
				t.Fatalf("search payloads = %+v, want the input unchanged", reqs)
			}
			speakReqs, _, _ := speech.snapshot()
			if !tt.wantSpeak {
				if len(speakReqs) != 0 {
					t.Errorf("unexpected speech tasks: %+v", speakReqs)
				}
				return
			}
			if len(speakReqs) != 1 || speakReqs[0].Payload != "found: "+tt.input {
				t.Errorf("speech payloads = %+v, want the search output verbatim", speakReqs)
			}
		})
	}
}

package monitor

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/tasks"
	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// logBuffer collects log output safely across goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// scriptConn answers status probes from a function of the probe count.
type scriptConn struct {
	probes    atomic.Int32
	status    func(n int) (*remote.TaskStatus, error)
	mu        sync.Mutex
	cancelled []string
}

func (s *scriptConn) CreateTask(context.Context, remote.CreateTaskRequest) (*remote.TaskStatus, error) {
	return nil, errors.New("not used")
}

func (s *scriptConn) GetTask(_ context.Context, id string) (*remote.TaskStatus, error) {
	n := int(s.probes.Add(1))
	st, err := s.status(n)
	if st != nil {
		st.TaskID = id
	}
	return st, err
}

func (s *scriptConn) CancelTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
	return nil
}

func (s *scriptConn) Card(context.Context) (*remote.AgentCard, error) { return &remote.AgentCard{}, nil }

func (s *scriptConn) cancelCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

type staticSource struct{ conn remote.Connection }

func (s staticSource) Get(string) (remote.Connection, error) { return s.conn, nil }

func testConfig() Config {
	return Config{
		PollInitial:     5 * time.Millisecond,
		PollMax:         20 * time.Millisecond,
		Multiplier:      2,
		ProbeRetries:    2,
		CancelOnTimeout: true,
		CancelTimeout:   time.Second,
	}
}

func setup(t *testing.T, conn *scriptConn, cfg Config, state models.TaskState) (*Monitor, *tasks.Tracker, models.TaskHandle) {
	t.Helper()
	tr := tasks.NewTracker()
	task := &models.RemoteTask{ID: "t-1", Worker: "w", SessionID: "s", State: state, CreatedAt: time.Now()}
	if err := tr.Register(task); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m := New(staticSource{conn}, tr, cfg)
	t.Cleanup(m.Close)
	return m, tr, task.Handle()
}

func states(seq ...string) func(n int) (*remote.TaskStatus, error) {
	return func(n int) (*remote.TaskStatus, error) {
		if n > len(seq) {
			n = len(seq)
		}
		st := seq[n-1]
		out := &remote.TaskStatus{State: st}
		switch st {
		case remote.WireCompleted:
			out.Output = "R"
		case remote.WireFailed:
			out.Error = "notion API returned 500"
		}
		return out, nil
	}
}

func TestAwaitCompletion_Completes(t *testing.T) {
	conn := &scriptConn{status: states("submitted", "working", "working", "completed")}
	m, tr, h := setup(t, conn, testConfig(), models.TaskSubmitted)

	res := m.AwaitCompletion(context.Background(), h, time.Now().Add(time.Second))
	if res.State != models.TaskCompleted || res.Output != "R" {
		t.Fatalf("result = %+v, want COMPLETED with R", res)
	}
	if res.Probes != 4 {
		t.Errorf("probes = %d, want 4", res.Probes)
	}
	if task, _ := tr.Get(h); task.State != models.TaskCompleted || task.LastPollAt.IsZero() {
		t.Errorf("tracker not updated: %+v", task)
	}
}

func TestAwaitCompletion_WorkerReportsFailure(t *testing.T) {
	conn := &scriptConn{status: states("working", "failed")}
	m, _, h := setup(t, conn, testConfig(), models.TaskSubmitted)

	res := m.AwaitCompletion(context.Background(), h, time.Now().Add(time.Second))
	if res.State != models.TaskFailed || res.Unreachable {
		t.Fatalf("result = %+v, want worker-reported FAILED", res)
	}
	if res.Error != "notion API returned 500" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestAwaitCompletion_ProbeFailuresBecomeUnreachable(t *testing.T) {
	conn := &scriptConn{status: func(int) (*remote.TaskStatus, error) {
		return nil, &remote.ConnectionError{Worker: "w", Kind: remote.Unreachable}
	}}
	m, _, h := setup(t, conn, testConfig(), models.TaskRunning)

	res := m.AwaitCompletion(context.Background(), h, time.Now().Add(time.Second))
	if res.State != models.TaskFailed || !res.Unreachable {
		t.Fatalf("result = %+v, want FAILED unreachable", res)
	}
	// One initial probe plus ProbeRetries retries.
	if res.Probes != 3 {
		t.Errorf("probes = %d, want 3", res.Probes)
	}
}

func TestAwaitCompletion_TransientProbeFailureRecovers(t *testing.T) {
	conn := &scriptConn{status: func(n int) (*remote.TaskStatus, error) {
		switch n {
		case 1, 2, 4, 5:
			return nil, errors.New("connection reset")
		case 3:
			return &remote.TaskStatus{State: remote.WireWorking}, nil
		default:
			return &remote.TaskStatus{State: remote.WireCompleted, Output: "ok"}, nil
		}
	}}
	m, _, h := setup(t, conn, testConfig(), models.TaskSubmitted)

	res := m.AwaitCompletion(context.Background(), h, time.Now().Add(time.Second))
	if res.State != models.TaskCompleted {
		t.Fatalf("result = %+v; a successful probe should reset the failure count", res)
	}
}

func TestAwaitCompletion_RejectedProbeFails(t *testing.T) {
	conn := &scriptConn{status: func(int) (*remote.TaskStatus, error) {
		return nil, &remote.RejectedError{Worker: "w", StatusCode: 404, Reason: "task not found"}
	}}
	m, _, h := setup(t, conn, testConfig(), models.TaskRunning)

	res := m.AwaitCompletion(context.Background(), h, time.Now().Add(time.Second))
	if res.State != models.TaskFailed || res.Unreachable || res.Probes != 1 {
		t.Errorf("result = %+v, want FAILED after one probe", res)
	}
}

func TestAwaitCompletion_AlreadyTerminal(t *testing.T) {
	conn := &scriptConn{status: states("working")}
	m, _, h := setup(t, conn, testConfig(), models.TaskCompleted)

	res := m.AwaitCompletion(context.Background(), h, time.Now().Add(time.Second))
	if res.State != models.TaskCompleted || conn.probes.Load() != 0 {
		t.Errorf("terminal task should not be probed: %+v, probes %d", res, conn.probes.Load())
	}
}

func TestAwaitCompletion_UnknownHandle(t *testing.T) {
	m := New(staticSource{&scriptConn{}}, tasks.NewTracker(), testConfig())
	res := m.AwaitCompletion(context.Background(), models.TaskHandle{TaskID: "x", Worker: "w"}, time.Now().Add(time.Second))
	if res.State != models.TaskFailed {
		t.Errorf("unknown handle state = %s, want failed", res.State)
	}
}

func TestAwaitCompletion_TimeoutCancelsRemote(t *testing.T) {
	conn := &scriptConn{status: states("working")}
	m, tr, h := setup(t, conn, testConfig(), models.TaskSubmitted)

	start := time.Now()
	res := m.AwaitCompletion(context.Background(), h, start.Add(60*time.Millisecond))
	elapsed := time.Since(start)

	if res.State != models.TaskTimedOut {
		t.Fatalf("state = %s, want timed_out", res.State)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("timeout took %s", elapsed)
	}

	m.Close()
	if got := conn.cancelCalls(); len(got) != 1 || got[0] != "t-1" {
		t.Errorf("cancel calls = %v, want [t-1]", got)
	}

	// A result pushed after the timeout is discarded.
	err := m.Deliver(remote.PushEvent{Worker: "w", TaskStatus: remote.TaskStatus{TaskID: "t-1", State: remote.WireCompleted, Output: "late"}})
	if !errors.Is(err, tasks.ErrTerminal) {
		t.Errorf("late Deliver error = %v, want ErrTerminal", err)
	}
	if task, _ := tr.Get(h); task.State != models.TaskTimedOut || task.Output != "" {
		t.Errorf("late result merged into task: %+v", task)
	}
}

func TestAwaitCompletion_TimeoutWithoutRemoteCancel(t *testing.T) {
	cfg := testConfig()
	cfg.CancelOnTimeout = false
	conn := &scriptConn{status: states("working")}
	m, _, h := setup(t, conn, cfg, models.TaskSubmitted)

	res := m.AwaitCompletion(context.Background(), h, time.Now().Add(30*time.Millisecond))
	if res.State != models.TaskTimedOut {
		t.Fatalf("state = %s, want timed_out", res.State)
	}
	m.Close()
	if got := conn.cancelCalls(); len(got) != 0 {
		t.Errorf("cancel sent despite CancelOnTimeout=false: %v", got)
	}
}

func TestAwaitCompletion_ParentDeadlineIsTimeout(t *testing.T) {
	conn := &scriptConn{status: states("working")}
	m, _, h := setup(t, conn, testConfig(), models.TaskSubmitted)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res := m.AwaitCompletion(ctx, h, time.Now().Add(time.Hour))
	if res.State != models.TaskTimedOut {
		t.Errorf("state = %s, want timed_out when the turn deadline expires", res.State)
	}
}

func TestCancel_StopsWaiter(t *testing.T) {
	conn := &scriptConn{status: states("working")}
	m, _, h := setup(t, conn, testConfig(), models.TaskSubmitted)

	done := make(chan models.TaskResult, 1)
	go func() {
		done <- m.AwaitCompletion(context.Background(), h, time.Now().Add(time.Hour))
	}()

	// Let the waiter register and poll at least once.
	deadline := time.Now().Add(time.Second)
	for conn.probes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	m.Cancel(h)

	select {
	case res := <-done:
		if res.State != models.TaskCancelled {
			t.Errorf("state = %s, want cancelled", res.State)
		}
	case <-time.After(time.Second):
		t.Fatal("Cancel did not stop the waiter")
	}
	m.Close()
	if len(conn.cancelCalls()) != 1 {
		t.Error("explicit cancel should notify the worker")
	}
}

func TestCancelSession_UnawaitedTasks(t *testing.T) {
	conn := &scriptConn{status: states("working")}
	m, tr, h := setup(t, conn, testConfig(), models.TaskRunning)

	if n := m.CancelSession("s"); n != 1 {
		t.Errorf("CancelSession cancelled %d, want 1", n)
	}
	if task, _ := tr.Get(h); task.State != models.TaskCancelled {
		t.Errorf("state = %s, want cancelled", task.State)
	}
}

func TestDeliver_WakesWaiter(t *testing.T) {
	cfg := testConfig()
	cfg.PollInitial = time.Hour
	cfg.PollMax = time.Hour
	conn := &scriptConn{status: states("working")}
	m, _, h := setup(t, conn, cfg, models.TaskSubmitted)

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Deliver(remote.PushEvent{Worker: "w", TaskStatus: remote.TaskStatus{TaskID: "t-1", State: remote.WireCompleted, Output: "pushed"}})
	}()

	start := time.Now()
	res := m.AwaitCompletion(context.Background(), h, time.Now().Add(5*time.Second))
	if res.State != models.TaskCompleted || res.Output != "pushed" {
		t.Fatalf("result = %+v, want pushed completion", res)
	}
	if time.Since(start) > time.Second {
		t.Error("push did not wake the waiter")
	}
	if conn.probes.Load() != 0 {
		t.Errorf("no probe should run before the first interval, got %d", conn.probes.Load())
	}
}

func TestDeliver_UnknownTask(t *testing.T) {
	buf := &logBuffer{}
	log.SetOutput(buf)
	defer log.SetOutput(os.Stderr)

	m := New(staticSource{&scriptConn{}}, tasks.NewTracker(), testConfig())
	err := m.Deliver(remote.PushEvent{Worker: "w", TaskStatus: remote.TaskStatus{TaskID: "nope", State: remote.WireCompleted}})
	if !errors.Is(err, tasks.ErrUnknownTask) {
		t.Errorf("Deliver error = %v, want ErrUnknownTask", err)
	}
	if !strings.Contains(buf.String(), "discarding") || !strings.Contains(buf.String(), "nope") {
		t.Errorf("discarded push not logged: %q", buf.String())
	}
}

func TestAwaitCompletion_IndependentTasksRunConcurrently(t *testing.T) {
	tr := tasks.NewTracker()
	slow := func(n int) (*remote.TaskStatus, error) {
		time.Sleep(40 * time.Millisecond)
		return &remote.TaskStatus{State: remote.WireCompleted, Output: "ok"}, nil
	}
	m := New(staticSource{&scriptConn{status: slow}}, tr, testConfig())

	var handles []models.TaskHandle
	for _, id := range []string{"a", "b", "c", "d"} {
		task := &models.RemoteTask{ID: id, Worker: "w", SessionID: "s", State: models.TaskSubmitted, CreatedAt: time.Now()}
		tr.Register(task)
		handles = append(handles, task.Handle())
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := m.AwaitCompletion(context.Background(), h, time.Now().Add(time.Second)); res.State != models.TaskCompleted {
				t.Errorf("task %s: %s", h.TaskID, res.State)
			}
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("4 independent 40ms tasks took %s; monitors are not concurrent", elapsed)
	}
}

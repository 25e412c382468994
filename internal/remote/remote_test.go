package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func newConn(t *testing.T, url string) *HTTPConnection {
	t.Helper()
	c, err := NewHTTPConnection(models.WorkerEndpoint{Name: "w", URL: url}, nil, fastRetry())
	if err != nil {
		t.Fatalf("NewHTTPConnection: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func TestHTTPConnection_RoundTrip(t *testing.T) {
	var cancelled atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", func(w http.ResponseWriter, r *http.Request) {
		var req CreateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
			return
		}
		if req.MessageID == "" || req.ContextID != "ctx-1" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing ids"})
			return
		}
		writeJSON(w, http.StatusCreated, TaskStatus{TaskID: "t-1", State: WireSubmitted})
	})
	mux.HandleFunc("GET /tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, TaskStatus{TaskID: r.PathValue("id"), State: WireCompleted, Output: "done"})
	})
	mux.HandleFunc("POST /tasks/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		cancelled.Store(true)
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /.well-known/agent.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, AgentCard{Name: "w", Version: "1.0.0"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newConn(t, srv.URL+"/")
	ctx := context.Background()

	created, err := c.CreateTask(ctx, CreateTaskRequest{MessageID: "m-1", ContextID: "ctx-1", Payload: "search X"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.TaskID != "t-1" || created.State != WireSubmitted {
		t.Errorf("unexpected create response: %+v", created)
	}

	status, err := c.GetTask(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if status.Result() != "done" {
		t.Errorf("Result() = %q, want done", status.Result())
	}

	if err := c.CancelTask(ctx, "t-1"); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if !cancelled.Load() {
		t.Error("cancel endpoint not called")
	}

	card, err := c.Card(ctx)
	if err != nil || card.Name != "w" {
		t.Errorf("Card = %+v, %v", card, err)
	}
}

func TestHTTPConnection_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "warming up"})
			return
		}
		writeJSON(w, http.StatusOK, TaskStatus{TaskID: "t", State: WireRunning})
	}))
	defer srv.Close()

	status, err := newConn(t, srv.URL).GetTask(context.Background(), "t")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if status.State != WireRunning {
		t.Errorf("state = %q, want running", status.State)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPConnection_RejectionNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "payload must not be empty"})
	}))
	defer srv.Close()

	_, err := newConn(t, srv.URL).CreateTask(context.Background(), CreateTaskRequest{MessageID: "m"})
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Reason != "payload must not be empty" {
		t.Errorf("reason = %q", rejected.Reason)
	}
	if calls.Load() != 1 {
		t.Errorf("rejection was retried: %d calls", calls.Load())
	}
}

func TestHTTPConnection_UnreachableAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newConn(t, url).GetTask(context.Background(), "t")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Kind != Unreachable {
		t.Fatalf("expected Unreachable ConnectionError, got %v", err)
	}
}

func TestHTTPConnection_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newConn(t, srv.URL).GetTask(ctx, "t")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestPool_NotConfigured(t *testing.T) {
	p := NewPool([]models.WorkerEndpoint{{Name: "notion_agent", URL: "http://x"}, {Name: "elevenlabs_agent", URL: "http://y"}})

	_, err := p.Get("weather_agent")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Kind != NotConfigured {
		t.Fatalf("expected NotConfigured, got %v", err)
	}
	if !strings.Contains(err.Error(), "elevenlabs_agent, notion_agent") {
		t.Errorf("error should list available workers: %v", err)
	}
}

type fakeConn struct {
	err error
}

func (f *fakeConn) CreateTask(context.Context, CreateTaskRequest) (*TaskStatus, error) {
	return &TaskStatus{TaskID: "t", State: WireSubmitted}, f.err
}
func (f *fakeConn) GetTask(context.Context, string) (*TaskStatus, error) {
	return &TaskStatus{TaskID: "t", State: WireRunning}, f.err
}
func (f *fakeConn) CancelTask(context.Context, string) error { return f.err }
func (f *fakeConn) Card(context.Context) (*AgentCard, error) {
	return &AgentCard{Name: "fake"}, f.err
}

func TestPool_LazyAndCached(t *testing.T) {
	var built atomic.Int32
	p := NewPool([]models.WorkerEndpoint{{Name: "w", URL: "http://w"}},
		WithFactory(func(ep models.WorkerEndpoint) (Connection, error) {
			built.Add(1)
			return &fakeConn{}, nil
		}))

	if built.Load() != 0 {
		t.Fatal("connection built before first use")
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Get("w"); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if built.Load() != 1 {
		t.Errorf("factory called %d times, want 1", built.Load())
	}
}

func TestPool_HealthTracking(t *testing.T) {
	fc := &fakeConn{}
	p := NewPool([]models.WorkerEndpoint{{Name: "w", URL: "http://w"}},
		WithFactory(func(models.WorkerEndpoint) (Connection, error) { return fc, nil }),
		WithRecheckAfter(time.Minute))
	clock := time.Now()
	p.now = func() time.Time { return clock }

	conn, _ := p.Get("w")

	fc.err = &ConnectionError{Worker: "w", Kind: Unreachable}
	conn.GetTask(context.Background(), "t")
	if p.Healthy("w") || p.Available("w") {
		t.Fatal("worker should be unhealthy and unavailable after transport failure")
	}

	clock = clock.Add(2 * time.Minute)
	if !p.Available("w") {
		t.Error("worker should be retried after the recheck interval")
	}

	fc.err = &RejectedError{Worker: "w", StatusCode: 400, Reason: "bad"}
	conn.GetTask(context.Background(), "t")
	if !p.Healthy("w") {
		t.Error("a rejection proves the worker is reachable")
	}
}

func TestPool_Reconfigure(t *testing.T) {
	var built atomic.Int32
	p := NewPool([]models.WorkerEndpoint{{Name: "keep", URL: "http://a"}, {Name: "move", URL: "http://b"}, {Name: "drop", URL: "http://c"}},
		WithFactory(func(models.WorkerEndpoint) (Connection, error) {
			built.Add(1)
			return &fakeConn{}, nil
		}))
	p.Get("keep")
	p.Get("move")
	p.MarkHealth("keep", false)

	p.Reconfigure([]models.WorkerEndpoint{
		{Name: "keep", URL: "http://a", Capability: "new phrase"},
		{Name: "move", URL: "http://b2"},
		{Name: "add", URL: "http://d"},
	})

	if got := p.Names(); strings.Join(got, ",") != "add,keep,move" {
		t.Errorf("Names = %v", got)
	}
	ep, _ := p.Endpoint("keep")
	if ep.Healthy || ep.Capability != "new phrase" {
		t.Errorf("unchanged worker should keep health and pick up metadata: %+v", ep)
	}
	if ep, _ := p.Endpoint("move"); ep.URL != "http://b2" || !ep.Healthy {
		t.Errorf("moved worker should start fresh: %+v", ep)
	}

	p.Get("keep")
	p.Get("move")
	if built.Load() != 3 {
		t.Errorf("expected only the moved worker to reconnect, factory calls = %d", built.Load())
	}
}

func TestPool_ProbeAll(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, AgentCard{Name: "good"})
	}))
	defer good.Close()
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	p := NewPool([]models.WorkerEndpoint{{Name: "good", URL: good.URL}, {Name: "dead", URL: deadURL}},
		WithHTTPTransport(time.Second, fastRetry()))

	results := p.ProbeAll(context.Background(), time.Second)
	if len(results) != 2 || results[0].Worker != "dead" || results[1].Worker != "good" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Err == nil || p.Healthy("dead") {
		t.Error("dead worker should fail its probe and be marked unhealthy")
	}
	if results[1].Err != nil || results[1].Card.Name != "good" || !p.Healthy("good") {
		t.Errorf("good worker probe: %+v", results[1])
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		in      string
		want    models.TaskState
		wantErr bool
	}{
		{"submitted", models.TaskSubmitted, false},
		{"working", models.TaskRunning, false},
		{"running", models.TaskRunning, false},
		{"COMPLETED", models.TaskCompleted, false},
		{"failed", models.TaskFailed, false},
		{"canceled", models.TaskCancelled, false},
		{"cancelled", models.TaskCancelled, false},
		{"exploded", "", true},
	}
	for _, tt := range tests {
		got, err := ParseState(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseState(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTaskStatus_ResultFromArtifacts(t *testing.T) {
	s := TaskStatus{Artifacts: []Artifact{
		{Parts: []Part{{Text: "Found 2 pages"}, {AudioURL: "https://cdn/a.mp3"}}},
		{Parts: []Part{{Text: "Roadmap, Notes"}}},
	}}
	want := "Found 2 pages\nRoadmap, Notes\nAudio URL: https://cdn/a.mp3"
	if got := s.Result(); got != want {
		t.Errorf("Result() = %q, want %q", got, want)
	}
}

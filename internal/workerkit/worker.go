// Package workerkit is a small worker service that speaks the host's task
// protocol. It backs the `hostagent worker` development command and the
// end-to-end tests.
package workerkit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
)

// Handler performs the work for one task. It must honor ctx cancellation.
type Handler func(ctx context.Context, payload string) (string, error)

// Worker runs tasks in memory.
type Worker struct {
	card    remote.AgentCard
	handler Handler
	// immediate is how long CreateTask waits for a result before answering
	// with a pending status.
	immediate time.Duration
	pusher    *pusher

	mu        sync.Mutex
	tasks     map[string]*task
	byMessage map[string]string
	wg        sync.WaitGroup
}

type task struct {
	id        string
	contextID string
	payload   string
	callback  string
	state     string
	output    string
	err       string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithImmediate lets CreateTask answer with the finished result when the
// handler completes within d.
func WithImmediate(d time.Duration) Option {
	return func(w *Worker) { w.immediate = d }
}

// WithPushClient sets the HTTP client used for callback pushes.
func WithPushClient(c *http.Client) Option {
	return func(w *Worker) { w.pusher.client = c }
}

// New creates a worker advertising card.
func New(card remote.AgentCard, handler Handler, opts ...Option) *Worker {
	w := &Worker{
		card:      card,
		handler:   handler,
		pusher:    newPusher(nil),
		tasks:     make(map[string]*task),
		byMessage: make(map[string]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handler returns the worker's HTTP routes.
func (w *Worker) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(remote.CardPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, w.card)
	})
	r.POST(remote.TasksPath, w.createTask)
	r.GET(remote.TasksPath+"/:id", w.getTask)
	r.POST(remote.TasksPath+"/:id/cancel", w.cancelTask)
	return r
}

func (w *Worker) createTask(c *gin.Context) {
	var req remote.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Payload) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty payload"})
		return
	}

	t, created := w.start(req)
	if created && w.immediate > 0 {
		select {
		case <-t.done:
		case <-time.After(w.immediate):
		case <-c.Request.Context().Done():
		}
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	c.JSON(code, w.status(t.id))
}

// start registers and launches a task. A repeated message id returns the
// task created for it the first time.
func (w *Worker) start(req remote.CreateTaskRequest) (*task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if req.MessageID != "" {
		if id, ok := w.byMessage[req.MessageID]; ok {
			return w.tasks[id], false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:        uuid.NewString(),
		contextID: req.ContextID,
		payload:   req.Payload,
		callback:  req.CallbackURL,
		state:     remote.WireWorking,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	w.tasks[t.id] = t
	if req.MessageID != "" {
		w.byMessage[req.MessageID] = t.id
	}

	w.wg.Add(1)
	go w.run(ctx, t)
	log.Printf("[worker %s] task %s started (context %s)", w.card.Name, t.id, t.contextID)
	return t, true
}

func (w *Worker) run(ctx context.Context, t *task) {
	defer w.wg.Done()
	output, err := w.handler(ctx, t.payload)

	w.mu.Lock()
	switch {
	case t.state == remote.WireCanceled:
		// Cancelled while running; the result is dropped.
	case err != nil:
		t.state = remote.WireFailed
		t.err = err.Error()
	default:
		t.state = remote.WireCompleted
		t.output = output
	}
	callback := t.callback
	close(t.done)
	w.mu.Unlock()

	status := w.status(t.id)
	log.Printf("[worker %s] task %s %s", w.card.Name, t.id, status.State)
	if callback != "" {
		w.pusher.push(callback, remote.PushEvent{Worker: w.card.Name, TaskStatus: status})
	}
}

func (w *Worker) getTask(c *gin.Context) {
	id := c.Param("id")
	w.mu.Lock()
	_, ok := w.tasks[id]
	w.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("task %s not found", id)})
		return
	}
	c.JSON(http.StatusOK, w.status(id))
}

func (w *Worker) cancelTask(c *gin.Context) {
	id := c.Param("id")
	if !w.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("task %s not found", id)})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

// Cancel stops a running task. It returns false for unknown tasks; finished
// tasks are left as they are.
func (w *Worker) Cancel(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tasks[id]
	if !ok {
		return false
	}
	if t.state == remote.WireWorking {
		t.state = remote.WireCanceled
		t.cancel()
	}
	return true
}

// status snapshots a task. Results are returned as a text artifact.
func (w *Worker) status(id string) remote.TaskStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := w.tasks[id]
	st := remote.TaskStatus{TaskID: t.id, State: t.state, Error: t.err}
	if t.state == remote.WireCompleted {
		st.Artifacts = []remote.Artifact{{Name: "result", Parts: []remote.Part{{Text: t.output}}}}
	}
	return st
}

// Wait blocks until every started task has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Serve runs the worker on addr until ctx is cancelled.
func (w *Worker) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: w.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.mu.Lock()
	for _, t := range w.tasks {
		if t.state == remote.WireWorking {
			t.state = remote.WireCanceled
			t.cancel()
		}
	}
	w.mu.Unlock()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

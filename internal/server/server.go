// Package server exposes the orchestrator over HTTP: user turns, session
// inspection, worker status, and the push endpoint workers report to.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/orchestrator"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/session"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/tasks"
	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// EventsPath is where workers POST task status pushes.
const EventsPath = "/v1/tasks/events"

// Orchestrator is the subset of the orchestrator the server drives.
type Orchestrator interface {
	HandleTurn(ctx context.Context, contextID, input string) (*orchestrator.TurnResult, error)
	Deliver(ev remote.PushEvent) error
	CancelSession(sessionID string) int
	Session(sessionID string) (*models.Session, error)
	Workers() []models.WorkerEndpoint
}

// Server is the host agent's HTTP API.
type Server struct {
	orch            Orchestrator
	card            remote.AgentCard
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithCard sets the agent card served at the well-known path.
func WithCard(card remote.AgentCard) Option {
	return func(s *Server) { s.card = card }
}

// WithShutdownTimeout bounds graceful shutdown in Run.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// New creates a Server for orch.
func New(orch Orchestrator, opts ...Option) *Server {
	s := &Server{
		orch: orch,
		card: remote.AgentCard{
			Name:        "host_agent",
			Description: "Routes requests to specialised agents and combines their results.",
			Version:     "1.0.0",
		},
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type turnRequest struct {
	ContextID string `json:"context_id"`
	Text      string `json:"text"`
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET(remote.CardPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, s.card)
	})

	v1 := r.Group("/v1")
	v1.POST("/turns", s.handleTurn)
	v1.GET("/sessions/:id", s.getSession)
	v1.POST("/sessions/:id/cancel", s.cancelSession)
	v1.GET("/workers", s.listWorkers)
	r.POST(EventsPath, s.handleEvent)

	return r
}

func (s *Server) handleTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(orchestrator.KindInvalidInput), "message": "request body must be JSON with a text field"})
		return
	}

	res, err := s.orch.HandleTurn(c.Request.Context(), req.ContextID, req.Text)
	if err != nil {
		status, body := turnError(err)
		log.Printf("[server] turn for context %q failed: %v", req.ContextID, err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, res)
}

// turnError maps a turn failure to a status and a body that never carries
// internal error text.
func turnError(err error) (int, gin.H) {
	var oerr *orchestrator.Error
	if !errors.As(err, &oerr) {
		return http.StatusInternalServerError, gin.H{"error": "internal", "message": "Something went wrong. Please try again."}
	}
	switch oerr.Kind {
	case orchestrator.KindInvalidInput:
		return http.StatusBadRequest, gin.H{"error": string(oerr.Kind), "message": "Please tell me what you would like me to do."}
	case orchestrator.KindPlannerUnavailable:
		return http.StatusServiceUnavailable, gin.H{"error": string(oerr.Kind), "message": "I can't work out how to help right now. Please try again later."}
	case orchestrator.KindInvalidPlan:
		return http.StatusBadGateway, gin.H{"error": string(oerr.Kind), "message": "I couldn't put together a workable plan for that. Please rephrase and try again."}
	case orchestrator.KindCancelled:
		return http.StatusRequestTimeout, gin.H{"error": string(oerr.Kind), "message": "The request was cancelled."}
	default:
		return http.StatusInternalServerError, gin.H{"error": string(oerr.Kind), "message": "Something went wrong. Please try again."}
	}
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.orch.Session(c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		log.Printf("[server] load session %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) cancelSession(c *gin.Context) {
	n := s.orch.CancelSession(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

func (s *Server) listWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": s.orch.Workers()})
}

// handleEvent accepts a worker's push. The worker query parameter of the
// callback URL names the worker; the body's worker field is a fallback.
func (s *Server) handleEvent(c *gin.Context) {
	var ev remote.PushEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if w := c.Query("worker"); w != "" {
		ev.Worker = w
	}
	if ev.Worker == "" || ev.TaskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker and task_id are required"})
		return
	}
	if _, err := remote.ParseState(ev.State); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.orch.Deliver(ev)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, tasks.ErrUnknownTask):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, tasks.ErrTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		var te *tasks.TransitionError
		if errors.As(err, &te) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Printf("[server] deliver push for task %s on %s: %v", ev.TaskID, ev.Worker, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	log.Printf("[server] shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

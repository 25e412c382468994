package orchestrator

import (
	"time"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/monitor"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/planner"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/session"
)

// RequiredConfig contains the minimal required configuration for an Orchestrator.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Registry owns sessions and their turn locks.
	Registry *session.Registry
	// Pool resolves worker names to connections.
	Pool *remote.Pool
	// Planner decides what to delegate.
	Planner planner.Planner
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	turnDeadline  time.Duration
	taskTimeout   time.Duration
	historyTurns  int
	monitorConfig monitor.Config
	callbackURL   string
	eventBuffer   int
	logger        *DebugLogger
	now           func() time.Time
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		turnDeadline:  90 * time.Second,
		taskTimeout:   60 * time.Second,
		historyTurns:  10,
		monitorConfig: monitor.DefaultConfig(),
		now:           time.Now,
	}
}

// WithTurnDeadline bounds a whole turn, including planning and every delegation.
func WithTurnDeadline(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.turnDeadline = d }
}

// WithTaskTimeout sets the default per-delegation deadline. A worker's own
// timeout overrides it. Neither may extend past the turn deadline.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.taskTimeout = d }
}

// WithHistoryTurns sets how many prior turns the planner sees. Zero means all.
func WithHistoryTurns(n int) Option {
	return func(o *orchestratorOptions) { o.historyTurns = n }
}

// WithMonitorConfig sets polling and cancellation behavior.
func WithMonitorConfig(c monitor.Config) Option {
	return func(o *orchestratorOptions) { o.monitorConfig = c }
}

// WithCallbackURL advertises a push endpoint to workers.
func WithCallbackURL(url string) Option {
	return func(o *orchestratorOptions) { o.callbackURL = url }
}

// WithEvents enables lifecycle events with the given buffer size.
// Subscribers must drain Events() or events are dropped.
func WithEvents(bufferSize int) Option {
	return func(o *orchestratorOptions) { o.eventBuffer = bufferSize }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithClock overrides time.Now for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *orchestratorOptions) { o.now = now }
}

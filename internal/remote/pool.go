package remote

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// Factory builds a Connection for an endpoint. Tests inject fakes here.
type Factory func(ep models.WorkerEndpoint) (Connection, error)

// Pool holds one lazily established Connection per configured worker.
// Lookups take a read lock on the worker map; establishment and health
// updates lock only the affected entry.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*entry

	factory      Factory
	recheckAfter time.Duration
	now          func() time.Time
}

type entry struct {
	mu          sync.Mutex
	endpoint    models.WorkerEndpoint
	conn        Connection
	healthy     bool
	lastChecked time.Time
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithFactory overrides how connections are built.
func WithFactory(f Factory) PoolOption {
	return func(p *Pool) { p.factory = f }
}

// WithHTTPTransport builds HTTP connections with the given per-request
// timeout and retry policy.
func WithHTTPTransport(timeout time.Duration, retry RetryPolicy) PoolOption {
	return func(p *Pool) {
		client := &http.Client{Timeout: timeout}
		p.factory = func(ep models.WorkerEndpoint) (Connection, error) {
			return NewHTTPConnection(ep, client, retry)
		}
	}
}

// WithRecheckAfter sets how long a worker marked unreachable is skipped
// before the pool lets a call through to test it again.
func WithRecheckAfter(d time.Duration) PoolOption {
	return func(p *Pool) { p.recheckAfter = d }
}

// NewPool creates a pool for the given endpoints. Every worker starts healthy.
func NewPool(endpoints []models.WorkerEndpoint, opts ...PoolOption) *Pool {
	p := &Pool{
		entries:      make(map[string]*entry),
		recheckAfter: 30 * time.Second,
		now:          time.Now,
	}
	WithHTTPTransport(30*time.Second, DefaultRetryPolicy())(p)
	for _, opt := range opts {
		opt(p)
	}
	for _, ep := range endpoints {
		p.entries[ep.Name] = &entry{endpoint: ep, healthy: true}
	}
	return p
}

// Get resolves a worker name to a Connection, establishing it on first use.
func (p *Pool) Get(worker string) (Connection, error) {
	e, err := p.lookup(worker)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		conn, err := p.factory(e.endpoint)
		if err != nil {
			return nil, &ConnectionError{Worker: worker, Kind: Unreachable, Err: err}
		}
		e.conn = conn
	}
	return &trackedConn{Connection: e.conn, pool: p, worker: worker}, nil
}

func (p *Pool) lookup(worker string) (*entry, error) {
	p.mu.RLock()
	e, ok := p.entries[worker]
	p.mu.RUnlock()
	if !ok {
		return nil, &ConnectionError{Worker: worker, Kind: NotConfigured, Available: p.Names()}
	}
	return e, nil
}

// Endpoint returns a snapshot of a worker's endpoint, including health.
func (p *Pool) Endpoint(worker string) (models.WorkerEndpoint, bool) {
	e, err := p.lookup(worker)
	if err != nil {
		return models.WorkerEndpoint{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ep := e.endpoint
	ep.Healthy = e.healthy
	ep.LastChecked = e.lastChecked
	return ep, true
}

// Endpoints returns snapshots of all workers sorted by name.
func (p *Pool) Endpoints() []models.WorkerEndpoint {
	names := p.Names()
	out := make([]models.WorkerEndpoint, 0, len(names))
	for _, name := range names {
		if ep, ok := p.Endpoint(name); ok {
			out = append(out, ep)
		}
	}
	return out
}

// Names returns configured worker names, sorted.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Healthy reports the last observed availability of a worker.
func (p *Pool) Healthy(worker string) bool {
	ep, ok := p.Endpoint(worker)
	return ok && ep.Healthy
}

// Available reports whether a call to the worker should be attempted.
// An unhealthy worker becomes available again once recheckAfter has
// passed since it was marked, so a recovered worker is noticed.
func (p *Pool) Available(worker string) bool {
	ep, ok := p.Endpoint(worker)
	if !ok {
		return false
	}
	if ep.Healthy {
		return true
	}
	return p.recheckAfter > 0 && p.now().Sub(ep.LastChecked) >= p.recheckAfter
}

// MarkHealth records the outcome of a call to a worker.
func (p *Pool) MarkHealth(worker string, healthy bool) {
	e, err := p.lookup(worker)
	if err != nil {
		return
	}
	e.mu.Lock()
	changed := e.healthy != healthy
	e.healthy = healthy
	e.lastChecked = p.now()
	e.mu.Unlock()
	if changed {
		if healthy {
			log.Printf("[remote] worker %s is reachable again", worker)
		} else {
			log.Printf("[remote] worker %s marked unreachable", worker)
		}
	}
}

// Reconfigure replaces the endpoint set. Workers whose URL is unchanged keep
// their connection and health; changed or new workers start fresh.
func (p *Pool) Reconfigure(endpoints []models.WorkerEndpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]*entry, len(endpoints))
	for _, ep := range endpoints {
		if old, ok := p.entries[ep.Name]; ok {
			old.mu.Lock()
			sameURL := old.endpoint.URL == ep.URL
			if sameURL {
				old.endpoint = ep
			}
			old.mu.Unlock()
			if sameURL {
				next[ep.Name] = old
				continue
			}
		}
		next[ep.Name] = &entry{endpoint: ep, healthy: true}
	}
	p.entries = next
	log.Printf("[remote] pool reconfigured with %d workers", len(next))
}

// ProbeResult is the outcome of probing one worker.
type ProbeResult struct {
	Worker string
	Card   *AgentCard
	Err    error
}

// ProbeAll fetches every worker's agent card concurrently and updates health.
// Results are sorted by worker name.
func (p *Pool) ProbeAll(ctx context.Context, timeout time.Duration) []ProbeResult {
	names := p.Names()
	results := make([]ProbeResult, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			results[i].Worker = name
			conn, err := p.Get(name)
			if err != nil {
				results[i].Err = err
				return nil
			}
			probeCtx := gctx
			if timeout > 0 {
				var cancel context.CancelFunc
				probeCtx, cancel = context.WithTimeout(gctx, timeout)
				defer cancel()
			}
			results[i].Card, results[i].Err = conn.Card(probeCtx)
			if errors.Is(results[i].Err, context.DeadlineExceeded) {
				p.MarkHealth(name, false)
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// trackedConn updates pool health from call outcomes. A rejection still
// proves the worker is reachable.
type trackedConn struct {
	Connection
	pool   *Pool
	worker string
}

func (c *trackedConn) observe(err error) {
	if err == nil {
		c.pool.MarkHealth(c.worker, true)
		return
	}
	var connErr *ConnectionError
	var rejected *RejectedError
	switch {
	case errors.As(err, &connErr):
		c.pool.MarkHealth(c.worker, false)
	case errors.As(err, &rejected):
		c.pool.MarkHealth(c.worker, true)
	}
}

func (c *trackedConn) CreateTask(ctx context.Context, req CreateTaskRequest) (*TaskStatus, error) {
	s, err := c.Connection.CreateTask(ctx, req)
	c.observe(err)
	return s, err
}

func (c *trackedConn) GetTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	s, err := c.Connection.GetTask(ctx, taskID)
	c.observe(err)
	return s, err
}

func (c *trackedConn) CancelTask(ctx context.Context, taskID string) error {
	err := c.Connection.CancelTask(ctx, taskID)
	c.observe(err)
	return err
}

func (c *trackedConn) Card(ctx context.Context) (*AgentCard, error) {
	card, err := c.Connection.Card(ctx)
	c.observe(err)
	return card, err
}

// Package session maps external conversation identifiers to execution
// sessions and sequences the turns within each session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/state"
	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Registry resolves context ids to sessions and owns session lifecycle.
// Turns for one session are serialized through a per-session lock; unrelated
// sessions never contend.
type Registry struct {
	store state.SessionStore

	idleTTL       time.Duration
	purgeInterval time.Duration
	now           func() time.Time

	// group collapses concurrent first-use of the same context id.
	group singleflight.Group

	// locks holds one turn lock per session id. mu guards the map only.
	locks map[string]chan struct{}
	mu    sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithIdleTTL sets how long a session may sit idle before it is purged.
// Zero disables purging.
func WithIdleTTL(d time.Duration) Option {
	return func(r *Registry) { r.idleTTL = d }
}

// WithPurgeInterval sets how often the janitor started by Start runs.
func WithPurgeInterval(d time.Duration) Option {
	return func(r *Registry) { r.purgeInterval = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry backed by store. The registry takes
// ownership of the store and closes it in Close.
func NewRegistry(store state.SessionStore, opts ...Option) *Registry {
	r := &Registry{
		store:         store,
		idleTTL:       24 * time.Hour,
		purgeInterval: 10 * time.Minute,
		now:           time.Now,
		locks:         make(map[string]chan struct{}),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveOrCreate returns the session bound to contextID, creating it on
// first use. An empty contextID starts a new conversation with a generated
// id. Concurrent calls with the same contextID create at most one session.
func (r *Registry) ResolveOrCreate(contextID string) (*models.Session, error) {
	if contextID == "" {
		contextID = uuid.NewString()
	}

	v, err, _ := r.group.Do(contextID, func() (any, error) {
		s, err := r.store.GetSessionByContext(contextID)
		if err != nil {
			return nil, fmt.Errorf("lookup context %s: %w", contextID, err)
		}
		if s != nil {
			return s, nil
		}

		now := r.now()
		s = &models.Session{
			ID:           uuid.NewString(),
			ContextID:    contextID,
			CreatedAt:    now,
			LastActiveAt: now,
		}
		err = r.store.CreateSession(s)
		if errors.Is(err, state.ErrContextExists) {
			// Another registry on the same store won the race.
			existing, lookupErr := r.store.GetSessionByContext(contextID)
			if lookupErr != nil {
				return nil, fmt.Errorf("lookup context %s: %w", contextID, lookupErr)
			}
			return existing, nil
		}
		if err != nil {
			return nil, fmt.Errorf("create session for context %s: %w", contextID, err)
		}
		log.Printf("[session] created session %s for context %s", s.ID, contextID)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing a flight must not share the struct.
	s := *v.(*models.Session)
	return &s, nil
}

// Get returns the session with its full turn log.
func (r *Registry) Get(sessionID string) (*models.Session, error) {
	s, err := r.store.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if s == nil {
		return nil, ErrNotFound
	}
	return s, nil
}

// AppendTurn appends turn to the session log. Turns are never edited or
// removed once appended. The turn's Seq is assigned by the store.
func (r *Registry) AppendTurn(sessionID string, turn *models.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = r.now()
	}
	err := r.store.AppendTurn(sessionID, turn)
	if errors.Is(err, state.ErrSessionNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("append turn to %s: %w", sessionID, err)
	}
	return nil
}

// List returns all sessions without their turns, most recently active first.
func (r *Registry) List() ([]models.Session, error) {
	return r.store.ListSessions()
}

// Lease is a held turn lock on one session. Release must be called exactly once.
type Lease struct {
	Session *models.Session
	release func()
}

// Release frees the session for its next turn.
func (l *Lease) Release() {
	if l.release != nil {
		l.release()
		l.release = nil
	}
}

// Acquire resolves contextID and takes the session's turn lock, waiting for
// any in-flight turn on the same session to finish. The returned session
// reflects the log as of lock acquisition.
func (r *Registry) Acquire(ctx context.Context, contextID string) (*Lease, error) {
	if contextID == "" {
		contextID = uuid.NewString()
	}
	for {
		s, err := r.ResolveOrCreate(contextID)
		if err != nil {
			return nil, err
		}

		lock := r.lockFor(s.ID)
		select {
		case lock <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// Mark the session active before reloading it so a purge from another
		// process sees it as busy. Touching a purged session is a no-op.
		if err := r.store.TouchSession(s.ID, r.now()); err != nil {
			<-lock
			return nil, fmt.Errorf("touch session %s: %w", s.ID, err)
		}

		// The janitor may have purged the session while we waited.
		current, err := r.store.GetSession(s.ID)
		if err != nil {
			<-lock
			return nil, fmt.Errorf("reload session %s: %w", s.ID, err)
		}
		if current == nil {
			<-lock
			continue
		}
		return &Lease{Session: current, release: func() { <-lock }}, nil
	}
}

// lockFor returns the turn lock for a session, creating it if needed.
func (r *Registry) lockFor(sessionID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = make(chan struct{}, 1)
		r.locks[sessionID] = l
	}
	return l
}

// PurgeIdle deletes sessions idle longer than the configured threshold.
// Sessions with a turn in flight are skipped. Returns the number purged.
func (r *Registry) PurgeIdle() (int, error) {
	if r.idleTTL <= 0 {
		return 0, nil
	}
	cutoff := r.now().Add(-r.idleTTL)

	ids, err := r.store.IdleSessions(cutoff)
	if err != nil {
		return 0, fmt.Errorf("list idle sessions: %w", err)
	}

	purged := 0
	for _, id := range ids {
		ok, err := r.purgeOne(id, cutoff)
		if err != nil {
			return purged, err
		}
		if ok {
			purged++
		}
	}
	if purged > 0 {
		log.Printf("[session] purged %d idle sessions", purged)
	}
	return purged, nil
}

func (r *Registry) purgeOne(id string, cutoff time.Time) (bool, error) {
	lock := r.lockFor(id)
	select {
	case lock <- struct{}{}:
	default:
		// Turn in flight.
		return false, nil
	}
	defer func() { <-lock }()

	// A turn may have finished between the idle scan and the lock.
	s, err := r.store.GetSession(id)
	if err != nil {
		return false, fmt.Errorf("reload session %s: %w", id, err)
	}
	if s == nil || !s.LastActiveAt.Before(cutoff) {
		return false, nil
	}

	if err := r.store.DeleteSession(id); err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}

	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()
	return true, nil
}

// Start runs the idle-session janitor until ctx is cancelled or Close is called.
func (r *Registry) Start(ctx context.Context) {
	if r.idleTTL <= 0 || r.purgeInterval <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				if _, err := r.PurgeIdle(); err != nil {
					log.Printf("[session] purge failed: %v", err)
				}
			}
		}
	}()
}

// Close stops the janitor and closes the underlying store.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
	return r.store.Close()
}

package state

import (
	"sort"
	"sync"
	"time"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// Memory is an in-process SessionStore. Sessions are lost on restart.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	byContext map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]*models.Session),
		byContext: make(map[string]string),
	}
}

func (m *Memory) CreateSession(s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byContext[s.ContextID]; ok {
		return ErrContextExists
	}
	cp := copySession(s)
	m.sessions[s.ID] = cp
	m.byContext[s.ContextID] = s.ID
	return nil
}

func (m *Memory) GetSession(id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

func (m *Memory) GetSessionByContext(contextID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byContext[contextID]
	if !ok {
		return nil, nil
	}
	return copySession(m.sessions[id]), nil
}

func (m *Memory) AppendTurn(sessionID string, t *models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.Seq = len(s.Turns) + 1

	turn := *t
	turn.Tasks = append([]models.TaskRef(nil), t.Tasks...)
	s.Turns = append(s.Turns, turn)
	s.LastActiveAt = t.CreatedAt
	return nil
}

func (m *Memory) TouchSession(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.LastActiveAt = at
	}
	return nil
}

func (m *Memory) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		delete(m.byContext, s.ContextID)
		delete(m.sessions, id)
	}
	return nil
}

func (m *Memory) ListSessions() ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		cp.Turns = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out, nil
}

func (m *Memory) IdleSessions(before time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, s := range m.sessions {
		if s.LastActiveAt.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

func copySession(s *models.Session) *models.Session {
	cp := *s
	cp.Turns = make([]models.Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.Tasks = append([]models.TaskRef(nil), t.Tasks...)
		cp.Turns[i] = t
	}
	return &cp
}

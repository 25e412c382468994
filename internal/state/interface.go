package state

import (
	"errors"
	"io"
	"time"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

var (
	// ErrContextExists is returned by CreateSession when the context id is taken.
	ErrContextExists = errors.New("context id already bound to a session")
	// ErrSessionNotFound is returned by AppendTurn for an unknown session.
	ErrSessionNotFound = errors.New("session not found")
)

// SessionStore handles session persistence. Lookups return nil, nil when
// the session does not exist.
type SessionStore interface {
	io.Closer
	CreateSession(s *models.Session) error
	GetSession(id string) (*models.Session, error)
	GetSessionByContext(contextID string) (*models.Session, error)
	AppendTurn(sessionID string, t *models.Turn) error
	TouchSession(id string, at time.Time) error
	DeleteSession(id string) error
	ListSessions() ([]models.Session, error)
	IdleSessions(before time.Time) ([]string, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

var (
	_ SessionStore = (*DB)(nil)
	_ Migrator     = (*DB)(nil)
	_ SessionStore = (*Memory)(nil)
)

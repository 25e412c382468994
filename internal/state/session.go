package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// CreateSession inserts a new session. It returns ErrContextExists if
// another session already owns the context id.
func (db *DB) CreateSession(s *models.Session) error {
	result, err := db.Exec(`
		INSERT INTO sessions (id, context_id, created_at, last_active_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(context_id) DO NOTHING
	`, s.ID, s.ContextID, formatTime(s.CreatedAt), formatTime(s.LastActiveAt))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if n == 0 {
		return ErrContextExists
	}
	return nil
}

// GetSession retrieves a session and its turns by ID.
// Returns nil, nil if the session does not exist.
func (db *DB) GetSession(id string) (*models.Session, error) {
	return db.getSession(`
		SELECT id, context_id, created_at, last_active_at
		FROM sessions WHERE id = ?
	`, id)
}

// GetSessionByContext retrieves a session and its turns by context id.
// Returns nil, nil if no session owns the context.
func (db *DB) GetSessionByContext(contextID string) (*models.Session, error) {
	return db.getSession(`
		SELECT id, context_id, created_at, last_active_at
		FROM sessions WHERE context_id = ?
	`, contextID)
}

func (db *DB) getSession(query, arg string) (*models.Session, error) {
	var s models.Session
	var createdAt, lastActive string
	err := db.QueryRow(query, arg).Scan(&s.ID, &s.ContextID, &createdAt, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.CreatedAt, _ = parseTime(createdAt)
	s.LastActiveAt, _ = parseTime(lastActive)

	turns, err := db.listTurns(s.ID)
	if err != nil {
		return nil, err
	}
	s.Turns = turns
	return &s, nil
}

func (db *DB) listTurns(sessionID string) ([]models.Turn, error) {
	rows, err := db.Query(`
		SELECT seq, input, output, tasks, degraded, created_at
		FROM turns WHERE session_id = ? ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var t models.Turn
		var tasks sql.NullString
		var degraded int
		var createdAt string
		if err := rows.Scan(&t.Seq, &t.Input, &t.Output, &tasks, &degraded, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if tasks.Valid && tasks.String != "" {
			if err := json.Unmarshal([]byte(tasks.String), &t.Tasks); err != nil {
				return nil, fmt.Errorf("decode turn %d tasks: %w", t.Seq, err)
			}
		}
		t.Degraded = degraded != 0
		t.CreatedAt, _ = parseTime(createdAt)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// AppendTurn appends a turn to the session's log and refreshes its
// last-activity time. The turn's Seq is assigned here.
func (db *DB) AppendTurn(sessionID string, t *models.Turn) error {
	var tasks any
	if len(t.Tasks) > 0 {
		b, err := json.Marshal(t.Tasks)
		if err != nil {
			return fmt.Errorf("encode turn tasks: %w", err)
		}
		tasks = string(b)
	}
	degraded := 0
	if t.Degraded {
		degraded = 1
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	return db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE sessions SET last_active_at = ? WHERE id = ?`,
			formatTime(t.CreatedAt), sessionID)
		if err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrSessionNotFound
		}

		var seq int
		if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`,
			sessionID).Scan(&seq); err != nil {
			return fmt.Errorf("next turn seq: %w", err)
		}

		if _, err := tx.Exec(`
			INSERT INTO turns (session_id, seq, input, output, tasks, degraded, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sessionID, seq, t.Input, t.Output, tasks, degraded, formatTime(t.CreatedAt)); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		t.Seq = seq
		return nil
	})
}

// TouchSession updates the last-activity time without appending a turn.
func (db *DB) TouchSession(id string, at time.Time) error {
	if _, err := db.Exec(`UPDATE sessions SET last_active_at = ? WHERE id = ?`, formatTime(at), id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// DeleteSession deletes a session and its turns.
func (db *DB) DeleteSession(id string) error {
	if _, err := db.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions lists all sessions, most recently active first.
// Turns are not loaded.
func (db *DB) ListSessions() ([]models.Session, error) {
	rows, err := db.Query(`
		SELECT id, context_id, created_at, last_active_at
		FROM sessions ORDER BY last_active_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var s models.Session
		var createdAt, lastActive string
		if err := rows.Scan(&s.ID, &s.ContextID, &createdAt, &lastActive); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.CreatedAt, _ = parseTime(createdAt)
		s.LastActiveAt, _ = parseTime(lastActive)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// IdleSessions returns the ids of sessions last active before the cutoff.
func (db *DB) IdleSessions(before time.Time) ([]string, error) {
	rows, err := db.Query(`SELECT id FROM sessions WHERE last_active_at < ?`, formatTime(before))
	if err != nil {
		return nil, fmt.Errorf("idle sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

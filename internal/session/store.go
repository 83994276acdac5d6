// Package session persists conversation history so follow-up questions can
// reference earlier turns. Appends to a single session are serialized; distinct
// sessions never block each other.
package session

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fundlens/fundlens/internal/storage"
)

// Message is one turn of a conversation.
type Message struct {
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

// Session is a conversation scoped to an optional fund.
type Session struct {
	ID        string
	FundID    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}

// Store manages sessions on top of the shared SQLite database.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, locks: make(map[string]*sync.Mutex)}
}

// lock returns the mutex guarding a single session's message log.
func (s *Store) lock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[sessionID] = m
	}
	return m
}

// Create starts a new session and returns its generated ID.
func (s *Store) Create(fundID string) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		ID:        uuid.NewString(),
		FundID:    fundID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, fund_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.FundID, now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return Session{}, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// Get loads a session and its full message history in insertion order.
func (s *Store) Get(id string) (Session, error) {
	var sess Session
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, fund_id, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.FundID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Session{}, storage.ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing created_at for session %s: %w", id, err)
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Session{}, fmt.Errorf("parsing updated_at for session %s: %w", id, err)
	}

	rows, err := s.db.Query(`
		SELECT role, content, created_at FROM session_messages
		WHERE session_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return Session{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		var msgCreated string
		if err := rows.Scan(&m.Role, &m.Content, &msgCreated); err != nil {
			return Session{}, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339, msgCreated); err != nil {
			return Session{}, fmt.Errorf("parsing message time for session %s: %w", id, err)
		}
		sess.Messages = append(sess.Messages, m)
	}
	return sess, rows.Err()
}

// Append adds a pair of turns (or a single turn) to a session. Concurrent
// appends to the same session are applied one at a time.
func (s *Store) Append(id string, msgs ...Message) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning append: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, m := range msgs {
		createdAt := now
		if !m.CreatedAt.IsZero() {
			createdAt = m.CreatedAt.UTC().Format(time.RFC3339)
		}
		if _, err := tx.Exec(`
			INSERT INTO session_messages (session_id, role, content, created_at)
			VALUES (?, ?, ?, ?)`, id, m.Role, m.Content, createdAt,
		); err != nil {
			return fmt.Errorf("appending message: %w", err)
		}
	}
	if _, err := tx.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return tx.Commit()
}

// Delete removes a session and its messages. Deleting an unknown session
// returns ErrNotFound.
func (s *Store) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM session_messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}

// List returns all sessions (without messages), newest first.
func (s *Store) List() ([]Session, error) {
	rows, err := s.db.Query(`SELECT id, fund_id, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var createdAt, updatedAt string
		if err := rows.Scan(&sess.ID, &sess.FundID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for session %s: %w", sess.ID, err)
		}
		if sess.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for session %s: %w", sess.ID, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

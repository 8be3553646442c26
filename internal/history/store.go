// Package history persists per-channel chat turns and the optional
// channel-level system prompt in SQLite.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Role values stored in the role column.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one stored chat turn.
type Turn struct {
	ID        int64
	Channel   string
	Role      string
	Message   string
	Timestamp time.Time
}

// Store handles persistence of chat history using SQLite. Each operation is
// its own transaction; SetSystemPrompt is the only multi-statement one.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new SQLite-backed history store at the given path
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}

	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// init creates the history table if it doesn't exist
func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ai_chat_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			channel    TEXT NOT NULL,
			role       TEXT NOT NULL,
			message    TEXT NOT NULL,
			timestamp  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_history_channel ON ai_chat_history(channel, timestamp);
	`)
	return err
}

// Append inserts one turn and returns its row id. It never overwrites.
func (s *Store) Append(channel, role, message string, ts time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		INSERT INTO ai_chat_history (channel, role, message, timestamp)
		VALUES (?, ?, ?, ?)
	`, channel, role, message, ts.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to append turn: %w", err)
	}
	return result.LastInsertId()
}

// Read returns all non-system turns for a channel in ascending timestamp
// order. Row id breaks ties between turns inserted within the same instant.
func (s *Store) Read(channel string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, channel, role, message, timestamp
		FROM ai_chat_history
		WHERE channel = ? AND role != ?
		ORDER BY timestamp ASC, id ASC
	`, channel, RoleSystem)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var ts string
		if err := rows.Scan(&turn.ID, &turn.Channel, &turn.Role, &turn.Message, &ts); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			turn.Timestamp = t
		}
		turns = append(turns, turn)
	}

	return turns, rows.Err()
}

// Clear deletes all non-system turns for a channel. Clearing a channel with
// no history is a no-op.
func (s *Store) Clear(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		DELETE FROM ai_chat_history WHERE channel = ? AND role != ?
	`, channel, RoleSystem)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// SystemPrompt returns the channel's system prompt, or "" if none is set.
func (s *Store) SystemPrompt(channel string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT message FROM ai_chat_history
		WHERE channel = ? AND role = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, channel, RoleSystem)

	var message string
	err := row.Scan(&message)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt: %w", err)
	}
	return message, nil
}

// SetSystemPrompt replaces the channel's system prompt. The delete and
// insert run in one transaction so a concurrent reader never observes the
// channel without a prompt mid-replacement.
func (s *Store) SetSystemPrompt(channel, text string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM ai_chat_history WHERE channel = ? AND role = ?
	`, channel, RoleSystem); err != nil {
		return fmt.Errorf("failed to clear previous system prompt: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO ai_chat_history (channel, role, message, timestamp)
		VALUES (?, ?, ?, ?)
	`, channel, RoleSystem, text, ts.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to set system prompt: %w", err)
	}

	return tx.Commit()
}

// ClearSystemPrompt deletes the channel's system prompt turn(s). Idempotent.
func (s *Store) ClearSystemPrompt(channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		DELETE FROM ai_chat_history WHERE channel = ? AND role = ?
	`, channel, RoleSystem)
	if err != nil {
		return fmt.Errorf("failed to clear system prompt: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

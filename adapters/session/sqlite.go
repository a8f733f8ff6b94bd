package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore stores sessions in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and creates the sessions table.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	// Set pragmas for performance
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			expires_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions (expires_at)`)
	if err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load retrieves a session by ID.
func (s *SQLiteStore) Load(ctx context.Context, id string) (map[string]any, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM sessions
		WHERE id = ? AND expires_at > ?
	`, id, time.Now().UTC()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return values, nil
}

// Save inserts or replaces a session.
func (s *SQLiteStore) Save(ctx context.Context, id string, values map[string]any, ttl time.Duration) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at
	`, id, string(data), time.Now().UTC().Add(ttl))
	return err
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE id = ?
	`, id)
	return err
}

// DeleteExpired removes all expired sessions.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at <= ?
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

var _ Store = (*SQLiteStore)(nil)

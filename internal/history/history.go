// Package history implements the optional search-history CRUD surface
// backing the `history` CLI subcommands: a thin log of (player, query,
// timestamp) independent of the core index.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recorded search.
type Entry struct {
	PlayerID  string
	Query     string
	Timestamp time.Time
}

// Store wraps the history database connection. It opens its own connection
// pool to the same SQLite file the metadata store uses; SQLite's WAL mode
// allows both to coexist.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the search_history table at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS search_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id TEXT NOT NULL,
			query TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create search_history table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_search_history_player ON search_history(player_id, created_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create search_history index: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one search to the log.
func (s *Store) Record(playerID, query string) error {
	_, err := s.db.Exec(`INSERT INTO search_history (player_id, query, created_at) VALUES (?, ?, ?)`,
		playerID, query, time.Now())
	if err != nil {
		return fmt.Errorf("history record: %w", err)
	}
	return nil
}

// Recent returns a player's most recent searches, newest first, capped at
// limit.
func (s *Store) Recent(playerID string, limit int) ([]Entry, error) {
	return s.query(`SELECT player_id, query, created_at FROM search_history WHERE player_id = ? ORDER BY created_at DESC LIMIT ?`, playerID, limit)
}

// Global returns the most recent searches across all players, newest
// first, capped at limit.
func (s *Store) Global(limit int) ([]Entry, error) {
	return s.query(`SELECT player_id, query, created_at FROM search_history ORDER BY created_at DESC LIMIT ?`, limit)
}

// Clear deletes a player's search history.
func (s *Store) Clear(playerID string) error {
	if _, err := s.db.Exec(`DELETE FROM search_history WHERE player_id = ?`, playerID); err != nil {
		return fmt.Errorf("history clear: %w", err)
	}
	return nil
}

func (s *Store) query(q string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.PlayerID, &e.Query, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Package history persists completed downloads in a local SQLite
// database. The core only emits completion events; this store is the
// caller-side sink for them.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one completed download
type Record struct {
	ID         int64
	URL        string
	Title      string
	FormatID   string
	FileSize   int64
	Platform   string
	OutputPath string
	CreatedAt  time.Time
}

// Store wraps the history database
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	// WAL and busy timeout for concurrent appends; failure is not critical
	db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`)

	s := &Store{db: db}
	if err := s.initTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		title TEXT,
		format_id TEXT,
		file_size INTEGER,
		platform TEXT,
		output_path TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("init history table: %w", err)
	}
	return nil
}

// Append stores one completed download
func (s *Store) Append(r Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	query := `INSERT INTO downloads (url, title, format_id, file_size, platform, output_path, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, r.URL, r.Title, r.FormatID, r.FileSize, r.Platform, r.OutputPath, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first. limit <= 0 means
// everything.
func (s *Store) List(limit int) ([]Record, error) {
	query := `SELECT id, url, title, format_id, file_size, platform, output_path, created_at
	          FROM downloads ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.URL, &r.Title, &r.FormatID, &r.FileSize, &r.Platform, &r.OutputPath, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Clear removes every record, returning how many were deleted
func (s *Store) Clear() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM downloads`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

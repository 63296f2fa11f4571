package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/dompatch/dbopen"
)

// Store journals navigation entries.
type Store interface {
	Append(ctx context.Context, e Entry) error
	UpdateScroll(ctx context.Context, id string, x, y int) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Schema is the history journal DDL, applied via dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS history (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	scroll_x   INTEGER NOT NULL DEFAULT 0,
	scroll_y   INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at);
`

// SQLStore is the SQLite-backed journal.
type SQLStore struct {
	db *sql.DB
}

// OpenStore opens (or creates) the journal database at path.
func OpenStore(path string) (*SQLStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("history: open store: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// NewSQLStore wraps an already opened database. The caller owns db and
// must have applied Schema.
func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// Close closes the underlying database.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (id, url, scroll_x, scroll_y, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.URL, e.ScrollX, e.ScrollY, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateScroll(ctx context.Context, id string, x, y int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE history SET scroll_x = ?, scroll_y = ? WHERE id = ?`, x, y, id)
	if err != nil {
		return fmt.Errorf("history: update scroll: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, scroll_x, scroll_y, created_at FROM history ORDER BY created_at DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.URL, &e.ScrollX, &e.ScrollY, &created); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

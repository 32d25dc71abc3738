// Package history keeps a log of served predictions in sqlite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ecovision/resin-classifier/internal/labels"
)

const (
	SourceAPI    = "api"
	SourceUpload = "upload"
	SourceCamera = "camera"

	DefaultLimit = 20
	MaxLimit     = 500
)

type Entry struct {
	ID         string            `json:"id"`
	Class      labels.ClassLabel `json:"class"`
	Confidence float32           `json:"confidence"`
	Source     string            `json:"source"`
	Outcome    string            `json:"outcome,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type Store struct {
	conn *sql.DB
}

func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		class TEXT NOT NULL,
		confidence REAL NOT NULL,
		source TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
	`
	_, err := s.conn.Exec(query)
	return err
}

// Record stores e, filling in ID and CreatedAt when unset.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO predictions (id, class, confidence, source, outcome, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Class), e.Confidence, e.Source, e.Outcome, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

// Recent lists the newest entries first. limit is clamped to [1, MaxLimit].
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, class, confidence, source, outcome, created_at FROM predictions ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var class string
		if err := rows.Scan(&e.ID, &class, &e.Confidence, &e.Source, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		e.Class = labels.ClassLabel(class)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Close() error {
	return s.conn.Close()
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cart-recovery-agent/internal/domain"
)

// SQLiteSink stores named snapshots in a single-table SQLite database.
type SQLiteSink struct {
	db   *sql.DB
	name string
	now  func() time.Time
}

func NewSQLiteSink(dsn, name string) (*SQLiteSink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: sqlite dsn must not be empty")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "default"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	// One writer at a time; the State already serialises persists.
	db.SetMaxOpenConns(1)
	s := &SQLiteSink{db: db, name: name, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		name TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("repository: sqlite migrate: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteSink) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM snapshots WHERE name = ?`, s.name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("repository: sqlite load: %w", err)
	}
	return decodeSnapshot([]byte(body))
}

func (s *SQLiteSink) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("repository: sqlite encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO snapshots (name, body, updated_at_ms) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at_ms = excluded.updated_at_ms`,
		s.name, string(body), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("repository: sqlite save: %w", err)
	}
	return nil
}

// Package sqlite persists dashboard sheets to a local SQLite file, one JSON
// row per sheet.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"logistics/internal/infra/sheets/memory"
	"logistics/pkg/domain"
)

// Store snapshots each written sheet to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

var _ domain.SheetStore = (*Store)(nil)

// NewStore opens (or creates) the database at path and loads every sheet.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "logistics-dashboards.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sheets (
		name TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sheets table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, payload FROM sheets`)
	if err != nil {
		return fmt.Errorf("select sheets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	state := make(map[string]domain.Sheet)
	for rows.Next() {
		var (
			name    string
			payload []byte
		)
		if err := rows.Scan(&name, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var sheet domain.Sheet
		if err := json.Unmarshal(payload, &sheet); err != nil {
			return fmt.Errorf("decode sheet %s: %w", name, err)
		}
		state[name] = sheet
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.ImportState(state)
	return nil
}

func (s *Store) persist(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, err := s.Store.Read(ctx, name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sheet)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO sheets(name,payload) VALUES(?,?) ON CONFLICT(name) DO UPDATE SET payload=excluded.payload`, name, data); err != nil {
		return fmt.Errorf("upsert sheet %s: %w", name, err)
	}
	return nil
}

// Append adds rows in memory, then snapshots the sheet.
func (s *Store) Append(ctx context.Context, name string, header []string, rows [][]string) error {
	if err := s.Store.Append(ctx, name, header, rows); err != nil {
		return err
	}
	return s.persist(ctx, name)
}

// Replace overwrites the sheet in memory, then snapshots it.
func (s *Store) Replace(ctx context.Context, name string, sheet domain.Sheet) error {
	if err := s.Store.Replace(ctx, name, sheet); err != nil {
		return err
	}
	return s.persist(ctx, name)
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

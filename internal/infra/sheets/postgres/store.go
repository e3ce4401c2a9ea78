// Package postgres persists dashboard sheets to Postgres through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"logistics/internal/infra/sheets/memory"
	"logistics/pkg/domain"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/logistics?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store snapshots each written sheet into a JSONB row.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

var _ domain.SheetStore = (*Store)(nil)

// NewStore connects to dsn (defaultDSN when empty), ensures the sheets table
// and loads every sheet.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sheets (
		name TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sheets table: %w", err)
	}
	state, err := loadSheets(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(state)
	return &Store{Store: mem, db: db}, nil
}

func loadSheets(ctx context.Context, db *sql.DB) (map[string]domain.Sheet, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, payload FROM sheets`)
	if err != nil {
		return nil, fmt.Errorf("select sheets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	state := make(map[string]domain.Sheet)
	for rows.Next() {
		var (
			name    string
			payload []byte
		)
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, fmt.Errorf("scan sheet: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		var sheet domain.Sheet
		if err := json.Unmarshal(payload, &sheet); err != nil {
			return nil, fmt.Errorf("decode sheet %s: %w", name, err)
		}
		state[name] = sheet
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sheets: %w", err)
	}
	return state, nil
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO sheets(name,payload) VALUES($1,$2) ON CONFLICT(name) DO UPDATE SET payload=EXCLUDED.payload`, name, data); err != nil {
		return fmt.Errorf("upsert sheet %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
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

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sql.Open hook for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"strings"
	"testing"

	"logistics/pkg/domain"
)

func TestNewStoreCreatesTableAndLoadsSheets(t *testing.T) {
	ctx := context.Background()
	db, conn := newStubDB()
	seed, _ := json.Marshal(domain.Sheet{Header: []string{"orders"}, Rows: [][]string{{"3"}}})
	conn.order = []string{"courier"}
	conn.rows["courier"] = []driver.Value{"courier", seed}

	var gotDSN string
	restore := OverrideSQLOpen(func(_, dsn string) (*sql.DB, error) {
		gotDSN = dsn
		return db, nil
	})
	defer restore()

	s, err := NewStore(ctx, "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if gotDSN != defaultDSN {
		t.Fatalf("dsn = %s", gotDSN)
	}
	if len(conn.execs) == 0 || !strings.Contains(conn.execs[0], "CREATE TABLE IF NOT EXISTS sheets") {
		t.Fatalf("expected sheets DDL, got %v", conn.execs)
	}
	sheet, _ := s.Read(ctx, "courier")
	if sheet.Cell(0, "orders") != "3" {
		t.Fatalf("seeded sheet not loaded: %+v", sheet)
	}
}

func TestWritesUpsertSnapshot(t *testing.T) {
	ctx := context.Background()
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()

	s, err := NewStore(ctx, "postgres://example/logistics")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Append(ctx, "kits", []string{"BEMS"}, [][]string{{"2024-06-01"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "kits", nil, [][]string{{"2024-06-02"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	raw, ok := conn.rows["kits"][1].([]byte)
	if !ok {
		t.Fatalf("payload not stored as bytes: %T", conn.rows["kits"][1])
	}
	var stored domain.Sheet
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stored.Rows) != 2 {
		t.Fatalf("expected latest snapshot with 2 rows, got %+v", stored)
	}
}

func TestFailuresSurface(t *testing.T) {
	ctx := context.Background()

	db, conn := newStubDB()
	conn.failPing = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	if _, err := NewStore(ctx, "x"); err == nil {
		t.Fatal("expected ping failure")
	}
	restore()

	db, conn = newStubDB()
	restore = OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	s, err := NewStore(ctx, "x")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.failCommit = true
	if err := s.Replace(ctx, "courier", domain.Sheet{Header: []string{"a"}}); err == nil {
		t.Fatal("expected commit failure")
	}
}

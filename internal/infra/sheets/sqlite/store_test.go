package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"logistics/pkg/domain"
)

func TestSheetsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dash", "sheets.db")

	s, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(ctx, "kits", []string{"BEMS", "Zipcode", "Project"}, [][]string{{"2024-06-01", "98101", "HCT"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Replace(ctx, "kits_update", domain.Sheet{Header: []string{"last_import"}, Rows: [][]string{{"2024-06-10 09:30"}}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if s.Path() != path {
		t.Fatalf("path = %s", s.Path())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	kits, _ := reopened.Read(ctx, "kits")
	if len(kits.Rows) != 1 || kits.Cell(0, "Project") != "HCT" {
		t.Fatalf("kits not persisted: %+v", kits)
	}
	cursor, _ := reopened.Read(ctx, "kits_update")
	if cursor.Cell(0, "last_import") != "2024-06-10 09:30" {
		t.Fatalf("cursor not persisted: %+v", cursor)
	}
}

func TestAppendHeaderMismatchIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, filepath.Join(t.TempDir(), "sheets.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if err := s.Append(ctx, "kits", []string{"a"}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "kits", []string{"b"}, [][]string{{"x"}}); err == nil {
		t.Fatal("expected header mismatch")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sheets`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("expected one persisted sheet, got %d (%v)", n, err)
	}
}

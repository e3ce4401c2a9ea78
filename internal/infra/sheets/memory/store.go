// Package memory keeps dashboard sheets in process memory. The sqlite and
// postgres stores embed it and snapshot each sheet after a write.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"logistics/pkg/domain"
)

// Store implements domain.SheetStore in memory.
type Store struct {
	mu     sync.RWMutex
	sheets map[string]domain.Sheet
}

var _ domain.SheetStore = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sheets: make(map[string]domain.Sheet)}
}

// Read returns a copy of the named sheet.
func (s *Store) Read(_ context.Context, name string) (domain.Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sheets[name].Clone(), nil
}

// Append adds rows under header. Appending with a header that differs from
// the stored one is an error.
func (s *Store) Append(_ context.Context, name string, header []string, rows [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet := s.sheets[name]
	switch {
	case len(sheet.Header) == 0:
		sheet.Header = append([]string(nil), header...)
	case len(header) > 0 && !slices.Equal(sheet.Header, header):
		return fmt.Errorf("sheet %s: header %v does not match %v", name, header, sheet.Header)
	}
	for _, r := range rows {
		sheet.Rows = append(sheet.Rows, append([]string(nil), r...))
	}
	s.sheets[name] = sheet
	return nil
}

// Replace overwrites the named sheet.
func (s *Store) Replace(_ context.Context, name string, sheet domain.Sheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets[name] = sheet.Clone()
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ExportState returns a deep copy of every sheet.
func (s *Store) ExportState() map[string]domain.Sheet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Sheet, len(s.sheets))
	for name, sheet := range s.sheets {
		out[name] = sheet.Clone()
	}
	return out
}

// ImportState replaces the store contents with state.
func (s *Store) ImportState(state map[string]domain.Sheet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets = make(map[string]domain.Sheet, len(state))
	for name, sheet := range state {
		s.sheets[name] = sheet.Clone()
	}
}

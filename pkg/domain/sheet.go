package domain

import "context"

// Sheet is a dashboard table: a header row and string cells.
type Sheet struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Clone returns a deep copy of s.
func (s Sheet) Clone() Sheet {
	out := Sheet{Header: append([]string(nil), s.Header...)}
	if s.Rows != nil {
		out.Rows = make([][]string, len(s.Rows))
		for i, r := range s.Rows {
			out.Rows[i] = append([]string(nil), r...)
		}
	}
	return out
}

// Cell returns the value at (row, column name), or "" when either is
// missing.
func (s Sheet) Cell(row int, column string) string {
	if row < 0 || row >= len(s.Rows) {
		return ""
	}
	for i, h := range s.Header {
		if h == column && i < len(s.Rows[row]) {
			return s.Rows[row][i]
		}
	}
	return ""
}

// SheetStore is the dashboard sink. Reading a sheet that was never written
// returns an empty Sheet.
type SheetStore interface {
	Read(ctx context.Context, name string) (Sheet, error)
	// Append adds rows, setting the header when the sheet is empty.
	Append(ctx context.Context, name string, header []string, rows [][]string) error
	Replace(ctx context.Context, name string, sheet Sheet) error
	Close() error
}

package domain

import "sort"

// Table is an immutable, ordered snapshot of records. Every transformation
// returns a new Table and leaves the receiver untouched.
type Table struct {
	columns []string
	rows    []Record
}

// NewTable builds a table from the given columns and rows.
func NewTable(columns []string, rows []Record) Table {
	return Table{columns: append([]string(nil), columns...), rows: append([]Record(nil), rows...)}
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.rows) }

// Rows returns a copy of the row slice.
func (t Table) Rows() []Record { return append([]Record(nil), t.rows...) }

// Columns returns the declared column names.
func (t Table) Columns() []string { return append([]string(nil), t.columns...) }

// HasColumns reports whether every named column is declared on the table.
func (t Table) HasColumns(names ...string) bool {
	declared := make(map[string]struct{}, len(t.columns))
	for _, c := range t.columns {
		declared[c] = struct{}{}
	}
	for _, n := range names {
		if _, ok := declared[n]; !ok {
			return false
		}
	}
	return true
}

// Filter keeps rows for which keep returns true.
func (t Table) Filter(keep func(Record) bool) Table {
	out := make([]Record, 0, len(t.rows))
	for _, r := range t.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return Table{columns: t.columns, rows: out}
}

// Map applies fn to each row.
func (t Table) Map(fn func(Record) Record) Table {
	out := make([]Record, len(t.rows))
	for i, r := range t.rows {
		out[i] = fn(r)
	}
	return Table{columns: t.columns, rows: out}
}

// Find returns the first non-repeating row for (entity, event).
func (t Table) Find(entityID, event string) (Record, bool) {
	for _, r := range t.rows {
		if r.Key.EntityID == entityID && r.Key.Event == event && !r.IsRepeat() {
			return r, true
		}
	}
	return Record{}, false
}

// Entity returns the rows belonging to one entity, in table order.
func (t Table) Entity(entityID string) Table {
	return t.Filter(func(r Record) bool { return r.Key.EntityID == entityID })
}

// Entities lists distinct entity ids in order of first appearance.
func (t Table) Entities() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range t.rows {
		if _, ok := seen[r.Key.EntityID]; ok {
			continue
		}
		seen[r.Key.EntityID] = struct{}{}
		ids = append(ids, r.Key.EntityID)
	}
	return ids
}

// Finder looks up the first non-repeating row for (entity, event).
type Finder interface {
	Find(entityID, event string) (Record, bool)
}

var (
	_ Finder = Table{}
	_ Finder = Index{}
)

// Index is a one-pass lookup over a table for callers that query it per row.
type Index struct {
	columns  []string
	first    map[RecordKey]Record
	entities map[string][]Record
}

// Index groups the table's rows by entity and by (entity, event).
func (t Table) Index() Index {
	ix := Index{
		columns:  t.columns,
		first:    make(map[RecordKey]Record),
		entities: make(map[string][]Record),
	}
	for _, r := range t.rows {
		ix.entities[r.Key.EntityID] = append(ix.entities[r.Key.EntityID], r)
		if r.IsRepeat() {
			continue
		}
		k := RecordKey{EntityID: r.Key.EntityID, Event: r.Key.Event}
		if _, ok := ix.first[k]; !ok {
			ix.first[k] = r
		}
	}
	return ix
}

// Find behaves like Table.Find.
func (ix Index) Find(entityID, event string) (Record, bool) {
	r, ok := ix.first[RecordKey{EntityID: entityID, Event: event}]
	return r, ok
}

// Entity behaves like Table.Entity.
func (ix Index) Entity(entityID string) Table {
	return NewTable(ix.columns, ix.entities[entityID])
}

// Sorted orders rows by key, falling back to fetch position.
func (t Table) Sorted() Table {
	out := t.Rows()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key.Less(out[j].Key)
		}
		return out[i].Position < out[j].Position
	})
	return Table{columns: t.columns, rows: out}
}

// Concat appends the rows of several tables, merging their columns.
func Concat(tables ...Table) Table {
	var cols []string
	seen := make(map[string]struct{})
	var rows []Record
	for _, t := range tables {
		for _, c := range t.columns {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			cols = append(cols, c)
		}
		rows = append(rows, t.rows...)
	}
	return Table{columns: cols, rows: rows}
}

// Package domain defines the participant record, table and order value types
// shared by the logistics engines and their adapters.
package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Repeat instruments and events with meaning across projects.
const (
	InstrumentSymptomSurvey = "symptom_survey"
	InstrumentSwabBarcodes  = "swab_barcodes"
	EventHousehold          = "household_arm_1"
)

// RecordKey identifies one row of a records-platform export.
type RecordKey struct {
	EntityID   string `json:"entity_id"`
	Event      string `json:"event,omitempty"`
	Instrument string `json:"instrument,omitempty"`
	Instance   int    `json:"instance,omitempty"`
}

// String renders the key for log fields.
func (k RecordKey) String() string {
	var b strings.Builder
	b.WriteString(k.EntityID)
	if k.Event != "" {
		b.WriteString("/")
		b.WriteString(k.Event)
	}
	if k.Instrument != "" {
		fmt.Fprintf(&b, "/%s#%d", k.Instrument, k.Instance)
	}
	return b.String()
}

// Less orders keys by entity, event, instrument and instance. Numeric entity
// ids compare numerically so "9" sorts before "10".
func (k RecordKey) Less(o RecordKey) bool {
	if k.EntityID != o.EntityID {
		return lessID(k.EntityID, o.EntityID)
	}
	if k.Event != o.Event {
		return k.Event < o.Event
	}
	if k.Instrument != o.Instrument {
		return k.Instrument < o.Instrument
	}
	return k.Instance < o.Instance
}

func lessID(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Record is one immutable participant row. Fields are keyed by the
// human-readable column name; an empty value is treated as missing.
type Record struct {
	Key      RecordKey
	Position int
	fields   map[string]string
}

// NewRecord copies fields into a new record. Position is the row's index in
// the original fetch and breaks ordering ties.
func NewRecord(key RecordKey, position int, fields map[string]string) Record {
	return Record{Key: key, Position: position, fields: cloneFields(fields)}
}

// Get returns the trimmed column value or "" when missing.
func (r Record) Get(column string) string {
	return strings.TrimSpace(r.fields[column])
}

// Lookup reports the trimmed value and whether it is non-empty.
func (r Record) Lookup(column string) (string, bool) {
	v := r.Get(column)
	return v, v != ""
}

// Has reports whether the column exists on the record, even if empty.
func (r Record) Has(column string) bool {
	_, ok := r.fields[column]
	return ok
}

// Columns lists the record's columns in sorted order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r.fields))
	for c := range r.fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Fields returns a copy of the field map.
func (r Record) Fields() map[string]string { return cloneFields(r.fields) }

// With returns a copy of the record with the given columns overwritten.
func (r Record) With(updates map[string]string) Record {
	out := Record{Key: r.Key, Position: r.Position, fields: cloneFields(r.fields)}
	if out.fields == nil {
		out.fields = make(map[string]string, len(updates))
	}
	for k, v := range updates {
		out.fields[k] = v
	}
	return out
}

// IsRepeat reports whether the row belongs to a repeating instrument.
func (r Record) IsRepeat() bool { return r.Key.Instrument != "" }

func cloneFields(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

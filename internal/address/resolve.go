// Package address picks the authoritative shipping address and contact
// details for an order row, preferring a participant-supplied replacement
// address over the one captured at enrollment.
package address

import (
	"errors"
	"fmt"

	"logistics/pkg/domain"
)

// ErrNoEnrollment is returned when no enrollment row exists for the lookup key.
var ErrNoEnrollment = errors.New("no enrollment record")

// Core and replacement address columns, positionally aligned.
var (
	CoreColumns        = []string{"Street Address", "Apt Number", "City", "State", "Zipcode"}
	ReplacementColumns = []string{"Street Address 2", "Apt Number 2", "City 2", "State 2", "Zipcode 2"}
	MetadataColumns    = []string{"First Name", "Last Name", "Email", "Phone", "Notification Pref", "Project Name"}
)

// Resolve returns a copy of replacement whose core address and metadata come
// from the best source. The enrollment row is looked up by (entity, event),
// or by the replacement's own (entity, event) when event is empty.
func Resolve(enrollments domain.Finder, replacement domain.Record, event string) (domain.Record, error) {
	lookup := event
	if lookup == "" {
		lookup = replacement.Key.Event
	}
	enrollment, ok := enrollments.Find(replacement.Key.EntityID, lookup)
	if !ok {
		return domain.Record{}, fmt.Errorf("%w for %s/%s", ErrNoEnrollment, replacement.Key.EntityID, lookup)
	}
	return Merge(enrollment, replacement), nil
}

// Merge applies the address and metadata precedence rules to a pair of rows.
func Merge(enrollment, replacement domain.Record) domain.Record {
	updates := make(map[string]string, len(CoreColumns)+len(MetadataColumns))
	if HasReplacement(replacement) {
		for i, core := range CoreColumns {
			updates[core] = replacement.Get(ReplacementColumns[i])
		}
	} else {
		for _, core := range CoreColumns {
			updates[core] = enrollment.Get(core)
		}
	}
	for _, col := range MetadataColumns {
		if v, ok := replacement.Lookup(col); ok {
			updates[col] = v
			continue
		}
		updates[col] = enrollment.Get(col)
	}
	return replacement.With(updates)
}

// HasReplacement reports whether every replacement column exists on the row
// and at least one of them holds a value.
func HasReplacement(r domain.Record) bool {
	populated := false
	for _, col := range ReplacementColumns {
		if !r.Has(col) {
			return false
		}
		if _, ok := r.Lookup(col); ok {
			populated = true
		}
	}
	return populated
}

// FromRecord reads the core address columns off a row.
func FromRecord(r domain.Record) domain.Address {
	return domain.Address{
		Street:    r.Get("Street Address"),
		Apartment: r.Get("Apt Number"),
		City:      r.Get("City"),
		State:     r.Get("State"),
		Zipcode:   r.Get("Zipcode"),
	}
}

// ContactFromRecord reads contact columns off a row.
func ContactFromRecord(r domain.Record) domain.Contact {
	return domain.Contact{
		FirstName:          r.Get("First Name"),
		PreferredFirstName: r.Get("Pref First Name"),
		LastName:           r.Get("Last Name"),
		Email:              r.Get("Email"),
		Phone:              r.Get("Phone"),
		NotificationPref:   r.Get("Notification Pref"),
	}
}

package orders

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"logistics/internal/address"
	"logistics/pkg/domain"
)

// Column names shared by every delivery strategy.
const (
	ColRecordID       = "Record Id"
	ColOrderDate      = "Order Date"
	ColTodayTomorrow  = "Today Tomorrow"
	ColProjectName    = "Project Name"
	ColInstructions   = "Delivery Instructions"
	ColPickupLocation = "Pickup Location"
)

// canonicalDate is the layout order dates are rewritten to after parsing.
const canonicalDate = "2006-01-02T15:04:05"

var fallbackLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
	"01/02/2006",
}

// ParseDate parses a records-platform date, trying layout first.
func ParseDate(raw, layout string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	layouts := fallbackLayouts
	if layout != "" {
		layouts = append([]string{layout}, fallbackLayouts...)
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeDates rewrites each named date column to the canonical layout.
// Empty values stay empty; unparsable values are logged and cleared so the
// row drops out wherever a date is required.
func normalizeDates(table domain.Table, layout string, logger *zap.Logger, columns ...string) domain.Table {
	return table.Map(func(r domain.Record) domain.Record {
		updates := make(map[string]string)
		for _, col := range columns {
			raw, ok := r.Lookup(col)
			if !ok {
				continue
			}
			t, ok := ParseDate(raw, layout)
			if !ok {
				logger.Warn("unparsable order date, treating as missing",
					zap.String("record", r.Key.String()),
					zap.String("column", col),
					zap.String("value", raw))
				updates[col] = ""
				continue
			}
			updates[col] = t.Format(canonicalDate)
		}
		if len(updates) == 0 {
			return r
		}
		return r.With(updates)
	})
}

// orderDate reads a column written by normalizeDates.
func orderDate(r domain.Record, col string) time.Time {
	t, _ := time.Parse(canonicalDate, r.Get(col))
	return t
}

// latestPerEntity keeps one row per entity: the row with the greatest order
// date, ties broken by fetch position. Output follows entity order.
func latestPerEntity(rows []domain.Record, dateCol string) []domain.Record {
	return latestBy(rows, dateCol, func(k domain.RecordKey) domain.RecordKey {
		return domain.RecordKey{EntityID: k.EntityID}
	})
}

// latestPerParticipant keys on (entity, event), which identifies a single
// participant inside a household.
func latestPerParticipant(rows []domain.Record, dateCol string) []domain.Record {
	return latestBy(rows, dateCol, func(k domain.RecordKey) domain.RecordKey {
		return domain.RecordKey{EntityID: k.EntityID, Event: k.Event}
	})
}

func latestBy(rows []domain.Record, dateCol string, group func(domain.RecordKey) domain.RecordKey) []domain.Record {
	best := make(map[domain.RecordKey]domain.Record)
	var order []domain.RecordKey
	for _, r := range rows {
		g := group(r.Key)
		cur, ok := best[g]
		if !ok {
			order = append(order, g)
			best[g] = r
			continue
		}
		if newer(r, cur, dateCol) {
			best[g] = r
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].Less(order[j]) })
	out := make([]domain.Record, 0, len(order))
	for _, g := range order {
		out = append(out, best[g])
	}
	return out
}

func newer(a, b domain.Record, dateCol string) bool {
	da, db := orderDate(a, dateCol), orderDate(b, dateCol)
	if !da.Equal(db) {
		return da.After(db)
	}
	return a.Position > b.Position
}

// parseCode reads integer codes exported as "1", "1.0" or " 1 ".
func parseCode(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// truthy reads checkbox and yes/no values.
func truthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "1.0", "true", "yes", "y", "checked":
		return true
	}
	return false
}

// deliveryOrder builds a delivery-service order from a resolved row.
func deliveryOrder(r domain.Record, entityID, project string) (domain.Order, error) {
	if strings.TrimSpace(entityID) == "" {
		return domain.Order{}, fmt.Errorf("%w: %s has no entity id", ErrDataShape, r.Key)
	}
	o := domain.Order{
		EntityID:             entityID,
		Type:                 domain.OrderDelivery,
		Project:              project,
		OrderDate:            orderDate(r, ColOrderDate),
		Address:              address.FromRecord(r),
		Contact:              address.ContactFromRecord(r),
		DeliveryInstructions: r.Get(ColInstructions),
		PickupLocation:       r.Get(ColPickupLocation),
		Source:               r.Key,
	}
	if code, ok := parseCode(r.Get(ColTodayTomorrow)); ok {
		o.PickupDay = &code
	}
	return o, nil
}

// resolveAll resolves each candidate against enrollments and converts it,
// skipping rows that fail with a data-shape problem.
func resolveAll(candidates []domain.Record, enrollments domain.Table, event string, logger *zap.Logger, build func(domain.Record) (domain.Order, error)) []domain.Order {
	index := enrollments.Index()
	out := make([]domain.Order, 0, len(candidates))
	for _, c := range candidates {
		resolved, err := address.Resolve(index, c, event)
		if err != nil {
			logger.Warn("skipping order row", zap.String("record", c.Key.String()), zap.Error(err))
			continue
		}
		o, err := build(resolved)
		if err != nil {
			logger.Warn("skipping order row", zap.String("record", c.Key.String()), zap.Error(err))
			continue
		}
		out = append(out, o)
	}
	return out
}

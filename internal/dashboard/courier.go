package dashboard

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"logistics/internal/blob"
	"logistics/internal/logging"
	"logistics/pkg/domain"
)

// Courier report columns.
const (
	ColOrderNumber = "OrderNumber"
	ColCreateDate  = "CreateDate"
	ColProject     = "ProjectName"
	ColDirection   = "Out/Return"
	ColPickupZip   = "PUZip"
	ColDropZip     = "DLZip"
	ColFalseTrip   = "FalseTrip"
	ColLate        = "Late"

	directionReturn = "Return"
)

// CourierHeader is the column layout of the courier sheet.
var CourierHeader = []string{"date", "project", "direction", "zip", "orders", "ft", "late"}

var courierRequired = []string{ColOrderNumber, ColCreateDate, ColProject, ColDirection, ColFalseTrip, ColLate}

type courierOrder struct {
	number    string
	date      string
	project   string
	direction string
	zip       string
	falseTrip int
	late      int
}

type courierKey struct {
	date, project, direction, zip string
}

type courierTotals struct {
	orders, falseTrips, late int
}

// CourierResult summarizes one courier refresh.
type CourierResult struct {
	Files     int
	Orders    int
	Rows      [][]string
	Committed bool
}

// Courier rebuilds the courier sheet from the KPI and exception reports the
// courier drops into object storage.
type Courier struct {
	store  blob.Store
	prefix string
	sheets domain.SheetStore
	logger *zap.Logger
	now    func() time.Time
}

// NewCourier builds the courier job reading reports under prefix.
func NewCourier(store blob.Store, prefix string, sheets domain.SheetStore, logger *zap.Logger, opts ...Option) *Courier {
	s := apply(opts)
	return &Courier{store: store, prefix: prefix, sheets: sheets, logger: logging.OrNop(logger), now: s.now}
}

// Run reads every report, counts each order number once and groups orders
// by (date, project, direction, participant zip).
func (c *Courier) Run(ctx context.Context, commit bool) (CourierResult, error) {
	infos, err := c.store.List(ctx, c.prefix)
	if err != nil {
		return CourierResult{}, fmt.Errorf("list courier reports: %w", err)
	}

	// KPI reports carry zip columns and take precedence over exception
	// reports for the same order number.
	var res CourierResult
	var kpi, exceptions []courierOrder
	for _, info := range infos {
		if !strings.HasSuffix(strings.ToLower(info.Key), ".csv") {
			continue
		}
		rows, hasZip, err := c.readReport(ctx, info.Key)
		if err != nil {
			c.logger.Warn("skipping courier report", zap.String("key", info.Key), zap.Error(err))
			continue
		}
		res.Files++
		if hasZip {
			kpi = append(kpi, rows...)
		} else {
			exceptions = append(exceptions, rows...)
		}
	}

	seen := make(map[string]struct{})
	totals := make(map[courierKey]*courierTotals)
	for _, o := range append(kpi, exceptions...) {
		if _, dup := seen[o.number]; dup {
			continue
		}
		seen[o.number] = struct{}{}
		k := courierKey{date: o.date, project: o.project, direction: o.direction, zip: o.zip}
		t := totals[k]
		if t == nil {
			t = &courierTotals{}
			totals[k] = t
		}
		t.orders++
		t.falseTrips += o.falseTrip
		t.late += o.late
	}
	res.Orders = len(seen)
	res.Rows = courierRows(totals)
	c.logger.Info("courier orders counted",
		zap.Int("files", res.Files),
		zap.Int("orders", res.Orders),
		zap.Int("rows", len(res.Rows)))

	if !commit {
		c.logger.Info("dry run, courier sheet not updated")
		return res, nil
	}
	if err := c.sheets.Replace(ctx, SheetCourier, domain.Sheet{Header: CourierHeader, Rows: res.Rows}); err != nil {
		return res, fmt.Errorf("replace courier sheet: %w", err)
	}
	stamp := domain.Sheet{Header: []string{"updated"}, Rows: [][]string{{c.now().Format(cursorLayout)}}}
	if err := c.sheets.Replace(ctx, SheetCourierStamp, stamp); err != nil {
		return res, fmt.Errorf("stamp courier sheet: %w", err)
	}
	res.Committed = true
	return res, nil
}

func (c *Courier) readReport(ctx context.Context, key string) ([]courierOrder, bool, error) {
	_, rc, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = rc.Close() }()
	return parseCourierCSV(rc)
}

// parseCourierCSV reads a KPI or exceptions report and reports whether it
// has zip columns. Exceptions reports have none; their zip is left empty.
func parseCourierCSV(r io.Reader) ([]courierOrder, bool, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, false, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, false, errors.New("report has no rows")
	}
	idx := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	var missing []string
	for _, col := range courierRequired {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, false, fmt.Errorf("missing columns %v", missing)
	}
	get := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	_, hasPickup := idx[ColPickupZip]
	_, hasDrop := idx[ColDropZip]

	out := make([]courierOrder, 0, len(records)-1)
	for _, row := range records[1:] {
		number := get(row, ColOrderNumber)
		if number == "" {
			continue
		}
		o := courierOrder{
			number:    number,
			date:      get(row, ColCreateDate),
			project:   get(row, ColProject),
			direction: get(row, ColDirection),
			falseTrip: count(get(row, ColFalseTrip)),
			late:      count(get(row, ColLate)),
		}
		if o.direction == directionReturn {
			o.zip = get(row, ColPickupZip)
		} else {
			o.zip = get(row, ColDropZip)
		}
		out = append(out, o)
	}
	return out, hasPickup || hasDrop, nil
}

func courierRows(totals map[courierKey]*courierTotals) [][]string {
	keys := make([]courierKey, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.date != b.date {
			return a.date < b.date
		}
		if a.project != b.project {
			return a.project < b.project
		}
		if a.direction != b.direction {
			return a.direction < b.direction
		}
		return a.zip < b.zip
	})
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		t := totals[k]
		rows = append(rows, []string{
			k.date, k.project, k.direction, k.zip,
			strconv.Itoa(t.orders), strconv.Itoa(t.falseTrips), strconv.Itoa(t.late),
		})
	}
	return rows
}

// count reads a flag or tally cell: integers, decimals and booleans.
func count(raw string) int {
	if raw == "" {
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int(f)
	}
	if b, err := strconv.ParseBool(raw); err == nil && b {
		return 1
	}
	return 0
}

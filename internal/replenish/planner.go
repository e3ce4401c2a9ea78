// Package replenish plans household swab-kit shipments for the Cascadia
// carrier flow: welcome kits for newly enrolled participants, resupply when a
// household runs low, and serial kits for the serial-swab cohort.
package replenish

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/internal/logging"
	"logistics/internal/orders"
	"logistics/pkg/domain"
)

// Raw report fields read by the planner.
const (
	FieldEnrollmentComplete = "enrollment_survey_complete"
	FieldConsentComplete    = "consent_form_complete"
	FieldBarcodesComplete   = "swab_barcodes_complete"
	FieldReturnTracking     = "ss_return_tracking"
	FieldParticipantID      = "es_ptid"
	FieldSerialParticipant  = "results_ptid"
	FieldPauseStart         = "cl_study_pause_start"
	FieldPauseEnd           = "cl_study_pause_end"
	FieldSurveyDate         = "ss_date_1"
	ColHHReporter           = "HH Reporter"
	ColPrefFirstName        = "Pref First Name"

	// BarcodeSlots is the number of assign_barcode_N fields on a swab_barcodes row.
	BarcodeSlots = 9

	complete = 2
)

// Inventory thresholds.
const (
	ResupplyThreshold = 3
	TargetInventory   = 6
)

var participantEvent = regexp.MustCompile(`^(\d+)_arm_1$`)

// Reports bundles the tables one planning pass needs.
type Reports struct {
	Orders domain.Table
	Serial domain.Table
	Pauses domain.Table
}

// ReportSource fetches project reports.
type ReportSource interface {
	FetchReport(ctx context.Context, p config.Project, reportID string) (domain.Table, error)
}

// FetchReports loads the order, serial and pause reports configured for p.
// Pause reports are concatenated into one table.
func FetchReports(ctx context.Context, src ReportSource, p config.Project) (Reports, error) {
	if p.Reports.CarrierOrders == "" {
		return Reports{}, fmt.Errorf("%w: %s has no carrier order report", config.ErrProjectConfig, p.Name)
	}
	var r Reports
	var err error
	if r.Orders, err = src.FetchReport(ctx, p, p.Reports.CarrierOrders); err != nil {
		return Reports{}, err
	}
	if p.Reports.Serial != "" {
		if r.Serial, err = src.FetchReport(ctx, p, p.Reports.Serial); err != nil {
			return Reports{}, err
		}
	}
	pauses := make([]domain.Table, 0, len(p.Reports.Pauses))
	for _, id := range p.Reports.Pauses {
		t, err := src.FetchReport(ctx, p, id)
		if err != nil {
			return Reports{}, err
		}
		pauses = append(pauses, t)
	}
	r.Pauses = domain.Concat(pauses...)
	return r, nil
}

// Planner turns Cascadia household records into carrier kit orders.
type Planner struct {
	project config.Project
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock overrides the planner's notion of today.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// NewPlanner builds a planner for the given project.
func NewPlanner(p config.Project, logger *zap.Logger, opts ...Option) *Planner {
	pl := &Planner{project: p, now: time.Now, logger: logging.OrNop(logger).With(zap.String("project", p.Name))}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// kitNeeds tallies per-participant kit needs inside one household.
type kitNeeds struct {
	welcome  []string
	resupply map[string]int
	serial   []string
	ship     bool
}

// Plan returns unsplit kit orders, one per (household, kit type), plus one
// serial order per serial participant. Households are visited in id order.
func (p *Planner) Plan(ctx context.Context, reports Reports) ([]domain.Order, error) {
	serials := valueSet(reports.Serial, FieldSerialParticipant)
	pauses := newPauseIndex(reports.Pauses, p.now())

	households := reports.Orders.Entities()
	sort.SliceStable(households, func(i, j int) bool {
		return domain.RecordKey{EntityID: households[i]}.Less(domain.RecordKey{EntityID: households[j]})
	})

	byHousehold := reports.Orders.Index()
	var out []domain.Order
	for _, hh := range households {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := byHousehold.Entity(hh)
		needs := p.assess(hh, rows, serials, pauses)
		if len(needs.welcome) == 0 && !needs.ship && len(needs.serial) == 0 {
			continue
		}

		base, err := p.householdOrder(hh, rows)
		if err != nil {
			p.logger.Warn("skipping household", zap.String("household", hh), zap.Error(err))
			continue
		}

		if len(needs.welcome) > 0 {
			if incompleteEnrollment(rows) {
				p.logger.Info("holding welcome kits until every member completes enrollment",
					zap.String("household", hh), zap.Strings("participants", needs.welcome))
			} else {
				out = append(out, base.kit(domain.OrderWelcome, len(needs.welcome)))
			}
		}
		if needs.ship {
			total := 0
			for _, n := range needs.resupply {
				total += n
			}
			out = append(out, base.kit(domain.OrderResupply, total))
		}
		for range needs.serial {
			out = append(out, base.kit(domain.OrderSerial, 1))
		}
	}
	return out, nil
}

// assess computes kit needs for every participant of one household.
func (p *Planner) assess(hh string, rows domain.Table, serials map[string]struct{}, pauses pauseIndex) kitNeeds {
	needs := kitNeeds{resupply: make(map[string]int)}
	for _, event := range participants(rows) {
		pt := rows.Filter(func(r domain.Record) bool { return r.Key.Event == event })
		logger := p.logger.With(zap.String("household", hh), zap.String("participant", event))

		if !anyCode(pt, FieldEnrollmentComplete, complete) || !anyCode(pt, FieldConsentComplete, complete) {
			logger.Debug("participant not consented and enrolled")
			continue
		}
		if pauses.active(hh, event) {
			logger.Debug("participant under study pause")
			continue
		}
		if !anyCode(pt, FieldBarcodesComplete, complete) {
			needs.welcome = append(needs.welcome, event)
			continue
		}

		usable := usableKits(pt)
		if usable < ResupplyThreshold {
			logger.Debug("participant below resupply threshold", zap.Int("usable", usable))
			needs.ship = true
		}
		needs.resupply[event] = max(TargetInventory-usable, 0)

		for _, r := range pt.Rows() {
			if id, ok := r.Lookup(FieldParticipantID); ok {
				if _, serial := serials[id]; serial {
					needs.serial = append(needs.serial, event)
					break
				}
			}
		}
	}
	return needs
}

// participants lists the household's participant events in index order.
func participants(rows domain.Table) []string {
	seen := make(map[string]int)
	for _, r := range rows.Rows() {
		m := participantEvent.FindStringSubmatch(r.Key.Event)
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		seen[r.Key.Event] = idx
	}
	events := make([]string, 0, len(seen))
	for e := range seen {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return seen[events[i]] < seen[events[j]] })
	return events
}

// usableKits is assigned barcodes minus returned kits.
func usableKits(pt domain.Table) int {
	assigned, returned := 0, 0
	for _, r := range pt.Rows() {
		switch r.Key.Instrument {
		case domain.InstrumentSwabBarcodes:
			for i := 1; i <= BarcodeSlots; i++ {
				if _, ok := r.Lookup(fmt.Sprintf("assign_barcode_%d", i)); ok {
					assigned++
				}
			}
		case domain.InstrumentSymptomSurvey:
			if _, ok := r.Lookup(FieldReturnTracking); ok {
				returned++
			}
		}
	}
	return assigned - returned
}

func incompleteEnrollment(rows domain.Table) bool {
	return anyCode(rows, FieldEnrollmentComplete, 0)
}

func anyCode(rows domain.Table, field string, want int) bool {
	for _, r := range rows.Rows() {
		raw, ok := r.Lookup(field)
		if !ok {
			continue
		}
		if n, err := strconv.ParseFloat(raw, 64); err == nil && int(n) == want && float64(int(n)) == n {
			return true
		}
	}
	return false
}

func valueSet(t domain.Table, field string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, r := range t.Rows() {
		if v, ok := r.Lookup(field); ok {
			out[v] = struct{}{}
		}
	}
	return out
}

// pauseIndex holds study pause windows by (household, participant event).
type pauseIndex struct {
	today   time.Time
	windows map[[2]string][][2]time.Time
}

func newPauseIndex(t domain.Table, now time.Time) pauseIndex {
	idx := pauseIndex{
		today:   time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		windows: make(map[[2]string][][2]time.Time),
	}
	for _, r := range t.Rows() {
		start, ok1 := orders.ParseDate(r.Get(FieldPauseStart), "2006-01-02")
		end, ok2 := orders.ParseDate(r.Get(FieldPauseEnd), "2006-01-02")
		if !ok1 || !ok2 {
			continue
		}
		k := [2]string{r.Key.EntityID, r.Key.Event}
		idx.windows[k] = append(idx.windows[k], [2]time.Time{start, end})
	}
	return idx
}

// active reports whether today falls inside any pause window, inclusive.
func (p pauseIndex) active(hh, event string) bool {
	for _, w := range p.windows[[2]string{hh, event}] {
		if !p.today.Before(dateOnly(w[0])) && !p.today.After(dateOnly(w[1])) {
			return true
		}
	}
	return false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Package dashboard refreshes the operational dashboard sheets: kits shipped
// per project and courier order KPIs. Nothing is written unless commit is
// set.
package dashboard

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/internal/logging"
	"logistics/internal/orders"
	"logistics/pkg/domain"
)

// Sheet names.
const (
	SheetKits         = "kits"
	SheetKitsCursor   = "kits_update"
	SheetCourier      = "courier"
	SheetCourierStamp = "courier_update"
)

// Report columns read by the kits-shipped refresh.
const (
	ColBEMS     = "BEMS"
	ColZipcode  = "Zipcode"
	ColZipcode2 = "Zipcode 2"
)

const (
	cursorColumn = "last_import"
	cursorLayout = "2006-01-02 15:04"
	scanOther    = "SCAN_OTHER"
)

// KitsHeader is the column layout of the kits sheet.
var KitsHeader = []string{"BEMS", "Zipcode", "Project"}

var fiveDigits = regexp.MustCompile(`\d{5}`)

// ReportSource fetches a project report.
type ReportSource interface {
	FetchReport(ctx context.Context, p config.Project, reportID string) (domain.Table, error)
}

// Option configures a dashboard job.
type Option func(*settings)

type settings struct {
	now func() time.Time
}

// WithClock overrides the wall clock used for cursors and stamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func apply(opts []Option) settings {
	s := settings{now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// KitsResult summarizes one kits-shipped refresh.
type KitsResult struct {
	Since     time.Time
	Rows      [][]string
	Failed    map[string]error
	Committed bool
}

// KitsShipped appends kits that passed back-end scanning since the last
// import to the kits sheet.
type KitsShipped struct {
	source ReportSource
	sheets domain.SheetStore
	logger *zap.Logger
	now    func() time.Time
}

// NewKitsShipped builds the kits-shipped job.
func NewKitsShipped(source ReportSource, sheets domain.SheetStore, logger *zap.Logger, opts ...Option) *KitsShipped {
	s := apply(opts)
	return &KitsShipped{source: source, sheets: sheets, logger: logging.OrNop(logger), now: s.now}
}

// Run collects kits from every project with a kits report. Rows and cursor
// are written together and only when every project was read, so the next
// run covers the same window again without duplicating rows.
func (k *KitsShipped) Run(ctx context.Context, projects []config.Project, commit bool) (KitsResult, error) {
	since, err := k.cursor(ctx)
	if err != nil {
		return KitsResult{}, err
	}
	res := KitsResult{Since: since, Failed: make(map[string]error)}
	k.logger.Info("collecting kits shipped", zap.Time("since", since))

	for _, p := range projects {
		if p.Reports.KitsShipped == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		logger := k.logger.With(zap.String("project", p.Name))
		table, err := k.source.FetchReport(ctx, p, p.Reports.KitsShipped)
		if err != nil {
			logger.Error("failed to fetch kits report", zap.Error(err))
			res.Failed[p.Name] = err
			continue
		}
		rows := shippedRows(p, table, since, logger)
		logger.Info("kits shipped", zap.Int("count", len(rows)))
		res.Rows = append(res.Rows, rows...)
	}

	if !commit {
		k.logger.Info("dry run, kits sheet not updated", zap.Int("rows", len(res.Rows)))
		return res, nil
	}
	if len(res.Failed) > 0 {
		k.logger.Warn("kits sheet not updated, some projects failed", zap.Int("failed", len(res.Failed)))
		return res, nil
	}
	if len(res.Rows) > 0 {
		if err := k.sheets.Append(ctx, SheetKits, KitsHeader, res.Rows); err != nil {
			return res, fmt.Errorf("append kits: %w", err)
		}
	}
	stamp := domain.Sheet{Header: []string{cursorColumn}, Rows: [][]string{{k.now().Format(cursorLayout)}}}
	if err := k.sheets.Replace(ctx, SheetKitsCursor, stamp); err != nil {
		return res, fmt.Errorf("update kits cursor: %w", err)
	}
	res.Committed = true
	return res, nil
}

func (k *KitsShipped) cursor(ctx context.Context) (time.Time, error) {
	sheet, err := k.sheets.Read(ctx, SheetKitsCursor)
	if err != nil {
		return time.Time{}, fmt.Errorf("read kits cursor: %w", err)
	}
	raw := strings.TrimSpace(sheet.Cell(0, cursorColumn))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(cursorLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse kits cursor %q: %w", raw, err)
	}
	return t, nil
}

// shippedRows keeps rows scanned at or after since. The zipcode falls back
// to the secondary column, then to the enrollment row.
func shippedRows(p config.Project, table domain.Table, since time.Time, logger *zap.Logger) [][]string {
	var out [][]string
	for _, r := range table.Rows() {
		bems := strings.TrimSpace(r.Get(ColBEMS))
		if bems == "" {
			continue
		}
		scanned, ok := orders.ParseDate(bems, "")
		if !ok {
			logger.Warn("unparsable back-end scan date", zap.String("record", r.Key.String()), zap.String("value", bems))
			continue
		}
		if scanned.Before(since) {
			continue
		}
		zip := cleanZip(r.Get(ColZipcode))
		if zip == "" {
			zip = cleanZip(r.Get(ColZipcode2))
		}
		if zip == "" && p.EnrollmentEvent != "" {
			if enr, ok := table.Find(r.Key.EntityID, p.EnrollmentEvent); ok {
				zip = cleanZip(enr.Get(ColZipcode))
			}
		}
		out = append(out, []string{bems, zip, projectTag(p, zip)})
	}
	return out
}

func projectTag(p config.Project, zip string) string {
	if p.Strategy != config.StrategySCAN {
		return p.Name
	}
	if tag, ok := p.Zipcodes.County(zip); ok {
		return tag
	}
	return scanOther
}

// cleanZip extracts the zipcode from labelled values such as
// "<b>98101</b>" and drops a trailing ".0".
func cleanZip(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "<") {
		return fiveDigits.FindString(raw)
	}
	return strings.TrimSuffix(raw, ".0")
}

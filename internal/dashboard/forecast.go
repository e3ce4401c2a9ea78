package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"logistics/internal/logging"
	"logistics/internal/orders"
	"logistics/pkg/domain"
)

// SheetForecast receives one snapshot of weekday volumes per run.
const SheetForecast = "forecast"

// forecastWindow spans three full weeks ending yesterday.
const forecastWindow = 22 * 24 * time.Hour

// ForecastHeader is the column layout of the forecast sheet.
var ForecastHeader = []string{"project", "weekday", "kits", "forecasted"}

// ForecastResult summarizes one forecast snapshot.
type ForecastResult struct {
	Rows      [][]string
	Committed bool
}

// Forecast counts recent kits per project and weekday from the kits sheet.
type Forecast struct {
	sheets domain.SheetStore
	logger *zap.Logger
	now    func() time.Time
}

// NewForecast builds the forecast job.
func NewForecast(sheets domain.SheetStore, logger *zap.Logger, opts ...Option) *Forecast {
	s := apply(opts)
	return &Forecast{sheets: sheets, logger: logging.OrNop(logger), now: s.now}
}

type forecastKey struct {
	project string
	weekday time.Weekday
}

// Run appends the snapshot to the forecast sheet when commit is set. Kits
// scanned today are left out since the day is not over.
func (f *Forecast) Run(ctx context.Context, commit bool) (ForecastResult, error) {
	kits, err := f.sheets.Read(ctx, SheetKits)
	if err != nil {
		return ForecastResult{}, fmt.Errorf("read kits: %w", err)
	}
	now := f.now()
	today := now.Format(time.DateOnly)
	cutoff := now.Add(-forecastWindow)

	counts := make(map[forecastKey]int)
	for i := range kits.Rows {
		scanned, ok := orders.ParseDate(kits.Cell(i, "BEMS"), "")
		if !ok || scanned.Before(cutoff) || scanned.Format(time.DateOnly) >= today {
			continue
		}
		project := strings.TrimSpace(kits.Cell(i, "Project"))
		if project == "" {
			continue
		}
		counts[forecastKey{project: project, weekday: scanned.Weekday()}]++
	}

	keys := make([]forecastKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].project != keys[j].project {
			return keys[i].project < keys[j].project
		}
		return mondayFirst(keys[i].weekday) < mondayFirst(keys[j].weekday)
	})
	var res ForecastResult
	for _, k := range keys {
		res.Rows = append(res.Rows, []string{k.project, k.weekday.String(), strconv.Itoa(counts[k]), today})
	}
	f.logger.Info("forecast computed", zap.Int("rows", len(res.Rows)), zap.Time("since", cutoff))

	if !commit {
		f.logger.Info("dry run, forecast sheet not updated")
		return res, nil
	}
	if len(res.Rows) > 0 {
		if err := f.sheets.Append(ctx, SheetForecast, ForecastHeader, res.Rows); err != nil {
			return res, fmt.Errorf("append forecast: %w", err)
		}
	}
	res.Committed = true
	return res, nil
}

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}

package orders

import (
	"context"

	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/pkg/domain"
)

// scan exports every row of a flat report, translating coded zipcodes and
// tagging each order with its county sublocation.
type scan struct {
	project config.Project
	logger  *zap.Logger
}

// NewSCAN builds the flat-report strategy with zipcode mapping.
func NewSCAN(p config.Project, logger *zap.Logger) Strategy {
	return &scan{project: p, logger: logger}
}

func (s *scan) Name() string { return config.StrategySCAN }

func (s *scan) FilterOrders(ctx context.Context, table domain.Table) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table = normalizeDates(table, s.project.OrderDateLayout, s.logger, ColOrderDate).Map(s.labelZipcode)
	out := passthroughOrders(table, s.project.Name, s.logger)
	for i := range out {
		tag, ok := s.project.Zipcodes.County(out[i].Address.Zipcode)
		if !ok {
			s.logger.Warn("could not assign county sublocation",
				zap.String("record", out[i].EntityID),
				zap.String("zipcode", out[i].Address.Zipcode))
			continue
		}
		out[i].Project = tag
	}
	return out, nil
}

// labelZipcode replaces a coded zipcode with its label. Codes without a
// label are left as-is.
func (s *scan) labelZipcode(r domain.Record) domain.Record {
	raw, ok := r.Lookup("Zipcode")
	if !ok {
		return r
	}
	label, ok := s.project.Zipcodes.Labels[raw]
	if !ok {
		return r
	}
	return r.With(map[string]string{"Zipcode": label})
}

// passthrough converts every row of a report without further filtering.
type passthrough struct {
	project config.Project
	logger  *zap.Logger
}

// NewPassthrough builds a strategy for projects with a pre-filtered report.
func NewPassthrough(p config.Project, logger *zap.Logger) Strategy {
	return &passthrough{project: p, logger: logger}
}

func (s *passthrough) Name() string { return config.StrategyPassthrough }

func (s *passthrough) FilterOrders(ctx context.Context, table domain.Table) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table = normalizeDates(table, s.project.OrderDateLayout, s.logger, ColOrderDate)
	return passthroughOrders(table, s.project.Name, s.logger), nil
}

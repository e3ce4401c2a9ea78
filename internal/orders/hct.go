package orders

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/pkg/domain"
)

// hct orders one kit per participant from their latest encounter.
type hct struct {
	project config.Project
	logger  *zap.Logger
}

// NewHCT builds the encounter-based strategy.
func NewHCT(p config.Project, logger *zap.Logger) Strategy {
	if p.EnrollmentEvent == "" {
		p.EnrollmentEvent = "enrollment_arm_1"
	}
	if p.OrderEvent == "" {
		p.OrderEvent = "encounter_arm_1"
	}
	return &hct{project: p, logger: logger}
}

func (s *hct) Name() string { return config.StrategyHCT }

func (s *hct) FilterOrders(ctx context.Context, table domain.Table) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table = normalizeDates(table, s.project.OrderDateLayout, s.logger, ColOrderDate)
	if !s.project.Longitudinal {
		return passthroughOrders(table, s.project.Name, s.logger), nil
	}

	enrollments := table.Filter(func(r domain.Record) bool {
		return strings.Contains(r.Key.Event, s.project.EnrollmentEvent)
	})
	candidates := table.Filter(func(r domain.Record) bool {
		_, dated := r.Lookup(ColOrderDate)
		return dated && strings.Contains(r.Key.Event, s.project.OrderEvent)
	})
	latest := latestPerEntity(candidates.Rows(), ColOrderDate)
	s.logger.Debug("hct candidates", zap.Int("rows", candidates.Len()), zap.Int("entities", len(latest)))

	return resolveAll(latest, enrollments, s.project.EnrollmentEvent, s.logger, func(r domain.Record) (domain.Order, error) {
		return deliveryOrder(r, r.Key.EntityID, s.project.Name)
	}), nil
}

// passthroughOrders converts every row of a non-longitudinal report.
func passthroughOrders(table domain.Table, project string, logger *zap.Logger) []domain.Order {
	out := make([]domain.Order, 0, table.Len())
	for _, r := range table.Rows() {
		o, err := deliveryOrder(r, r.Key.EntityID, project)
		if err != nil {
			logger.Warn("skipping order row", zap.String("record", r.Key.String()), zap.Error(err))
			continue
		}
		out = append(out, o)
	}
	return out
}

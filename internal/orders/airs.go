package orders

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/pkg/domain"
)

// Weekly order fields and their secondary-week counterparts, positionally aligned.
var (
	airsPrimary = []string{
		"Order Date", "Today Tomorrow", "Street Address 2", "Apt Number 2",
		"City 2", "State 2", "Zipcode 2", "Delivery Instructions", "Pickup Location",
	}
	airsSecondary = []string{
		"Order Date 2", "Today Tomorrow 2", "Street Address 3", "Apt Number 3",
		"City 3", "State 3", "Zipcode 3", "Delivery Instructions 2", "Pickup Location 2",
	}
)

type airs struct {
	project config.Project
	logger  *zap.Logger
}

// NewAIRS builds the weekly-survey strategy.
func NewAIRS(p config.Project, logger *zap.Logger) Strategy {
	if p.EnrollmentEvent == "" {
		p.EnrollmentEvent = "screening_and_enro_arm_1"
	}
	if p.OrderEvent == "" {
		p.OrderEvent = "week"
	}
	return &airs{project: p, logger: logger}
}

func (s *airs) Name() string { return config.StrategyAIRS }

func (s *airs) FilterOrders(ctx context.Context, table domain.Table) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table = normalizeDates(table, s.project.OrderDateLayout, s.logger, "Order Date", "Order Date 2")
	if !s.project.Longitudinal {
		return passthroughOrders(table, s.project.Name, s.logger), nil
	}

	enrollments := table.Filter(func(r domain.Record) bool {
		return strings.Contains(r.Key.Event, s.project.EnrollmentEvent)
	})
	candidates := table.Filter(func(r domain.Record) bool {
		if !strings.Contains(r.Key.Event, s.project.OrderEvent) {
			return false
		}
		_, primary := r.Lookup("Order Date")
		_, secondary := r.Lookup("Order Date 2")
		return primary || secondary
	}).Map(preferSecondaryWeek)

	latest := latestPerEntity(candidates.Rows(), ColOrderDate)
	return resolveAll(latest, enrollments, s.project.EnrollmentEvent, s.logger, func(r domain.Record) (domain.Order, error) {
		return deliveryOrder(r, r.Key.EntityID, s.project.Name)
	}), nil
}

// preferSecondaryWeek remaps the secondary week's fields onto the primary
// names when more than half of them are populated. Otherwise a missing
// primary order date is taken from the secondary week.
func preferSecondaryWeek(r domain.Record) domain.Record {
	populated := 0
	for _, col := range airsSecondary {
		if _, ok := r.Lookup(col); ok {
			populated++
		}
	}
	if populated*2 <= len(airsSecondary) {
		if _, ok := r.Lookup(ColOrderDate); !ok {
			return r.With(map[string]string{ColOrderDate: r.Get("Order Date 2")})
		}
		return r
	}
	updates := make(map[string]string, len(airsPrimary))
	for i, col := range airsPrimary {
		updates[col] = r.Get(airsSecondary[i])
	}
	return r.With(updates)
}

package orders

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/pkg/domain"
)

// Cascadia symptom-survey columns.
const (
	ColPickup1        = "Pickup 1"
	ColPickup2        = "Pickup 2"
	ColReturnTracking = "ss_return_tracking"
	ColTriggerSwab    = "ss_trigger_swab"
	ColNotification   = "Notification Pref"

	// cascadiaBaseEvent carries household-wide values such as the study region.
	cascadiaBaseEvent = "0_arm_1"
)

// cascadia schedules sample pickups for symptom surveys that have a pickup
// window but no return tracking number yet.
type cascadia struct {
	project config.Project
	logger  *zap.Logger
}

// NewCascadia builds the household pickup strategy.
func NewCascadia(p config.Project, logger *zap.Logger) Strategy {
	return &cascadia{project: p, logger: logger}
}

func (s *cascadia) Name() string { return config.StrategyCascadia }

func (s *cascadia) FilterOrders(ctx context.Context, table domain.Table) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table = normalizeDates(table, s.project.OrderDateLayout, s.logger, ColOrderDate)

	enrollments := s.enrollments(table)
	candidates := table.Filter(func(r domain.Record) bool {
		if r.Key.Instrument != domain.InstrumentSymptomSurvey {
			return false
		}
		if _, tracked := r.Lookup(ColReturnTracking); tracked {
			return false
		}
		_, p1 := r.Lookup(ColPickup1)
		_, p2 := r.Lookup(ColPickup2)
		if !p1 && !p2 {
			return false
		}
		if !truthy(r.Get(ColTriggerSwab)) {
			return false
		}
		_, dated := r.Lookup(ColOrderDate)
		return dated
	})

	latest := latestPerParticipant(candidates.Rows(), ColOrderDate)
	s.logger.Debug("cascadia candidates", zap.Int("rows", candidates.Len()), zap.Int("participants", len(latest)))

	return resolveAll(latest, enrollments, "", s.logger, s.build), nil
}

// enrollments returns every non symptom-survey row with the household's
// study region copied from its base event.
func (s *cascadia) enrollments(table domain.Table) domain.Table {
	rows := table.Filter(func(r domain.Record) bool {
		return r.Key.Instrument != domain.InstrumentSymptomSurvey
	})
	index := rows.Index()
	return rows.Map(func(r domain.Record) domain.Record {
		base, ok := index.Find(r.Key.EntityID, cascadiaBaseEvent)
		if !ok {
			return r
		}
		return r.With(map[string]string{ColProjectName: base.Get(ColProjectName)})
	})
}

func (s *cascadia) build(r domain.Record) (domain.Order, error) {
	o, err := deliveryOrder(r, r.Get(ColRecordID), s.sublocation(r))
	if err != nil {
		return domain.Order{}, err
	}
	day := 1
	if code, ok := parseCode(r.Get(ColPickup1)); ok && code == 1 {
		day = 0
	}
	o.Type = domain.OrderReturn
	o.HouseholdID = r.Key.EntityID
	o.PickupDay = &day
	o.Contact.NotificationPref = "email"
	return o, nil
}

// sublocation maps the household study region code to the carrier project
// tag. Unknown codes keep the project name.
func (s *cascadia) sublocation(r domain.Record) string {
	raw := r.Get(ColProjectName)
	key := raw
	if code, ok := parseCode(raw); ok {
		key = fmt.Sprint(code)
	}
	if tag, ok := s.project.Sublocations[key]; ok {
		return tag
	}
	s.logger.Warn("could not assign sublocation",
		zap.String("record", r.Key.String()),
		zap.String("region", raw))
	return s.project.Name
}

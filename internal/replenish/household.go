package replenish

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"logistics/internal/address"
	"logistics/internal/orders"
	"logistics/pkg/domain"
)

// template is a household's address and contact shared by every kit line.
type template struct {
	order domain.Order
}

func (t template) kit(kind domain.OrderType, qty int) domain.Order {
	o := t.order
	o.Type = kind
	o.SKU = kind.SKU()
	o.Quantity = qty
	return o
}

// householdOrder resolves where a household's kits ship to. The newest
// symptom survey with a complete secondary address wins; otherwise the head
// of household's enrollment address is used. Names, email, phone and
// delivery instructions always come from the enrollment row.
func (p *Planner) householdOrder(hh string, rows domain.Table) (template, error) {
	headIdx := p.headOfHousehold(hh, rows)
	enrollment, ok := rows.Find(hh, fmt.Sprintf("%d_arm_1", headIdx))
	if !ok {
		return template{}, fmt.Errorf("%w for head of household %d", address.ErrNoEnrollment, headIdx)
	}

	addr := address.FromRecord(enrollment)
	source := enrollment.Key
	if survey, ok := newestSurveyAddress(rows); ok {
		addr = domain.Address{
			Street:    survey.Get("Street Address 2"),
			Apartment: survey.Get("Apt Number 2"),
			City:      survey.Get("City 2"),
			State:     survey.Get("State 2"),
			Zipcode:   survey.Get("Zipcode 2"),
		}
		source = survey.Key
		p.logger.Debug("using symptom survey address", zap.String("household", hh), zap.String("record", survey.Key.String()))
	}

	return template{order: domain.Order{
		EntityID:             hh,
		HouseholdID:          hh,
		Project:              p.sublocation(hh, rows),
		OrderDate:            p.now(),
		Address:              addr,
		Contact:              address.ContactFromRecord(enrollment),
		DeliveryInstructions: enrollment.Get(orders.ColInstructions),
		Source:               source,
	}}, nil
}

// headOfHousehold reads the first HH Reporter pointer in the household,
// defaulting to participant 0.
func (p *Planner) headOfHousehold(hh string, rows domain.Table) int {
	for _, r := range rows.Rows() {
		raw, ok := r.Lookup(ColHHReporter)
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return int(f)
		}
	}
	p.logger.Warn("no head of household, falling back to participant 0", zap.String("household", hh))
	return 0
}

// newestSurveyAddress returns the most recently completed symptom survey
// whose secondary street, city and state are all present.
func newestSurveyAddress(rows domain.Table) (domain.Record, bool) {
	surveys := rows.Filter(func(r domain.Record) bool {
		if r.Key.Instrument != domain.InstrumentSymptomSurvey {
			return false
		}
		_, street := r.Lookup("Street Address 2")
		_, city := r.Lookup("City 2")
		_, state := r.Lookup("State 2")
		return street && city && state
	}).Rows()
	if len(surveys) == 0 {
		return domain.Record{}, false
	}
	sort.SliceStable(surveys, func(i, j int) bool {
		return surveyDate(surveys[i]).After(surveyDate(surveys[j]))
	})
	return surveys[0], true
}

func surveyDate(r domain.Record) time.Time {
	t, _ := orders.ParseDate(r.Get(FieldSurveyDate), "")
	return t
}

// sublocation maps the household's study region code to a carrier tag.
func (p *Planner) sublocation(hh string, rows domain.Table) string {
	for _, r := range rows.Rows() {
		raw, ok := r.Lookup(orders.ColProjectName)
		if !ok {
			continue
		}
		key := raw
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			key = strconv.Itoa(int(f))
		}
		if tag, ok := p.project.CarrierSublocations[key]; ok {
			return tag
		}
		break
	}
	p.logger.Warn("no valid project assignment for household", zap.String("household", hh))
	return p.project.Name
}

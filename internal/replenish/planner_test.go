package replenish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"logistics/internal/config"
	"logistics/pkg/domain"
)

var today = time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)

func cascadia() config.Project {
	return config.Project{
		Name:                "Cascadia",
		Strategy:            config.StrategyCascadia,
		CarrierSublocations: map[string]string{"1": "Cascadia_PDX", "2": "Cascadia_SEA"},
		Reports:             config.Reports{CarrierOrders: "1144", Serial: "1711", Pauses: []string{"1897", "1900"}},
	}
}

func planner() *Planner {
	return NewPlanner(cascadia(), zap.NewNop(), WithClock(func() time.Time { return today }))
}

type builder struct {
	rows []domain.Record
}

func (b *builder) base(hh, event string, fields map[string]string) *builder {
	b.rows = append(b.rows, domain.NewRecord(domain.RecordKey{EntityID: hh, Event: event}, len(b.rows), fields))
	return b
}

func (b *builder) repeat(hh, event, instrument string, instance int, fields map[string]string) *builder {
	key := domain.RecordKey{EntityID: hh, Event: event, Instrument: instrument, Instance: instance}
	b.rows = append(b.rows, domain.NewRecord(key, len(b.rows), fields))
	return b
}

func (b *builder) barcodes(hh, event string, n int) *builder {
	fields := map[string]string{FieldBarcodesComplete: "2"}
	for i := 1; i <= n; i++ {
		fields["assign_barcode_"+string(rune('0'+i))] = "KIT"
	}
	return b.repeat(hh, event, domain.InstrumentSwabBarcodes, 1, fields)
}

func (b *builder) returns(hh, event string, n int) *builder {
	for i := 1; i <= n; i++ {
		b.repeat(hh, event, domain.InstrumentSymptomSurvey, i, map[string]string{FieldReturnTracking: "TRK"})
	}
	return b
}

func (b *builder) table() domain.Table { return domain.NewTable(nil, b.rows).Sorted() }

func enrolled(fields map[string]string) map[string]string {
	out := map[string]string{FieldEnrollmentComplete: "2", FieldConsentComplete: "2"}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func TestPlanTwoParticipantHousehold(t *testing.T) {
	b := &builder{}
	b.base("500", "household_arm_1", map[string]string{"Project Name": "2"})
	b.base("500", "0_arm_1", enrolled(map[string]string{"HH Reporter": "1", "Street Address": "0 Wrong Way"}))
	b.base("500", "1_arm_1", enrolled(map[string]string{
		"Street Address": "1 Main St", "City": "Seattle", "State": "WA", "Zipcode": "98101",
		"First Name": "Beatrice", "Pref First Name": "Bea", "Last Name": "B", "Email": "b@example.org",
		"Delivery Instructions": "porch",
	}))
	b.barcodes("500", "1_arm_1", 5).returns("500", "1_arm_1", 3)

	got, err := planner().Plan(context.Background(), Reports{Orders: b.table()})
	require.NoError(t, err)
	require.Len(t, got, 2)

	welcome, resupply := got[0], got[1]
	assert.Equal(t, domain.OrderWelcome, welcome.Type)
	assert.Equal(t, domain.SKUWelcome, welcome.SKU)
	assert.Equal(t, 1, welcome.Quantity)

	assert.Equal(t, domain.OrderResupply, resupply.Type)
	assert.Equal(t, domain.SKUResupply, resupply.SKU)
	assert.Equal(t, 4, resupply.Quantity)

	for _, o := range got {
		assert.Equal(t, "500", o.HouseholdID)
		assert.Equal(t, "Cascadia_SEA", o.Project)
		assert.Equal(t, domain.Address{Street: "1 Main St", City: "Seattle", State: "WA", Zipcode: "98101"}, o.Address)
		assert.Equal(t, "Bea", o.Contact.DisplayFirstName())
		assert.Equal(t, "porch", o.DeliveryInstructions)
		assert.Equal(t, today, o.OrderDate)
	}
}

func TestPlanResuppliesWholeHousehold(t *testing.T) {
	b := &builder{}
	b.base("7", "0_arm_1", enrolled(map[string]string{"City": "Portland", "Project Name": "1"}))
	b.base("7", "1_arm_1", enrolled(nil))
	b.barcodes("7", "0_arm_1", 2)
	b.barcodes("7", "1_arm_1", 9).returns("7", "1_arm_1", 1)

	got, err := planner().Plan(context.Background(), Reports{Orders: b.table()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	// 6-2 for participant 0, max(6-8, 0) for participant 1.
	assert.Equal(t, 4, got[0].Quantity)
	assert.Equal(t, "Cascadia_PDX", got[0].Project)
}

func TestPlanSkipsPausedParticipants(t *testing.T) {
	b := &builder{}
	b.base("9", "0_arm_1", enrolled(map[string]string{"City": "Seattle"}))
	b.barcodes("9", "0_arm_1", 1)

	pause := func(start, end string) domain.Table {
		return domain.NewTable(nil, []domain.Record{
			domain.NewRecord(domain.RecordKey{EntityID: "9", Event: "0_arm_1", Instrument: "study_pause", Instance: 1}, 0,
				map[string]string{FieldPauseStart: start, FieldPauseEnd: end}),
		})
	}

	got, err := planner().Plan(context.Background(), Reports{Orders: b.table(), Pauses: pause("2024-06-01", "2024-06-10")})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = planner().Plan(context.Background(), Reports{Orders: b.table(), Pauses: pause("2024-05-01", "2024-06-09")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Quantity)
}

func TestPlanHoldsWelcomeKitsUntilEnrollmentComplete(t *testing.T) {
	b := &builder{}
	b.base("3", "0_arm_1", enrolled(map[string]string{"City": "Seattle"}))
	b.base("3", "1_arm_1", map[string]string{FieldEnrollmentComplete: "0"})

	got, err := planner().Plan(context.Background(), Reports{Orders: b.table()})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPlanIgnoresUnconsentedParticipants(t *testing.T) {
	b := &builder{}
	b.base("4", "0_arm_1", map[string]string{FieldEnrollmentComplete: "2", FieldConsentComplete: "1", "City": "Seattle"})

	got, err := planner().Plan(context.Background(), Reports{Orders: b.table()})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPlanSerialKits(t *testing.T) {
	b := &builder{}
	b.base("12", "0_arm_1", enrolled(map[string]string{FieldParticipantID: "P1", "City": "Seattle"}))
	b.base("12", "1_arm_1", enrolled(map[string]string{FieldParticipantID: "P2"}))
	b.barcodes("12", "0_arm_1", 6)
	b.barcodes("12", "1_arm_1", 6)
	serial := domain.NewTable(nil, []domain.Record{
		domain.NewRecord(domain.RecordKey{EntityID: "12", Event: "0_arm_1"}, 0, map[string]string{FieldSerialParticipant: "P1"}),
		domain.NewRecord(domain.RecordKey{EntityID: "12", Event: "1_arm_1"}, 1, map[string]string{FieldSerialParticipant: "P2"}),
	})

	got, err := planner().Plan(context.Background(), Reports{Orders: b.table(), Serial: serial})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, o := range got {
		assert.Equal(t, domain.OrderSerial, o.Type)
		assert.Equal(t, domain.SKUSerial, o.SKU)
		assert.Equal(t, 1, o.Quantity)
	}
}

func TestHouseholdAddressPrefersNewestCompleteSurvey(t *testing.T) {
	b := &builder{}
	b.base("20", "0_arm_1", enrolled(map[string]string{"Street Address": "1 Enroll", "City": "Seattle", "State": "WA", "Email": "e@example.org"}))
	b.repeat("20", "0_arm_1", domain.InstrumentSymptomSurvey, 1, map[string]string{
		FieldSurveyDate: "2024-03-01", "Street Address 2": "2 Older", "City 2": "Tacoma", "State 2": "WA",
	})
	b.repeat("20", "0_arm_1", domain.InstrumentSymptomSurvey, 2, map[string]string{
		FieldSurveyDate: "2024-05-01", "Street Address 2": "3 Newer", "City 2": "Everett", "State 2": "WA", "Zipcode 2": "98201",
	})
	b.repeat("20", "0_arm_1", domain.InstrumentSymptomSurvey, 3, map[string]string{
		FieldSurveyDate: "2024-06-01", "Street Address 2": "4 Partial",
	})

	tmpl, err := planner().householdOrder("20", b.table())
	require.NoError(t, err)
	o := tmpl.order
	assert.Equal(t, domain.Address{Street: "3 Newer", City: "Everett", State: "WA", Zipcode: "98201"}, o.Address)
	assert.Equal(t, "e@example.org", o.Contact.Email)
	assert.Equal(t, 2, o.Source.Instance)
	assert.Equal(t, "Cascadia", o.Project)
}

func TestHouseholdWithoutEnrollmentIsSkipped(t *testing.T) {
	b := &builder{}
	b.base("30", "1_arm_1", enrolled(nil))

	got, err := planner().Plan(context.Background(), Reports{Orders: b.table()})
	require.NoError(t, err)
	assert.Empty(t, got)
}

type stubSource struct {
	calls []string
	fail  string
}

func (s *stubSource) FetchReport(_ context.Context, _ config.Project, id string) (domain.Table, error) {
	s.calls = append(s.calls, id)
	if id == s.fail {
		return domain.Table{}, errors.New("boom")
	}
	return domain.NewTable([]string{"r" + id}, []domain.Record{
		domain.NewRecord(domain.RecordKey{EntityID: id}, 0, nil),
	}), nil
}

func TestFetchReports(t *testing.T) {
	src := &stubSource{}
	r, err := FetchReports(context.Background(), src, cascadia())
	require.NoError(t, err)
	assert.Equal(t, []string{"1144", "1711", "1897", "1900"}, src.calls)
	assert.Equal(t, 2, r.Pauses.Len())
	assert.Equal(t, []string{"r1897", "r1900"}, r.Pauses.Columns())

	_, err = FetchReports(context.Background(), &stubSource{fail: "1900"}, cascadia())
	assert.Error(t, err)

	p := cascadia()
	p.Reports.CarrierOrders = ""
	_, err = FetchReports(context.Background(), src, p)
	assert.ErrorIs(t, err, config.ErrProjectConfig)
}

// Package export renders orders into the carrier file formats: one row per
// participant for the delivery service and one row per household kit line
// for the postal carrier.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"logistics/internal/logging"
	"logistics/pkg/domain"
)

// Format selects an export layout.
type Format string

// Supported formats. The value is the file name prefix.
const (
	FormatDelivery Format = "DeliveryExpress"
	FormatCarrier  Format = "USPS"
)

// Column layouts, in file order.
var (
	DeliveryColumns = []string{
		"Record Id", "Today Tomorrow", "Order Date", "Project Name", "First Name",
		"Last Name", "Street Address", "Apt Number", "City", "State", "Zipcode",
		"Delivery Instructions", "Email", "Phone", "Notification Pref", "Pickup Location",
	}
	CarrierColumns = []string{
		"OrderID", "Household ID", "Quantity", "SKU", "Order Date", "Project Name",
		"Pref First Name", "Last Name", "Street Address", "Apt Number", "City", "State",
		"Zipcode", "Delivery Instructions", "Email", "Phone",
	}
)

const (
	fileStamp   = "2006_01_02_15_04"
	dateTime    = "2006-01-02 15:04:05"
	dateOnly    = "2006-01-02"
	contentType = "text/csv"
)

// Artifact is a rendered export file.
type Artifact struct {
	Name        string
	Format      Format
	ContentType string
	Rows        int
	Payload     []byte
	CreatedAt   time.Time
}

// FileName returns the export file name for a format at t.
func FileName(f Format, t time.Time) string {
	return fmt.Sprintf("%sOrder_%s.csv", f, t.Format(fileStamp))
}

// Renderer converts orders into export artifacts.
type Renderer struct {
	now    func() time.Time
	logger *zap.Logger
}

// NewRenderer builds a renderer. A nil clock uses time.Now.
func NewRenderer(now func() time.Time, logger *zap.Logger) *Renderer {
	if now == nil {
		now = time.Now
	}
	return &Renderer{now: now, logger: logging.OrNop(logger)}
}

// Render builds the artifact for orders in the given format.
func (r *Renderer) Render(f Format, orders []domain.Order) (Artifact, error) {
	now := r.now()
	var (
		columns []string
		rows    [][]string
	)
	switch f {
	case FormatDelivery:
		columns, rows = DeliveryColumns, r.deliveryRows(orders)
	case FormatCarrier:
		columns, rows = CarrierColumns, r.carrierRows(orders, now)
	default:
		return Artifact{}, fmt.Errorf("unsupported export format %q", f)
	}

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(columns); err != nil {
		return Artifact{}, err
	}
	if err := writer.WriteAll(rows); err != nil {
		return Artifact{}, err
	}
	r.logProjects(f, orders)
	return Artifact{
		Name:        FileName(f, now),
		Format:      f,
		ContentType: contentType,
		Rows:        len(rows),
		Payload:     buf.Bytes(),
		CreatedAt:   now,
	}, nil
}

func (r *Renderer) deliveryRows(orders []domain.Order) [][]string {
	out := make([][]string, 0, len(orders))
	for _, o := range orders {
		id, ok := integer(o.EntityID)
		if !ok {
			r.logger.Warn("dropping order without integer record id",
				zap.String("record", o.Source.String()),
				zap.String("entity_id", o.EntityID))
			continue
		}
		apt := o.Address.Apartment
		if apt != "" {
			apt = " " + apt
		}
		out = append(out, []string{
			id,
			pickupDay(o.PickupDay),
			formatDate(o.OrderDate),
			o.Project,
			o.Contact.FirstName,
			o.Contact.LastName,
			o.Address.Street,
			apt,
			o.Address.City,
			o.Address.State,
			zipcode(o.Address.Zipcode),
			o.DeliveryInstructions,
			o.Contact.Email,
			o.Contact.Phone,
			o.Contact.NotificationPref,
			o.PickupLocation,
		})
	}
	return out
}

func (r *Renderer) carrierRows(orders []domain.Order, now time.Time) [][]string {
	ids := NewOrderIDs(now)
	out := make([][]string, 0, len(orders))
	for _, o := range orders {
		if o.Address.Undeliverable() {
			r.logger.Warn("no valid address for household, skipping order",
				zap.String("household", o.HouseholdID),
				zap.String("type", string(o.Type)))
			continue
		}
		for _, line := range Split(o) {
			id := ids.Next(line.HouseholdID)
			r.logger.Info("appending kit order",
				zap.String("order_id", id),
				zap.String("household", line.HouseholdID),
				zap.Int("sku", int(line.SKU)),
				zap.Int("quantity", line.Quantity))
			out = append(out, []string{
				id,
				line.HouseholdID,
				strconv.Itoa(line.Quantity),
				strconv.Itoa(int(line.SKU)),
				formatDate(line.OrderDate),
				line.Project,
				line.Contact.DisplayFirstName(),
				line.Contact.LastName,
				line.Address.Street,
				line.Address.Apartment,
				line.Address.City,
				line.Address.State,
				zipcode(line.Address.Zipcode),
				line.DeliveryInstructions,
				line.Contact.Email,
				line.Contact.Phone,
			})
		}
	}
	return out
}

func (r *Renderer) logProjects(f Format, orders []domain.Order) {
	counts := CountByProject(orders)
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		r.logger.Info("orders by project",
			zap.String("format", string(f)),
			zap.String("project_name", n),
			zap.Int("count", counts[n]))
	}
}

// CountByProject tallies orders per project tag.
func CountByProject(orders []domain.Order) map[string]int {
	out := make(map[string]int)
	for _, o := range orders {
		out[o.Project]++
	}
	return out
}

func pickupDay(d *int) string {
	if d == nil {
		return ""
	}
	return strconv.Itoa(*d)
}

// formatDate writes a date-only value when the time of day is midnight.
func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(dateOnly)
	}
	return t.Format(dateTime)
}

// integer renders values such as "12" or "12.0" as "12".
func integer(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return strconv.FormatInt(n, 10), true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int64(f)) {
		return "", false
	}
	return strconv.FormatInt(int64(f), 10), true
}

// zipcode drops a float suffix such as "98101.0". Digit-only values are
// kept as written so leading zeros survive.
func zipcode(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" && strings.Trim(trimmed, "0123456789") == "" {
		return trimmed
	}
	if v, ok := integer(raw); ok {
		return v
	}
	return raw
}

package fulfillment

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"logistics/pkg/domain"
)

// TrackingField is the survey field holding the carrier return order id.
const TrackingField = "ss_return_tracking"

// Tracking pairs a pickup order with the carrier order that fulfils it.
type Tracking struct {
	Order   domain.Order
	OrderID string
}

// Reconcile looks up every order in turn. Orders without a qualifying carrier
// order are left out. The first search that exhausts its retries aborts the
// pass and returns the error along with matches found so far.
func (c *Client) Reconcile(ctx context.Context, orders []domain.Order) ([]Tracking, error) {
	var out []Tracking
	for _, o := range orders {
		id, ok, err := c.Lookup(ctx, o)
		if err != nil {
			return out, err
		}
		if !ok {
			continue
		}
		c.logger.Info("matched carrier order",
			zap.String("record", o.EntityID),
			zap.String("order_id", id))
		out = append(out, Tracking{Order: o, OrderID: id})
	}
	return out, nil
}

// ImportRecords converts matches into flat records that write the tracking
// number onto the exact survey instance each order came from.
func ImportRecords(idField string, matches []Tracking) []map[string]string {
	out := make([]map[string]string, 0, len(matches))
	for _, m := range matches {
		src := m.Order.Source
		out = append(out, map[string]string{
			idField:                    src.EntityID,
			"redcap_event_name":        src.Event,
			"redcap_repeat_instrument": src.Instrument,
			"redcap_repeat_instance":   strconv.Itoa(src.Instance),
			TrackingField:              m.OrderID,
		})
	}
	return out
}

package export

import (
	"time"

	"logistics/pkg/domain"
)

// Per-line quantity caps by SKU. SKUs without a cap ship on one line.
var lineCaps = map[domain.SKU]int{
	domain.SKUResupply: 20,
	domain.SKUWelcome:  4,
}

// Split breaks an order into carrier-compliant lines. Excess over the cap is
// split recursively and emitted before the capped line, so a resupply of 45
// becomes 5, 20, 20.
func Split(o domain.Order) []domain.Order {
	limit, ok := lineCaps[o.SKU]
	if !ok || o.Quantity <= limit {
		return []domain.Order{o}
	}
	rest := o
	rest.Quantity = o.Quantity - limit
	capped := o
	capped.Quantity = limit
	return append(Split(rest), capped)
}

// OrderIDs hands out run-unique carrier order ids of the form
// {YYMMDD}{household}, suffixed with a letter on collision.
type OrderIDs struct {
	prefix string
	used   map[string]struct{}
}

// NewOrderIDs starts an id sequence for a run on the given day.
func NewOrderIDs(day time.Time) *OrderIDs {
	return &OrderIDs{prefix: day.Format("060102"), used: make(map[string]struct{})}
}

// Next returns an unused id for household.
func (g *OrderIDs) Next(household string) string {
	id := g.prefix + household
	for {
		if _, taken := g.used[id]; !taken {
			break
		}
		id = bump(id)
	}
	g.used[id] = struct{}{}
	return id
}

// bump appends 'a' to an id ending in a digit, increments a trailing letter,
// and appends a fresh 'a' after 'z'.
func bump(id string) string {
	last := id[len(id)-1]
	switch {
	case last >= 'a' && last < 'z':
		return id[:len(id)-1] + string(last+1)
	default:
		return id + "a"
	}
}

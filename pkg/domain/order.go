package domain

import "time"

// OrderType distinguishes what a kit order is for.
type OrderType string

// Supported order types.
const (
	OrderDelivery OrderType = "delivery"
	OrderReturn   OrderType = "return"
	OrderResupply OrderType = "resupply"
	OrderWelcome  OrderType = "welcome"
	OrderSerial   OrderType = "serial"
)

// SKU is the carrier stock-keeping unit for a kit.
type SKU int

// Carrier SKUs.
const (
	SKUResupply SKU = 1
	SKUSerial   SKU = 2
	SKUWelcome  SKU = 3
)

// SKU maps a household kit order type to its carrier SKU. Delivery-service
// order types have no SKU and return 0.
func (t OrderType) SKU() SKU {
	switch t {
	case OrderResupply:
		return SKUResupply
	case OrderSerial:
		return SKUSerial
	case OrderWelcome:
		return SKUWelcome
	default:
		return 0
	}
}

// Address is the five-part postal address used on every order.
type Address struct {
	Street    string `json:"street,omitempty"`
	Apartment string `json:"apartment,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zipcode   string `json:"zipcode,omitempty"`
}

// Undeliverable reports whether street, city and state are all missing.
func (a Address) Undeliverable() bool {
	return a.Street == "" && a.City == "" && a.State == ""
}

// Contact holds who an order is addressed to and how to reach them.
type Contact struct {
	FirstName          string `json:"first_name,omitempty"`
	PreferredFirstName string `json:"preferred_first_name,omitempty"`
	LastName           string `json:"last_name,omitempty"`
	Email              string `json:"email,omitempty"`
	Phone              string `json:"phone,omitempty"`
	NotificationPref   string `json:"notification_pref,omitempty"`
}

// DisplayFirstName prefers the preferred first name.
func (c Contact) DisplayFirstName() string {
	if c.PreferredFirstName != "" {
		return c.PreferredFirstName
	}
	return c.FirstName
}

// Order is one kit shipment or pickup derived during a run. Orders are built
// once and never mutated after export.
type Order struct {
	EntityID             string    `json:"entity_id"`
	HouseholdID          string    `json:"household_id,omitempty"`
	Type                 OrderType `json:"type"`
	Project              string    `json:"project"`
	OrderDate            time.Time `json:"order_date,omitempty"`
	PickupDay            *int      `json:"pickup_day,omitempty"`
	Address              Address   `json:"address"`
	Contact              Contact   `json:"contact"`
	DeliveryInstructions string    `json:"delivery_instructions,omitempty"`
	PickupLocation       string    `json:"pickup_location,omitempty"`
	SKU                  SKU       `json:"sku,omitempty"`
	Quantity             int       `json:"quantity,omitempty"`
	Source               RecordKey `json:"source"`
}

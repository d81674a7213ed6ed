package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. Completed and cancelled are terminal; no transition
// leaves them.
const (
	OrderPending   = "pending"
	OrderCompleted = "completed"
	OrderCancelled = "cancelled"
)

type Order struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	IdempotencyKey   string          `json:"idempotency_key"`
	PaymentProvider  string          `json:"payment_provider"`
	PaymentReference string          `json:"payment_reference"`
	PaymentURL       string          `json:"payment_url,omitempty"`
	BuyerID          string          `json:"buyer_id"`
	BuyerEmail       string          `json:"buyer_email"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Discount         decimal.Decimal `json:"discount"`
	Total            decimal.Decimal `json:"total"`
	Attendees        []Attendee      `json:"attendees_snapshot"`
	CreatedAt        time.Time       `json:"created_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
}

// IsTerminal reports whether the order reached a final state.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderCompleted || o.Status == OrderCancelled
}

type OrderLineItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	EventID   string          `json:"event_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Attendee is the durable snapshot of one buyer-submitted attendee record,
// captured at order creation so ticket issuance survives cache eviction and
// process restarts.
type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Venue             string          `json:"venue"`
	StartTime         time.Time       `json:"start_time"`
	CapacityTotal     int             `json:"capacity_total"`
	CapacityAvailable int             `json:"capacity_available"`
	Price             decimal.Decimal `json:"price"`
	Status            string          `json:"status"` // upcoming, onsale, ended
}

// CapacityLogEntry is one row of the append-only capacity audit trail.
// The sum of deltas since event creation reconciles capacity_available.
type CapacityLogEntry struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Capacity log reasons.
const (
	CapacityReasonReserved      = "reserved"
	CapacityReasonPaymentFailed = "payment_failed"
	CapacityReasonGatewayError  = "gateway_error"
	CapacityReasonReconciled    = "issuance_reconciled"
	CapacityReasonAdmin         = "admin_adjustment"
)

package models

import (
	"time"
)

// Ticket statuses. Pending tickets exist only for manual-settlement orders
// and become issued when the settlement is confirmed. Validated and used are
// driven by on-site scanning.
const (
	TicketPending   = "pending"
	TicketIssued    = "issued"
	TicketValidated = "validated"
	TicketUsed      = "used"
	TicketCancelled = "cancelled"
)

type Ticket struct {
	ID            string     `json:"id"`
	LineItemID    string     `json:"order_line_item_id"`
	EventID       string     `json:"event_id"`
	HolderName    string     `json:"holder_name"`
	HolderEmail   string     `json:"holder_email"`
	ScanSignature string     `json:"scan_signature"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ScannedAt     *time.Time `json:"scanned_at,omitempty"`
}

// CountsTowardCapacity reports whether the ticket consumes a seat for the
// capacity invariant (issued, validated and used tickets do).
func (t *Ticket) CountsTowardCapacity() bool {
	switch t.Status {
	case TicketIssued, TicketValidated, TicketUsed:
		return true
	}
	return false
}

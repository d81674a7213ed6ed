package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Normalized provider statuses after mapping through the transition table.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusApproved  = "approved"
	PaymentStatusRejected  = "rejected"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusRefunded  = "refunded"
)

// PaymentNotification is the single internal shape every provider payload is
// normalized into before it reaches the reconciliation state machine. No
// provider-specific dictionary crosses that boundary.
type PaymentNotification struct {
	Provider  string          `json:"provider"`
	Reference string          `json:"external_reference"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Timestamp time.Time       `json:"timestamp"`
}

// PaymentSession is the result of opening a redirect-session with a provider.
type PaymentSession struct {
	SessionID  string    `json:"session_id"`
	PaymentURL string    `json:"payment_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ChargeResult is the provisional outcome of a direct server-side charge. It
// is funneled through the same reconciliation state machine as webhooks.
type ChargeResult struct {
	ChargeID string `json:"charge_id"`
	Status   string `json:"status"` // pending, approved, rejected
}

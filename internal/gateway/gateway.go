// Package gateway abstracts external payment providers behind one interface
// with two capability modes: redirect-session creation and direct
// server-side charge.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"tickethub/models"
)

// Mode is the integration style a provider exposes.
type Mode string

const (
	// ModeRedirect providers open a hosted payment session; the buyer is
	// redirected and the result arrives via webhook or polling.
	ModeRedirect Mode = "redirect"

	// ModeCharge providers accept a server-side charge against a card token
	// and return a provisional result.
	ModeCharge Mode = "charge"
)

// SessionRequest opens a redirect payment session.
type SessionRequest struct {
	Reference   string // our payment reference, echoed back by the provider
	Amount      decimal.Decimal
	Currency    string
	Description string
	PayerName   string
	PayerEmail  string
	PayerPhone  string
}

// ChargeRequest performs a direct server-side charge.
type ChargeRequest struct {
	Reference  string
	CardToken  string
	Amount     decimal.Decimal
	Currency   string
	PayerEmail string
}

// Provider is one payment integration. Mode decides which of CreateSession
// or Charge is meaningful; calling the other returns a ValidationError.
type Provider interface {
	Name() string
	Mode() Mode

	CreateSession(ctx context.Context, req *SessionRequest) (*models.PaymentSession, error)
	Charge(ctx context.Context, req *ChargeRequest) (*models.ChargeResult, error)

	// Verify polls the provider for the current status of a reference and
	// returns it normalized.
	Verify(ctx context.Context, reference string) (*models.PaymentNotification, error)

	// VerifyWebhook checks payload authenticity against the provider's
	// signature headers. Providers constructed without a webhook secret
	// skip verification (development mode only).
	VerifyWebhook(payload []byte, headers http.Header) error

	// ParseWebhook normalizes the provider-specific payload into the one
	// internal notification shape.
	ParseWebhook(payload []byte) (*models.PaymentNotification, error)

	Close(ctx context.Context) error
}

// Error classes. Auth and validation failures are fatal; transient failures
// are retryable by the caller, never by the adapter itself.

type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("gateway %s: auth: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

type ValidationError struct {
	Provider string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gateway %s: validation: %v", e.Provider, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("gateway %s: transient: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is a non-retryable gateway failure.
func IsFatal(err error) bool {
	var ae *AuthError
	var ve *ValidationError
	return errors.As(err, &ae) || errors.As(err, &ve)
}

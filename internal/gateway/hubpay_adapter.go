package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"tickethub/internal/gateway/hubpay"
	"tickethub/internal/status"
	"tickethub/models"
)

// SignatureHeader carries the hex HMAC of the webhook body for both
// providers.
const SignatureHeader = "X-Payment-Signature"

// HubPayAdapter exposes the HubPay client as a redirect-session Provider.
type HubPayAdapter struct {
	client        *hubpay.HubPay
	webhookSecret string
}

func NewHubPayAdapter(ctx context.Context, cfg *hubpay.Config, webhookSecret string) (*HubPayAdapter, error) {
	client, err := hubpay.New(ctx, cfg)
	if err != nil {
		return nil, classifyHubPay(err)
	}

	return &HubPayAdapter{
		client:        client,
		webhookSecret: webhookSecret,
	}, nil
}

func (a *HubPayAdapter) Name() string { return "hubpay" }

func (a *HubPayAdapter) Mode() Mode { return ModeRedirect }

// SetNotificationChannel wires HubPay's PubNub feed into the reconciler.
func (a *HubPayAdapter) SetNotificationChannel(ch chan *models.PaymentNotification) {
	a.client.SetNotificationChannel(ch)
}

func (a *HubPayAdapter) CreateSession(ctx context.Context, req *SessionRequest) (*models.PaymentSession, error) {
	session, err := a.client.CreateSession(ctx, req.Reference, req.Amount, req.Currency, req.Description, req.PayerName, req.PayerEmail, req.PayerPhone)
	if err != nil {
		return nil, classifyHubPay(err)
	}
	return session, nil
}

func (a *HubPayAdapter) Charge(context.Context, *ChargeRequest) (*models.ChargeResult, error) {
	return nil, &ValidationError{Provider: a.Name(), Err: fmt.Errorf("direct charge not supported")}
}

func (a *HubPayAdapter) Verify(ctx context.Context, reference string) (*models.PaymentNotification, error) {
	notification, err := a.client.CheckTransaction(ctx, reference)
	if err != nil {
		return nil, classifyHubPay(err)
	}
	return notification, nil
}

func (a *HubPayAdapter) VerifyWebhook(payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		// Development mode only: no secret configured, verification skipped.
		return nil
	}
	if !VerifyPayload(payload, []byte(a.webhookSecret), headers.Get(SignatureHeader)) {
		return status.ErrWebhookSignature
	}
	return nil
}

func (a *HubPayAdapter) ParseWebhook(payload []byte) (*models.PaymentNotification, error) {
	notification, err := hubpay.ParsePayload(payload)
	if err != nil {
		return nil, &ValidationError{Provider: a.Name(), Err: err}
	}
	return notification, nil
}

// Unwatch stops the PubNub per-payment subscription for a settled reference.
func (a *HubPayAdapter) Unwatch(reference string) {
	a.client.Unwatch(reference)
}

func (a *HubPayAdapter) Close(context.Context) error {
	// The PubNub subscription stops with the context passed at construction.
	return nil
}

func classifyHubPay(err error) error {
	switch {
	case errors.Is(err, hubpay.ErrUnauthorized):
		return &AuthError{Provider: "hubpay", Err: err}
	case errors.Is(err, hubpay.ErrNotFound):
		return &ValidationError{Provider: "hubpay", Err: err}
	default:
		return &TransientError{Provider: "hubpay", Err: err}
	}
}

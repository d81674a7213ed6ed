package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tickethub/internal/gateway/cardnet"
	"tickethub/internal/status"
	"tickethub/models"
)

// CardNetAdapter exposes the CardNet client as a direct-charge Provider.
type CardNetAdapter struct {
	client        *cardnet.CardNet
	webhookSecret string
}

func NewCardNetAdapter(ctx context.Context, cfg *cardnet.Config, webhookSecret string) (*CardNetAdapter, error) {
	client, err := cardnet.New(ctx, cfg)
	if err != nil {
		return nil, classifyCardNet(err)
	}

	return &CardNetAdapter{
		client:        client,
		webhookSecret: webhookSecret,
	}, nil
}

func (a *CardNetAdapter) Name() string { return "cardnet" }

func (a *CardNetAdapter) Mode() Mode { return ModeCharge }

func (a *CardNetAdapter) CreateSession(context.Context, *SessionRequest) (*models.PaymentSession, error) {
	return nil, &ValidationError{Provider: a.Name(), Err: fmt.Errorf("redirect sessions not supported")}
}

func (a *CardNetAdapter) Charge(ctx context.Context, req *ChargeRequest) (*models.ChargeResult, error) {
	if req.CardToken == "" {
		return nil, &ValidationError{Provider: a.Name(), Err: fmt.Errorf("card token is required")}
	}

	result, err := a.client.Charge(ctx, req.Reference, req.CardToken, req.Amount, req.Currency, req.PayerEmail)
	if err != nil {
		return nil, classifyCardNet(err)
	}
	return result, nil
}

func (a *CardNetAdapter) Verify(ctx context.Context, reference string) (*models.PaymentNotification, error) {
	notification, err := a.client.CheckCharge(ctx, reference)
	if err != nil {
		return nil, classifyCardNet(err)
	}
	return notification, nil
}

func (a *CardNetAdapter) VerifyWebhook(payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		// Development mode only: no secret configured, verification skipped.
		return nil
	}
	if !VerifyPayload(payload, []byte(a.webhookSecret), headers.Get(SignatureHeader)) {
		return status.ErrWebhookSignature
	}
	return nil
}

func (a *CardNetAdapter) ParseWebhook(payload []byte) (*models.PaymentNotification, error) {
	notification, err := cardnet.ParsePayload(payload)
	if err != nil {
		return nil, &ValidationError{Provider: a.Name(), Err: err}
	}
	return notification, nil
}

func (a *CardNetAdapter) Close(context.Context) error {
	return nil
}

func classifyCardNet(err error) error {
	switch {
	case errors.Is(err, cardnet.ErrUnauthorized):
		return &AuthError{Provider: "cardnet", Err: err}
	case errors.Is(err, cardnet.ErrNotFound):
		return &ValidationError{Provider: "cardnet", Err: err}
	case strings.Contains(err.Error(), "rejected with status"):
		return &ValidationError{Provider: "cardnet", Err: err}
	default:
		return &TransientError{Provider: "cardnet", Err: err}
	}
}

package gateway

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickethub/internal/gateway/hubpay"
	"tickethub/internal/status"
)

func TestSignPayloadRoundTrip(t *testing.T) {
	body := []byte(`{"reference":"TH123","status":"approved"}`)
	key := []byte("whsec")

	sig := SignPayload(body, key)
	assert.Len(t, sig, 64)
	assert.True(t, VerifyPayload(body, key, sig))

	assert.False(t, VerifyPayload([]byte(`{"reference":"TH124"}`), key, sig))
	assert.False(t, VerifyPayload(body, []byte("other"), sig))
	assert.False(t, VerifyPayload(body, key, ""))
}

func TestWebhookSignatureVerification(t *testing.T) {
	body := []byte(`{"refNo":"1","reference":"TH123","status":"approved"}`)
	secret := "whsec"

	adapter := &HubPayAdapter{webhookSecret: secret}

	headers := http.Header{}
	headers.Set(SignatureHeader, SignPayload(body, []byte(secret)))
	require.NoError(t, adapter.VerifyWebhook(body, headers))

	headers.Set(SignatureHeader, "deadbeef")
	assert.ErrorIs(t, adapter.VerifyWebhook(body, headers), status.ErrWebhookSignature)

	// Without a configured secret verification is skipped.
	open := &HubPayAdapter{}
	assert.NoError(t, open.VerifyWebhook(body, http.Header{}))
}

func TestErrorClassification(t *testing.T) {
	auth := classifyHubPay(hubpay.ErrUnauthorized)
	assert.True(t, IsFatal(auth))
	assert.False(t, IsTransient(auth))

	validation := classifyHubPay(hubpay.ErrNotFound)
	assert.True(t, IsFatal(validation))

	transient := classifyHubPay(errors.New("connection reset"))
	assert.True(t, IsTransient(transient))
	assert.False(t, IsFatal(transient))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, &AuthError{Provider: "p", Err: inner}, inner)
	assert.ErrorIs(t, &ValidationError{Provider: "p", Err: inner}, inner)
	assert.ErrorIs(t, &TransientError{Provider: "p", Err: inner}, inner)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Primary()
	assert.Error(t, err)

	// Reuse an adapter shell; only Name is needed here.
	a := &HubPayAdapter{}
	registry.Register(a)

	got, err := registry.Get("hubpay")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	primary, err := registry.Primary()
	require.NoError(t, err)
	assert.Equal(t, "hubpay", primary.Name())

	_, err = registry.Get("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"hubpay"}, registry.Names())
}

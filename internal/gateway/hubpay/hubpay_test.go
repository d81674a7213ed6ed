package hubpay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	body := []byte(`{
		"refNo": "HP-9001",
		"reference": "TH5F2A1B",
		"status": "approved",
		"txnAmount": "125.50",
		"currency": "USD",
		"txnDateTime": "2026-08-30 14:22:05"
	}`)

	n, err := ParsePayload(body)
	require.NoError(t, err)

	assert.Equal(t, "hubpay", n.Provider)
	assert.Equal(t, "TH5F2A1B", n.Reference)
	assert.Equal(t, "approved", n.Status)
	assert.Equal(t, "125.5", n.Amount.String())
	assert.Equal(t, "USD", n.Currency)

	expected := time.Date(2026, 8, 30, 14, 22, 5, 0, time.Local)
	assert.True(t, n.Timestamp.Equal(expected))
}

func TestParsePayloadMissingReference(t *testing.T) {
	_, err := ParsePayload([]byte(`{"refNo":"HP-1","status":"approved"}`))
	assert.ErrorContains(t, err, "missing reference")
}

func TestParsePayloadMalformed(t *testing.T) {
	_, err := ParsePayload([]byte(`not json`))
	assert.Error(t, err)
}

func TestParsePayloadBadTimestampFallsBack(t *testing.T) {
	body := []byte(`{"reference":"TH1","status":"approved","txnDateTime":"yesterday"}`)

	before := time.Now()
	n, err := ParsePayload(body)
	require.NoError(t, err)
	assert.False(t, n.Timestamp.Before(before))
}

func TestHmac256(t *testing.T) {
	sig := Hmac256([]byte("payload"), []byte("key"))
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, Hmac256([]byte("payload"), []byte("key")))
	assert.NotEqual(t, sig, Hmac256([]byte("payload"), []byte("other")))
}

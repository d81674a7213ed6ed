// Package hubpay is the client for the HubPay hosted-payment API: HMAC-signed
// JSON calls plus a PubNub channel delivering asynchronous payment results.
package hubpay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	pubnub "github.com/pubnub/go/v7"
	"github.com/shopspring/decimal"

	"tickethub/models"
)

type (
	Config struct {
		BaseURL    string `json:"baseUrl" mapstructure:"base_url"`
		MerchantID string `json:"merchantId" mapstructure:"merchant_id"`
		ClientID   string `json:"clientId" mapstructure:"client_id"`
		ClientKey  string `json:"clientKey" mapstructure:"client_key"`
		HMACKey    string `json:"hmacKey" mapstructure:"hmac_key"`

		PNSubKey    string `json:"pn_subkey" mapstructure:"pn_subkey"`
		PNSubSecret string `json:"pn_subsecret" mapstructure:"pn_subsecret"`
		PNUUID      string `json:"pn_uuid" mapstructure:"pn_uuid"`
	}

	HubPay struct {
		merchantID string

		pnSubKey    string
		pnSubSecret string
		pnUUID      string

		sub *subscribe

		client *Client
	}
)

// payload is the wire shape HubPay uses for both webhook bodies and
// check-transaction replies.
type payload struct {
	RefNo     string          `json:"refNo"`
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"txnAmount"`
	Currency  string          `json:"currency"`
	CreatedAt string          `json:"txnDateTime"`
}

func (p *payload) ToDomain() (*models.PaymentNotification, error) {
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", p.CreatedAt, time.Local)
	if err != nil {
		ts = time.Now()
	}

	return &models.PaymentNotification{
		Provider:  "hubpay",
		Reference: p.Reference,
		Status:    p.Status,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Timestamp: ts,
	}, nil
}

// New connects to HubPay, starts the token refresher and subscribes to the
// merchant's PubNub notification channel when keys are configured.
func New(ctx context.Context, cfg *Config) (*HubPay, error) {
	client := newClient(ctx, &ClientConfig{
		BaseURL:    cfg.BaseURL,
		MerchantID: cfg.MerchantID,
		ClientID:   cfg.ClientID,
		ClientKey:  cfg.ClientKey,
		HMACKey:    cfg.HMACKey,
	})

	// Connect to HubPay backend. Get access token.
	token, err := client.connect(ctx)
	if err != nil {
		return nil, err
	}
	client.setAccessToken(token)

	// Notify access token expired.
	go client.notifyAccessTokenExpired(ctx)

	h := &HubPay{
		merchantID: cfg.MerchantID,

		pnSubKey:    cfg.PNSubKey,
		pnSubSecret: cfg.PNSubSecret,
		pnUUID:      cfg.PNUUID,

		client: client,
	}

	if cfg.PNSubKey != "" {
		pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(h.pnUUID))
		pnCfg.SubscribeKey = h.pnSubKey
		pnCfg.SecretKey = h.pnSubSecret

		sub, err := h.newSubscription(ctx, pnCfg)
		if err != nil {
			return nil, fmt.Errorf("hubpay: subscribe to notification channel: %w", err)
		}
		sub.pn.AddListener(sub.lis)
		h.sub = sub
	}

	return h, nil
}

type subscribe struct {
	pn  *pubnub.PubNub
	lis *pubnub.Listener
	ch  chan *models.PaymentNotification
}

func (h *HubPay) newSubscription(ctx context.Context, pnCfg *pubnub.Config) (*subscribe, error) {
	sub := &subscribe{
		pn:  pubnub.NewPubNub(pnCfg),
		lis: pubnub.NewListener(),
	}

	go sub.processSubscription(ctx)

	return sub, nil
}

func (s *subscribe) processSubscription(ctx context.Context) {
	listener := s.lis
	for {
		select {
		case st := <-listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Println("hubpay: connected to pubnub")

			case pubnub.PNReconnectedCategory:
				log.Println("hubpay: reconnected to pubnub")

			case pubnub.PNDisconnectedCategory:
				log.Println("hubpay: disconnected from pubnub")

			default:
				log.Printf("hubpay: pubnub status category %v", st.Category)
			}

		case message := <-listener.Message:
			raw, ok := message.Message.(string)
			if !ok {
				continue
			}

			var p payload
			dec := json.NewDecoder(strings.NewReader(raw))
			if err := dec.Decode(&p); err != nil {
				log.Printf("hubpay: decode notification: %v", err)
				continue
			}

			notification, err := p.ToDomain()
			if err != nil {
				log.Printf("hubpay: normalize notification: %v", err)
				continue
			}
			if s.ch != nil {
				s.ch <- notification
			}

		case <-ctx.Done():
			log.Println("hubpay: close subscription")
			return
		}
	}
}

// SetNotificationChannel sets the channel receiving asynchronous payment
// results pushed over PubNub.
func (h *HubPay) SetNotificationChannel(ch chan *models.PaymentNotification) {
	if h.sub != nil {
		h.sub.ch = ch
	}
}

// watchReference subscribes to the per-payment channel, replaying the last
// two minutes in case the result arrived before we subscribed.
func (h *HubPay) watchReference(reference string) {
	if h.sub == nil {
		return
	}
	channel := fmt.Sprintf("%s_%s", h.merchantID, reference)
	tt := time.Now().Add(-2*time.Minute).Unix() * 10000
	h.sub.pn.Subscribe().Channels([]string{channel}).Timetoken(tt).Execute()
}

// Unwatch stops listening for a settled reference.
func (h *HubPay) Unwatch(reference string) {
	if h.sub == nil {
		return
	}
	h.sub.pn.Unsubscribe().Channels([]string{fmt.Sprintf("%s_%s", h.merchantID, reference)}).Execute()
}

// CreateSession opens a hosted payment session and starts watching its
// notification channel.
func (h *HubPay) CreateSession(ctx context.Context, reference string, amount decimal.Decimal, currency, description, payerName, payerEmail, payerPhone string) (*models.PaymentSession, error) {
	reply, err := h.client.createSession(ctx, reference, amount, currency, description, payerName, payerEmail, payerPhone)
	if err != nil {
		return nil, err
	}

	h.watchReference(reference)

	expiresAt, err := time.Parse(time.RFC3339, reply.ExpiresAt)
	if err != nil {
		expiresAt = time.Now().Add(24 * time.Hour)
	}

	return &models.PaymentSession{
		SessionID:  reply.SessionID,
		PaymentURL: reply.PaymentURL,
		ExpiresAt:  expiresAt,
	}, nil
}

// CheckTransaction polls HubPay for a reference's current status.
func (h *HubPay) CheckTransaction(ctx context.Context, reference string) (*models.PaymentNotification, error) {
	p, err := h.client.checkTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	return p.ToDomain()
}

// ParsePayload decodes a webhook body into the normalized notification.
func ParsePayload(body []byte) (*models.PaymentNotification, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("hubpay: parse webhook payload: %w", err)
	}
	if p.Reference == "" {
		return nil, fmt.Errorf("hubpay: webhook payload missing reference")
	}
	return p.ToDomain()
}

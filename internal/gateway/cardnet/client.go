// Package cardnet is the client for the CardNet acquiring API: direct
// server-side charges against tokenized cards with client-credential auth.
package cardnet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tickethub/models"
)

// ErrUnauthorized marks a rejected credential; the caller treats it as fatal.
var ErrUnauthorized = errors.New("cardnet: unauthorized")

// ErrNotFound marks an unknown charge reference.
var ErrNotFound = errors.New("cardnet: charge not found")

const grantTypeDefault = "client_credentials"

type Config struct {
	BaseURL   string `json:"baseUrl" mapstructure:"base_url"`
	ClientID  string `json:"clientId" mapstructure:"client_id"`
	ClientKey string `json:"clientKey" mapstructure:"client_key"`
}

type CardNet struct {
	baseURL   string
	clientID  string
	clientKey string

	accessToken string
	mu          sync.Mutex

	// toggleTokenRefresher is used to notify token refresher to refresh token.
	toggleTokenRefresher chan struct{}

	hc *http.Client
}

// New authenticates with CardNet and starts the background token refresher.
func New(ctx context.Context, cfg *Config) (*CardNet, error) {
	c := &CardNet{
		baseURL:   cfg.BaseURL,
		clientID:  cfg.ClientID,
		clientKey: cfg.ClientKey,

		toggleTokenRefresher: make(chan struct{}, 1),

		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	token, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.setAccessToken(token)

	go c.notifyAccessTokenExpired(ctx)

	return c, nil
}

// notifyAccessTokenExpired do infinite loop with period of time
// to perform auto renew token from CardNet backend with
// exponential backOff strategy.
func (c *CardNet) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(3 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return

		case <-ticker.C:

		case <-c.toggleTokenRefresher:
			log.Println("cardnet: token refresher toggled")
		}

		backOff := time.Second

	Retry:
		for {
			token, err := c.connect(ctx)
			switch err {
			case nil:
				c.setAccessToken(token)

				break Retry

			default:
				log.Printf("cardnet: refresh token: %v", err)

				select {
				case <-ctx.Done():
					return

				case <-time.After(backOff):
					backOff *= 2
				}
			}
		}
	}
}

func (c *CardNet) setAccessToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
}

func (c *CardNet) getAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *CardNet) connect(ctx context.Context) (string, error) {
	body := fmt.Sprintf(`{"grantType":%q,"clientId":%q,"clientSecret":%q}`,
		grantTypeDefault, c.clientID, c.clientKey)

	reply := struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}{}

	if err := c.post(ctx, "/v1/oauth/token", body, false, &reply); err != nil {
		return "", err
	}
	if reply.AccessToken == "" {
		return "", fmt.Errorf("cardnet connect: empty access token")
	}

	return fmt.Sprintf("%s %s", reply.TokenType, reply.AccessToken), nil
}

type chargePayload struct {
	ChargeID  string          `json:"chargeId"`
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	CreatedAt string          `json:"createdAt"`
}

func (p *chargePayload) ToDomain() *models.PaymentNotification {
	ts, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		ts = time.Now()
	}
	return &models.PaymentNotification{
		Provider:  "cardnet",
		Reference: p.Reference,
		Status:    p.Status,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Timestamp: ts,
	}
}

// Charge performs a direct charge against a card token. The returned status
// is provisional; settlement still flows through reconciliation.
func (c *CardNet) Charge(ctx context.Context, reference, cardToken string, amount decimal.Decimal, currency, payerEmail string) (*models.ChargeResult, error) {
	body := fmt.Sprintf(`{"reference":%q,"cardToken":%q,"amount":%s,"currency":%q,"payerEmail":%q}`,
		reference, cardToken, amount, currency, payerEmail)

	var reply chargePayload
	if err := c.post(ctx, "/v1/charges", body, true, &reply); err != nil {
		return nil, err
	}
	if reply.ChargeID == "" {
		return nil, fmt.Errorf("cardnet charge: empty charge id")
	}

	return &models.ChargeResult{
		ChargeID: reply.ChargeID,
		Status:   reply.Status,
	}, nil
}

// CheckCharge polls CardNet for the current status of a reference.
func (c *CardNet) CheckCharge(ctx context.Context, reference string) (*models.PaymentNotification, error) {
	body := fmt.Sprintf(`{"reference":%q}`, reference)

	var reply chargePayload
	if err := c.post(ctx, "/v1/charges/status", body, true, &reply); err != nil {
		return nil, err
	}
	if reply.ChargeID == "" {
		return nil, ErrNotFound
	}

	return reply.ToDomain(), nil
}

// ParsePayload decodes a webhook body into the normalized notification.
func ParsePayload(body []byte) (*models.PaymentNotification, error) {
	var p chargePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("cardnet: parse webhook payload: %w", err)
	}
	if p.Reference == "" {
		return nil, fmt.Errorf("cardnet: webhook payload missing reference")
	}
	return p.ToDomain(), nil
}

func (c *CardNet) post(ctx context.Context, path, body string, authed bool, out any) error {
	_baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("cardnet: parse base url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, _baseURL.String()+path, bytes.NewReader([]byte(body)))
	if err != nil {
		return fmt.Errorf("cardnet: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if authed {
		req.Header.Set("Authorization", c.getAccessToken())
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("cardnet: do %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		select {
		case c.toggleTokenRefresher <- struct{}{}:
		default:
		}
		return ErrUnauthorized
	}
	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("cardnet: %s: rejected with status %d", path, resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("cardnet: %s: upstream status %d", path, resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("cardnet: decode %s: %w", path, err)
	}
	return nil
}

package hubpay

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
)

// ErrUnauthorized marks a rejected credential; the caller treats it as fatal.
var ErrUnauthorized = errors.New("hubpay: unauthorized")

// ErrNotFound marks an unknown payment reference.
var ErrNotFound = errors.New("hubpay: reference not found")

type ClientConfig struct {
	BaseURL    string `json:"baseUrl" mapstructure:"base_url"`
	MerchantID string `json:"merchantId" mapstructure:"merchant_id"`
	ClientID   string `json:"clientId" mapstructure:"client_id"`
	ClientKey  string `json:"clientKey" mapstructure:"client_key"`
	HMACKey    string `json:"hmacKey" mapstructure:"hmac_key"`
}

type Client struct {
	// baseURL is the base url of HubPay backend.
	baseURL string

	// merchantID identifies the merchant account.
	merchantID string

	// clientID is the client id of HubPay backend.
	clientID string

	// clientKey is the client key of HubPay backend.
	clientKey string

	// hmacKey signs every request body.
	hmacKey string

	// access token is used to authenticate with HubPay backend.
	accessToken string

	// mu is used to lock access token.
	mu sync.Mutex

	// toggleTokenRefresher is used to notify token refresher to refresh token.
	toggleTokenRefresher chan struct{}

	// hc is the http client.
	hc *http.Client
}

func newClient(_ context.Context, c *ClientConfig) *Client {
	return &Client{
		baseURL:    c.BaseURL,
		merchantID: c.MerchantID,
		clientID:   c.ClientID,
		clientKey:  c.ClientKey,
		hmacKey:    c.HMACKey,

		// make a buffered channel to avoid blocking.
		toggleTokenRefresher: make(chan struct{}, 1),

		// set http client with timeout.
		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// notifyAccessTokenExpired do infinite loop with period of time
// to perform auto renew token from HubPay backend with
// exponential backOff strategy.
func (c *Client) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return

		case <-ticker.C:

		case <-c.toggleTokenRefresher:
			log.Println("hubpay: token refresher toggled")
		}

		// reconnect with exponential backOff strategy
		backOff := time.Second

	Retry:
		for {
			token, err := c.connect(ctx)
			switch err {
			case nil:
				c.setAccessToken(token)

				break Retry

			default:
				log.Printf("hubpay: refresh token: %v", err)
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

// setAccessToken set access token to client.
func (c *Client) setAccessToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
}

// getAccessToken get access token from client.
func (c *Client) getAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// connect makes http call to perform authentication with HubPay backend.
func (c *Client) connect(ctx context.Context) (string, error) {
	number, err := randomNumber()
	if err != nil {
		return "", fmt.Errorf("hubpay connect: randomNumber: %w", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"merchantId":%q,"clientId":%q,"clientSecret":%q}`,
		number, c.merchantID, c.clientID, c.clientKey)

	reply := struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AccessToken string `json:"accessToken"`
			TokenType   string `json:"tokenType"`
		} `json:"data"`
	}{}

	if err := c.post(ctx, "/api/v1/auth", body, false, &reply); err != nil {
		return "", err
	}
	if reply.Status != "OK" {
		return "", fmt.Errorf("hubpay connect: status %s: %s", reply.Status, reply.Message)
	}

	return fmt.Sprintf("%s %s", reply.Data.TokenType, reply.Data.AccessToken), nil
}

type sessionReply struct {
	SessionID  string `json:"sessionId"`
	PaymentURL string `json:"paymentUrl"`
	ExpiresAt  string `json:"expiresAt"`
}

// createSession opens a hosted payment session for a reference.
func (c *Client) createSession(ctx context.Context, reference string, amount decimal.Decimal, currency, description, payerName, payerEmail, payerPhone string) (*sessionReply, error) {
	number, err := randomNumber()
	if err != nil {
		return nil, fmt.Errorf("hubpay createSession: randomNumber: %w", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"merchantId":%q,"reference":%q,"txnAmount":%s,"currency":%q,"description":%q,"payerName":%q,"payerEmail":%q,"payerPhone":%q}`,
		number, c.merchantID, reference, amount, currency, description, payerName, payerEmail, payerPhone)

	reply := struct {
		Status  string       `json:"status"`
		Message string       `json:"message"`
		Data    sessionReply `json:"data"`
	}{}

	if err := c.post(ctx, "/api/v1/sessions", body, true, &reply); err != nil {
		return nil, err
	}
	if reply.Status != "OK" {
		return nil, fmt.Errorf("hubpay createSession: status %s: %s", reply.Status, reply.Message)
	}

	return &reply.Data, nil
}

// checkTransaction check transaction status from HubPay api.
func (c *Client) checkTransaction(ctx context.Context, reference string) (*payload, error) {
	number, err := randomNumber()
	if err != nil {
		return nil, fmt.Errorf("hubpay checkTransaction: randomNumber: %w", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"reference":%q}`, number, reference)

	reply := struct {
		Status  string  `json:"status"`
		Message string  `json:"message"`
		Data    payload `json:"data"`
	}{}

	if err := c.post(ctx, "/api/v1/transactions/check", body, true, &reply); err != nil {
		return nil, err
	}
	if reply.Status != "OK" {
		if reply.Status == "NOT_FOUND" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("hubpay checkTransaction: status %s: %s", reply.Status, reply.Message)
	}

	return &reply.Data, nil
}

// post signs body with the HMAC key and decodes the JSON reply into out.
func (c *Client) post(ctx context.Context, path, body string, authed bool, out any) error {
	_baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("hubpay: parse base url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, _baseURL.String()+path, bytes.NewReader([]byte(body)))
	if err != nil {
		return fmt.Errorf("hubpay: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", Hmac256([]byte(body), []byte(c.hmacKey)))
	if authed {
		req.Header.Set("Authorization", c.getAccessToken())
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("hubpay: do %s: %w", path, err)
	}
	defer resp.Body.Close()

	// toggle token refresher if unauthorized
	if resp.StatusCode == http.StatusUnauthorized {
		select {
		case c.toggleTokenRefresher <- struct{}{}:
		default:
		}
		return ErrUnauthorized
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("hubpay: %s: upstream status %d", path, resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("hubpay: decode %s: %w", path, err)
	}
	return nil
}

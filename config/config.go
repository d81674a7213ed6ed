package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Capacity lock configuration
	LockTTL         time.Duration
	LockWaitTimeout time.Duration

	// Idempotency configuration
	IdempotencyTTL time.Duration

	// Payment configuration
	PaymentSessionWindow time.Duration
	PollInterval         time.Duration
	PollResultTTL        time.Duration
	WebhookSecret        string

	// HubPay (redirect session) provider
	HubPayBaseURL   string
	HubPayMerchant  string
	HubPayClientID  string
	HubPayClientKey string
	HubPayHMACKey   string

	// HubPay PubNub notification feed
	HubPaySubKey    string
	HubPaySubSecret string
	HubPayUUID      string

	// CardNet (direct charge) provider
	CardNetBaseURL   string
	CardNetClientID  string
	CardNetClientKey string

	// Ticket configuration
	ScanSecret      string
	IssuanceWorkers int

	// Admin configuration
	SettlementTokenHash string

	// PubNub notification sink
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubUUID         string

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Locks
		LockTTL:         getEnvAsDuration("CAPACITY_LOCK_TTL", "10s"),
		LockWaitTimeout: getEnvAsDuration("CAPACITY_LOCK_WAIT", "3s"),

		// Idempotency
		IdempotencyTTL: getEnvAsDuration("IDEMPOTENCY_TTL", "15m"),

		// Payments
		PaymentSessionWindow: getEnvAsDuration("PAYMENT_SESSION_WINDOW", "24h"),
		PollInterval:         getEnvAsDuration("PAYMENT_POLL_INTERVAL", "1m"),
		PollResultTTL:        getEnvAsDuration("PAYMENT_POLL_RESULT_TTL", "30s"),
		WebhookSecret:        getEnv("PAYMENT_WEBHOOK_SECRET", ""),

		// HubPay
		HubPayBaseURL:   getEnv("HUBPAY_BASE_URL", ""),
		HubPayMerchant:  getEnv("HUBPAY_MERCHANT_ID", ""),
		HubPayClientID:  getEnv("HUBPAY_CLIENT_ID", ""),
		HubPayClientKey: getEnv("HUBPAY_CLIENT_KEY", ""),
		HubPayHMACKey:   getEnv("HUBPAY_HMAC_KEY", ""),

		HubPaySubKey:    getEnv("HUBPAY_PN_SUBKEY", ""),
		HubPaySubSecret: getEnv("HUBPAY_PN_SECRET", ""),
		HubPayUUID:      getEnv("HUBPAY_PN_UUID", ""),

		// CardNet
		CardNetBaseURL:   getEnv("CARDNET_BASE_URL", ""),
		CardNetClientID:  getEnv("CARDNET_CLIENT_ID", ""),
		CardNetClientKey: getEnv("CARDNET_CLIENT_KEY", ""),

		// Tickets
		ScanSecret:      getEnv("TICKET_SCAN_SECRET", ""),
		IssuanceWorkers: getEnvAsInt("ISSUANCE_WORKERS", 2),

		// Admin
		SettlementTokenHash: getEnv("SETTLEMENT_TOKEN_HASH", ""),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubUUID:         getEnv("PUBNUB_UUID", "tickethub-server"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

// Validate rejects configurations that mix environments or omit secrets the
// declared environment requires. Called once at boot; the process must not
// start on an invalid config.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("config: unknown environment %q", c.Environment)
	}

	if c.ScanSecret == "" {
		return fmt.Errorf("config: TICKET_SCAN_SECRET is required")
	}

	if c.Environment == "production" {
		if c.WebhookSecret == "" {
			return fmt.Errorf("config: PAYMENT_WEBHOOK_SECRET is required in production")
		}
		if c.SettlementTokenHash == "" {
			return fmt.Errorf("config: SETTLEMENT_TOKEN_HASH is required in production")
		}
		if isSandboxURL(c.HubPayBaseURL) || isSandboxURL(c.CardNetBaseURL) {
			return fmt.Errorf("config: sandbox gateway URL configured in production")
		}
	}

	if c.HubPayBaseURL != "" && (c.HubPayClientID == "" || c.HubPayClientKey == "" || c.HubPayHMACKey == "") {
		return fmt.Errorf("config: incomplete hubpay credentials")
	}
	if c.CardNetBaseURL != "" && (c.CardNetClientID == "" || c.CardNetClientKey == "") {
		return fmt.Errorf("config: incomplete cardnet credentials")
	}

	if c.LockTTL <= 0 || c.LockWaitTimeout <= 0 {
		return fmt.Errorf("config: lock TTL and wait timeout must be positive")
	}
	if c.IssuanceWorkers < 1 {
		return fmt.Errorf("config: ISSUANCE_WORKERS must be at least 1")
	}

	return nil
}

func isSandboxURL(url string) bool {
	if url == "" {
		return false
	}
	lower := strings.ToLower(url)
	for _, marker := range []string{"sandbox", "uat.", "staging"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, fall back to the default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

package storefront

import (
	"net/http"
	"time"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Config defines the standard configuration all storefront gateways accept
type Config struct {
	// AppUserID identifies this install with the storefront (RevenueCat app user id,
	// Stripe client reference). Required by the remote gateways.
	AppUserID string

	// Catalog describes the products sold, keyed by product id.
	// Gateways use it to fill in names and prices the storefront does not report.
	Catalog map[string]paywall.Product

	// WebhookSecret is used to verify incoming webhook requests (RevenueCat bearer token
	// or HMAC key, Stripe endpoint signing secret).
	WebhookSecret string

	// APIKey is used for outbound API calls to the storefront.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// EnableHMAC enforces HMAC signature verification (if supported by the gateway).
	// Defaults to false (uses Bearer token authentication).
	EnableHMAC bool

	// FeedBuffer is the number of transaction updates queued before webhooks block (default: 64)
	FeedBuffer int

	// Metrics is an optional metrics collector for tracking storefront operations.
	// If nil, metrics will be silently ignored (no-op).
	Metrics Metrics

	// Logger is an optional structured logger (default: paywall.NoopLogger)
	Logger paywall.Logger
}

// DefaultHTTPTimeout is used when Config.HTTPClient is nil
const DefaultHTTPTimeout = 10 * time.Second

// WithDefaults returns a copy of the config with nil collaborators replaced by defaults
func (c Config) WithDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = &paywall.NoopLogger{}
	}
	if c.FeedBuffer <= 0 {
		c.FeedBuffer = 64
	}
	return c
}

// Product returns the catalog entry for id, falling back to a bare entry
func (c Config) Product(id string) paywall.Product {
	if p, ok := c.Catalog[id]; ok {
		p.ID = id
		return p
	}
	return paywall.Product{ID: id}
}

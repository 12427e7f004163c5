package revenuecat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
	"github.com/mihaimyh/gopaywall/pkg/storefront"
	"github.com/mihaimyh/gopaywall/pkg/storefront/internal"
)

const (
	gatewayName              = "revenuecat"
	defaultAPIBaseURL        = "https://api.revenuecat.com/v1"
	defaultPlatform          = "ios"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// ErrUserCancelled is returned by a ReceiptSource when the user dismissed the payment sheet
var ErrUserCancelled = errors.New("purchase cancelled by user")

// Receipt is the proof of purchase produced by the device's store SDK
type Receipt struct {
	// FetchToken is the App Store receipt or Play Store purchase token
	FetchToken string
	// Platform is the X-Platform header value ("ios", "android", "stripe"); defaults to "ios"
	Platform string
}

// ReceiptSource runs the device-side purchase of product and returns its receipt.
// Return ErrUserCancelled when the user backs out.
type ReceiptSource func(ctx context.Context, product paywall.Product) (Receipt, error)

// Gateway implements paywall.Gateway against the RevenueCat REST API.
type Gateway struct {
	config      storefront.Config
	httpClient  *http.Client
	rateLimiter *internal.RateLimiter
	feed        *storefront.Feed
	metrics     storefront.Metrics
	logger      paywall.Logger

	baseURL       string
	platform      string
	appUserID     string
	apiKey        string
	webhookSecret []byte
	acceptHMAC    bool
	receipts      ReceiptSource
}

// Option configures a Gateway
type Option func(*Gateway)

// WithBaseURL points the gateway at another API root (tests, proxies)
func WithBaseURL(url string) Option {
	return func(g *Gateway) {
		g.baseURL = strings.TrimRight(url, "/")
	}
}

// WithPlatform sets the X-Platform header sent to RevenueCat
func WithPlatform(platform string) Option {
	return func(g *Gateway) {
		g.platform = platform
	}
}

// WithReceiptSource enables Purchase by supplying receipts from the device layer
func WithReceiptSource(source ReceiptSource) Option {
	return func(g *Gateway) {
		g.receipts = source
	}
}

// New creates a RevenueCat gateway for config.AppUserID
func New(config storefront.Config, opts ...Option) (*Gateway, error) {
	config = config.WithDefaults()

	appUserID := strings.TrimSpace(config.AppUserID)
	if appUserID == "" {
		return nil, fmt.Errorf("%w: app user id is required", storefront.ErrGatewayNotConfigured)
	}

	g := &Gateway{
		config:        config,
		httpClient:    config.HTTPClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		feed:          storefront.NewFeed(config.FeedBuffer),
		metrics:       config.Metrics,
		logger:        config.Logger,
		baseURL:       defaultAPIBaseURL,
		platform:      defaultPlatform,
		appUserID:     appUserID,
		apiKey:        stripBearer(config.APIKey),
		webhookSecret: []byte(stripBearer(config.WebhookSecret)),
		acceptHMAC:    config.EnableHMAC,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name returns the gateway name
func (g *Gateway) Name() string {
	return gatewayName
}

// Products returns the requested products that are part of the current offerings
func (g *Gateway) Products(ctx context.Context, ids []string) ([]paywall.Product, error) {
	var resp offeringsResponse
	path := "/subscribers/" + g.appUserID + "/offerings"
	if err := g.call(ctx, http.MethodGet, path, "/subscribers/{id}/offerings", nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", paywall.ErrStoreUnavailable, err)
	}

	offered := make(map[string]bool)
	for _, offering := range resp.Offerings {
		for _, pkg := range offering.Packages {
			offered[pkg.PlatformProductIdentifier] = true
		}
	}

	products := make([]paywall.Product, 0, len(ids))
	for _, id := range ids {
		if offered[id] {
			products = append(products, g.config.Product(id))
		}
	}
	return products, nil
}

// Purchase obtains a receipt from the device layer and posts it to RevenueCat.
// The purchase is verified when RevenueCat lists the transaction for the product.
func (g *Gateway) Purchase(ctx context.Context, product paywall.Product) (paywall.PurchaseOutcome, error) {
	if g.receipts == nil {
		return paywall.PurchaseOutcome{}, fmt.Errorf("%w: no receipt source", storefront.ErrGatewayNotConfigured)
	}

	receipt, err := g.receipts(ctx, product)
	if errors.Is(err, ErrUserCancelled) {
		return paywall.PurchaseOutcome{Kind: paywall.OutcomeCancelled}, nil
	}
	if err != nil {
		return paywall.PurchaseOutcome{}, err
	}
	if strings.TrimSpace(receipt.FetchToken) == "" {
		return paywall.PurchaseOutcome{}, storefront.ErrMissingReceipt
	}

	platform := receipt.Platform
	if platform == "" {
		platform = g.platform
	}
	req := receiptRequest{
		AppUserID:  g.appUserID,
		FetchToken: receipt.FetchToken,
		ProductID:  product.ID,
	}
	var resp subscriberResponse
	if err := g.callWithPlatform(ctx, http.MethodPost, "/receipts", "/receipts", platform, req, &resp); err != nil {
		return paywall.PurchaseOutcome{}, err
	}

	tx, ok := resp.Subscriber.latest(product.ID)
	if !ok {
		// RevenueCat accepted the receipt but has not recorded the transaction yet
		return paywall.PurchaseOutcome{Kind: paywall.OutcomePending}, nil
	}
	return paywall.PurchaseOutcome{Kind: paywall.OutcomeVerified, Result: paywall.Verified(tx)}, nil
}

// CurrentEntitlements fetches the subscriber and yields its one-time purchases.
// Responses come over an authenticated API call, so every transaction is verified.
func (g *Gateway) CurrentEntitlements(ctx context.Context) iter.Seq2[paywall.VerificationResult, error] {
	return func(yield func(paywall.VerificationResult, error) bool) {
		subscriber, err := g.fetchSubscriber(ctx)
		if errors.Is(err, storefront.ErrCustomerNotFound) {
			return
		}
		if err != nil {
			yield(paywall.VerificationResult{}, err)
			return
		}
		for _, tx := range subscriber.transactions() {
			if !yield(paywall.Verified(tx), nil) {
				return
			}
		}
	}
}

// Updates delivers transactions received through the webhook
func (g *Gateway) Updates(ctx context.Context) <-chan paywall.VerificationResult {
	return g.feed.Subscribe(ctx)
}

// Sync checks that the subscriber record is reachable. An unknown subscriber is not an
// error: it simply owns nothing.
func (g *Gateway) Sync(ctx context.Context) error {
	_, err := g.fetchSubscriber(ctx)
	switch {
	case err == nil, errors.Is(err, storefront.ErrCustomerNotFound):
		g.metrics.RecordSync(gatewayName, "success")
		return nil
	default:
		g.metrics.RecordSync(gatewayName, "error")
		return err
	}
}

// Finish is a no-op: RevenueCat acknowledges store transactions when it records them.
func (g *Gateway) Finish(ctx context.Context, tx paywall.Transaction) error {
	g.logger.Debug("revenuecat transaction acknowledged", paywall.F("transaction_id", tx.ID))
	return nil
}

// WebhookHandler returns the HTTP handler for RevenueCat webhooks
func (g *Gateway) WebhookHandler() http.Handler {
	return g.rateLimiter.Middleware(http.HandlerFunc(g.handleWebhook), func() {
		g.metrics.RecordWebhookError(gatewayName, "rate_limited")
	})
}

func (g *Gateway) fetchSubscriber(ctx context.Context) (subscriber, error) {
	var resp subscriberResponse
	err := g.call(ctx, http.MethodGet, "/subscribers/"+g.appUserID, "/subscribers/{id}", nil, &resp)
	return resp.Subscriber, err
}

func stripBearer(value string) string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(strings.ToLower(value), "bearer ") {
		value = strings.TrimSpace(value[len("bearer "):])
	}
	return value
}

package stripe

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
	"github.com/mihaimyh/gopaywall/pkg/storefront"
	"github.com/mihaimyh/gopaywall/pkg/storefront/internal"
)

const (
	gatewayName              = "stripe"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100

	metadataAppUserID = "app_user_id"
	metadataProductID = "product_id"
	metadataFulfilled = "fulfilled"
)

// CustomerIDResolver maps an app user id to a Stripe customer id.
// Return storefront.ErrCustomerNotFound when the user has no customer yet.
type CustomerIDResolver func(ctx context.Context, appUserID string) (string, error)

// Gateway implements paywall.Gateway with Stripe Checkout one-time payments.
type Gateway struct {
	config      storefront.Config
	client      *stripe.Client
	rateLimiter *internal.RateLimiter
	feed        *storefront.Feed
	metrics     storefront.Metrics
	logger      paywall.Logger

	appUserID     string
	webhookSecret string
	prices        map[string]string // product id -> price id
	successURL    string
	cancelURL     string
	resolver      CustomerIDResolver

	mu         sync.Mutex
	customerID string
}

// Option configures a Gateway
type Option func(*Gateway)

// WithPrices maps product ids to the Stripe Price ids they are sold at
func WithPrices(prices map[string]string) Option {
	return func(g *Gateway) {
		for productID, priceID := range prices {
			g.prices[productID] = strings.TrimSpace(priceID)
		}
	}
}

// WithRedirectURLs sets where Checkout sends the user after paying or backing out
func WithRedirectURLs(successURL, cancelURL string) Option {
	return func(g *Gateway) {
		g.successURL = successURL
		g.cancelURL = cancelURL
	}
}

// WithCustomerIDResolver supplies an O(1) customer lookup, skipping the Search API
func WithCustomerIDResolver(resolver CustomerIDResolver) Option {
	return func(g *Gateway) {
		g.resolver = resolver
	}
}

// WithClient replaces the Stripe API client (stripe-mock, custom backends)
func WithClient(client *stripe.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

// New creates a Stripe gateway for config.AppUserID
func New(config storefront.Config, opts ...Option) (*Gateway, error) {
	config = config.WithDefaults()

	appUserID := strings.TrimSpace(config.AppUserID)
	if appUserID == "" {
		return nil, fmt.Errorf("%w: app user id is required", storefront.ErrGatewayNotConfigured)
	}
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: stripe API key is required", storefront.ErrGatewayNotConfigured)
	}

	g := &Gateway{
		config:        config,
		client:        stripe.NewClient(apiKey),
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		feed:          storefront.NewFeed(config.FeedBuffer),
		metrics:       config.Metrics,
		logger:        config.Logger,
		appUserID:     appUserID,
		webhookSecret: strings.TrimSpace(config.WebhookSecret),
		prices:        make(map[string]string),
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

// Products retrieves the configured price of each requested product.
// Products without a price mapping or with an archived price are not offered.
func (g *Gateway) Products(ctx context.Context, ids []string) ([]paywall.Product, error) {
	products := make([]paywall.Product, 0, len(ids))
	for _, id := range ids {
		priceID := g.prices[id]
		if priceID == "" {
			continue
		}

		start := time.Now()
		price, err := g.client.V1Prices.Retrieve(ctx, priceID, nil)
		g.recordAPICall("/v1/prices", start, err)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to retrieve price %s: %w", paywall.ErrStoreUnavailable, priceID, err)
		}
		if !price.Active {
			g.logger.Warn("stripe price is archived", paywall.F("product_id", id), paywall.F("price_id", priceID))
			continue
		}
		products = append(products, g.productFromPrice(id, price))
	}
	return products, nil
}

func (g *Gateway) productFromPrice(id string, price *stripe.Price) paywall.Product {
	product := g.config.Product(id)
	product.Price = price.UnitAmount
	product.Currency = strings.ToLower(string(price.Currency))
	product.DisplayPrice = formatPrice(price.UnitAmount, product.Currency)
	if product.DisplayName == "" {
		product.DisplayName = price.Nickname
	}
	return product
}

// Purchase opens a one-time Checkout Session for the product.
// The outcome is always pending: the entitlement arrives through the webhook.
func (g *Gateway) Purchase(ctx context.Context, product paywall.Product) (paywall.PurchaseOutcome, error) {
	priceID := g.prices[product.ID]
	if priceID == "" {
		return paywall.PurchaseOutcome{}, fmt.Errorf("%w: no price for product %s", storefront.ErrGatewayNotConfigured, product.ID)
	}
	if g.successURL == "" || g.cancelURL == "" {
		return paywall.PurchaseOutcome{}, fmt.Errorf("%w: checkout redirect URLs are required", storefront.ErrGatewayNotConfigured)
	}

	// Reuse a known customer; a lookup failure only means Checkout creates one
	customerID, err := g.resolveCustomer(ctx)
	if err != nil && !errors.Is(err, storefront.ErrCustomerNotFound) {
		return paywall.PurchaseOutcome{}, fmt.Errorf("failed to resolve customer: %w", err)
	}

	metadata := map[string]string{
		metadataAppUserID: g.appUserID,
		metadataProductID: product.ID,
	}
	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(g.appUserID),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	} else {
		params.CustomerCreation = stripe.String("always")
	}

	start := time.Now()
	session, err := g.client.V1CheckoutSessions.Create(ctx, params)
	g.recordAPICall("/v1/checkout/sessions", start, err)
	if err != nil {
		return paywall.PurchaseOutcome{}, fmt.Errorf("failed to create checkout session: %w", err)
	}

	g.logger.Info("stripe checkout session created",
		paywall.F("session_id", session.ID), paywall.F("product_id", product.ID))
	return paywall.PurchaseOutcome{Kind: paywall.OutcomePending, RedirectURL: session.URL}, nil
}

// CurrentEntitlements lists the customer's paid checkout sessions.
// Sessions are read back from the Stripe API, so every result is verified.
func (g *Gateway) CurrentEntitlements(ctx context.Context) iter.Seq2[paywall.VerificationResult, error] {
	return func(yield func(paywall.VerificationResult, error) bool) {
		customerID, err := g.resolveCustomer(ctx)
		if errors.Is(err, storefront.ErrCustomerNotFound) {
			return
		}
		if err != nil {
			yield(paywall.VerificationResult{}, err)
			return
		}

		params := &stripe.CheckoutSessionListParams{}
		params.Customer = stripe.String(customerID)

		start := time.Now()
		for session, err := range g.client.V1CheckoutSessions.List(ctx, params) {
			if err != nil {
				g.recordAPICall("/v1/checkout/sessions/list", start, err)
				yield(paywall.VerificationResult{}, fmt.Errorf("failed to list checkout sessions: %w", err))
				return
			}
			tx, ok := g.paidTransaction(session)
			if !ok {
				continue
			}
			if !yield(paywall.Verified(tx), nil) {
				return
			}
		}
		g.recordAPICall("/v1/checkout/sessions/list", start, nil)
	}
}

// Updates delivers checkout completions received through the webhook
func (g *Gateway) Updates(ctx context.Context) <-chan paywall.VerificationResult {
	return g.feed.Subscribe(ctx)
}

// Sync refreshes the cached customer id. A user without a customer owns nothing,
// which is not an error.
func (g *Gateway) Sync(ctx context.Context) error {
	g.mu.Lock()
	g.customerID = ""
	g.mu.Unlock()

	_, err := g.resolveCustomer(ctx)
	switch {
	case err == nil, errors.Is(err, storefront.ErrCustomerNotFound):
		g.metrics.RecordSync(gatewayName, "success")
		return nil
	default:
		g.metrics.RecordSync(gatewayName, "error")
		return err
	}
}

// Finish marks the payment intent behind tx as fulfilled
func (g *Gateway) Finish(ctx context.Context, tx paywall.Transaction) error {
	if !strings.HasPrefix(tx.ID, "pi_") {
		g.logger.Debug("stripe transaction has no payment intent to tag", paywall.F("transaction_id", tx.ID))
		return nil
	}

	params := &stripe.PaymentIntentUpdateParams{}
	params.AddMetadata(metadataFulfilled, "true")

	start := time.Now()
	_, err := g.client.V1PaymentIntents.Update(ctx, tx.ID, params)
	g.recordAPICall("/v1/payment_intents", start, err)
	if err != nil {
		return fmt.Errorf("failed to tag payment intent %s: %w", tx.ID, err)
	}
	return nil
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (g *Gateway) WebhookHandler() http.Handler {
	return g.rateLimiter.Middleware(http.HandlerFunc(g.handleWebhook), func() {
		g.metrics.RecordWebhookError(gatewayName, "rate_limited")
	})
}

// paidTransaction converts a checkout session of this user into a transaction.
// Unpaid sessions and sessions of other users or without a product are skipped.
func (g *Gateway) paidTransaction(session *stripe.CheckoutSession) (paywall.Transaction, bool) {
	if session == nil || !g.owns(session) {
		return paywall.Transaction{}, false
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return paywall.Transaction{}, false
	}
	productID := strings.TrimSpace(session.Metadata[metadataProductID])
	if productID == "" {
		return paywall.Transaction{}, false
	}

	id := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		id = session.PaymentIntent.ID
	}
	environment := "sandbox"
	if session.Livemode {
		environment = "production"
	}
	return paywall.Transaction{
		ID:          id,
		OriginalID:  session.ID,
		ProductID:   productID,
		PurchasedAt: time.Unix(session.Created, 0).UTC(),
		Environment: environment,
	}, true
}

func (g *Gateway) owns(session *stripe.CheckoutSession) bool {
	return session.ClientReferenceID == g.appUserID || session.Metadata[metadataAppUserID] == g.appUserID
}

func (g *Gateway) recordAPICall(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	g.metrics.RecordAPICall(gatewayName, endpoint, status)
	g.metrics.RecordAPICallDuration(gatewayName, endpoint, time.Since(start))
}

// zeroDecimalCurrencies are charged in whole units; see stripe.com/docs/currencies#zero-decimal
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// formatPrice renders a minor-unit amount, e.g. 499 usd -> "4.99 USD", 499 jpy -> "499 JPY"
func formatPrice(amount int64, currency string) string {
	code := strings.ToUpper(currency)
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return fmt.Sprintf("%d %s", amount, code)
	}
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, code)
}

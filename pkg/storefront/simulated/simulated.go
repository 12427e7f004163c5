// Package simulated provides an in-process storefront.
// It is the stub gateway in tests and the fallback gateway in development builds,
// where it grants the premium product after a short delay.
package simulated

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
	"github.com/mihaimyh/gopaywall/pkg/storefront"
)

// DefaultFallbackDelay is the simulated purchase latency of NewFallback
const DefaultFallbackDelay = time.Second

// Gateway implements paywall.Gateway without a storefront.
// Outcomes, failures and feed updates are scripted by the caller.
type Gateway struct {
	mu sync.Mutex

	catalog    map[string]paywall.Product
	anyProduct bool
	delay      time.Duration

	outcomes     []paywall.PurchaseOutcome
	entitlements []paywall.VerificationResult

	productsErr     error
	purchaseErr     error
	entitlementsErr error
	syncErr         error
	finishErr       error

	finished  []paywall.Transaction
	purchases int
	syncs     int

	feed *storefront.Feed
}

// Option configures a Gateway
type Option func(*Gateway)

// WithProducts lists products in the catalog
func WithProducts(products ...paywall.Product) Option {
	return func(g *Gateway) {
		for _, p := range products {
			g.catalog[p.ID] = p
		}
	}
}

// WithAnyProduct makes Products answer every requested id with a synthetic entry
func WithAnyProduct() Option {
	return func(g *Gateway) {
		g.anyProduct = true
	}
}

// WithDelay makes each purchase take d
func WithDelay(d time.Duration) Option {
	return func(g *Gateway) {
		g.delay = d
	}
}

// WithEntitlements seeds the transactions already owned
func WithEntitlements(results ...paywall.VerificationResult) Option {
	return func(g *Gateway) {
		g.entitlements = append(g.entitlements, results...)
	}
}

// New creates a simulated gateway
func New(opts ...Option) *Gateway {
	g := &Gateway{
		catalog: make(map[string]paywall.Product),
		feed:    storefront.NewFeed(64),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewFallback creates the gateway used when the real storefront has nothing to sell:
// any product is offered and purchases succeed after DefaultFallbackDelay.
func NewFallback() *Gateway {
	return New(WithAnyProduct(), WithDelay(DefaultFallbackDelay))
}

func (g *Gateway) Products(ctx context.Context, ids []string) ([]paywall.Product, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.productsErr != nil {
		return nil, g.productsErr
	}
	products := make([]paywall.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := g.catalog[id]; ok {
			products = append(products, p)
			continue
		}
		if g.anyProduct {
			products = append(products, paywall.Product{
				ID:           id,
				DisplayName:  "Premium (simulated)",
				DisplayPrice: "Free",
			})
		}
	}
	return products, nil
}

func (g *Gateway) Purchase(ctx context.Context, product paywall.Product) (paywall.PurchaseOutcome, error) {
	g.mu.Lock()
	g.purchases++
	delay := g.delay
	g.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return paywall.PurchaseOutcome{}, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.purchaseErr != nil {
		return paywall.PurchaseOutcome{}, g.purchaseErr
	}

	outcome := paywall.PurchaseOutcome{Kind: paywall.OutcomeVerified}
	if len(g.outcomes) > 0 {
		outcome = g.outcomes[0]
		g.outcomes = g.outcomes[1:]
	}
	if outcome.Kind == paywall.OutcomeVerified || outcome.Kind == paywall.OutcomeUnverified {
		if outcome.Result.Transaction.ID == "" {
			outcome.Result.Transaction = g.newTransaction(product.ID)
		}
		if outcome.Kind == paywall.OutcomeVerified && outcome.Result.Reason == "" {
			outcome.Result.Verified = true
		}
		if outcome.Result.Verified {
			g.entitlements = append(g.entitlements, outcome.Result)
		}
	}
	return outcome, nil
}

func (g *Gateway) newTransaction(productID string) paywall.Transaction {
	id := "sim-" + uuid.NewString()
	return paywall.Transaction{
		ID:          id,
		OriginalID:  id,
		ProductID:   productID,
		PurchasedAt: time.Now().UTC(),
		Environment: "sandbox",
	}
}

func (g *Gateway) CurrentEntitlements(ctx context.Context) iter.Seq2[paywall.VerificationResult, error] {
	return func(yield func(paywall.VerificationResult, error) bool) {
		g.mu.Lock()
		failure := g.entitlementsErr
		results := append([]paywall.VerificationResult(nil), g.entitlements...)
		g.mu.Unlock()

		if failure != nil {
			yield(paywall.VerificationResult{}, failure)
			return
		}
		for _, res := range results {
			if err := ctx.Err(); err != nil {
				yield(paywall.VerificationResult{}, err)
				return
			}
			if !yield(res, nil) {
				return
			}
		}
	}
}

func (g *Gateway) Updates(ctx context.Context) <-chan paywall.VerificationResult {
	return g.feed.Subscribe(ctx)
}

func (g *Gateway) Sync(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.syncs++
	return g.syncErr
}

func (g *Gateway) Finish(ctx context.Context, tx paywall.Transaction) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.finishErr != nil {
		return g.finishErr
	}
	g.finished = append(g.finished, tx)
	return nil
}

// Push delivers an out-of-band transaction update through the feed
func (g *Gateway) Push(ctx context.Context, res paywall.VerificationResult) error {
	return g.feed.Push(ctx, res)
}

// QueueOutcome scripts the outcome of the next purchase.
// Verified and unverified outcomes without a transaction get a generated one.
func (g *Gateway) QueueOutcome(outcome paywall.PurchaseOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes = append(g.outcomes, outcome)
}

// QueueKind scripts the next purchase outcomes by kind only
func (g *Gateway) QueueKind(kinds ...paywall.OutcomeKind) {
	for _, kind := range kinds {
		outcome := paywall.PurchaseOutcome{Kind: kind}
		if kind == paywall.OutcomeUnverified {
			outcome.Result.Reason = "signature mismatch"
		}
		g.QueueOutcome(outcome)
	}
}

// AddEntitlement adds a transaction to the current entitlements
func (g *Gateway) AddEntitlement(res paywall.VerificationResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entitlements = append(g.entitlements, res)
}

// SetProducts replaces the catalog
func (g *Gateway) SetProducts(products ...paywall.Product) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.catalog = make(map[string]paywall.Product, len(products))
	for _, p := range products {
		g.catalog[p.ID] = p
	}
}

// FailProducts makes Products fail with a storefront-unavailable error; nil clears it
func (g *Gateway) FailProducts(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.productsErr = unavailable(err)
}

// FailPurchase makes Purchase fail; nil clears it
func (g *Gateway) FailPurchase(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.purchaseErr = err
}

// FailEntitlements makes CurrentEntitlements yield err; nil clears it
func (g *Gateway) FailEntitlements(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entitlementsErr = err
}

// FailSync makes Sync fail; nil clears it
func (g *Gateway) FailSync(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.syncErr = err
}

// FailFinish makes Finish fail; nil clears it
func (g *Gateway) FailFinish(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finishErr = err
}

// Finished returns the acknowledged transactions in order
func (g *Gateway) Finished() []paywall.Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]paywall.Transaction(nil), g.finished...)
}

// Purchases returns how many purchases were attempted
func (g *Gateway) Purchases() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.purchases
}

// Syncs returns how many times Sync was called
func (g *Gateway) Syncs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.syncs
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", paywall.ErrStoreUnavailable, err)
}

package paywall

import (
	"context"
	"iter"
)

// Gateway is the boundary to the storefront. It lists products, runs purchases,
// classifies transactions as verified or unverified and delivers out-of-band updates.
// The Manager never re-implements verification; it only trusts VerificationResult.Verified.
type Gateway interface {
	// Products returns the catalog entries for the given identifiers.
	// Fails with an error wrapping ErrStoreUnavailable when the storefront is unreachable.
	Products(ctx context.Context, ids []string) ([]Product, error)

	// Purchase runs a purchase of the product and reports its outcome.
	Purchase(ctx context.Context, product Product) (PurchaseOutcome, error)

	// CurrentEntitlements lazily enumerates the transactions currently owned.
	// The sequence is finite; iterate again to restart.
	CurrentEntitlements(ctx context.Context) iter.Seq2[VerificationResult, error]

	// Updates subscribes to the live transaction feed. The channel is closed
	// once ctx is cancelled. Only one live subscription is supported.
	Updates(ctx context.Context) <-chan VerificationResult

	// Sync re-synchronizes purchase history with the storefront ("restore").
	Sync(ctx context.Context) error

	// Finish acknowledges a granted transaction.
	Finish(ctx context.Context, tx Transaction) error
}

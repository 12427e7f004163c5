package paywall

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// CircuitBreakerGateway wraps a Gateway implementation with circuit breaker protection.
// Open-circuit failures are reported as ErrStoreUnavailable so callers treat them like
// any other unreachable storefront.
type CircuitBreakerGateway struct {
	gateway Gateway
	cb      CircuitBreaker
}

// NewCircuitBreakerGateway creates a new gateway wrapper with circuit breaker.
func NewCircuitBreakerGateway(gateway Gateway, cb CircuitBreaker) *CircuitBreakerGateway {
	return &CircuitBreakerGateway{
		gateway: gateway,
		cb:      cb,
	}
}

func (g *CircuitBreakerGateway) Products(ctx context.Context, ids []string) ([]Product, error) {
	var products []Product
	err := g.execute(ctx, func() error {
		var e error
		products, e = g.gateway.Products(ctx, ids)
		return e
	})
	return products, err
}

func (g *CircuitBreakerGateway) Purchase(ctx context.Context, product Product) (PurchaseOutcome, error) {
	var outcome PurchaseOutcome
	err := g.execute(ctx, func() error {
		var e error
		outcome, e = g.gateway.Purchase(ctx, product)
		return e
	})
	return outcome, err
}

func (g *CircuitBreakerGateway) CurrentEntitlements(ctx context.Context) iter.Seq2[VerificationResult, error] {
	return func(yield func(VerificationResult, error) bool) {
		if g.cb.State() == CircuitOpen {
			yield(VerificationResult{}, unavailable(ErrCircuitOpen))
			return
		}
		var failed error
		for res, err := range g.gateway.CurrentEntitlements(ctx) {
			if err != nil {
				failed = err
			}
			if !yield(res, err) {
				break
			}
		}
		if failed != nil {
			g.cb.Failure(failed)
		} else {
			g.cb.Success()
		}
	}
}

// Updates is passed through: the feed is long-lived and has no per-call failure.
func (g *CircuitBreakerGateway) Updates(ctx context.Context) <-chan VerificationResult {
	return g.gateway.Updates(ctx)
}

func (g *CircuitBreakerGateway) Sync(ctx context.Context) error {
	return g.execute(ctx, func() error {
		return g.gateway.Sync(ctx)
	})
}

func (g *CircuitBreakerGateway) Finish(ctx context.Context, tx Transaction) error {
	return g.execute(ctx, func() error {
		return g.gateway.Finish(ctx, tx)
	})
}

func (g *CircuitBreakerGateway) execute(ctx context.Context, fn func() error) error {
	err := g.cb.Execute(ctx, fn)
	if errors.Is(err, ErrCircuitOpen) {
		return unavailable(err)
	}
	return err
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

package paywall

import "context"

// Store defines the interface for entitlement persistence.
// Absent fields load as their zero value. Each write must be durable before it returns;
// fields are written independently and writes are idempotent.
type Store interface {
	// Load returns the persisted record, defaulting missing fields to zero/false
	Load(ctx context.Context) (Record, error)

	// SaveConversionsUsed persists the consumed free conversions count
	SaveConversionsUsed(ctx context.Context, used int) error

	// SavePremium persists the premium latch
	SavePremium(ctx context.Context, premium bool) error
}

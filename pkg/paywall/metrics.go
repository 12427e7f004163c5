package paywall

import "time"

// Metrics defines the interface for tracking entitlement operations.
type Metrics interface {
	// RecordConversion records a quota consumption attempt.
	RecordConversion(premium, success bool)

	// RecordPurchase records the final outcome of a purchase attempt (an OutcomeKind or "error").
	RecordPurchase(outcome string)

	// RecordRestore records a restore attempt.
	RecordRestore(success bool)

	// RecordFeedUpdate records a transaction received from the live feed.
	RecordFeedUpdate(verified bool)

	// RecordGatewayCall records the duration and status of a storefront call.
	RecordGatewayCall(operation string, duration time.Duration, err error)

	// RecordStateChange records a purchase state transition.
	RecordStateChange(state StateKind)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordConversion(premium, success bool)                                {}
func (n *NoopMetrics) RecordPurchase(outcome string)                                         {}
func (n *NoopMetrics) RecordRestore(success bool)                                            {}
func (n *NoopMetrics) RecordFeedUpdate(verified bool)                                        {}
func (n *NoopMetrics) RecordGatewayCall(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordStateChange(state StateKind)                                     {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                          {}

package paywall

import (
	"fmt"
	"time"
)

// Config holds entitlement manager configuration
type Config struct {
	// PremiumProductID is the storefront product that unlocks premium (default: DefaultPremiumProductID)
	PremiumProductID string

	// FreeConversionsLimit is the number of free exports (default: 10)
	FreeConversionsLimit int

	// GatewayTimeout bounds each storefront round-trip (default: 30 seconds)
	GatewayTimeout time.Duration

	// ShutdownTimeout bounds how long Listener.Stop waits for in-flight work (default: 5 seconds)
	ShutdownTimeout time.Duration

	// Fallback is used by Purchase when the primary gateway has no product to sell.
	// Typically a simulated gateway in development builds; nil disables the fallback.
	Fallback Gateway

	// CircuitBreakerConfig wraps the gateway in a circuit breaker when enabled
	CircuitBreakerConfig *CircuitBreakerConfig

	// Metrics is used for tracking operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.FreeConversionsLimit < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, c.FreeConversionsLimit)
	}
	if c.GatewayTimeout < 0 {
		return fmt.Errorf("gatewayTimeout must not be negative")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdownTimeout must not be negative")
	}
	if cb := c.CircuitBreakerConfig; cb != nil && cb.Enabled {
		if cb.FailureThreshold < 0 {
			return fmt.Errorf("circuit breaker failureThreshold must not be negative")
		}
		if cb.ResetTimeout < 0 {
			return fmt.Errorf("circuit breaker resetTimeout must not be negative")
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PremiumProductID == "" {
		c.PremiumProductID = DefaultPremiumProductID
	}
	if c.FreeConversionsLimit == 0 {
		c.FreeConversionsLimit = DefaultFreeConversionsLimit
	}
	if c.GatewayTimeout == 0 {
		c.GatewayTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = &NoopLogger{}
	}
	if cb := c.CircuitBreakerConfig; cb != nil && cb.Enabled {
		if cb.FailureThreshold == 0 {
			cb.FailureThreshold = 5
		}
		if cb.ResetTimeout == 0 {
			cb.ResetTimeout = 30 * time.Second
		}
	}
}

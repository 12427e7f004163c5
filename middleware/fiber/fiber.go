// Package fiber provides Fiber middleware that gates exports behind the conversion quota
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Config holds middleware configuration
type Config struct {
	// Manager is the entitlement manager instance (required)
	Manager paywall.Consumer

	// ProductID is advertised in the default upsell body
	// Default: paywall.DefaultPremiumProductID
	ProductID string

	// Next lets requests through without gating or consuming when it returns true
	Next func(c *fiber.Ctx) bool

	// QuotaExceededStatusCode is the HTTP status code returned when the gate refuses the request
	// Default: 402 (Payment Required)
	QuotaExceededStatusCode int

	// OnQuotaExceeded is called when the gate refuses the request
	// If nil, uses default response: QuotaExceededStatusCode JSON with the upsell body
	OnQuotaExceeded func(c *fiber.Ctx, body paywall.QuotaExceededBody) error

	// OnError is called when the conversion could not be recorded
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that consumes one free conversion per request
func Middleware(cfg Config) fiber.Handler {
	if cfg.Manager == nil {
		panic("paywall/fiber: Config.Manager is required")
	}
	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = fiber.StatusPaymentRequired
	}
	if cfg.OnQuotaExceeded == nil {
		cfg.OnQuotaExceeded = func(c *fiber.Ctx, body paywall.QuotaExceededBody) error {
			return c.Status(cfg.QuotaExceededStatusCode).JSON(body)
		}
	}
	if cfg.OnError == nil {
		cfg.OnError = defaultError
	}

	return func(c *fiber.Ctx) error {
		if cfg.Next != nil && cfg.Next(c) {
			return c.Next()
		}

		if err := paywall.Gate(cfg.Manager); err != nil {
			setHeaders(c, cfg.Manager)
			return cfg.OnQuotaExceeded(c, paywall.NewQuotaExceededBody(cfg.Manager, cfg.ProductID))
		}

		// Fiber runs on fasthttp, so the request context comes from UserContext
		ok, err := cfg.Manager.UseConversion(c.UserContext())
		setHeaders(c, cfg.Manager)
		if err != nil {
			return cfg.OnError(c, err)
		}
		if !ok {
			return cfg.OnQuotaExceeded(c, paywall.NewQuotaExceededBody(cfg.Manager, cfg.ProductID))
		}

		return c.Next()
	}
}

func setHeaders(c *fiber.Ctx, v paywall.Viewer) {
	remaining, premium := paywall.GateHeaders(v)
	c.Set(paywall.HeaderConversionsRemaining, remaining)
	c.Set(paywall.HeaderPremium, premium)
}

func defaultError(c *fiber.Ctx, _ error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

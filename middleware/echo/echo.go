// Package echo provides Echo middleware that gates exports behind the conversion quota
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Config holds middleware configuration
type Config struct {
	// Manager is the entitlement manager instance (required)
	Manager paywall.Consumer

	// ProductID is advertised in the default upsell body
	// Default: paywall.DefaultPremiumProductID
	ProductID string

	// Skipper lets requests through without gating or consuming
	Skipper func(c echo.Context) bool

	// QuotaExceededStatusCode is the HTTP status code returned when the gate refuses the request
	// Default: 402 (Payment Required)
	QuotaExceededStatusCode int

	// OnQuotaExceeded is called when the gate refuses the request
	// If nil, uses default response: QuotaExceededStatusCode JSON with the upsell body
	OnQuotaExceeded func(c echo.Context, body paywall.QuotaExceededBody) error

	// OnError is called when the conversion could not be recorded
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that consumes one free conversion per request
func Middleware(config Config) echo.MiddlewareFunc {
	if config.Manager == nil {
		panic("paywall/echo: Config.Manager is required")
	}
	if config.QuotaExceededStatusCode == 0 {
		config.QuotaExceededStatusCode = http.StatusPaymentRequired
	}
	if config.OnQuotaExceeded == nil {
		config.OnQuotaExceeded = func(c echo.Context, body paywall.QuotaExceededBody) error {
			return c.JSON(config.QuotaExceededStatusCode, body)
		}
	}
	if config.OnError == nil {
		config.OnError = defaultError
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper != nil && config.Skipper(c) {
				return next(c)
			}

			if err := paywall.Gate(config.Manager); err != nil {
				setHeaders(c, config.Manager)
				return config.OnQuotaExceeded(c, paywall.NewQuotaExceededBody(config.Manager, config.ProductID))
			}

			ok, err := config.Manager.UseConversion(c.Request().Context())
			setHeaders(c, config.Manager)
			if err != nil {
				return config.OnError(c, err)
			}
			if !ok {
				return config.OnQuotaExceeded(c, paywall.NewQuotaExceededBody(config.Manager, config.ProductID))
			}

			return next(c)
		}
	}
}

func setHeaders(c echo.Context, v paywall.Viewer) {
	remaining, premium := paywall.GateHeaders(v)
	c.Response().Header().Set(paywall.HeaderConversionsRemaining, remaining)
	c.Response().Header().Set(paywall.HeaderPremium, premium)
}

func defaultError(c echo.Context, _ error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

// Package gin provides Gin middleware that gates exports behind the conversion quota
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Config holds middleware configuration
type Config struct {
	// Manager is the entitlement manager instance (required)
	Manager paywall.Consumer

	// ProductID is advertised in the default upsell body
	// Default: paywall.DefaultPremiumProductID
	ProductID string

	// Skip lets requests through without gating or consuming
	Skip func(c *gin.Context) bool

	// QuotaExceededStatusCode is the HTTP status code returned when the gate refuses the request
	// Default: 402 (Payment Required)
	QuotaExceededStatusCode int

	// OnQuotaExceeded is called when the gate refuses the request; the chain is aborted afterwards
	// If nil, aborts with QuotaExceededStatusCode and a JSON upsell
	OnQuotaExceeded func(c *gin.Context, body paywall.QuotaExceededBody)

	// OnError is called when the conversion could not be recorded
	// If nil, aborts with 500 Internal Server Error
	OnError func(c *gin.Context, err error)
}

// Middleware creates a Gin middleware that consumes one free conversion per request
// and aborts the chain once the quota is exhausted
func Middleware(config Config) gin.HandlerFunc {
	if config.Manager == nil {
		panic("paywall/gin: Config.Manager is required")
	}
	if config.QuotaExceededStatusCode == 0 {
		config.QuotaExceededStatusCode = http.StatusPaymentRequired
	}
	if config.OnQuotaExceeded == nil {
		config.OnQuotaExceeded = func(c *gin.Context, body paywall.QuotaExceededBody) {
			c.AbortWithStatusJSON(config.QuotaExceededStatusCode, body)
		}
	}
	if config.OnError == nil {
		config.OnError = defaultError
	}

	return func(c *gin.Context) {
		if config.Skip != nil && config.Skip(c) {
			c.Next()
			return
		}

		if err := paywall.Gate(config.Manager); err != nil {
			setHeaders(c, config.Manager)
			config.OnQuotaExceeded(c, paywall.NewQuotaExceededBody(config.Manager, config.ProductID))
			c.Abort()
			return
		}

		ok, err := config.Manager.UseConversion(c.Request.Context())
		setHeaders(c, config.Manager)
		if err != nil {
			config.OnError(c, err)
			c.Abort()
			return
		}
		if !ok {
			config.OnQuotaExceeded(c, paywall.NewQuotaExceededBody(config.Manager, config.ProductID))
			c.Abort()
			return
		}

		c.Next()
	}
}

func setHeaders(c *gin.Context, v paywall.Viewer) {
	remaining, premium := paywall.GateHeaders(v)
	c.Header(paywall.HeaderConversionsRemaining, remaining)
	c.Header(paywall.HeaderPremium, premium)
}

func defaultError(c *gin.Context, _ error) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
}

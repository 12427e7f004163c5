// Package http provides net/http middleware that gates exports behind the conversion quota
package http

import (
	"encoding/json"
	"net/http"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Config holds middleware configuration
type Config struct {
	// Manager is the entitlement manager instance (required)
	Manager paywall.Consumer

	// ProductID is advertised in the default upsell body
	// Default: paywall.DefaultPremiumProductID
	ProductID string

	// Skip lets requests through without gating or consuming (e.g. previews)
	Skip func(r *http.Request) bool

	// QuotaExceededStatusCode is the HTTP status code returned when the gate refuses the request
	// Default: 402 (Payment Required)
	QuotaExceededStatusCode int

	// OnQuotaExceeded is called when the gate refuses the request
	// If nil, returns QuotaExceededStatusCode with a JSON upsell
	OnQuotaExceeded func(w http.ResponseWriter, r *http.Request, body paywall.QuotaExceededBody)

	// OnError is called when the conversion could not be recorded
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that lets a request through only when an export is
// allowed, consuming one free conversion before the handler runs
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Manager == nil {
		panic("paywall/http: Config.Manager is required")
	}
	if config.QuotaExceededStatusCode == 0 {
		config.QuotaExceededStatusCode = http.StatusPaymentRequired
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Skip != nil && config.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			if err := paywall.Gate(config.Manager); err != nil {
				quotaExceeded(config, w, r)
				return
			}

			ok, err := config.Manager.UseConversion(r.Context())
			if err != nil {
				setHeaders(w, config.Manager)
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			if !ok {
				// Another request took the last conversion after the gate check
				quotaExceeded(config, w, r)
				return
			}

			setHeaders(w, config.Manager)
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates exports (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func quotaExceeded(config Config, w http.ResponseWriter, r *http.Request) {
	setHeaders(w, config.Manager)
	body := paywall.NewQuotaExceededBody(config.Manager, config.ProductID)
	if config.OnQuotaExceeded != nil {
		config.OnQuotaExceeded(w, r, body)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(config.QuotaExceededStatusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func setHeaders(w http.ResponseWriter, v paywall.Viewer) {
	remaining, premium := paywall.GateHeaders(v)
	w.Header().Set(paywall.HeaderConversionsRemaining, remaining)
	w.Header().Set(paywall.HeaderPremium, premium)
}

// Common predicates for convenience

// SkipMethods returns a Skip predicate for requests using any of methods
func SkipMethods(methods ...string) func(r *http.Request) bool {
	skip := make(map[string]bool, len(methods))
	for _, m := range methods {
		skip[m] = true
	}
	return func(r *http.Request) bool {
		return skip[r.Method]
	}
}

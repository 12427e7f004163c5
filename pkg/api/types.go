package api

import "github.com/mihaimyh/gopaywall/pkg/paywall"

// StatusResponse is the entitlement standing of the install
type StatusResponse struct {
	paywall.Snapshot
	FreeConversionsLimit int    `json:"free_conversions_limit"`
	PremiumProductID     string `json:"premium_product_id"`
}

// ConversionResponse reports the result of consuming one conversion
type ConversionResponse struct {
	Allowed                  bool `json:"allowed"`
	IsPremium                bool `json:"is_premium"`
	ConversionsUsed          int  `json:"conversions_used"`
	RemainingFreeConversions int  `json:"remaining_free_conversions"`
}

// ActionResponse is returned by purchase and restore.
// Error carries the cause when State is failed.
type ActionResponse struct {
	State       paywall.PurchaseState `json:"state"`
	Error       string                `json:"error,omitempty"`
	IsPremium   bool                  `json:"is_premium"`
	CheckoutURL string                `json:"checkout_url,omitempty"`
}

// ProductsResponse lists the loaded catalog
type ProductsResponse struct {
	Products []paywall.Product `json:"products"`
}

package paywall

import (
	"context"
	"strconv"
)

// Viewer exposes the read side of the entitlement state needed to gate an export.
// *Manager satisfies it.
type Viewer interface {
	CanConvert() bool
	IsPremium() bool
	RemainingFreeConversions() int
}

// Gate returns ErrQuotaExceeded when v does not allow another export.
// It never mutates state; consume with Manager.UseConversion once the export is accepted.
func Gate(v Viewer) error {
	if !v.CanConvert() {
		return ErrQuotaExceeded
	}
	return nil
}

// CanConvert is the quota predicate: premium users always pass, others while used < limit.
func CanConvert(isPremium bool, used, limit int) bool {
	return isPremium || used < limit
}

func remaining(used, limit int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}

// Consumer is a Viewer that can also spend a conversion. *Manager satisfies it.
type Consumer interface {
	Viewer
	UseConversion(ctx context.Context) (bool, error)
}

// Response headers set by the gate middleware
const (
	HeaderConversionsRemaining = "X-Conversions-Remaining"
	HeaderPremium              = "X-Premium"
)

// QuotaExceededBody is the default 402 upsell returned when the gate refuses an export
type QuotaExceededBody struct {
	Error                    string `json:"error"`
	RemainingFreeConversions int    `json:"remaining_free_conversions"`
	ProductID                string `json:"product_id"`
}

// NewQuotaExceededBody builds the upsell body for v
func NewQuotaExceededBody(v Viewer, productID string) QuotaExceededBody {
	if productID == "" {
		productID = DefaultPremiumProductID
	}
	return QuotaExceededBody{
		Error:                    ErrQuotaExceeded.Error(),
		RemainingFreeConversions: v.RemainingFreeConversions(),
		ProductID:                productID,
	}
}

// GateHeaders returns the header values describing v's quota
func GateHeaders(v Viewer) (remaining, premium string) {
	return strconv.Itoa(v.RemainingFreeConversions()), strconv.FormatBool(v.IsPremium())
}

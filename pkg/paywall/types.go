package paywall

import (
	"fmt"
	"time"
)

// DefaultPremiumProductID is the storefront identifier of the one-time premium unlock.
const DefaultPremiumProductID = "com.bobmockup.premium"

// DefaultFreeConversionsLimit is the number of free exports before premium is required.
const DefaultFreeConversionsLimit = 10

// Field names the persisted fields of a Record.
type Field string

const (
	// FieldConversionsUsed is the persisted count of consumed free exports
	FieldConversionsUsed Field = "conversions_used"
	// FieldIsPremium is the persisted premium latch
	FieldIsPremium Field = "is_premium"
)

// Record is the durable entitlement state of one install.
type Record struct {
	ConversionsUsed int
	IsPremium       bool
}

// StateKind identifies the active variant of a PurchaseState.
type StateKind string

// Purchase states. The string values are part of the JSON API.
const (
	// StateIdle means no purchase, restore or catalog load is running
	StateIdle StateKind = "idle"
	// StateLoading covers catalog loads and restores
	StateLoading StateKind = "loading"
	// StatePurchasing is set while the storefront purchase sheet is open
	StatePurchasing StateKind = "purchasing"
	// StateSuccess follows a granted purchase or restore
	StateSuccess StateKind = "success"
	// StateFailed carries the failure message in PurchaseState.Message
	StateFailed StateKind = "failed"
)

// PurchaseState is the transient status of the purchase flow.
// Message is only set for StateFailed.
type PurchaseState struct {
	Kind    StateKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// Idle returns the idle purchase state.
func Idle() PurchaseState { return PurchaseState{Kind: StateIdle} }

// Loading returns the loading purchase state.
func Loading() PurchaseState { return PurchaseState{Kind: StateLoading} }

// Purchasing returns the purchasing purchase state.
func Purchasing() PurchaseState { return PurchaseState{Kind: StatePurchasing} }

// Success returns the success purchase state.
func Success() PurchaseState { return PurchaseState{Kind: StateSuccess} }

// Failed returns a failed purchase state carrying a user-visible message.
func Failed(message string) PurchaseState {
	return PurchaseState{Kind: StateFailed, Message: message}
}

// Is reports whether the state is of the given kind.
func (s PurchaseState) Is(kind StateKind) bool {
	return s.Kind == kind
}

func (s PurchaseState) String() string {
	if s.Kind == StateFailed {
		return fmt.Sprintf("failed(%s)", s.Message)
	}
	if s.Kind == "" {
		return string(StateIdle)
	}
	return string(s.Kind)
}

// Product is a purchasable catalog entry as reported by the storefront.
type Product struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name,omitempty"`
	DisplayPrice string `json:"display_price"`

	// Price is in minor currency units; zero when the storefront does not report it
	Price    int64  `json:"price,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// Transaction is a storefront purchase record.
type Transaction struct {
	ID          string
	OriginalID  string
	ProductID   string
	PurchasedAt time.Time

	// Environment is "production" or "sandbox" when known
	Environment string
}

// VerificationResult is a transaction together with the storefront's authenticity verdict.
// Unverified results must never grant an entitlement.
type VerificationResult struct {
	Transaction Transaction
	Verified    bool

	// Reason explains why the transaction was not verified
	Reason string
}

// Verified wraps a transaction that passed the storefront's signature check.
func Verified(tx Transaction) VerificationResult {
	return VerificationResult{Transaction: tx, Verified: true}
}

// Unverified wraps a transaction that failed the storefront's signature check.
func Unverified(tx Transaction, reason string) VerificationResult {
	return VerificationResult{Transaction: tx, Reason: reason}
}

// OutcomeKind classifies the result of a purchase attempt.
type OutcomeKind string

const (
	// OutcomeVerified is a completed purchase whose transaction passed verification
	OutcomeVerified OutcomeKind = "verified"
	// OutcomeUnverified is a completed purchase whose transaction failed verification
	OutcomeUnverified OutcomeKind = "unverified"
	// OutcomeCancelled means the user dismissed the purchase
	OutcomeCancelled OutcomeKind = "cancelled"
	// OutcomePending means the purchase awaits approval or checkout; the grant arrives on the feed
	OutcomePending OutcomeKind = "pending"
	// OutcomeUnknown is any result the storefront could not classify
	OutcomeUnknown OutcomeKind = "unknown"
)

// PurchaseOutcome is what a storefront reports after a purchase attempt.
type PurchaseOutcome struct {
	Kind   OutcomeKind
	Result VerificationResult

	// RedirectURL is set by redirect-based storefronts for pending purchases
	RedirectURL string
}

// Snapshot is a consistent read-only view of the Manager state.
type Snapshot struct {
	ConversionsUsed          int           `json:"conversions_used"`
	IsPremium                bool          `json:"is_premium"`
	RemainingFreeConversions int           `json:"remaining_free_conversions"`
	CanConvert               bool          `json:"can_convert"`
	State                    PurchaseState `json:"purchase_state"`
	Products                 []Product     `json:"products"`
	// CheckoutURL is the redirect of the last pending purchase; cleared once premium is granted
	CheckoutURL string `json:"checkout_url,omitempty"`
}

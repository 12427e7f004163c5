package paywall

import "errors"

var (
	// ErrQuotaExceeded is returned when the free quota is used up and premium is not owned
	ErrQuotaExceeded = errors.New("free conversions exhausted")

	// ErrStoreUnavailable is returned when the storefront cannot be reached
	ErrStoreUnavailable = errors.New("storefront unavailable")

	// ErrVerificationFailed is returned when a transaction fails the storefront's authenticity check
	ErrVerificationFailed = errors.New("transaction verification failed")

	// ErrUnknownOutcome is returned for purchase outcomes the storefront does not classify
	ErrUnknownOutcome = errors.New("unknown purchase outcome")

	// ErrProductUnavailable is returned when the premium product cannot be loaded
	ErrProductUnavailable = errors.New("product unavailable")

	// ErrNothingToRestore is returned when a restore finds no premium entitlement
	ErrNothingToRestore = errors.New("nothing to restore")

	// ErrPurchaseInProgress is returned when a purchase or restore is already running
	ErrPurchaseInProgress = errors.New("purchase already in progress")

	// ErrStorageUnavailable is returned when no entitlement store is configured
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrGatewayRequired is returned when no storefront gateway is configured
	ErrGatewayRequired = errors.New("gateway required")

	// ErrInvalidLimit is returned for a negative free conversions limit
	ErrInvalidLimit = errors.New("invalid free conversions limit")
)

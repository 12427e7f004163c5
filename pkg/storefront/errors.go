package storefront

import "errors"

var (
	// ErrGatewayNotConfigured is returned when a gateway is missing required settings
	ErrGatewayNotConfigured = errors.New("storefront gateway not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrCustomerNotFound is returned when the install is unknown to the storefront
	ErrCustomerNotFound = errors.New("customer not found in storefront")

	// ErrAPIError is returned when the storefront's API returns an error
	ErrAPIError = errors.New("storefront API error")

	// ErrMissingReceipt is returned when a purchase has no receipt to submit
	ErrMissingReceipt = errors.New("no receipt available for purchase")
)

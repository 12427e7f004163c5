package storefront

import "time"

// Metrics defines the interface for tracking storefront gateway operations.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the storefront.
	// status: "success" or "error"
	RecordWebhookEvent(gateway, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(gateway, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g. "auth_failed", "invalid_payload", "rate_limited"
	RecordWebhookError(gateway, errorType string)

	// RecordSync records a restore synchronization.
	RecordSync(gateway, status string)

	// RecordAPICall records an API call to the storefront.
	// status: HTTP status code as string, or "error" for transport failures
	RecordAPICall(gateway, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(gateway, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordSync(_, _ string)                                       {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}

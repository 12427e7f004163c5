package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/gopaywall/pkg/storefront"
)

// Metrics implements storefront.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	syncTotal                 *prometheus.CounterVec
	apiCallsTotal             *prometheus.CounterVec
	apiCallDuration           *prometheus.HistogramVec
}

// NewMetrics creates a new Prometheus metrics implementation for storefront gateways.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storefront",
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events received from storefronts.",
		}, []string{"gateway", "event_type", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storefront",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "event_type"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storefront",
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook processing errors.",
		}, []string{"gateway", "error_type"}),

		syncTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storefront",
			Name:      "sync_total",
			Help:      "Total number of restore synchronizations.",
		}, []string{"gateway", "status"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storefront",
			Name:      "api_calls_total",
			Help:      "Total number of API calls to storefronts.",
		}, []string{"gateway", "endpoint", "status"}),

		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storefront",
			Name:      "api_call_duration_seconds",
			Help:      "Duration of API calls to storefronts in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "endpoint"}),
	}
}

func (m *Metrics) RecordWebhookEvent(gateway, eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(gateway, eventType, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(gateway, eventType string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(gateway, eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(gateway, errorType string) {
	m.webhookErrorsTotal.WithLabelValues(gateway, errorType).Inc()
}

func (m *Metrics) RecordSync(gateway, status string) {
	m.syncTotal.WithLabelValues(gateway, status).Inc()
}

func (m *Metrics) RecordAPICall(gateway, endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(gateway, endpoint, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(gateway, endpoint string, duration time.Duration) {
	m.apiCallDuration.WithLabelValues(gateway, endpoint).Observe(duration.Seconds())
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) storefront.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Metrics implements paywall.Metrics using Prometheus.
type Metrics struct {
	conversionsTotal           *prometheus.CounterVec
	purchasesTotal             *prometheus.CounterVec
	restoresTotal              *prometheus.CounterVec
	feedUpdatesTotal           *prometheus.CounterVec
	gatewayCallDuration        *prometheus.HistogramVec
	gatewayCallErrors          *prometheus.CounterVec
	stateChangesTotal          *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		conversionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total number of conversion attempts.",
		}, []string{"premium", "success"}),

		purchasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Total number of purchase attempts by outcome.",
		}, []string{"outcome"}),

		restoresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Total number of restore attempts.",
		}, []string{"success"}),

		feedUpdatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_updates_total",
			Help:      "Total number of transactions received from the live feed.",
		}, []string{"verified"}),

		gatewayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Latency of storefront calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		gatewayCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_call_errors_total",
			Help:      "Total number of failed storefront calls.",
		}, []string{"operation"}),

		stateChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_state_changes_total",
			Help:      "Total number of purchase state transitions.",
		}, []string{"state"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordConversion(premium, success bool) {
	m.conversionsTotal.WithLabelValues(strconv.FormatBool(premium), strconv.FormatBool(success)).Inc()
}

func (m *Metrics) RecordPurchase(outcome string) {
	m.purchasesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRestore(success bool) {
	m.restoresTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (m *Metrics) RecordFeedUpdate(verified bool) {
	m.feedUpdatesTotal.WithLabelValues(strconv.FormatBool(verified)).Inc()
}

func (m *Metrics) RecordGatewayCall(operation string, duration time.Duration, err error) {
	m.gatewayCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.gatewayCallErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordStateChange(state paywall.StateKind) {
	m.stateChangesTotal.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

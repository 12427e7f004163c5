package revenuecat

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
	"github.com/mihaimyh/gopaywall/pkg/storefront"
	"github.com/mihaimyh/gopaywall/pkg/storefront/internal"
)

// webhookPayload is the subset of the RevenueCat webhook body the gateway reads
type webhookPayload struct {
	APIVersion string `json:"api_version"`
	Event      struct {
		ID                    string   `json:"id"`
		Type                  string   `json:"type"`
		AppUserID             string   `json:"app_user_id"`
		OriginalAppUserID     string   `json:"original_app_user_id"`
		Aliases               []string `json:"aliases"`
		ProductID             string   `json:"product_id"`
		TransactionID         string   `json:"transaction_id"`
		OriginalTransactionID string   `json:"original_transaction_id"`
		PurchasedAtMs         int64    `json:"purchased_at_ms"`
		EventTimestampMs      int64    `json:"event_timestamp_ms"`
		Environment           string   `json:"environment"`
		Store                 string   `json:"store"`
	} `json:"event"`
}

// purchaseEvents grant an entitlement; other event types are acknowledged and ignored
var purchaseEvents = map[string]bool{
	"INITIAL_PURCHASE":      true,
	"NON_RENEWING_PURCHASE": true,
}

func (p *webhookPayload) transaction() paywall.Transaction {
	ev := p.Event
	id := ev.TransactionID
	if id == "" {
		id = ev.ID
	}
	return paywall.Transaction{
		ID:          id,
		OriginalID:  ev.OriginalTransactionID,
		ProductID:   strings.TrimSpace(ev.ProductID),
		PurchasedAt: parseEventTimestamp(ev.PurchasedAtMs),
		Environment: strings.ToLower(ev.Environment),
	}
}

func (p *webhookPayload) concerns(appUserID string) bool {
	if p.Event.AppUserID == appUserID || p.Event.OriginalAppUserID == appUserID {
		return true
	}
	for _, alias := range p.Event.Aliases {
		if alias == appUserID {
			return true
		}
	}
	return false
}

// handleWebhook turns RevenueCat purchase events into feed updates.
// Requests that fail authentication are answered 401 and, when they describe a purchase
// for this install, forwarded as unverified so they are logged and counted.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if len(g.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, internal.MaxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			g.metrics.RecordWebhookError(gatewayName, "payload_too_large")
			return
		}
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		g.metrics.RecordWebhookError(gatewayName, "invalid_payload")
		return
	}

	verified := g.verifyRequest(extractTokenOrSignature(r), body)

	var payload webhookPayload
	parseErr := parseWebhookPayload(body, &payload)

	if !verified {
		if parseErr == nil && purchaseEvents[payload.Event.Type] && payload.concerns(g.appUserID) {
			res := paywall.Unverified(payload.transaction(), storefront.ErrInvalidWebhookSignature.Error())
			if !g.feed.Offer(res) {
				g.logger.Warn("dropped unverified revenuecat event", paywall.F("event_id", payload.Event.ID))
				g.metrics.RecordWebhookError(gatewayName, "feed_full")
			}
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		g.metrics.RecordWebhookError(gatewayName, "auth_failed")
		return
	}
	if parseErr != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", parseErr), http.StatusBadRequest)
		g.metrics.RecordWebhookError(gatewayName, "invalid_payload")
		return
	}

	eventType := strings.TrimSpace(payload.Event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	switch {
	case strings.EqualFold(eventType, "TEST"):
	case !payload.concerns(g.appUserID):
		g.logger.Debug("ignoring revenuecat event for another user", paywall.F("event_id", payload.Event.ID))
	case !purchaseEvents[eventType]:
		g.logger.Debug("ignoring revenuecat event", paywall.F("event_type", eventType))
	default:
		if err := g.feed.Push(r.Context(), paywall.Verified(payload.transaction())); err != nil {
			http.Error(w, "feed unavailable", http.StatusServiceUnavailable)
			g.metrics.RecordWebhookEvent(gatewayName, eventType, "error")
			g.metrics.RecordWebhookError(gatewayName, "processing_error")
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
	g.metrics.RecordWebhookEvent(gatewayName, eventType, "success")
	g.metrics.RecordWebhookProcessingDuration(gatewayName, eventType, time.Since(start))
}

// extractTokenOrSignature extracts the authentication token or signature from the request
func extractTokenOrSignature(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader != "" {
		return stripBearer(authHeader)
	}
	return strings.TrimSpace(r.Header.Get("X-RevenueCat-Signature"))
}

// verifyRequest accepts the shared bearer token, or an HMAC-SHA256 body signature when enabled
func (g *Gateway) verifyRequest(tokenOrSig string, body []byte) bool {
	if len(g.webhookSecret) == 0 || tokenOrSig == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(tokenOrSig), g.webhookSecret) == 1 {
		return true
	}
	if !g.acceptHMAC {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(tokenOrSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, g.webhookSecret)
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}

func parseWebhookPayload(body []byte, payload *webhookPayload) error {
	if err := json.Unmarshal(body, payload); err != nil {
		return fmt.Errorf("%w: %w", storefront.ErrInvalidWebhookPayload, err)
	}
	if strings.TrimSpace(payload.Event.AppUserID) == "" && strings.TrimSpace(payload.Event.OriginalAppUserID) == "" {
		return fmt.Errorf("%w: missing app user id", storefront.ErrInvalidWebhookPayload)
	}
	return nil
}

// parseEventTimestamp converts a millisecond timestamp to time.Time
func parseEventTimestamp(timestampMs int64) time.Time {
	if timestampMs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(timestampMs).UTC()
}

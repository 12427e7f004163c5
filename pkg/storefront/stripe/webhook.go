package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
	"github.com/mihaimyh/gopaywall/pkg/storefront"
	"github.com/mihaimyh/gopaywall/pkg/storefront/internal"
)

const (
	eventCheckoutCompleted             = "checkout.session.completed"
	eventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	eventCheckoutAsyncPaymentFailed    = "checkout.session.async_payment_failed"
)

// handleWebhook verifies the Stripe-Signature header and feeds completed checkouts to the Manager.
// A signature failure is answered 401; a checkout for this user carried by such a request is
// forwarded as unverified so it is logged and counted.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.webhookSecret == "" {
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

	event, err := stripe.ConstructEvent(body, r.Header.Get("Stripe-Signature"), g.webhookSecret)
	if err != nil {
		g.forwardUnverified(body)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		g.metrics.RecordWebhookError(gatewayName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if err := g.processWebhookEvent(r.Context(), &event); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storefront.ErrInvalidWebhookPayload) {
			status = http.StatusBadRequest
		}
		http.Error(w, "failed to process webhook", status)
		g.metrics.RecordWebhookEvent(gatewayName, eventType, "error")
		g.metrics.RecordWebhookError(gatewayName, "processing_error")
		g.metrics.RecordWebhookProcessingDuration(gatewayName, eventType, time.Since(start))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
	g.metrics.RecordWebhookEvent(gatewayName, eventType, "success")
	g.metrics.RecordWebhookProcessingDuration(gatewayName, eventType, time.Since(start))
}

// processWebhookEvent pushes paid checkouts of this user into the feed; other events are ignored
func (g *Gateway) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case eventCheckoutCompleted, eventCheckoutAsyncPaymentSucceeded:
		session, err := decodeSession(event)
		if err != nil {
			return err
		}
		if !g.owns(session) {
			g.logger.Debug("ignoring stripe checkout for another user", paywall.F("session_id", session.ID))
			return nil
		}
		tx, ok := g.paidTransaction(session)
		if !ok {
			// Delayed payment methods complete later with async_payment_succeeded
			g.logger.Debug("stripe checkout not paid yet", paywall.F("session_id", session.ID),
				paywall.F("payment_status", session.PaymentStatus))
			return nil
		}
		g.rememberCustomer(ctx, session.Customer)
		if err := g.feed.Push(ctx, paywall.Verified(tx)); err != nil {
			return fmt.Errorf("failed to queue transaction %s: %w", tx.ID, err)
		}
		return nil

	case eventCheckoutAsyncPaymentFailed:
		session, err := decodeSession(event)
		if err != nil {
			return err
		}
		g.logger.Info("stripe checkout payment failed", paywall.F("session_id", session.ID))
		return nil

	default:
		// Unknown event type - ignore silently
		return nil
	}
}

// forwardUnverified reports an unauthenticated checkout completion for this user
func (g *Gateway) forwardUnverified(body []byte) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil || event.Type != eventCheckoutCompleted {
		return
	}
	session, err := decodeSession(&event)
	if err != nil || !g.owns(session) {
		return
	}
	tx, ok := g.paidTransaction(session)
	if !ok {
		return
	}
	res := paywall.Unverified(tx, storefront.ErrInvalidWebhookSignature.Error())
	if !g.feed.Offer(res) {
		g.logger.Warn("dropped unverified stripe event", paywall.F("event_id", event.ID))
		g.metrics.RecordWebhookError(gatewayName, "feed_full")
	}
}

func decodeSession(event *stripe.Event) (*stripe.CheckoutSession, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", storefront.ErrInvalidWebhookPayload, event.ID)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal checkout session: %w", storefront.ErrInvalidWebhookPayload, err)
	}
	return &session, nil
}

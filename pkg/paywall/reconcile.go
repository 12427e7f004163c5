package paywall

import (
	"context"
	"time"
)

// reconcile scans the current entitlements and grants premium on the first verified
// transaction for the premium product. Unverified results are logged and skipped.
func (m *Manager) reconcile(ctx context.Context) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.GatewayTimeout)
	defer cancel()

	start := time.Now()
	for res, err := range m.gateway.CurrentEntitlements(callCtx) {
		if err != nil {
			m.metrics.RecordGatewayCall("current_entitlements", time.Since(start), err)
			m.logger.Warn("failed to enumerate current entitlements", F("error", err))
			return false, err
		}
		tx := res.Transaction
		if !res.Verified {
			m.logger.Warn("skipping unverified entitlement", F("transaction_id", tx.ID),
				F("product_id", tx.ProductID), F("reason", res.Reason))
			continue
		}
		if tx.ProductID != m.config.PremiumProductID {
			continue
		}
		m.metrics.RecordGatewayCall("current_entitlements", time.Since(start), nil)
		if err := m.grant(ctx, m.gateway, tx); err != nil {
			return false, err
		}
		return true, nil
	}
	m.metrics.RecordGatewayCall("current_entitlements", time.Since(start), nil)
	return false, nil
}

// listen consumes the transaction feed until ctx is cancelled or the feed closes.
func (m *Manager) listen(ctx context.Context) {
	updates := m.gateway.Updates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-updates:
			if !ok {
				m.logger.Debug("transaction feed closed")
				return
			}
			m.handleUpdate(ctx, res)
		}
	}
}

func (m *Manager) handleUpdate(ctx context.Context, res VerificationResult) {
	tx := res.Transaction
	m.metrics.RecordFeedUpdate(res.Verified)

	if !res.Verified {
		m.logger.Warn("transaction failed verification", F("transaction_id", tx.ID),
			F("product_id", tx.ProductID), F("reason", res.Reason))
		return
	}
	if tx.ProductID != m.config.PremiumProductID {
		m.logger.Debug("ignoring transaction for other product", F("transaction_id", tx.ID),
			F("product_id", tx.ProductID))
		return
	}
	if err := m.grant(ctx, m.gateway, tx); err != nil {
		m.logger.Error("failed to apply transaction update", F("transaction_id", tx.ID), F("error", err))
	}
}

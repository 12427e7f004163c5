package paywall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Manager owns the entitlement record, the cached product catalog and the purchase status.
// Construct one per process with NewManager and pass it to whatever needs it.
type Manager struct {
	store   Store
	gateway Gateway
	config  Config
	logger  Logger
	metrics Metrics

	// mu guards the in-memory state below; no store or gateway call runs under it
	mu       sync.Mutex
	record   Record
	products []Product
	state    PurchaseState
	busy     bool
	finished map[string]struct{}
	checkout string

	// writeMu serializes durable writes so the store always leads the in-memory record
	writeMu sync.Mutex

	loads singleflight.Group

	obsMu     sync.Mutex
	observers map[int]chan Snapshot
	nextObs   int
}

// NewManager creates a new entitlement manager with the given store, gateway and configuration.
// The persisted record is loaded immediately; a load failure is logged and the defaults are used.
func NewManager(store Store, gateway Gateway, config Config) (*Manager, error) {
	if store == nil {
		return nil, ErrStorageUnavailable
	}
	if gateway == nil {
		return nil, ErrGatewayRequired
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	if cb := config.CircuitBreakerConfig; cb != nil && cb.Enabled {
		metrics := config.Metrics
		breaker := NewDefaultCircuitBreaker(cb.FailureThreshold, cb.ResetTimeout, func(state CircuitBreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
		})
		gateway = NewCircuitBreakerGateway(gateway, breaker)
	}

	m := &Manager{
		store:     store,
		gateway:   gateway,
		config:    config,
		logger:    config.Logger,
		metrics:   config.Metrics,
		state:     Idle(),
		finished:  make(map[string]struct{}),
		observers: make(map[int]chan Snapshot),
	}

	rec, err := store.Load(context.Background())
	if err != nil {
		m.logger.Error("failed to load entitlement record, using defaults", F("error", err))
		rec = Record{}
	}
	if rec.ConversionsUsed < 0 {
		rec.ConversionsUsed = 0
	}
	m.record = rec

	return m, nil
}

// Config returns the effective configuration after defaults were applied
func (m *Manager) Config() Config {
	return m.config
}

// IsPremium reports whether the premium entitlement has been granted
func (m *Manager) IsPremium() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.IsPremium
}

// ConversionsUsed returns the number of free conversions consumed
func (m *Manager) ConversionsUsed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.ConversionsUsed
}

// RemainingFreeConversions returns max(0, limit - used)
func (m *Manager) RemainingFreeConversions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return remaining(m.record.ConversionsUsed, m.config.FreeConversionsLimit)
}

// CanConvert reports whether an export may start now
func (m *Manager) CanConvert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CanConvert(m.record.IsPremium, m.record.ConversionsUsed, m.config.FreeConversionsLimit)
}

// HasProducts reports whether the product catalog is non-empty
func (m *Manager) HasProducts() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products) > 0
}

// Products returns a copy of the cached catalog
func (m *Manager) Products() []Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Product(nil), m.products...)
}

// PurchaseState returns the current purchase status
func (m *Manager) PurchaseState() PurchaseState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a consistent view of the observable state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		ConversionsUsed:          m.record.ConversionsUsed,
		IsPremium:                m.record.IsPremium,
		RemainingFreeConversions: remaining(m.record.ConversionsUsed, m.config.FreeConversionsLimit),
		CanConvert:               CanConvert(m.record.IsPremium, m.record.ConversionsUsed, m.config.FreeConversionsLimit),
		State:                    m.state,
		Products:                 append([]Product(nil), m.products...),
		CheckoutURL:              m.checkout,
	}
}

// UseConversion consumes one free conversion if allowed.
// It returns false without error when the quota is exhausted. Premium users are never charged.
// The increment is durable before the call returns true; a failed write returns false and the error.
func (m *Manager) UseConversion(ctx context.Context) (bool, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	rec := m.record
	m.mu.Unlock()

	if rec.IsPremium {
		m.metrics.RecordConversion(true, true)
		return true, nil
	}
	if !CanConvert(false, rec.ConversionsUsed, m.config.FreeConversionsLimit) {
		m.metrics.RecordConversion(false, false)
		m.logger.Debug("free conversions exhausted", F("used", rec.ConversionsUsed),
			F("limit", m.config.FreeConversionsLimit))
		return false, nil
	}

	next := rec.ConversionsUsed + 1
	if err := m.store.SaveConversionsUsed(ctx, next); err != nil {
		m.metrics.RecordConversion(false, false)
		m.logger.Error("failed to persist conversion", F("used", next), F("error", err))
		return false, fmt.Errorf("failed to save conversions: %w", err)
	}

	m.mu.Lock()
	m.record.ConversionsUsed = next
	m.mu.Unlock()

	m.metrics.RecordConversion(false, true)
	m.notify()
	return true, nil
}

// LoadProducts refreshes the catalog from the gateway.
// Gateway failures are logged and leave the previous catalog in place; the state always ends Idle.
// While a purchase or restore is running the status is left to that operation.
func (m *Manager) LoadProducts(ctx context.Context) []Product {
	loading := Loading()
	if m.transition(nil, loading) {
		defer m.transition(&loading, Idle())
	}
	return m.refreshProducts(ctx)
}

func (m *Manager) refreshProducts(ctx context.Context) []Product {
	v, _, _ := m.loads.Do("products", func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, m.config.GatewayTimeout)
		defer cancel()

		start := time.Now()
		products, err := m.gateway.Products(callCtx, []string{m.config.PremiumProductID})
		m.metrics.RecordGatewayCall("products", time.Since(start), err)
		if err != nil {
			m.logger.Warn("failed to load products", F("product_id", m.config.PremiumProductID), F("error", err))
			return m.Products(), nil
		}

		m.mu.Lock()
		m.products = append([]Product(nil), products...)
		m.mu.Unlock()
		m.logger.Info("products loaded", F("count", len(products)))
		m.notify()
		return append([]Product(nil), products...), nil
	})
	products, _ := v.([]Product)
	return products
}

// Purchase buys the premium product and returns the final purchase state.
// A purchase or restore already in flight is rejected with ErrPurchaseInProgress.
// Cancelled and pending purchases end Idle without error; every failure ends in Failed
// and the returned error carries the cause.
func (m *Manager) Purchase(ctx context.Context) (PurchaseState, error) {
	if err := m.acquire(); err != nil {
		return m.PurchaseState(), err
	}
	defer m.release()

	gateway := m.gateway
	products := m.Products()
	if len(products) == 0 {
		m.setState(Loading())
		products = m.refreshProducts(ctx)
		m.setState(Idle())
	}
	if len(products) == 0 && m.config.Fallback != nil {
		m.logger.Warn("no storefront product available, using fallback gateway",
			F("product_id", m.config.PremiumProductID))
		gateway = m.config.Fallback
		products = m.fallbackProducts(ctx)
	}
	if len(products) == 0 {
		m.metrics.RecordPurchase("unavailable")
		return m.fail("product unavailable", ErrProductUnavailable)
	}

	product := products[0]
	m.setState(Purchasing())

	callCtx, cancel := context.WithTimeout(ctx, m.config.GatewayTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := gateway.Purchase(callCtx, product)
	m.metrics.RecordGatewayCall("purchase", time.Since(start), err)
	if err != nil {
		m.metrics.RecordPurchase("error")
		m.logger.Error("purchase failed", F("product_id", product.ID), F("error", err))
		if errors.Is(err, context.DeadlineExceeded) {
			return m.fail("storefront timed out", err)
		}
		return m.fail(err.Error(), err)
	}
	m.metrics.RecordPurchase(string(outcome.Kind))

	switch outcome.Kind {
	case OutcomeVerified, OutcomeUnverified:
		if reason := m.rejectReason(outcome); reason != "" {
			tx := outcome.Result.Transaction
			m.logger.Warn("purchase failed verification", F("transaction_id", tx.ID),
				F("product_id", tx.ProductID), F("reason", reason))
			return m.fail("verification failed: "+reason, ErrVerificationFailed)
		}
		if err := m.grant(ctx, gateway, outcome.Result.Transaction); err != nil {
			return m.fail(err.Error(), err)
		}
		m.setState(Success())
		return Success(), nil

	case OutcomeCancelled:
		m.logger.Info("purchase cancelled", F("product_id", product.ID))
		m.setState(Idle())
		return Idle(), nil

	case OutcomePending:
		m.logger.Info("purchase pending", F("product_id", product.ID), F("redirect_url", outcome.RedirectURL))
		m.mu.Lock()
		m.checkout = outcome.RedirectURL
		m.mu.Unlock()
		m.setState(Idle())
		return Idle(), nil

	default:
		m.logger.Error("purchase returned unknown outcome", F("product_id", product.ID), F("outcome", outcome.Kind))
		return m.fail("unknown error", ErrUnknownOutcome)
	}
}

func (m *Manager) fallbackProducts(ctx context.Context) []Product {
	callCtx, cancel := context.WithTimeout(ctx, m.config.GatewayTimeout)
	defer cancel()

	products, err := m.config.Fallback.Products(callCtx, []string{m.config.PremiumProductID})
	if err != nil {
		m.logger.Warn("fallback gateway has no products", F("error", err))
		return nil
	}
	return products
}

// rejectReason returns why a purchase outcome must not grant premium, or "" when it may
func (m *Manager) rejectReason(outcome PurchaseOutcome) string {
	res := outcome.Result
	if outcome.Kind != OutcomeVerified || !res.Verified {
		if res.Reason != "" {
			return res.Reason
		}
		return "transaction could not be verified"
	}
	if res.Transaction.ProductID != m.config.PremiumProductID {
		return fmt.Sprintf("unexpected product %q", res.Transaction.ProductID)
	}
	return ""
}

// RestorePurchases re-synchronizes purchase history and re-scans current entitlements.
// It ends in Success when premium is (or already was) granted, otherwise Failed.
func (m *Manager) RestorePurchases(ctx context.Context) (PurchaseState, error) {
	if err := m.acquire(); err != nil {
		return m.PurchaseState(), err
	}
	defer m.release()

	m.setState(Loading())

	callCtx, cancel := context.WithTimeout(ctx, m.config.GatewayTimeout)
	start := time.Now()
	err := m.gateway.Sync(callCtx)
	cancel()
	m.metrics.RecordGatewayCall("sync", time.Since(start), err)
	if err != nil {
		m.metrics.RecordRestore(false)
		m.logger.Error("restore sync failed", F("error", err))
		return m.fail("restore error: "+err.Error(), err)
	}

	found, err := m.reconcile(ctx)
	if err != nil && !m.IsPremium() {
		m.metrics.RecordRestore(false)
		return m.fail("restore error: "+err.Error(), err)
	}
	if found || m.IsPremium() {
		m.metrics.RecordRestore(true)
		m.setState(Success())
		return Success(), nil
	}

	m.metrics.RecordRestore(false)
	return m.fail("nothing to restore", ErrNothingToRestore)
}

// grant latches premium durably and then acknowledges the transaction.
// When the write fails the transaction stays unfinished so the storefront redelivers it.
func (m *Manager) grant(ctx context.Context, gateway Gateway, tx Transaction) error {
	m.writeMu.Lock()
	if !m.IsPremium() {
		if err := m.store.SavePremium(ctx, true); err != nil {
			m.writeMu.Unlock()
			m.logger.Error("failed to persist premium", F("transaction_id", tx.ID), F("error", err))
			return fmt.Errorf("failed to save entitlement: %w", err)
		}
		m.mu.Lock()
		m.record.IsPremium = true
		m.checkout = ""
		m.mu.Unlock()
		m.logger.Info("premium granted", F("transaction_id", tx.ID), F("product_id", tx.ProductID))
	}
	m.writeMu.Unlock()

	m.finish(ctx, gateway, tx)
	m.notify()
	return nil
}

// finish acknowledges a transaction at most once per transaction id
func (m *Manager) finish(ctx context.Context, gateway Gateway, tx Transaction) {
	if tx.ID != "" {
		m.mu.Lock()
		if _, done := m.finished[tx.ID]; done {
			m.mu.Unlock()
			return
		}
		m.finished[tx.ID] = struct{}{}
		m.mu.Unlock()
	}

	callCtx, cancel := context.WithTimeout(ctx, m.config.GatewayTimeout)
	defer cancel()

	start := time.Now()
	err := gateway.Finish(callCtx, tx)
	m.metrics.RecordGatewayCall("finish", time.Since(start), err)
	if err != nil {
		m.logger.Warn("failed to finish transaction", F("transaction_id", tx.ID), F("error", err))
		if tx.ID != "" {
			m.mu.Lock()
			delete(m.finished, tx.ID)
			m.mu.Unlock()
		}
	}
}

func (m *Manager) acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return ErrPurchaseInProgress
	}
	m.busy = true
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
}

func (m *Manager) fail(message string, cause error) (PurchaseState, error) {
	state := Failed(message)
	m.setState(state)
	return state, cause
}

func (m *Manager) setState(state PurchaseState) {
	m.mu.Lock()
	changed := m.state != state
	m.state = state
	m.mu.Unlock()

	if changed {
		m.metrics.RecordStateChange(state.Kind)
		m.notify()
	}
}

// transition moves to next unless a purchase or restore owns the status.
// With from set, the status must still equal *from.
func (m *Manager) transition(from *PurchaseState, next PurchaseState) bool {
	m.mu.Lock()
	if m.busy || (from != nil && m.state != *from) {
		m.mu.Unlock()
		return false
	}
	changed := m.state != next
	m.state = next
	m.mu.Unlock()

	if changed {
		m.metrics.RecordStateChange(next.Kind)
		m.notify()
	}
	return true
}

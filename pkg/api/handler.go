package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Config holds configuration for the paywall API handler
type Config struct {
	// Manager is the entitlement manager instance (required)
	Manager *paywall.Manager

	// OnError handles errors (conflicts, storage failures, etc.)
	// If nil, uses default error handling
	OnError func(w http.ResponseWriter, r *http.Request, err error, statusCode int)

	// Logger is used to report handler failures (default: NoopLogger)
	Logger paywall.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	return nil
}

// Handler provides HTTP endpoints over the entitlement manager
type Handler struct {
	config Config
	logger paywall.Logger
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = &paywall.NoopLogger{}
	}
	return &Handler{
		config: config,
		logger: logger,
	}, nil
}

// Routes returns a handler serving every endpoint at the root.
// Wrap it in http.StripPrefix to serve it under a prefix.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", h.GetStatus)
	mux.HandleFunc("POST /conversions", h.UseConversion)
	mux.HandleFunc("POST /purchase", h.Purchase)
	mux.HandleFunc("POST /restore", h.Restore)
	mux.HandleFunc("GET /products", h.GetProducts)
	mux.HandleFunc("POST /products/reload", h.ReloadProducts)
	return mux
}

// GetStatus returns the current snapshot of the manager
func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := h.config.Manager.Config()
	writeJSON(w, http.StatusOK, StatusResponse{
		Snapshot:             h.config.Manager.Snapshot(),
		FreeConversionsLimit: cfg.FreeConversionsLimit,
		PremiumProductID:     cfg.PremiumProductID,
	})
}

// UseConversion consumes one free conversion.
// Responds 402 with the upsell body when the quota is exhausted.
func (h *Handler) UseConversion(w http.ResponseWriter, r *http.Request) {
	m := h.config.Manager

	ok, err := m.UseConversion(r.Context())
	if err != nil {
		h.logger.Error("api: failed to use conversion", paywall.F("error", err))
		h.handleError(w, r, err, http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, http.StatusPaymentRequired, paywall.NewQuotaExceededBody(m, m.Config().PremiumProductID))
		return
	}

	writeJSON(w, http.StatusOK, ConversionResponse{
		Allowed:                  true,
		IsPremium:                m.IsPremium(),
		ConversionsUsed:          m.ConversionsUsed(),
		RemainingFreeConversions: m.RemainingFreeConversions(),
	})
}

// Purchase starts the premium purchase and reports the resulting state.
// A purchase that fails still responds 200 with a failed state; only a concurrent
// purchase or restore is rejected with 409.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	state, err := h.config.Manager.Purchase(r.Context())
	h.writeAction(w, r, state, err)
}

// Restore re-synchronizes purchase history and reports the resulting state
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	state, err := h.config.Manager.RestorePurchases(r.Context())
	h.writeAction(w, r, state, err)
}

// GetProducts returns the catalog loaded so far
func (h *Handler) GetProducts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ProductsResponse{Products: nonNil(h.config.Manager.Products())})
}

// ReloadProducts refreshes the catalog from the storefront
func (h *Handler) ReloadProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProductsResponse{Products: nonNil(h.config.Manager.LoadProducts(r.Context()))})
}

func (h *Handler) writeAction(w http.ResponseWriter, r *http.Request, state paywall.PurchaseState, err error) {
	if errors.Is(err, paywall.ErrPurchaseInProgress) {
		h.handleError(w, r, err, http.StatusConflict)
		return
	}

	snap := h.config.Manager.Snapshot()
	resp := ActionResponse{
		State:       state,
		IsPremium:   snap.IsPremium,
		CheckoutURL: snap.CheckoutURL,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err, statusCode)
		return
	}

	// Default error handling
	writeJSON(w, statusCode, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Response already started; nothing useful to do with an encode error
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(products []paywall.Product) []paywall.Product {
	if products == nil {
		return []paywall.Product{}
	}
	return products
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
	"github.com/mihaimyh/gopaywall/pkg/storefront/simulated"
	"github.com/mihaimyh/gopaywall/storage/memory"
)

// Helper to create a handler over a fresh manager
func newTestHandler(t *testing.T, store *memory.Storage, gw *simulated.Gateway) (*Handler, *paywall.Manager) {
	t.Helper()

	manager, err := paywall.NewManager(store, gw, paywall.Config{FreeConversionsLimit: 2})
	require.NoError(t, err)

	handler, err := NewHandler(Config{Manager: manager})
	require.NoError(t, err)
	return handler, manager
}

func do(t *testing.T, h http.Handler, method, target string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, http.NoBody))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func TestNewHandler_RequiresManager(t *testing.T) {
	_, err := NewHandler(Config{})
	assert.Error(t, err)
}

func TestHandler_GetStatus(t *testing.T) {
	handler, _ := newTestHandler(t, memory.NewWithRecord(paywall.Record{ConversionsUsed: 1}), simulated.New())

	var status StatusResponse
	rec := do(t, handler.Routes(), http.MethodGet, "/status", &status)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, status.ConversionsUsed)
	assert.Equal(t, 1, status.RemainingFreeConversions)
	assert.True(t, status.CanConvert)
	assert.False(t, status.IsPremium)
	assert.Equal(t, 2, status.FreeConversionsLimit)
	assert.Equal(t, paywall.DefaultPremiumProductID, status.PremiumProductID)
	assert.Equal(t, paywall.StateIdle, status.State.Kind)
}

func TestHandler_UseConversion(t *testing.T) {
	handler, manager := newTestHandler(t, memory.New(), simulated.New())
	routes := handler.Routes()

	var conv ConversionResponse
	rec := do(t, routes, http.MethodPost, "/conversions", &conv)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, conv.Allowed)
	assert.Equal(t, 1, conv.ConversionsUsed)
	assert.Equal(t, 1, conv.RemainingFreeConversions)

	do(t, routes, http.MethodPost, "/conversions", nil)

	var refused paywall.QuotaExceededBody
	rec = do(t, routes, http.MethodPost, "/conversions", &refused)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, 0, refused.RemainingFreeConversions)
	assert.Equal(t, paywall.DefaultPremiumProductID, refused.ProductID)
	assert.Equal(t, 2, manager.ConversionsUsed())
}

func TestHandler_UseConversion_StoreError(t *testing.T) {
	store := memory.New()
	handler, _ := newTestHandler(t, store, simulated.New())
	store.FailWrites(errors.New("disk full"))

	var body map[string]string
	rec := do(t, handler.Routes(), http.MethodPost, "/conversions", &body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "disk full")
}

func TestHandler_Purchase(t *testing.T) {
	handler, manager := newTestHandler(t, memory.NewWithRecord(paywall.Record{ConversionsUsed: 2}),
		simulated.New(simulated.WithAnyProduct()))

	var resp ActionResponse
	rec := do(t, handler.Routes(), http.MethodPost, "/purchase", &resp)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, paywall.StateSuccess, resp.State.Kind)
	assert.True(t, resp.IsPremium)
	assert.Empty(t, resp.Error)
	assert.True(t, manager.CanConvert())
}

func TestHandler_Purchase_NoProduct(t *testing.T) {
	handler, manager := newTestHandler(t, memory.New(), simulated.New())

	var resp ActionResponse
	rec := do(t, handler.Routes(), http.MethodPost, "/purchase", &resp)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, paywall.StateFailed, resp.State.Kind)
	assert.Equal(t, paywall.ErrProductUnavailable.Error(), resp.Error)
	assert.False(t, manager.IsPremium())
}

func TestHandler_Purchase_Pending(t *testing.T) {
	gw := simulated.New(simulated.WithAnyProduct())
	gw.QueueOutcome(paywall.PurchaseOutcome{Kind: paywall.OutcomePending, RedirectURL: "https://checkout.example/cs_9"})
	handler, _ := newTestHandler(t, memory.New(), gw)

	var resp ActionResponse
	do(t, handler.Routes(), http.MethodPost, "/purchase", &resp)

	assert.Equal(t, paywall.StateIdle, resp.State.Kind)
	assert.Equal(t, "https://checkout.example/cs_9", resp.CheckoutURL)
	assert.False(t, resp.IsPremium)
}

func TestHandler_Purchase_InProgress(t *testing.T) {
	gw := simulated.New(simulated.WithAnyProduct(), simulated.WithDelay(300*time.Millisecond))
	handler, manager := newTestHandler(t, memory.New(), gw)
	routes := handler.Routes()

	done := make(chan struct{})
	go func() {
		defer close(done)
		do(t, routes, http.MethodPost, "/purchase", nil)
	}()

	require.Eventually(t, func() bool {
		return manager.PurchaseState().Is(paywall.StatePurchasing)
	}, time.Second, 5*time.Millisecond)

	var body map[string]string
	rec := do(t, routes, http.MethodPost, "/purchase", &body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, paywall.ErrPurchaseInProgress.Error(), body["error"])

	<-done
	assert.Equal(t, 1, gw.Purchases())
}

func TestHandler_Restore(t *testing.T) {
	t.Run("nothing to restore", func(t *testing.T) {
		handler, _ := newTestHandler(t, memory.New(), simulated.New())

		var resp ActionResponse
		rec := do(t, handler.Routes(), http.MethodPost, "/restore", &resp)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, paywall.StateFailed, resp.State.Kind)
		assert.Equal(t, paywall.ErrNothingToRestore.Error(), resp.Error)
	})

	t.Run("restores premium", func(t *testing.T) {
		gw := simulated.New(simulated.WithEntitlements(paywall.Verified(paywall.Transaction{
			ID:          "tx-restore",
			OriginalID:  "tx-restore",
			ProductID:   paywall.DefaultPremiumProductID,
			PurchasedAt: time.Now(),
		})))
		handler, manager := newTestHandler(t, memory.New(), gw)

		var resp ActionResponse
		do(t, handler.Routes(), http.MethodPost, "/restore", &resp)
		assert.Equal(t, paywall.StateSuccess, resp.State.Kind)
		assert.True(t, resp.IsPremium)
		assert.True(t, manager.IsPremium())
	})
}

func TestHandler_Products(t *testing.T) {
	gw := simulated.New(simulated.WithProducts(paywall.Product{
		ID:           paywall.DefaultPremiumProductID,
		DisplayName:  "Premium",
		DisplayPrice: "$4.99",
	}))
	handler, _ := newTestHandler(t, memory.New(), gw)
	routes := handler.Routes()

	var before ProductsResponse
	do(t, routes, http.MethodGet, "/products", &before)
	assert.NotNil(t, before.Products)
	assert.Empty(t, before.Products)

	var reloaded ProductsResponse
	rec := do(t, routes, http.MethodPost, "/products/reload", &reloaded)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, reloaded.Products, 1)
	assert.Equal(t, "$4.99", reloaded.Products[0].DisplayPrice)

	var after ProductsResponse
	do(t, routes, http.MethodGet, "/products", &after)
	assert.Len(t, after.Products, 1)
}

func TestHandler_CustomOnError(t *testing.T) {
	store := memory.New()
	manager, err := paywall.NewManager(store, simulated.New(), paywall.Config{})
	require.NoError(t, err)
	store.FailWrites(errors.New("disk full"))

	var gotStatus int
	handler, err := NewHandler(Config{
		Manager: manager,
		OnError: func(w http.ResponseWriter, _ *http.Request, _ error, statusCode int) {
			gotStatus = statusCode
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})
	require.NoError(t, err)

	rec := do(t, handler.Routes(), http.MethodPost, "/conversions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusInternalServerError, gotStatus)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t, memory.New(), simulated.New())

	rec := do(t, handler.Routes(), http.MethodGet, "/conversions", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

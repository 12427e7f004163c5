package revenuecat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
	"github.com/mihaimyh/gopaywall/pkg/storefront"
)

type offeringsResponse struct {
	CurrentOfferingID string     `json:"current_offering_id"`
	Offerings         []offering `json:"offerings"`
}

type offering struct {
	Identifier string `json:"identifier"`
	Packages   []struct {
		Identifier                string `json:"identifier"`
		PlatformProductIdentifier string `json:"platform_product_identifier"`
	} `json:"packages"`
}

type receiptRequest struct {
	AppUserID  string `json:"app_user_id"`
	FetchToken string `json:"fetch_token"`
	ProductID  string `json:"product_id,omitempty"`
}

type subscriberResponse struct {
	Subscriber subscriber `json:"subscriber"`
}

type subscriber struct {
	OriginalAppUserID string                       `json:"original_app_user_id"`
	NonSubscriptions  map[string][]nonSubscription `json:"non_subscriptions"`
}

type nonSubscription struct {
	ID                 string `json:"id"`
	IsSandbox          bool   `json:"is_sandbox"`
	PurchaseDate       string `json:"purchase_date"`
	Store              string `json:"store"`
	StoreTransactionID string `json:"store_transaction_id"`
}

func (n nonSubscription) transaction(productID string) paywall.Transaction {
	env := "production"
	if n.IsSandbox {
		env = "sandbox"
	}
	id := n.StoreTransactionID
	if id == "" {
		id = n.ID
	}
	purchasedAt, _ := parseRevenueCatTime(n.PurchaseDate)
	return paywall.Transaction{
		ID:          id,
		OriginalID:  n.ID,
		ProductID:   productID,
		PurchasedAt: purchasedAt,
		Environment: env,
	}
}

// transactions returns all one-time purchases, newest first within each product
func (s subscriber) transactions() []paywall.Transaction {
	productIDs := make([]string, 0, len(s.NonSubscriptions))
	for id := range s.NonSubscriptions {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	var txs []paywall.Transaction
	for _, productID := range productIDs {
		purchases := s.NonSubscriptions[productID]
		batch := make([]paywall.Transaction, 0, len(purchases))
		for _, p := range purchases {
			batch = append(batch, p.transaction(productID))
		}
		sort.SliceStable(batch, func(i, j int) bool {
			return batch[i].PurchasedAt.After(batch[j].PurchasedAt)
		})
		txs = append(txs, batch...)
	}
	return txs
}

// latest returns the most recent purchase of productID
func (s subscriber) latest(productID string) (paywall.Transaction, bool) {
	for _, tx := range s.transactions() {
		if tx.ProductID == productID {
			return tx, true
		}
	}
	return paywall.Transaction{}, false
}

func (g *Gateway) call(ctx context.Context, method, path, endpoint string, in, out interface{}) error {
	return g.callWithPlatform(ctx, method, path, endpoint, g.platform, in, out)
}

func (g *Gateway) callWithPlatform(ctx context.Context, method, path, endpoint, platform string, in, out interface{}) error {
	if g.apiKey == "" {
		return fmt.Errorf("%w: revenuecat API key not configured", storefront.ErrGatewayNotConfigured)
	}

	var body io.Reader = http.NoBody
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Platform", platform)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := g.httpClient.Do(req)
	g.metrics.RecordAPICallDuration(gatewayName, endpoint, time.Since(start))
	if err != nil {
		g.metrics.RecordAPICall(gatewayName, endpoint, "error")
		return fmt.Errorf("revenuecat request failed: %w", err)
	}
	defer res.Body.Close()
	g.metrics.RecordAPICall(gatewayName, endpoint, strconv.Itoa(res.StatusCode))

	payload, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if res.StatusCode == http.StatusNotFound {
		return storefront.ErrCustomerNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d, body: %s", storefront.ErrAPIError, res.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// parseRevenueCatTime parses a RevenueCat timestamp string
func parseRevenueCatTime(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unable to parse time: %s", v)
}

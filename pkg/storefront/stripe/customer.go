package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
	"github.com/mihaimyh/gopaywall/pkg/storefront"
)

// resolveCustomer returns the cached customer id, then asks the resolver,
// then falls back to the Search API (eventually consistent).
func (g *Gateway) resolveCustomer(ctx context.Context) (string, error) {
	g.mu.Lock()
	cached := g.customerID
	g.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var (
		customerID string
		err        error
	)
	if g.resolver != nil {
		customerID, err = g.resolver(ctx, g.appUserID)
	} else {
		customerID, err = g.searchCustomer(ctx)
	}
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", storefront.ErrCustomerNotFound
	}

	g.mu.Lock()
	g.customerID = customerID
	g.mu.Unlock()
	return customerID, nil
}

func (g *Gateway) searchCustomer(ctx context.Context) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", metadataAppUserID, strings.ReplaceAll(g.appUserID, "'", `\'`))

	start := time.Now()
	for cust, err := range g.client.V1Customers.Search(ctx, params) {
		if err != nil {
			g.recordAPICall("/v1/customers/search", start, err)
			return "", fmt.Errorf("stripe search error: %w", err)
		}
		// Search can return partial matches
		if cust.Metadata[metadataAppUserID] == g.appUserID {
			g.recordAPICall("/v1/customers/search", start, nil)
			return cust.ID, nil
		}
	}
	g.recordAPICall("/v1/customers/search", start, nil)
	return "", storefront.ErrCustomerNotFound
}

// rememberCustomer caches the customer created by Checkout and tags it with the app user id
// so later searches find it.
func (g *Gateway) rememberCustomer(ctx context.Context, customer *stripe.Customer) {
	if customer == nil || customer.ID == "" {
		return
	}

	g.mu.Lock()
	known := g.customerID == customer.ID
	g.customerID = customer.ID
	g.mu.Unlock()
	if known || customer.Metadata[metadataAppUserID] == g.appUserID {
		return
	}

	params := &stripe.CustomerUpdateParams{}
	params.AddMetadata(metadataAppUserID, g.appUserID)

	start := time.Now()
	_, err := g.client.V1Customers.Update(ctx, customer.ID, params)
	g.recordAPICall("/v1/customers", start, err)
	if err != nil {
		g.logger.Warn("failed to tag stripe customer", paywall.F("customer_id", customer.ID), paywall.F("error", err))
	}
}

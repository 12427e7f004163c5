package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/gopaywall/pkg/api"
	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the entitlement state and remaining free conversions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(_ context.Context, a *app) error {
			cfg := a.manager.Config()
			return printJSON(cmd.OutOrStdout(), api.StatusResponse{
				Snapshot:             a.manager.Snapshot(),
				FreeConversionsLimit: cfg.FreeConversionsLimit,
				PremiumProductID:     cfg.PremiumProductID,
			})
		})
	},
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Use one free conversion, failing when the quota is exhausted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			ok, err := a.manager.UseConversion(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: upgrade to %s", paywall.ErrQuotaExceeded, a.manager.Config().PremiumProductID)
			}
			return printJSON(cmd.OutOrStdout(), api.ConversionResponse{
				Allowed:                  true,
				IsPremium:                a.manager.IsPremium(),
				ConversionsUsed:          a.manager.ConversionsUsed(),
				RemainingFreeConversions: a.manager.RemainingFreeConversions(),
			})
		})
	},
}

var purchaseCmd = &cobra.Command{
	Use:   "purchase",
	Short: "Buy the premium unlock",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			state, err := a.manager.Purchase(ctx)
			return printAction(cmd.OutOrStdout(), a.manager, state, err)
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a premium unlock bought earlier",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			state, err := a.manager.RestorePurchases(ctx)
			return printAction(cmd.OutOrStdout(), a.manager, state, err)
		})
	},
}

// printAction prints the outcome and returns err so the exit code reflects a failed state
func printAction(w io.Writer, m *paywall.Manager, state paywall.PurchaseState, err error) error {
	snap := m.Snapshot()
	resp := api.ActionResponse{
		State:       state,
		IsPremium:   snap.IsPremium,
		CheckoutURL: snap.CheckoutURL,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if perr := printJSON(w, resp); perr != nil {
		return perr
	}
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Command paywall runs and inspects the entitlement and conversion quota service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/gopaywall/pkg/config"
)

// Version information (set at build time with -ldflags)
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "paywall",
	Short:         "Free conversion quota and premium unlock service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PAYWALL_CONFIG"),
		"path to a TOML config file (env PAYWALL_CONFIG)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(purchaseCmd)
	rootCmd.AddCommand(restoreCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withApp loads the configuration, builds the app and runs fn with it
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, paywall.DefaultPremiumProductID, cfg.Paywall.PremiumProductID)
	assert.Equal(t, 10, cfg.Paywall.FreeConversionsLimit)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, ProviderSimulated, cfg.Storefront.Provider)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	path := writeFile(t, dir, "paywall.toml", `
[paywall]
premium_product_id = "com.example.pro"
free_conversions_limit = 3
gateway_timeout = "5s"

[paywall.circuit_breaker]
enabled = true
failure_threshold = 2
reset_timeout = "1m"

[storage]
backend = "redis"
redis_addr = "redis:6379"
cache = true

[storefront]
provider = "stripe"
app_user_id = "install-1"
api_key = "sk_test_1"
stripe_price_id = "price_1"

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "com.example.pro", cfg.Paywall.PremiumProductID)
	assert.Equal(t, 3, cfg.Paywall.FreeConversionsLimit)
	assert.Equal(t, 5*time.Second, cfg.Paywall.GatewayTimeout)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.True(t, cfg.Storage.Cache)
	assert.Equal(t, "price_1", cfg.Storefront.StripePriceID)

	mc := cfg.ToManagerConfig()
	assert.Equal(t, 3, mc.FreeConversionsLimit)
	require.NotNil(t, mc.CircuitBreakerConfig)
	assert.Equal(t, 2, mc.CircuitBreakerConfig.FailureThreshold)
	assert.Equal(t, time.Minute, mc.CircuitBreakerConfig.ResetTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	path := writeFile(t, dir, "paywall.toml", "[paywall]\nfree_conversions_limit = 3\n")

	t.Setenv("PAYWALL_FREE_CONVERSIONS_LIMIT", "7")
	t.Setenv("PAYWALL_STORAGE_BACKEND", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Paywall.FreeConversionsLimit)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.True(t, cfg.EnvOverrides["PAYWALL_FREE_CONVERSIONS_LIMIT"])
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "PAYWALL_LOG_LEVEL=warn\n")
	t.Cleanup(func() { os.Unsetenv("PAYWALL_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})

	t.Run("bad env number", func(t *testing.T) {
		t.Setenv("PAYWALL_FREE_CONVERSIONS_LIMIT", "ten")
		_, err := Load("")
		assert.ErrorContains(t, err, "PAYWALL_FREE_CONVERSIONS_LIMIT")
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("PAYWALL_GATEWAY_TIMEOUT", "soon")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"negative limit", func(c *Config) { c.Paywall.FreeConversionsLimit = -1 }, true},
		{"empty product", func(c *Config) { c.Paywall.PremiumProductID = " " }, true},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }, true},
		{"firestore without project", func(c *Config) { c.Storage.Backend = BackendFirestore }, true},
		{"sqlite without path", func(c *Config) { c.Storage.SQLitePath = "" }, true},
		{"unknown provider", func(c *Config) { c.Storefront.Provider = "paddle" }, true},
		{"revenuecat without key", func(c *Config) {
			c.Storefront.Provider = ProviderRevenueCat
			c.Storefront.AppUserID = "install-1"
		}, true},
		{"revenuecat", func(c *Config) {
			c.Storefront.Provider = ProviderRevenueCat
			c.Storefront.AppUserID = "install-1"
			c.Storefront.APIKey = "sk_1"
		}, false},
		{"stripe without price", func(c *Config) {
			c.Storefront.Provider = ProviderStripe
			c.Storefront.AppUserID = "install-1"
			c.Storefront.APIKey = "sk_1"
		}, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToManagerConfig_NoBreaker(t *testing.T) {
	mc := Default().ToManagerConfig()
	assert.Nil(t, mc.CircuitBreakerConfig)
	assert.NoError(t, mc.Validate())
}

func TestCatalog(t *testing.T) {
	cfg := Default()
	cfg.Storefront.ProductPrice = "$4.99"

	catalog := cfg.Catalog()
	require.Contains(t, catalog, paywall.DefaultPremiumProductID)
	assert.Equal(t, "Premium", catalog[paywall.DefaultPremiumProductID].DisplayName)
	assert.Equal(t, "$4.99", catalog[paywall.DefaultPremiumProductID].DisplayPrice)
}

func TestLogger_Level(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	assert.Equal(t, zerolog.WarnLevel, cfg.Logger().GetLevel())
}

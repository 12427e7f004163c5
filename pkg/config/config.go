// Package config loads the paywall service configuration from a TOML file,
// an optional .env file and PAYWALL_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Storage backends
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Storefront providers
const (
	ProviderSimulated  = "simulated"
	ProviderRevenueCat = "revenuecat"
	ProviderStripe     = "stripe"
)

// Config is the complete service configuration
type Config struct {
	Paywall    PaywallConfig    `toml:"paywall"`
	Storage    StorageConfig    `toml:"storage"`
	Storefront StorefrontConfig `toml:"storefront"`
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`

	// EnvOverrides records which settings came from the environment
	EnvOverrides map[string]bool `toml:"-"`
}

// PaywallConfig configures the entitlement manager
type PaywallConfig struct {
	PremiumProductID     string               `toml:"premium_product_id"`
	FreeConversionsLimit int                  `toml:"free_conversions_limit"`
	GatewayTimeout       time.Duration        `toml:"gateway_timeout"`
	ShutdownTimeout      time.Duration        `toml:"shutdown_timeout"`
	Fallback             bool                 `toml:"fallback"`
	CircuitBreaker       CircuitBreakerConfig `toml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the breaker around the storefront gateway
type CircuitBreakerConfig struct {
	Enabled          bool          `toml:"enabled"`
	FailureThreshold int           `toml:"failure_threshold"`
	ResetTimeout     time.Duration `toml:"reset_timeout"`
}

// StorageConfig selects and configures the entitlement store
type StorageConfig struct {
	Backend  string `toml:"backend"`
	RecordID string `toml:"record_id"`

	// Cache puts an in-memory tier in front of the backend
	Cache bool `toml:"cache"`

	SQLitePath string `toml:"sqlite_path"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	PostgresDSN string `toml:"postgres_dsn"`

	FirestoreProject    string `toml:"firestore_project"`
	FirestoreCollection string `toml:"firestore_collection"`
}

// StorefrontConfig selects and configures the verification gateway
type StorefrontConfig struct {
	Provider      string `toml:"provider"`
	AppUserID     string `toml:"app_user_id"`
	APIKey        string `toml:"api_key"`
	WebhookSecret string `toml:"webhook_secret"`
	EnableHMAC    bool   `toml:"enable_hmac"`

	// ProductName and ProductPrice describe the premium product where the storefront does not
	ProductName  string `toml:"product_name"`
	ProductPrice string `toml:"product_price"`

	RevenueCatBaseURL  string `toml:"revenuecat_base_url"`
	RevenueCatPlatform string `toml:"revenuecat_platform"`

	StripePriceID    string `toml:"stripe_price_id"`
	StripeSuccessURL string `toml:"stripe_success_url"`
	StripeCancelURL  string `toml:"stripe_cancel_url"`
}

// ServerConfig configures the HTTP surface of `paywall serve`
type ServerConfig struct {
	Addr         string        `toml:"addr"`
	WebhookPath  string        `toml:"webhook_path"`
	MetricsPath  string        `toml:"metrics_path"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

// LogConfig configures zerolog
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// Default returns the configuration used when no file or environment overrides are present
func Default() *Config {
	return &Config{
		Paywall: PaywallConfig{
			PremiumProductID:     paywall.DefaultPremiumProductID,
			FreeConversionsLimit: paywall.DefaultFreeConversionsLimit,
			GatewayTimeout:       30 * time.Second,
			ShutdownTimeout:      5 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		Storage: StorageConfig{
			Backend:             BackendSQLite,
			RecordID:            "default",
			SQLitePath:          filepath.Join("data", "paywall.db"),
			RedisAddr:           "localhost:6379",
			FirestoreCollection: "paywall_records",
		},
		Storefront: StorefrontConfig{
			Provider:           ProviderSimulated,
			ProductName:        "Premium",
			RevenueCatPlatform: "ios",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			WebhookPath:  "/webhooks/storefront",
			MetricsPath:  "/metrics",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 40 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		EnvOverrides: make(map[string]bool),
	}
}

// Load reads path (skipped when empty), then a .env file next to it and in the working
// directory, then PAYWALL_* variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
			return nil, err
		}
	}
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads file when it exists; variables already set win
func loadDotEnv(file string) error {
	if _, err := os.Stat(file); err != nil {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
			c.EnvOverrides[key] = true
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
			c.EnvOverrides[key] = true
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
			c.EnvOverrides[key] = true
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
			c.EnvOverrides[key] = true
		}
	}

	str("PAYWALL_PREMIUM_PRODUCT_ID", &c.Paywall.PremiumProductID)
	num("PAYWALL_FREE_CONVERSIONS_LIMIT", &c.Paywall.FreeConversionsLimit)
	dur("PAYWALL_GATEWAY_TIMEOUT", &c.Paywall.GatewayTimeout)
	flag("PAYWALL_FALLBACK", &c.Paywall.Fallback)
	flag("PAYWALL_CIRCUIT_BREAKER", &c.Paywall.CircuitBreaker.Enabled)

	str("PAYWALL_STORAGE_BACKEND", &c.Storage.Backend)
	str("PAYWALL_RECORD_ID", &c.Storage.RecordID)
	flag("PAYWALL_STORAGE_CACHE", &c.Storage.Cache)
	str("PAYWALL_SQLITE_PATH", &c.Storage.SQLitePath)
	str("PAYWALL_REDIS_ADDR", &c.Storage.RedisAddr)
	str("PAYWALL_REDIS_PASSWORD", &c.Storage.RedisPassword)
	num("PAYWALL_REDIS_DB", &c.Storage.RedisDB)
	str("PAYWALL_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("PAYWALL_FIRESTORE_PROJECT", &c.Storage.FirestoreProject)

	str("PAYWALL_STOREFRONT", &c.Storefront.Provider)
	str("PAYWALL_APP_USER_ID", &c.Storefront.AppUserID)
	str("PAYWALL_STOREFRONT_API_KEY", &c.Storefront.APIKey)
	str("PAYWALL_WEBHOOK_SECRET", &c.Storefront.WebhookSecret)
	str("PAYWALL_STRIPE_PRICE_ID", &c.Storefront.StripePriceID)

	str("PAYWALL_ADDR", &c.Server.Addr)
	str("PAYWALL_LOG_LEVEL", &c.Log.Level)
	str("PAYWALL_LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

// Validate checks that the selected backends have what they need
func (c *Config) Validate() error {
	if c.Paywall.FreeConversionsLimit < 0 {
		return fmt.Errorf("%w: %d", paywall.ErrInvalidLimit, c.Paywall.FreeConversionsLimit)
	}
	if strings.TrimSpace(c.Paywall.PremiumProductID) == "" {
		return fmt.Errorf("paywall.premium_product_id is required")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required for the redis backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	case BackendFirestore:
		if c.Storage.FirestoreProject == "" {
			return fmt.Errorf("storage.firestore_project is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Storefront.Provider {
	case ProviderSimulated:
	case ProviderRevenueCat:
		if c.Storefront.AppUserID == "" || c.Storefront.APIKey == "" {
			return fmt.Errorf("storefront.app_user_id and storefront.api_key are required for revenuecat")
		}
	case ProviderStripe:
		if c.Storefront.AppUserID == "" || c.Storefront.APIKey == "" {
			return fmt.Errorf("storefront.app_user_id and storefront.api_key are required for stripe")
		}
		if c.Storefront.StripePriceID == "" {
			return fmt.Errorf("storefront.stripe_price_id is required for stripe")
		}
	default:
		return fmt.Errorf("unknown storefront provider %q", c.Storefront.Provider)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// ToManagerConfig converts the [paywall] section into a paywall.Config.
// Fallback, Logger and Metrics are left for the caller to wire.
func (c *Config) ToManagerConfig() paywall.Config {
	cfg := paywall.Config{
		PremiumProductID:     c.Paywall.PremiumProductID,
		FreeConversionsLimit: c.Paywall.FreeConversionsLimit,
		GatewayTimeout:       c.Paywall.GatewayTimeout,
		ShutdownTimeout:      c.Paywall.ShutdownTimeout,
	}
	if cb := c.Paywall.CircuitBreaker; cb.Enabled {
		cfg.CircuitBreakerConfig = &paywall.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: cb.FailureThreshold,
			ResetTimeout:     cb.ResetTimeout,
		}
	}
	return cfg
}

// Catalog describes the premium product for storefronts that do not report names or prices
func (c *Config) Catalog() map[string]paywall.Product {
	return map[string]paywall.Product{
		c.Paywall.PremiumProductID: {
			ID:           c.Paywall.PremiumProductID,
			DisplayName:  c.Storefront.ProductName,
			DisplayPrice: c.Storefront.ProductPrice,
		},
	}
}

// Logger builds the zerolog logger described by the [log] section
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if c.Log.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

package main

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/gopaywall/pkg/config"
	"github.com/mihaimyh/gopaywall/pkg/paywall"
	zerologadapter "github.com/mihaimyh/gopaywall/pkg/paywall/logger/zerolog"
	paywallmetrics "github.com/mihaimyh/gopaywall/pkg/paywall/metrics/prometheus"
	"github.com/mihaimyh/gopaywall/pkg/storefront"
	storefrontmetrics "github.com/mihaimyh/gopaywall/pkg/storefront/metrics/prometheus"
	"github.com/mihaimyh/gopaywall/pkg/storefront/revenuecat"
	"github.com/mihaimyh/gopaywall/pkg/storefront/simulated"
	"github.com/mihaimyh/gopaywall/pkg/storefront/stripe"
	firestorestore "github.com/mihaimyh/gopaywall/storage/firestore"
	"github.com/mihaimyh/gopaywall/storage/memory"
	"github.com/mihaimyh/gopaywall/storage/postgres"
	redisstore "github.com/mihaimyh/gopaywall/storage/redis"
	"github.com/mihaimyh/gopaywall/storage/sqlite"
	"github.com/mihaimyh/gopaywall/storage/tiered"
)

const metricsNamespace = "paywall"

// webhookGateway is implemented by storefronts that receive out-of-band notifications
type webhookGateway interface {
	WebhookHandler() http.Handler
}

// app holds everything one command needs
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	store    paywall.Store
	gateway  paywall.Gateway
	manager  *paywall.Manager
	closers  []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      cfg.Logger(),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	logger := zerologadapter.NewLogger(a.log)

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	gateway, err := a.openGateway(logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gateway = gateway

	managerCfg := cfg.ToManagerConfig()
	managerCfg.Logger = logger
	managerCfg.Metrics = paywallmetrics.NewMetrics(a.registry, metricsNamespace)
	if cfg.Paywall.Fallback {
		managerCfg.Fallback = simulated.NewFallback()
	}

	manager, err := paywall.NewManager(store, gateway, managerCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create manager: %w", err)
	}
	a.manager = manager
	return a, nil
}

func (a *app) openStore(ctx context.Context) (paywall.Store, error) {
	sc := a.cfg.Storage

	var store paywall.Store
	switch sc.Backend {
	case config.BackendMemory:
		store = memory.New()

	case config.BackendSQLite:
		s, err := sqlite.New(ctx, sqlite.Config{Path: sc.SQLitePath, RecordID: sc.RecordID})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		store = s

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		s, err := redisstore.New(client, redisstore.Config{RecordID: sc.RecordID})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis unreachable at %s: %w", sc.RedisAddr, err)
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		store = s

	case config.BackendPostgres:
		pc := postgres.DefaultConfig()
		pc.ConnectionString = sc.PostgresDSN
		pc.RecordID = sc.RecordID
		s, err := postgres.New(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		store = s

	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, sc.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("create firestore client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		s, err := firestorestore.New(client, firestorestore.Config{
			Collection: sc.FirestoreCollection,
			RecordID:   sc.RecordID,
		})
		if err != nil {
			return nil, fmt.Errorf("open firestore store: %w", err)
		}
		store = s

	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}

	if !sc.Cache || sc.Backend == config.BackendMemory {
		return store, nil
	}
	cached, err := tiered.New(tiered.Config{
		Hot:  memory.New(),
		Cold: store,
		ErrorHandler: func(err error) {
			a.log.Warn().Err(err).Msg("entitlement cache out of sync")
		},
	})
	if err != nil {
		return nil, err
	}
	return cached, nil
}

func (a *app) openGateway(logger paywall.Logger) (paywall.Gateway, error) {
	sf := a.cfg.Storefront
	catalog := a.cfg.Catalog()

	if sf.Provider == config.ProviderSimulated {
		products := make([]paywall.Product, 0, len(catalog))
		for _, p := range catalog {
			if p.DisplayPrice == "" {
				p.DisplayPrice = "Free"
			}
			products = append(products, p)
		}
		return simulated.New(simulated.WithProducts(products...)), nil
	}

	sfCfg := storefront.Config{
		AppUserID:     sf.AppUserID,
		Catalog:       catalog,
		WebhookSecret: sf.WebhookSecret,
		APIKey:        sf.APIKey,
		EnableHMAC:    sf.EnableHMAC,
		Metrics:       storefrontmetrics.NewMetrics(a.registry, metricsNamespace),
		Logger:        logger,
	}

	switch sf.Provider {
	case config.ProviderRevenueCat:
		opts := []revenuecat.Option{revenuecat.WithPlatform(sf.RevenueCatPlatform)}
		if sf.RevenueCatBaseURL != "" {
			opts = append(opts, revenuecat.WithBaseURL(sf.RevenueCatBaseURL))
		}
		g, err := revenuecat.New(sfCfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("create revenuecat gateway: %w", err)
		}
		return g, nil

	case config.ProviderStripe:
		g, err := stripe.New(sfCfg,
			stripe.WithPrices(map[string]string{a.cfg.Paywall.PremiumProductID: sf.StripePriceID}),
			stripe.WithRedirectURLs(sf.StripeSuccessURL, sf.StripeCancelURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create stripe gateway: %w", err)
		}
		return g, nil

	default:
		return nil, fmt.Errorf("unknown storefront provider %q", sf.Provider)
	}
}

// Close releases store connections in reverse order of creation
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	httpgate "github.com/mihaimyh/gopaywall/middleware/http"
	"github.com/mihaimyh/gopaywall/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the gated export endpoint and the storefront webhook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withApp(ctx, serve)
	},
}

func serve(ctx context.Context, a *app) error {
	router, err := newRouter(a)
	if err != nil {
		return err
	}

	listener := a.manager.Start(ctx)
	defer listener.Stop()

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().
			Str("addr", srv.Addr).
			Str("storage", a.cfg.Storage.Backend).
			Str("storefront", a.cfg.Storefront.Provider).
			Msg("paywall server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter mounts the JSON API under /v1, the gated /export route, the storefront
// webhook (when the gateway has one) and the Prometheus endpoint
func newRouter(a *app) (http.Handler, error) {
	handler, err := api.NewHandler(api.Config{
		Manager: a.manager,
		Logger:  a.manager.Config().Logger,
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	r.Mount("/v1", http.StripPrefix("/v1", handler.Routes()))

	gate := httpgate.Middleware(httpgate.Config{
		Manager:   a.manager,
		ProductID: a.manager.Config().PremiumProductID,
	})
	r.With(gate).Post("/export", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"accepted"}`))
	})

	if wh, ok := a.gateway.(webhookGateway); ok {
		r.Method(http.MethodPost, a.cfg.Server.WebhookPath, wh.WebhookHandler())
	}
	r.Handle(a.cfg.Server.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	return r, nil
}

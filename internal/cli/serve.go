package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	subscriptionApplication "github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/subscription"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/worker"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/event"
	httpapi "github.com/rcarvalho-pb/mpesa_checkout-go/internal/infrastructure/http"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the checkout HTTP service",
	Long: `Run the checkout HTTP service.

Examples:
  checkout serve
  checkout serve --addr :9090 --config checkout.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required to serve (CHECKOUT_AUTH_JWT_SECRET)")
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := httpapi.NewSessionManager(a.newFlow, a.logger.With(map[string]any{"component": "sessions"}))
	defer sessions.Shutdown()

	subscriptions := &subscriptionApplication.Service{
		API:    a.client,
		Repo:   a.subscriptions,
		Logger: a.logger.With(map[string]any{"component": "subscription"}),
	}

	dismiss := &worker.DismissScheduler{
		Publisher: a.bus,
		Delay:     cfg.Flow.DisplayDelay,
		Logger:    a.logger,
	}

	refresh := &subscriptionApplication.PaymentEventHandler{
		Service:     subscriptions,
		Credentials: sessions,
		Timeout:     cfg.API.Timeout,
	}

	a.bus.Subscribe(event.PaymentSucceeded, dismiss.Handle)
	a.bus.Subscribe(event.PaymentSucceeded, refresh.Handle)
	a.bus.Subscribe(event.CheckoutDismissed, sessions.HandleDismissed)

	if a.dispatcher != nil {
		go a.dispatcher.Run(ctx)
	}

	handler := &httpapi.CheckoutHandler{
		Sessions:      sessions,
		History:       a.history,
		Subscriptions: subscriptions,
		Metrics:       a.metrics,
		Logger:        a.logger.With(map[string]any{"component": "http"}),
	}

	router := httpapi.NewRouter(
		handler,
		httpapi.NewRateLimiter(cfg.Server.InitiateRatePerMinute),
		httpapi.NewAuthenticator(cfg.Auth.JWTSecret),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server running", map[string]any{"addr": cfg.Server.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tixvibe/internal/payments/config"
	"tixvibe/internal/payments/httpapi"
	"tixvibe/internal/payments/payment"
	"tixvibe/internal/payments/storage"
	"tixvibe/internal/payments/stripe"
	"tixvibe/pkg/contracts"
	"tixvibe/pkg/messaging"
	"tixvibe/pkg/postgres"
)

type listener interface {
	Listen(ctx context.Context) error
}

type App struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *postgres.Store
	bus        *messaging.Bus
	paymentSvc *payment.Service
	listeners  []listener
	httpSrv    *http.Server
}

type eventPublisher struct {
	created *messaging.Publisher[contracts.PaymentCreatedEvent]
}

func (p *eventPublisher) PublishPaymentCreated(ctx context.Context, evt contracts.PaymentCreatedEvent) error {
	return p.created.Publish(ctx, evt)
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	bus, err := messaging.Connect(cfg.RabbitURL, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	pub := &eventPublisher{
		created: messaging.NewPublisher[contracts.PaymentCreatedEvent](bus, contracts.SubjectPaymentCreated),
	}

	paymentSvc := payment.NewService(
		storage.NewOrderStore(store.Pool()),
		storage.NewPaymentStore(store.Pool()),
		stripe.NewClient(cfg.StripeKey),
		pub,
		logger,
	)

	listeners := []listener{
		messaging.NewListener(bus, contracts.SubjectOrderCreated, cfg.QueueGroup, paymentSvc.HandleOrderCreated, logger),
		messaging.NewListener(bus, contracts.SubjectOrderCancelled, cfg.QueueGroup, paymentSvc.HandleOrderCancelled, logger),
	}

	api := httpapi.NewServer(paymentSvc, logger)
	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		bus:        bus,
		paymentSvc: paymentSvc,
		listeners:  listeners,
		httpSrv:    httpSrv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(a.listeners)+1)

	for _, l := range a.listeners {
		go func(l listener) {
			if err := l.Listen(ctx); err != nil {
				errCh <- err
			}
		}(l)
	}

	go func() {
		a.logger.Info("payments http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	busClosed := a.bus.NotifyClose()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	case amqpErr := <-busClosed:
		if amqpErr == nil {
			return nil
		}
		// A node cut off from the bus must not keep serving stale data.
		return fmt.Errorf("bus connection closed: %v", amqpErr)
	}
}

func (a *App) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	_ = a.bus.Close()
	a.store.Close()
}

func Run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close()

	return app.Run(ctx)
}

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

	"tixvibe/internal/orders/config"
	"tixvibe/internal/orders/httpapi"
	"tixvibe/internal/orders/order"
	"tixvibe/internal/orders/storage"
	ws "tixvibe/internal/orders/websocket"
	"tixvibe/pkg/contracts"
	"tixvibe/pkg/messaging"
	"tixvibe/pkg/postgres"
)

type listener interface {
	Listen(ctx context.Context) error
}

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *postgres.Store
	bus       *messaging.Bus
	orderSvc  *order.Service
	hub       *ws.Hub
	listeners []listener
	httpSrv   *http.Server
}

type eventPublisher struct {
	created   *messaging.Publisher[contracts.OrderCreatedEvent]
	cancelled *messaging.Publisher[contracts.OrderCancelledEvent]
}

func (p *eventPublisher) PublishOrderCreated(ctx context.Context, evt contracts.OrderCreatedEvent) error {
	return p.created.Publish(ctx, evt)
}

func (p *eventPublisher) PublishOrderCancelled(ctx context.Context, evt contracts.OrderCancelledEvent) error {
	return p.cancelled.Publish(ctx, evt)
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
		created:   messaging.NewPublisher[contracts.OrderCreatedEvent](bus, contracts.SubjectOrderCreated),
		cancelled: messaging.NewPublisher[contracts.OrderCancelledEvent](bus, contracts.SubjectOrderCancelled),
	}

	hub := ws.NewHub()

	orderSvc := order.NewService(
		storage.NewOrderStore(store.Pool()),
		storage.NewTicketStore(store.Pool()),
		pub,
		hub,
		cfg.ReservationWindow,
		logger,
	)

	listeners := []listener{
		messaging.NewListener(bus, contracts.SubjectTicketCreated, cfg.QueueGroup, orderSvc.HandleTicketCreated, logger),
		messaging.NewListener(bus, contracts.SubjectTicketUpdated, cfg.QueueGroup, orderSvc.HandleTicketUpdated, logger),
		messaging.NewListener(bus, contracts.SubjectExpirationComplete, cfg.QueueGroup, orderSvc.HandleExpirationComplete, logger),
		messaging.NewListener(bus, contracts.SubjectPaymentCreated, cfg.QueueGroup, orderSvc.HandlePaymentCreated, logger),
	}

	api := httpapi.NewServer(orderSvc, logger)
	wsHandler := ws.NewHandler(hub, orderSvc, logger)
	api.HandleFunc("GET /orders/{orderID}/ws", wsHandler.ServeWS)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		bus:       bus,
		orderSvc:  orderSvc,
		hub:       hub,
		listeners: listeners,
		httpSrv:   httpSrv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(a.listeners)+1)

	go a.hub.Run(ctx)

	for _, l := range a.listeners {
		go func(l listener) {
			if err := l.Listen(ctx); err != nil {
				errCh <- err
			}
		}(l)
	}

	go func() {
		a.logger.Info("orders http server listening", "addr", a.cfg.HTTPAddr)
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

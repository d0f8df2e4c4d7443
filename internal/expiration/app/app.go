package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tixvibe/internal/expiration/config"
	"tixvibe/internal/expiration/scheduler"
	"tixvibe/internal/expiration/storage"
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
	sched     *scheduler.Scheduler
	listeners []listener
}

type eventPublisher struct {
	complete *messaging.Publisher[contracts.ExpirationCompleteEvent]
}

func (p *eventPublisher) PublishExpirationComplete(ctx context.Context, evt contracts.ExpirationCompleteEvent) error {
	return p.complete.Publish(ctx, evt)
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
		complete: messaging.NewPublisher[contracts.ExpirationCompleteEvent](bus, contracts.SubjectExpirationComplete),
	}

	sched := scheduler.New(storage.NewJobStore(store.Pool()), pub, cfg.PollInterval, cfg.BatchSize, logger)

	listeners := []listener{
		messaging.NewListener(bus, contracts.SubjectOrderCreated, cfg.QueueGroup, sched.HandleOrderCreated, logger),
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		bus:       bus,
		sched:     sched,
		listeners: listeners,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(a.listeners))

	a.logger.Info("expiration scheduler polling", "interval", a.cfg.PollInterval)
	a.sched.Start(ctx)

	for _, l := range a.listeners {
		go func(l listener) {
			if err := l.Listen(ctx); err != nil {
				errCh <- err
			}
		}(l)
	}

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

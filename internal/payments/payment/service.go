package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tixvibe/pkg/contracts"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrOrderExists     = errors.New("order already exists")
	ErrNotOrderOwner   = errors.New("order does not belong to user")
	ErrOrderCancelled  = errors.New("order is cancelled")
	ErrAlreadyPaid     = errors.New("order is already paid for")
	ErrVersionConflict = errors.New("version conflict")
)

// OrderStore persists the order replica. Update succeeds only if the stored
// row is still at expectedVersion (ErrVersionConflict otherwise).
type OrderStore interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order, expectedVersion int64) error
}

// PaymentStore enforces at most one payment per order at the storage layer.
type PaymentStore interface {
	Insert(ctx context.Context, p *Payment) error
	GetByOrder(ctx context.Context, orderID string) (*Payment, error)
}

// Gateway is the synchronous charge call to the payment provider.
type Gateway interface {
	Charge(ctx context.Context, token string, amount int64) (string, error)
}

type Publisher interface {
	PublishPaymentCreated(ctx context.Context, evt contracts.PaymentCreatedEvent) error
}

type Service struct {
	orders   OrderStore
	payments PaymentStore
	gateway  Gateway
	pub      Publisher
	logger   *slog.Logger
}

func NewService(orders OrderStore, payments PaymentStore, gateway Gateway, pub Publisher, logger *slog.Logger) *Service {
	return &Service{
		orders:   orders,
		payments: payments,
		gateway:  gateway,
		pub:      pub,
		logger:   logger,
	}
}

// CreateCharge charges the card token for the full order price. The charge
// is made once: a second attempt for the same order is refused before any
// money moves.
func (s *Service) CreateCharge(ctx context.Context, userID, orderID, token string) (*Payment, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotOrderOwner
	}
	if o.Status == contracts.OrderStatusCancelled {
		return nil, ErrOrderCancelled
	}

	if _, err := s.payments.GetByOrder(ctx, orderID); err == nil {
		return nil, ErrAlreadyPaid
	} else if !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}

	stripeID, err := s.gateway.Charge(ctx, token, o.Price)
	if err != nil {
		return nil, fmt.Errorf("charge order %s: %w", orderID, err)
	}

	p := &Payment{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		StripeID:  stripeID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.payments.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	evt := contracts.PaymentCreatedEvent{ID: p.ID, OrderID: p.OrderID, StripeID: p.StripeID}
	if err := s.pub.PublishPaymentCreated(ctx, evt); err != nil {
		return nil, fmt.Errorf("publish %s: %w", contracts.SubjectPaymentCreated, err)
	}

	return p, nil
}

func (s *Service) HandleOrderCreated(ctx context.Context, evt contracts.OrderCreatedEvent) error {
	o := &Order{
		ID:      evt.ID,
		UserID:  evt.UserID,
		Price:   evt.Ticket.Price,
		Status:  evt.Status,
		Version: evt.Version,
	}
	if err := s.orders.Insert(ctx, o); err != nil {
		if errors.Is(err, ErrOrderExists) {
			s.logger.Info("duplicate order.created", "order_id", evt.ID)
			return nil
		}
		return fmt.Errorf("insert order replica: %w", err)
	}
	return nil
}

func (s *Service) HandleOrderCancelled(ctx context.Context, evt contracts.OrderCancelledEvent) error {
	stored, err := s.orders.Get(ctx, evt.ID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			// order.created has not landed yet; redelivery is the back-off.
			return fmt.Errorf("order %s not replicated yet: %w", evt.ID, err)
		}
		return err
	}

	next := *stored
	next.Status = contracts.OrderStatusCancelled
	next.Version = evt.Version

	err = s.orders.Update(ctx, &next, evt.Version-1)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVersionConflict) {
		if stored.Version >= evt.Version {
			s.logger.Info("skip stale order.cancelled",
				"order_id", evt.ID, "event_version", evt.Version, "local_version", stored.Version)
			return nil
		}
		return fmt.Errorf("order %s at version %d, event wants predecessor %d: %w",
			evt.ID, stored.Version, evt.Version-1, err)
	}
	return err
}

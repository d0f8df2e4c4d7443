package order

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
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrTicketExists    = errors.New("ticket already exists")
	ErrTicketReserved  = errors.New("ticket is already reserved")
	ErrNotOrderOwner   = errors.New("order does not belong to user")
	ErrOrderComplete   = errors.New("order is already complete")
	ErrVersionConflict = errors.New("version conflict")
)

// OrderStore persists the orders this service owns. Update succeeds only if
// the stored row is still at expectedVersion (ErrVersionConflict otherwise);
// the write is discarded whole on conflict.
type OrderStore interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	Update(ctx context.Context, o *Order, expectedVersion int64) error
	// HasActiveOrderForTicket reports whether any non-cancelled order
	// references the ticket.
	HasActiveOrderForTicket(ctx context.Context, ticketID string) (bool, error)
}

// TicketStore persists the catalog replica, with the same compare-and-set
// contract as OrderStore.
type TicketStore interface {
	Insert(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	Update(ctx context.Context, t *Ticket, expectedVersion int64) error
}

type Publisher interface {
	PublishOrderCreated(ctx context.Context, evt contracts.OrderCreatedEvent) error
	PublishOrderCancelled(ctx context.Context, evt contracts.OrderCancelledEvent) error
}

// StatusNotifier pushes live status changes to connected clients.
type StatusNotifier interface {
	BroadcastOrderUpdate(orderID, status string)
}

type Service struct {
	orders   OrderStore
	tickets  TicketStore
	pub      Publisher
	notifier StatusNotifier
	window   time.Duration
	logger   *slog.Logger
}

func NewService(orders OrderStore, tickets TicketStore, pub Publisher, notifier StatusNotifier, window time.Duration, logger *slog.Logger) *Service {
	return &Service{
		orders:   orders,
		tickets:  tickets,
		pub:      pub,
		notifier: notifier,
		window:   window,
		logger:   logger,
	}
}

// Create reserves a ticket. The reservation decision is made synchronously
// against local state before anything is announced: a ticket already held
// by a non-cancelled order is rejected here and no event leaves the
// service.
func (s *Service) Create(ctx context.Context, userID, ticketID string) (*View, error) {
	t, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	reserved, err := s.orders.HasActiveOrderForTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("check reservation: %w", err)
	}
	if reserved {
		return nil, ErrTicketReserved
	}

	now := time.Now().UTC()
	o := &Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    contracts.OrderStatusCreated,
		TicketID:  t.ID,
		ExpiresAt: now.Add(s.window),
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.Insert(ctx, o); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	evt := contracts.OrderCreatedEvent{
		ID:        o.ID,
		Version:   o.Version,
		Status:    o.Status,
		UserID:    o.UserID,
		ExpiresAt: o.ExpiresAt,
		Ticket:    contracts.OrderCreatedTicket{ID: t.ID, Price: t.Price},
	}
	if err := s.pub.PublishOrderCreated(ctx, evt); err != nil {
		return nil, fmt.Errorf("publish %s: %w", contracts.SubjectOrderCreated, err)
	}

	s.notifier.BroadcastOrderUpdate(o.ID, string(o.Status))
	return s.view(ctx, o), nil
}

func (s *Service) Get(ctx context.Context, userID, orderID string) (*View, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotOrderOwner
	}
	return s.view(ctx, o), nil
}

func (s *Service) List(ctx context.Context, userID string) ([]View, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(orders))
	for i := range orders {
		views = append(views, *s.view(ctx, &orders[i]))
	}
	return views, nil
}

// Cancel is the owner actively giving up the reservation. Complete is
// terminal: paying and then cancelling is refused, not overwritten.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (*View, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotOrderOwner
	}

	switch o.Status {
	case contracts.OrderStatusComplete:
		return nil, ErrOrderComplete
	case contracts.OrderStatusCancelled:
		return s.view(ctx, o), nil
	}

	if err := s.transition(ctx, o, contracts.OrderStatusCancelled); err != nil {
		return nil, err
	}
	if err := s.publishCancelled(ctx, o); err != nil {
		return nil, err
	}

	return s.view(ctx, o), nil
}

// transition moves the order to status with a version-guarded write and
// announces the change to connected clients.
func (s *Service) transition(ctx context.Context, o *Order, status contracts.OrderStatus) error {
	expected := o.Version
	o.Status = status
	o.Version++
	o.UpdatedAt = time.Now().UTC()

	if err := s.orders.Update(ctx, o, expected); err != nil {
		return fmt.Errorf("move order %s to %s: %w", o.ID, status, err)
	}

	s.notifier.BroadcastOrderUpdate(o.ID, string(status))
	return nil
}

func (s *Service) publishCancelled(ctx context.Context, o *Order) error {
	evt := contracts.OrderCancelledEvent{
		ID:      o.ID,
		Version: o.Version,
		Ticket:  contracts.OrderCancelledTicket{ID: o.TicketID},
	}
	if err := s.pub.PublishOrderCancelled(ctx, evt); err != nil {
		return fmt.Errorf("publish %s: %w", contracts.SubjectOrderCancelled, err)
	}
	return nil
}

func (s *Service) view(ctx context.Context, o *Order) *View {
	v := &View{Order: *o}
	// The replica may lag behind the order; a missing ticket is shown as
	// absent rather than failing the read.
	if t, err := s.tickets.Get(ctx, o.TicketID); err == nil {
		v.Ticket = t
	}
	return v
}

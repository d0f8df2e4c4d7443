package ticket

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
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrTicketExists    = errors.New("ticket already exists")
	ErrNotTicketOwner  = errors.New("ticket does not belong to user")
	ErrTicketReserved  = errors.New("ticket is reserved")
	ErrVersionConflict = errors.New("ticket version conflict")
)

// Store persists tickets. Update carries the already-incremented version on
// the ticket and an explicit expectedVersion; implementations write only if
// the stored row is still at expectedVersion and return ErrVersionConflict
// otherwise. No merging, no retries.
type Store interface {
	Insert(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, id string) (*Ticket, error)
	List(ctx context.Context) ([]Ticket, error)
	Update(ctx context.Context, t *Ticket, expectedVersion int64) error
}

type Publisher interface {
	PublishTicketCreated(ctx context.Context, evt contracts.TicketCreatedEvent) error
	PublishTicketUpdated(ctx context.Context, evt contracts.TicketUpdatedEvent) error
}

type Service struct {
	store  Store
	pub    Publisher
	logger *slog.Logger
}

func NewService(store Store, pub Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, pub: pub, logger: logger}
}

func (s *Service) Create(ctx context.Context, userID, title string, price int64) (*Ticket, error) {
	if title == "" {
		return nil, fmt.Errorf("title must not be empty")
	}
	if price < 0 {
		return nil, fmt.Errorf("price must not be negative")
	}

	now := time.Now().UTC()
	t := &Ticket{
		ID:        uuid.New().String(),
		Title:     title,
		Price:     price,
		UserID:    userID,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Insert(ctx, t); err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	evt := contracts.TicketCreatedEvent{
		ID:      t.ID,
		Title:   t.Title,
		Price:   t.Price,
		UserID:  t.UserID,
		Version: t.Version,
	}
	if err := s.pub.PublishTicketCreated(ctx, evt); err != nil {
		return nil, fmt.Errorf("publish %s: %w", contracts.SubjectTicketCreated, err)
	}

	return t, nil
}

func (s *Service) Update(ctx context.Context, userID, id, title string, price int64) (*Ticket, error) {
	if title == "" {
		return nil, fmt.Errorf("title must not be empty")
	}
	if price < 0 {
		return nil, fmt.Errorf("price must not be negative")
	}

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrNotTicketOwner
	}
	if t.OrderID != nil {
		// Editing a reserved ticket would change the price out from under
		// the pending order.
		return nil, ErrTicketReserved
	}

	expected := t.Version
	t.Title = title
	t.Price = price
	t.Version++
	t.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, t, expected); err != nil {
		return nil, err
	}

	if err := s.publishUpdated(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Ticket, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Ticket, error) {
	return s.store.List(ctx)
}

// HandleOrderCreated marks the ticket as reserved by the new order and
// announces the resulting version so replicas follow.
func (s *Service) HandleOrderCreated(ctx context.Context, evt contracts.OrderCreatedEvent) error {
	t, err := s.store.Get(ctx, evt.Ticket.ID)
	if err != nil {
		return fmt.Errorf("ticket %s for order %s: %w", evt.Ticket.ID, evt.ID, err)
	}

	if t.OrderID != nil && *t.OrderID == evt.ID {
		s.logger.Info("duplicate order.created, reservation already marked",
			"ticket_id", t.ID, "order_id", evt.ID)
		return nil
	}

	expected := t.Version
	orderID := evt.ID
	t.OrderID = &orderID
	t.Version++
	t.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, t, expected); err != nil {
		return fmt.Errorf("reserve ticket %s: %w", t.ID, err)
	}

	return s.publishUpdated(ctx, t)
}

// HandleOrderCancelled frees the ticket so it can be ordered again.
func (s *Service) HandleOrderCancelled(ctx context.Context, evt contracts.OrderCancelledEvent) error {
	t, err := s.store.Get(ctx, evt.Ticket.ID)
	if err != nil {
		return fmt.Errorf("ticket %s for cancelled order %s: %w", evt.Ticket.ID, evt.ID, err)
	}

	if t.OrderID == nil {
		s.logger.Info("duplicate order.cancelled, reservation already cleared",
			"ticket_id", t.ID, "order_id", evt.ID)
		return nil
	}

	expected := t.Version
	t.OrderID = nil
	t.Version++
	t.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, t, expected); err != nil {
		return fmt.Errorf("release ticket %s: %w", t.ID, err)
	}

	return s.publishUpdated(ctx, t)
}

func (s *Service) publishUpdated(ctx context.Context, t *Ticket) error {
	evt := contracts.TicketUpdatedEvent{
		ID:      t.ID,
		Title:   t.Title,
		Price:   t.Price,
		UserID:  t.UserID,
		Version: t.Version,
		OrderID: t.OrderID,
	}
	if err := s.pub.PublishTicketUpdated(ctx, evt); err != nil {
		return fmt.Errorf("publish %s: %w", contracts.SubjectTicketUpdated, err)
	}
	return nil
}

package order

import (
	"context"
	"errors"
	"fmt"

	"tixvibe/pkg/contracts"
)

// Event handlers. All of them run under at-least-once delivery: an error
// return leaves the message unacked for redelivery, a nil return acks it.
// Decisions always come from currently-stored state, never from assumed
// arrival order.

func (s *Service) HandleTicketCreated(ctx context.Context, evt contracts.TicketCreatedEvent) error {
	t := &Ticket{ID: evt.ID, Title: evt.Title, Price: evt.Price, Version: evt.Version}
	if err := s.tickets.Insert(ctx, t); err != nil {
		if errors.Is(err, ErrTicketExists) {
			s.logger.Info("duplicate ticket.created", "ticket_id", evt.ID)
			return nil
		}
		return fmt.Errorf("insert ticket replica: %w", err)
	}
	return nil
}

func (s *Service) HandleTicketUpdated(ctx context.Context, evt contracts.TicketUpdatedEvent) error {
	t := &Ticket{ID: evt.ID, Title: evt.Title, Price: evt.Price, Version: evt.Version}

	err := s.tickets.Update(ctx, t, evt.Version-1)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTicketNotFound) {
		// ticket.created has not landed yet; redelivery is the back-off.
		return fmt.Errorf("ticket %s not replicated yet: %w", evt.ID, err)
	}
	if errors.Is(err, ErrVersionConflict) {
		stored, getErr := s.tickets.Get(ctx, evt.ID)
		if getErr != nil {
			return fmt.Errorf("reread ticket %s: %w", evt.ID, getErr)
		}
		if stored.Version >= evt.Version {
			// Stale or duplicate delivery. Already applied; ack it, since
			// redelivering would reject identically forever.
			s.logger.Info("skip stale ticket.updated",
				"ticket_id", evt.ID, "event_version", evt.Version, "local_version", stored.Version)
			return nil
		}
		// Version gap: the predecessor event is still in flight.
		return fmt.Errorf("ticket %s at version %d, event wants predecessor %d: %w",
			evt.ID, stored.Version, evt.Version-1, err)
	}
	return err
}

// HandleExpirationComplete ends the reservation window. The scheduler fires
// unconditionally; whether the expiration still means anything is decided
// here, from stored status.
func (s *Service) HandleExpirationComplete(ctx context.Context, evt contracts.ExpirationCompleteEvent) error {
	o, err := s.orders.Get(ctx, evt.OrderID)
	if err != nil {
		return fmt.Errorf("order %s: %w", evt.OrderID, err)
	}

	switch o.Status {
	case contracts.OrderStatusComplete:
		// Paid before the window closed. Completion absorbs the
		// expiration; never a downgrade.
		s.logger.Info("ignore expiration for complete order", "order_id", o.ID)
		return nil
	case contracts.OrderStatusCancelled:
		s.logger.Info("duplicate expiration for cancelled order", "order_id", o.ID)
		return nil
	}

	if err := s.transition(ctx, o, contracts.OrderStatusCancelled); err != nil {
		return err
	}
	return s.publishCancelled(ctx, o)
}

func (s *Service) HandlePaymentCreated(ctx context.Context, evt contracts.PaymentCreatedEvent) error {
	o, err := s.orders.Get(ctx, evt.OrderID)
	if err != nil {
		return fmt.Errorf("order %s: %w", evt.OrderID, err)
	}

	switch o.Status {
	case contracts.OrderStatusComplete:
		s.logger.Info("duplicate payment.created", "order_id", o.ID)
		return nil
	case contracts.OrderStatusCancelled:
		// Money moved for an order that is already gone; flag it loudly
		// but ack, this saga has no refund step.
		s.logger.Error("payment recorded for cancelled order",
			"order_id", o.ID, "payment_id", evt.ID)
		return nil
	}

	return s.transition(ctx, o, contracts.OrderStatusComplete)
}

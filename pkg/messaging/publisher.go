package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"tixvibe/pkg/contracts"
)

// Publisher serializes events of one payload type and publishes them to the
// subject it was bound to. Publish returns only after the broker confirms it
// has taken the message; there is no optimistic local resolve. A Publisher
// never touches local state, which keeps decide-then-announce ordering
// visible at every call site.
type Publisher[E any] struct {
	bus     *Bus
	subject contracts.Subject
}

func NewPublisher[E any](bus *Bus, subject contracts.Subject) *Publisher[E] {
	return &Publisher[E]{bus: bus, subject: subject}
}

func (p *Publisher[E]) Publish(ctx context.Context, event E) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", p.subject, err)
	}

	ch, err := p.bus.channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareSubject(ch, p.subject); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		string(p.subject),
		"",
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await %s confirm: %w", p.subject, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: broker rejected message", p.subject)
	}
	return nil
}

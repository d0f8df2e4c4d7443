package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"tixvibe/pkg/contracts"
)

// DefaultAckWait bounds how long a failed delivery is held before it is
// requeued for another instance in the group.
const DefaultAckWait = 5 * time.Second

const defaultPrefetch = 32

// HandlerFunc processes one decoded event. Returning nil acknowledges the
// delivery. Returning an error leaves it unacknowledged and the broker
// redelivers it after the ack-wait; that redelivery loop is the only retry
// mechanism, so handlers must tolerate seeing the same event again.
type HandlerFunc[E any] func(ctx context.Context, event E) error

// Listener consumes one subject on behalf of one queue group. Every
// instance of a service passes the same group name, so they share a single
// durable queue and the broker hands each message to exactly one of them.
type Listener[E any] struct {
	bus      *Bus
	subject  contracts.Subject
	group    string
	handler  HandlerFunc[E]
	ackWait  time.Duration
	prefetch int
	logger   *slog.Logger
}

func NewListener[E any](bus *Bus, subject contracts.Subject, group string, handler HandlerFunc[E], logger *slog.Logger) *Listener[E] {
	return &Listener[E]{
		bus:      bus,
		subject:  subject,
		group:    group,
		handler:  handler,
		ackWait:  DefaultAckWait,
		prefetch: defaultPrefetch,
		logger:   logger,
	}
}

func (l *Listener[E]) queueName() string {
	return string(l.subject) + "." + l.group
}

// Listen declares the subject topology and consumes until ctx is cancelled
// or the channel dies. The queue is durable: delivery progress survives
// restarts, and messages published while no instance is running are waiting
// when one comes back.
func (l *Listener[E]) Listen(ctx context.Context) error {
	ch, err := l.bus.channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	if err := declareSubject(ch, l.subject); err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		l.queueName(),
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(l.queueName(), "", string(l.subject), false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("bind queue: %w", err)
	}

	if err := ch.Qos(l.prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(l.queueName(), "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume queue: %w", err)
	}

	go func() {
		<-ctx.Done()
		ch.Close()
	}()

	l.logger.Info("listening", "subject", string(l.subject), "queue", l.queueName())

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("consume %s: channel closed", l.queueName())
			}
			l.handle(ctx, msg)
		}
	}
}

func (l *Listener[E]) handle(ctx context.Context, msg amqp091.Delivery) {
	var event E
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		// Requeueing a payload that can never decode would loop forever.
		l.logger.Error("drop undecodable event",
			"subject", string(l.subject), "err", err)
		_ = msg.Reject(false)
		return
	}

	if err := l.handler(ctx, event); err != nil {
		l.logger.Warn("event handler failed, will redeliver",
			"subject", string(l.subject), "queue", l.queueName(), "err", err)
		// Hold the delivery for the ack-wait so a failing message does not
		// spin hot through the group.
		select {
		case <-time.After(l.ackWait):
		case <-ctx.Done():
		}
		_ = msg.Nack(false, true)
		return
	}

	_ = msg.Ack(false)
}

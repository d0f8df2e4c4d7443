package messaging

import (
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"

	"tixvibe/pkg/contracts"
)

// Bus is the process-wide broker connection. It is constructed once at
// startup and handed to every publisher and listener; a service that cannot
// reach the broker does not start at all.
type Bus struct {
	conn   *amqp091.Connection
	logger *slog.Logger
}

func Connect(url string, logger *slog.Logger) (*Bus, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	return &Bus{conn: conn, logger: logger}, nil
}

// NotifyClose reports a broker-initiated close of the connection. A service
// whose bus dies must exit rather than keep serving stale replicas, so
// callers treat anything received here as fatal.
func (b *Bus) NotifyClose() <-chan *amqp091.Error {
	return b.conn.NotifyClose(make(chan *amqp091.Error, 1))
}

func (b *Bus) Close() error {
	return b.conn.Close()
}

func (b *Bus) channel() (*amqp091.Channel, error) {
	return b.conn.Channel()
}

// declareSubject declares the durable fanout exchange backing one subject.
// Both publishers and listeners declare it so either side may start first.
func declareSubject(ch *amqp091.Channel, subject contracts.Subject) error {
	return ch.ExchangeDeclare(
		string(subject),
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	)
}

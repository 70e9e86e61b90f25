package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpPublisher is the subset of *amqp.Channel used by the sink.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink forwards alerts to a RabbitMQ fanout exchange so other clinic
// systems (front-desk displays, paging) can react to them.
type AMQPSink struct {
	mu       sync.Mutex
	ch       amqpPublisher
	exchange string
	conn     *amqp.Connection
}

// NewAMQPSink wraps an already opened channel.
func NewAMQPSink(ch amqpPublisher, exchange string) *AMQPSink {
	return &AMQPSink{ch: ch, exchange: exchange}
}

// DialAMQPSink connects to the broker and declares a durable fanout exchange.
func DialAMQPSink(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("alerts: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("alerts: amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("alerts: declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{ch: ch, exchange: exchange, conn: conn}, nil
}

// Deliver publishes the alert as JSON with the severity as routing key.
func (s *AMQPSink) Deliver(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alerts: marshal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.ch.PublishWithContext(ctx, s.exchange, "alerts."+string(a.Severity), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    a.ID,
		Type:         a.Type,
		Timestamp:    a.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("alerts: amqp publish: %w", err)
	}
	return nil
}

// Close closes the broker connection when the sink owns it.
func (s *AMQPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

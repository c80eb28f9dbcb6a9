package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPChannel is the subset of *amqp.Channel used for publishing.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPConfig describes a RabbitMQ connection.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// AMQPPublisher publishes JSON encoded events to a topic exchange using the
// event kind as routing key.
type AMQPPublisher struct {
	ch       AMQPChannel
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
}

var _ Publisher = (*AMQPPublisher)(nil)

// NewAMQPPublisher wraps an existing channel.
func NewAMQPPublisher(ch AMQPChannel, exchange string) *AMQPPublisher {
	if exchange == "" {
		exchange = "talos.events"
	}
	return &AMQPPublisher{ch: ch, exchange: exchange}
}

// DialAMQP connects to RabbitMQ and declares a durable topic exchange.
func DialAMQP(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url cannot be empty")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	p := NewAMQPPublisher(ch, cfg.Exchange)
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	p.conn, p.channel = conn, ch
	return p, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.ch.PublishWithContext(ctx, p.exchange, string(e.Kind), false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   e.ID,
		Timestamp:   e.Time,
		Body:        data,
	})
}

// Close closes the channel and connection opened by DialAMQP.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

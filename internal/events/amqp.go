package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"careconnect-backend/internal/domain"
)

// Fanout exchanges per event family. Consumers bind their own queues.
const (
	callExchange    = "careconnect.calls"
	consultExchange = "careconnect.consults"
)

// AMQPPublisher publishes events to RabbitMQ fanout exchanges.
type AMQPPublisher struct {
	conn    *amqp.Connection
	mu      sync.Mutex // amqp channels are not safe for concurrent publish
	channel *amqp.Channel
}

// NewAMQPPublisher connects to RabbitMQ and opens a channel.
func NewAMQPPublisher(amqpURL string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

// PublishCallEnded implements Publisher.
func (p *AMQPPublisher) PublishCallEnded(ctx context.Context, session *domain.CallSession) error {
	return p.publish(callExchange, newEnvelope("call."+string(session.Status), session))
}

// PublishConsultAssigned implements Publisher.
func (p *AMQPPublisher) PublishConsultAssigned(ctx context.Context, consultation *domain.Consultation) error {
	return p.publish(consultExchange, newEnvelope("consult.matched", newConsultEvent(consultation)))
}

// PublishConsultClosed implements Publisher.
func (p *AMQPPublisher) PublishConsultClosed(ctx context.Context, consultation *domain.Consultation) error {
	return p.publish(consultExchange, newEnvelope("consult.closed", newConsultEvent(consultation)))
}

func (p *AMQPPublisher) publish(exchange string, envelope *EventEnvelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.ExchangeDeclare(
		exchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	err = p.channel.Publish(
		exchange,
		"",    // routing key, ignored by fanout
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to exchange %s: %w", exchange, err)
	}
	return nil
}

// Close closes the AMQP channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

package queue

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange    = "order.events"
	DefaultRefundQueue = "payment.refunds.q"
)

var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// Topology is what NewRabbitProducer declares at startup.
type Topology struct {
	Exchange    string
	RefundQueue string
	RefundKeys  []string // routing keys bound to RefundQueue
}

// RabbitProducer publishes outbox messages with the channel as routing key.
type RabbitProducer struct {
	ch       *amqp.Channel
	exchange string
}

// NewRabbitProducer sets up the exchange, refund queue and bindings once at startup.
func NewRabbitProducer(ch *amqp.Channel, t Topology) (*RabbitProducer, error) {
	if t.Exchange == "" {
		t.Exchange = DefaultExchange
	}
	if t.RefundQueue == "" {
		t.RefundQueue = DefaultRefundQueue
	}

	// 1. declare exchange (topic type, durable)
	if err := ch.ExchangeDeclare(
		t.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	// 2. declare refund queue
	q, err := ch.QueueDeclare(
		t.RefundQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	// 3. bind queue → exchange, one binding per refund channel
	for _, key := range t.RefundKeys {
		if err := ch.QueueBind(q.Name, key, t.Exchange, false, nil); err != nil {
			return nil, fmt.Errorf("queue bind %s: %w", key, err)
		}
	}

	// 4. publisher confirms
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	return &RabbitProducer{ch: ch, exchange: t.Exchange}, nil
}

// Publish sends body and waits for the broker confirm.
func (p *RabbitProducer) Publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // survive broker restarts
		MessageId:    messageID,
		Body:         body,
	}

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		pub,
	)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish confirm: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

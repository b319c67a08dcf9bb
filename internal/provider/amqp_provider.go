// internal/provider/amqp_provider.go
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	appErrors "github.com/agrovia/agrinotify-backend/internal/errors"
)

// AMQPProvider publishes deliveries to a RabbitMQ exchange; the recipient id
// is used as the routing key, so downstream consumers bind per recipient
// group (e.g. one queue per regional inspection office).
type AMQPProvider struct {
	id       string
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPProvider(id, url, exchange string) *AMQPProvider {
	if exchange == "" {
		exchange = "agrinotify.deliveries"
	}
	return &AMQPProvider{id: id, url: url, exchange: exchange}
}

func (p *AMQPProvider) ID() string { return p.id }

func (p *AMQPProvider) Send(ctx context.Context, recipientID, channel, content string) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErrors.NewTransientProviderError(p.id, err)
	}

	ch, err := p.channel()
	if err != nil {
		return nil, appErrors.NewTransientProviderError(p.id, err)
	}

	messageID := uuid.New().String()
	body, err := json.Marshal(map[string]string{
		"message_id": messageID,
		"recipient":  recipientID,
		"channel":    channel,
		"content":    content,
	})
	if err != nil {
		return nil, appErrors.NewPermanentProviderError(p.id, err)
	}

	err = ch.Publish(
		p.exchange,
		recipientID, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Body:         body,
		},
	)
	if err != nil {
		p.reset()
		return nil, appErrors.NewTransientProviderError(p.id, err)
	}

	return &SendResult{
		Success:           true,
		ProviderResponse:  fmt.Sprintf("published to %s", p.exchange),
		ProviderMessageID: messageID,
	}, nil
}

func (p *AMQPProvider) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		return p.ch, nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p.conn = conn
	p.ch = ch
	return ch, nil
}

// reset drops the cached connection after a publish failure so the next send
// redials instead of reusing a dead channel.
func (p *AMQPProvider) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPProvider) Close() error {
	p.reset()
	return nil
}

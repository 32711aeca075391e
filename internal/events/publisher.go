// Package events публикует события escrow во внешнюю шину.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignatzorin/revmark-backend/internal/logger"
)

// Exchange - topic exchange для событий escrow.
const Exchange = "revmark.escrow"

// Publisher публикует событие с ключом маршрутизации.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close() error
}

// Envelope - формат сообщения в шине.
type Envelope struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// AMQPPublisher публикует JSON сообщения в RabbitMQ.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("events: схема AMQP должна быть amqp:// или amqps://")
	}
	return clean, nil
}

// NewAMQPPublisher подключается к брокеру и объявляет exchange.
func NewAMQPPublisher(amqpURL string) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("events: dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: channel: %w", err)
	}

	if err := channel.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: channel, exchange: Exchange}, nil
}

// Publish отправляет событие. Канал AMQP не потокобезопасен, публикации сериализуются.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	payload, err := json.Marshal(Envelope{Type: routingKey, OccurredAt: time.Now().UTC(), Data: body})
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}); err != nil {
		return fmt.Errorf("events: publish %s: %w", routingKey, err)
	}

	logger.L().WithField("routing_key", routingKey).Debug("событие опубликовано")
	return nil
}

// Close закрывает канал и соединение.
func (p *AMQPPublisher) Close() error {
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

// NopPublisher отбрасывает события. Используется, когда брокер не настроен.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }

func (NopPublisher) Close() error { return nil }

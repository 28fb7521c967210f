/**
 * @description
 * This package provides the RabbitMQ producer behind the notification
 * dispatcher. It encapsulates connecting to RabbitMQ and publishing deposit
 * completion events to a durable topic exchange consumed by the live
 * notification channel (out of scope here).
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/DatDio/backend-sub001/internal/domain"
)

// DepositSuccessRoutingKey is the topic key notification consumers bind to.
const DepositSuccessRoutingKey = "wallet.deposit.success"

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

// Publisher is the interface implemented by types that can dispatch
// deposit notifications.
type Publisher interface {
	PublishDepositSuccess(ctx context.Context, event domain.DepositSuccessEvent) error
	Close()
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is
// unavailable at startup. Deposits still commit; only the live notification
// is dropped.
type EventProducerFallback struct{}

func (p *EventProducerFallback) PublishDepositSuccess(ctx context.Context, event domain.DepositSuccessEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"deposit event publish skipped\" user_id=%d code=%s",
		event.UserID, event.TransactionCode)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer publishing to the
// given topic exchange.
func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if exchange == "" {
		exchange = "wallet_events"
	}
	return &EventProducer{conn: conn, channel: ch, exchange: exchange}, nil
}

// PublishDepositSuccess sends a deposit completion event to the exchange.
func (p *EventProducer) PublishDepositSuccess(ctx context.Context, event domain.DepositSuccessEvent) error {
	return p.publish(ctx, DepositSuccessRoutingKey, event)
}

func (p *EventProducer) publish(ctx context.Context, routingKey string, body interface{}) error {
	// Ensure the exchange exists (durable topic)
	if err := p.channel.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"exchange declare failed; reopening channel\" exchange=%s err=%v", p.exchange, err)
		// Attempt simple channel reopen once
		if p.conn == nil {
			return err
		}
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return chErr
		}
		p.channel = ch
		if err2 := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err2 != nil {
			return err2
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", p.exchange, routingKey, err)
		return err
	}

	publishing := amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        jsonBody,
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, publishing)
	if err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", p.exchange, routingKey, err)
		// One-shot retry: reopen channel and try again
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				if exErr := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); exErr == nil {
					if err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, publishing); err == nil {
						return nil
					}
				}
			}
		}
		return err
	}
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

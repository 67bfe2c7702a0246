package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Publish after the broker connection is gone.
var ErrClosed = errors.New("rabbitmq: connection closed")

// Publisher publishes JSON events to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Config selects the broker and exchange. AppID is stamped on every message.
type Config struct {
	URL      string
	Exchange string
	AppID    string
}

// NewPublisher dials the broker and declares the exchange. When the broker is
// not configured or unreachable it returns a noop publisher: chat delivery never
// depends on the broker.
func NewPublisher(cfg Config) Publisher {
	if cfg.URL == "" {
		return newNoop("empty amqp url")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return newNoop(err.Error())
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return newNoop(err.Error())
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return newNoop(err.Error())
	}

	p := &amqpPublisher{
		conn:     conn,
		ch:       ch,
		exchange: cfg.Exchange,
		appID:    cfg.AppID,
	}
	go p.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	log.Info().Str("exchange", cfg.Exchange).Msg("rabbitmq connected")
	return p
}

type amqpPublisher struct {
	conn     *amqp.Connection
	exchange string
	appID    string

	// mu serializes use of ch; gateway events publish from many goroutines.
	mu     sync.Mutex
	ch     *amqp.Channel
	closed bool
}

func (p *amqpPublisher) watch(closes <-chan *amqp.Error) {
	err, ok := <-closes
	if ok && err != nil {
		log.Warn().Err(err).Str("exchange", p.exchange).Msg("rabbitmq connection lost, events dropped until restart")
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         routingKey,
		AppId:        p.appID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		log.Error().Err(err).Str("routing_key", routingKey).Msg("rabbitmq publish failed")
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	_ = p.ch.Close()
	if p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

type noopPublisher struct {
	reason string
}

func newNoop(reason string) noopPublisher {
	log.Warn().Str("reason", reason).Msg("rabbitmq disabled, events are dropped")
	return noopPublisher{reason: reason}
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	log.Debug().Str("routing_key", routingKey).Msg("rabbitmq noop publish")
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// Describe reports the publisher mode and, for the noop publisher, why it was chosen.
func Describe(p Publisher) (mode, reason string) {
	switch publisher := p.(type) {
	case *amqpPublisher:
		return "amqp", ""
	case noopPublisher:
		return "noop", publisher.reason
	default:
		return "unknown", ""
	}
}

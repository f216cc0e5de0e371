// Package notify delivers one-time codes and order events out of band.
//
// Two implementations exist: Publisher writes JSON messages to a RabbitMQ topic exchange
// for a mailer or push worker to pick up, and Log only writes them to the log, which is
// what local development runs with.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultExchange is the topic exchange messages are published to.
const DefaultExchange = "fulfillment_topic"

// Code purposes.
const (
	PurposeRegistration = "registration"
	PurposeLogin        = "login"
)

// CodeMessage asks a delivery worker to send a one-time code.
type CodeMessage struct {
	To      string    `json:"to"`
	Code    string    `json:"code"`
	Purpose string    `json:"purpose"`
	SentAt  time.Time `json:"sent_at"`
}

// OrderEvent announces an order status change.
type OrderEvent struct {
	OrderID  string    `json:"order_id"`
	Status   string    `json:"status"`
	ProofRef string    `json:"proof_ref,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier is implemented by Publisher and Log.
type Notifier interface {
	SendCode(ctx context.Context, to, code, purpose string) error
	OrderChanged(ctx context.Context, ev OrderEvent) error
}

// channel is the subset of *amqp.Channel used here.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes persistent JSON messages.
type Publisher struct {
	mu       sync.Mutex
	ch       channel
	conn     *amqp.Connection
	exchange string
	now      func() time.Time
}

// Dial connects to RabbitMQ and declares the exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	p, err := newPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange, now: time.Now}, nil
}

// SendCode publishes with routing key "code.<purpose>".
func (p *Publisher) SendCode(ctx context.Context, to, code, purpose string) error {
	return p.publish(ctx, "code."+purpose, CodeMessage{To: to, Code: code, Purpose: purpose, SentAt: p.now().UTC()})
}

// OrderChanged publishes with routing key "order.<status>".
func (p *Publisher) OrderChanged(ctx context.Context, ev OrderEvent) error {
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}
	return p.publish(ctx, "order."+ev.Status, ev)
}

func (p *Publisher) publish(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    p.now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// Ping reports whether the connection is still open.
func (p *Publisher) Ping(context.Context) error {
	if p.conn != nil && p.conn.IsClosed() {
		return fmt.Errorf("amqp connection closed")
	}
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Log writes messages to a logger instead of a broker.
type Log struct {
	log *zap.Logger
}

// NewLog returns a Notifier that only logs.
func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

// SendCode logs the code at info level. Do not run it in production.
func (l *Log) SendCode(_ context.Context, to, code, purpose string) error {
	l.log.Info("one-time code", zap.String("to", to), zap.String("purpose", purpose), zap.String("code", code))
	return nil
}

// OrderChanged logs the event.
func (l *Log) OrderChanged(_ context.Context, ev OrderEvent) error {
	l.log.Info("order changed", zap.String("order_id", ev.OrderID), zap.String("status", ev.Status))
	return nil
}

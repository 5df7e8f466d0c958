// Package events announces finished reports on a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	RoutingKeyReportCompleted = "report.completed"

	maxConnectRetry = 3
	retryDelay      = time.Second
)

// ReportCompleted is published once per completed run.
type ReportCompleted struct {
	RunID     string    `json:"run_id"`
	ReportID  string    `json:"report_id"`
	Label     string    `json:"label"`
	Demo      bool      `json:"demo"`
	Severity  string    `json:"severity,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Publisher interface {
	PublishReportCompleted(ctx context.Context, event ReportCompleted) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishReportCompleted(context.Context, ReportCompleted) error { return nil }
func (NopPublisher) Close() error                                                  { return nil }

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitMQPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	logger   *zap.Logger
}

var _ Publisher = (*RabbitMQPublisher)(nil)

func NewRabbitMQPublisher(ctx context.Context, url, exchange string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	logger = logger.Named("events")

	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < maxConnectRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("failed to connect to rabbitmq", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", maxConnectRetry, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	p, err := newPublisher(ch, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	logger.Info("connected to rabbitmq", zap.String("exchange", exchange))
	return p, nil
}

func newPublisher(ch amqpChannel, exchange string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &RabbitMQPublisher{channel: ch, exchange: exchange, logger: logger}, nil
}

func (p *RabbitMQPublisher) PublishReportCompleted(ctx context.Context, event ReportCompleted) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", RoutingKeyReportCompleted, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKeyReportCompleted,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.RunID,
			Timestamp:    event.CreatedAt,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", RoutingKeyReportCompleted, err)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.logger.Warn("failed to close rabbitmq channel", zap.Error(err))
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

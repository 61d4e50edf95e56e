// Package eventbus publishes settlement events to RabbitMQ.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

const publishTimeout = 5 * time.Second

var ErrNotConnected = errors.New("rabbitmq publisher not connected")

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// RabbitMQPublisher sends StockSettledEvents to a durable topic exchange
// and waits for the broker to confirm each one. Publishing is serialized so
// confirmations line up with messages. A lost connection is redialed on the
// next publish.
type RabbitMQPublisher struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	conn          *amqp.Connection
	ch            *amqp.Channel
	notifyConfirm chan amqp.Confirmation
	notifyClose   chan *amqp.Error
}

func NewRabbitMQPublisher(cfg Config, logger *zap.Logger) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{cfg: cfg, logger: logger.Named("eventbus")}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect dials the broker and declares the exchange; caller holds mu.
func (p *RabbitMQPublisher) connect() error {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.cfg.Exchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.cfg.Exchange, err)
	}

	p.conn = conn
	p.ch = ch
	p.notifyConfirm = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))

	p.logger.Info("rabbitmq_connected", zap.String("exchange", p.cfg.Exchange))
	return nil
}

// ready reports whether the current connection is usable, redialing once
// when it is not; caller holds mu.
func (p *RabbitMQPublisher) ready() error {
	if p.conn != nil {
		select {
		case err := <-p.notifyClose:
			p.logger.Warn("rabbitmq_connection_lost", zap.Error(err))
			p.conn, p.ch = nil, nil
		default:
			if !p.conn.IsClosed() {
				return nil
			}
			p.conn, p.ch = nil, nil
		}
	}
	if err := p.connect(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

func (p *RabbitMQPublisher) PublishSettled(ctx context.Context, event domain.StockSettledEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ready(); err != nil {
		return err
	}

	err = p.ch.Publish(
		p.cfg.Exchange,   // exchange
		p.cfg.RoutingKey, // routing key
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-p.notifyConfirm:
		if !ok {
			return errors.New("channel closed before confirmation")
		}
		if !confirm.Ack {
			return errors.New("event nacked by broker")
		}
		p.logger.Debug("settlement_event_published",
			zap.String("event_id", event.EventID),
			zap.Uint64("delivery_tag", confirm.DeliveryTag),
		)
		return nil
	case <-timer.C:
		p.reset()
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		p.reset()
		return ctx.Err()
	}
}

// reset drops a connection whose confirmations can no longer be matched to
// messages; caller holds mu.
func (p *RabbitMQPublisher) reset() {
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}

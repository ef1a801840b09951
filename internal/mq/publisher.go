package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher 基于 RabbitMQ topic exchange 的事件发布器。
type Publisher struct {
	url      string
	exchange string
	logger   *zap.Logger

	mutex   sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewPublisher 建立连接并声明 exchange。
func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{url: url, exchange: exchange, logger: logger}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
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
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}

	p.conn = conn
	p.channel = ch
	p.logger.Info("rabbitmq publisher connected", zap.String("exchange", p.exchange))
	return nil
}

// publish 序列化并发布消息，连接断开时重连一次。
func (p *Publisher) publish(ctx context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return fmt.Errorf("publisher closed")
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}

	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		p.logger.Warn("publish failed, reconnecting", zap.String("routing_key", routingKey), zap.Error(err))
		if rerr := p.connect(); rerr != nil {
			return fmt.Errorf("publish %s: %w", routingKey, err)
		}
		if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
			return fmt.Errorf("publish %s after reconnect: %w", routingKey, err)
		}
	}
	return nil
}

// PublishMovement 发布库存变更事件。
func (p *Publisher) PublishMovement(ctx context.Context, event *StockMovementEvent) error {
	return p.publish(ctx, RoutingKeyStockMovement, event)
}

// PublishLowStock 发布低库存事件。
func (p *Publisher) PublishLowStock(ctx context.Context, event *LowStockEvent) error {
	return p.publish(ctx, RoutingKeyLowStock, event)
}

// Close 关闭通道与连接。
func (p *Publisher) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var _ StockEventPublisher = (*Publisher)(nil)

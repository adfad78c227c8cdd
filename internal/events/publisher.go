package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultExchange   = "walletpilot.events"
	defaultRoutingKey = "transfer.submitted"
)

// TransferEvent 描述一次已提交的转账。
type TransferEvent struct {
	TurnID        string    `json:"turnId"`
	Address       string    `json:"address"`
	Operation     string    `json:"operation"`
	TransactionID string    `json:"transactionId"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Publisher 负责投递转账事件。
type Publisher interface {
	PublishTransfer(ctx context.Context, event TransferEvent) error
}

// NopPublisher 丢弃所有事件，用于未配置消息队列的场景。
type NopPublisher struct{}

// PublishTransfer 实现 Publisher 接口。
func (NopPublisher) PublishTransfer(context.Context, TransferEvent) error { return nil }

// Config 描述 RabbitMQ 的连接参数。
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// channel 是 RabbitMQPublisher 用到的 amqp.Channel 子集。
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher 将事件以持久化消息的形式发布到 topic exchange。
type RabbitMQPublisher struct {
	conn       *amqp.Connection
	ch         channel
	exchange   string
	routingKey string
}

// NewRabbitMQPublisher 建立连接并声明 exchange。
func NewRabbitMQPublisher(cfg Config) (*RabbitMQPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = defaultExchange
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	publisher := newPublisher(ch, exchange, cfg.RoutingKey)
	publisher.conn = conn
	return publisher, nil
}

func newPublisher(ch channel, exchange, routingKey string) *RabbitMQPublisher {
	if exchange == "" {
		exchange = defaultExchange
	}
	if routingKey == "" {
		routingKey = defaultRoutingKey
	}
	return &RabbitMQPublisher{ch: ch, exchange: exchange, routingKey: routingKey}
}

// PublishTransfer 发布一条转账事件，消息 ID 为对话轮次 ID。
func (p *RabbitMQPublisher) PublishTransfer(ctx context.Context, event TransferEvent) error {
	if p == nil || p.ch == nil {
		return errors.New("RabbitMQ 发布器未初始化")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化转账事件失败: %w", err)
	}
	return p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.TurnID,
		Timestamp:    event.OccurredAt,
		Type:         event.Operation,
		Body:         body,
	})
}

// Close 关闭 RabbitMQ 连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Package mq 提供库存事件的 RabbitMQ 发布实现。
// 事件只在台账变更提交之后发出，是尽力而为的通知：
// 发布失败不会影响已提交的台账状态。
package mq

import (
	"context"
	"time"

	"github.com/chainsyncstore/chainsync/internal/domain"
)

// 路由键约定。补货/报表等外部消费者据此订阅。
const (
	RoutingKeyStockMovement = "stock.movement"
	RoutingKeyLowStock      = "stock.low"
)

// StockMovementEvent 表示一次已提交的库存线变更。
type StockMovementEvent struct {
	StoreID    int64              `json:"store_id"`
	ProductID  int64              `json:"product_id"`
	Action     domain.AuditAction `json:"action"`
	Quantity   int                `json:"quantity"`  // 本次变更的总数量（正数）
	Reference  string             `json:"reference"` // 关联的销售/退货单号
	UserID     int64              `json:"user_id"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// LowStockEvent 表示库存线总量低于调用方给定的下限。
type LowStockEvent struct {
	StoreID       int64     `json:"store_id"`
	ProductID     int64     `json:"product_id"`
	TotalQuantity int       `json:"total_quantity"`
	MinimumLevel  int       `json:"minimum_level"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// StockEventPublisher 定义库存事件发布接口。
type StockEventPublisher interface {
	PublishMovement(ctx context.Context, event *StockMovementEvent) error
	PublishLowStock(ctx context.Context, event *LowStockEvent) error
	Close() error
}

// NopPublisher 什么都不做，用于测试和禁用 MQ 的部署。
type NopPublisher struct{}

// NewNopPublisher 创建空发布器。
func NewNopPublisher() *NopPublisher { return &NopPublisher{} }

func (p *NopPublisher) PublishMovement(context.Context, *StockMovementEvent) error { return nil }
func (p *NopPublisher) PublishLowStock(context.Context, *LowStockEvent) error      { return nil }
func (p *NopPublisher) Close() error                                               { return nil }

var _ StockEventPublisher = (*NopPublisher)(nil)

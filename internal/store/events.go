package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SessionEventStream 会话生命周期事件流名称
const SessionEventStream = "medatm:session-events"

// SessionEvent 发布到 Redis Streams 的生命周期事件
type SessionEvent struct {
	EventType string `json:"event_type"` // session_started / prediction_pending / reviewed / command_dispensed
	SessionID string `json:"session_id"`
	KioskID   string `json:"kiosk_id"`
	Status    string `json:"status"`
	Command   string `json:"command,omitempty"`
}

// EventPublisher 向 Redis Streams 发布会话事件，供下游消费（审计/统计）。
// 发布失败只记录告警，绝不阻断状态迁移。
type EventPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewEventPublisher(client *redis.Client, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{client: client, logger: logger}
}

// Publish fire-and-forget 发布（nil 安全）
func (p *EventPublisher) Publish(ctx context.Context, event SessionEvent) {
	if p == nil || p.client == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to encode session event", zap.Error(err))
		return
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: SessionEventStream,
		Values: map[string]interface{}{
			"data":      string(data),
			"timestamp": time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		p.logger.Warn("failed to publish session event",
			zap.String("event_type", event.EventType),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}

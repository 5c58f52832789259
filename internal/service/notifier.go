package service

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
)

// NotifyEvent 推送给审批端 webhook 的事件负载
type NotifyEvent struct {
	Event          string `json:"event"` // prediction_pending / reviewed
	SessionID      string `json:"session_id"`
	KioskID        string `json:"kiosk_id"`
	SubjectName    string `json:"subject_name,omitempty"`
	PredictedLabel string `json:"predicted_label,omitempty"`
	Decision       string `json:"decision,omitempty"`
	Status         string `json:"status,omitempty"`
	Command        string `json:"command,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// Notifier 审批端 webhook 通知客户端。
// 通知是尽力而为：失败只记告警，状态迁移不回滚。
// webhookURL 为空时所有方法为 no-op。
type Notifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

func NewNotifier(webhookURL string, timeout time.Duration, logger *zap.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json")

	return &Notifier{
		client: client,
		url:    webhookURL,
		logger: logger,
	}
}

// PredictionPending 预测进入待审批时通知审批端
func (n *Notifier) PredictionPending(ctx context.Context, sessionID, kioskID, subjectName string, label domain.Label) {
	n.post(ctx, NotifyEvent{
		Event:          "prediction_pending",
		SessionID:      sessionID,
		KioskID:        kioskID,
		SubjectName:    subjectName,
		PredictedLabel: string(label),
		Status:         string(domain.StatusPendingApproval),
	})
}

// Decision 审批落定时通知
func (n *Notifier) Decision(ctx context.Context, sessionID, kioskID, decision string, status domain.SessionStatus, command domain.Command) {
	n.post(ctx, NotifyEvent{
		Event:     "reviewed",
		SessionID: sessionID,
		KioskID:   kioskID,
		Decision:  decision,
		Status:    string(status),
		Command:   string(command),
	})
}

func (n *Notifier) post(ctx context.Context, event NotifyEvent) {
	if n == nil || n.url == "" {
		return
	}
	event.Timestamp = time.Now().Unix()

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(event).
		Post(n.url)
	if err != nil {
		n.logger.Warn("webhook notification failed",
			zap.String("event", event.Event),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
		return
	}
	if resp.IsError() {
		n.logger.Warn("webhook notification rejected",
			zap.String("event", event.Event),
			zap.String("session_id", event.SessionID),
			zap.Int("status_code", resp.StatusCode()))
	}
}

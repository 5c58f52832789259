package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/classifier"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/repository"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/store"
)

// IngestService 读数摄入管道：追加读数 -> 分类 -> 推进状态机
type IngestService struct {
	sessions repository.SessionsRepo
	subjects repository.SubjectsRepo
	classify classifier.Func
	cache    *store.LiveCache
	notifier *Notifier
	events   *store.EventPublisher
	logger   *zap.Logger
}

func NewIngestService(
	sessions repository.SessionsRepo,
	subjects repository.SubjectsRepo,
	classify classifier.Func,
	cache *store.LiveCache,
	notifier *Notifier,
	events *store.EventPublisher,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		sessions: sessions,
		subjects: subjects,
		classify: classify,
		cache:    cache,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

// IngestReading kiosk 上传一次读数，返回分类结果。
//
// 状态机规则（collecting_data 起点）：
//   - 分类结果为确定标签：同一次调用内直接进入 pending_approval
//     （prediction_made 是不可独立观测的瞬态，不需要第二次调用）
//   - 分类结果为 undetermined：停留在 collecting_data
//
// pending_approval 期间到达的读数只追加（供实时视图），预测与状态不变。
// 追加与状态迁移是存储层同一条件更新；竞争失败时有限次重试。
func (s *IngestService) IngestReading(ctx context.Context, kioskID string, reading domain.Reading) (domain.Label, error) {
	if kioskID == "" {
		return "", fmt.Errorf("%w: kiosk_id is required", domain.ErrValidation)
	}

	subject, err := s.subjects.ActiveSubjectByKiosk(ctx, kioskID)
	if err != nil {
		return "", fmt.Errorf("failed to look up active subject: %w", err)
	}
	if subject == nil {
		return "", domain.ErrNoActiveSession
	}

	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now()
	}
	label := s.classify(reading)

	var (
		sess      *domain.Session
		newStatus domain.SessionStatus
	)
	for attempt := 0; ; attempt++ {
		list, err := s.sessions.ListNonTerminalByKiosk(ctx, kioskID)
		if err != nil {
			return "", fmt.Errorf("failed to locate session: %w", err)
		}
		if len(list) == 0 {
			// Subject 活跃但没有非终态会话：数据完整性破损
			return "", domain.ErrNoActiveSession
		}
		if len(list) > 1 {
			// 完整性告警：取最新一条，其余留给 cleanup-on-start 收口
			s.logger.Warn("multiple non-terminal sessions for kiosk, using most recent",
				zap.String("kiosk_id", kioskID),
				zap.Int("count", len(list)))
		}
		sess = list[0]

		switch sess.Status {
		case domain.StatusCollectingData:
			newStatus = domain.StatusCollectingData
			if label.Determined() {
				newStatus = domain.StatusPendingApproval
			}
			predicted := label
			err = s.sessions.AppendReading(ctx, sess.SessionID, reading, domain.StatusCollectingData, newStatus, &predicted)
		case domain.StatusPendingApproval:
			// 审批期间读数仅供实时视图
			newStatus = domain.StatusPendingApproval
			err = s.sessions.AppendReading(ctx, sess.SessionID, reading, domain.StatusPendingApproval, domain.StatusPendingApproval, nil)
		default:
			// approved/declined 之后 Subject 已关闭，正常流程不会到这里
			return "", domain.ErrNoActiveSession
		}

		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return "", fmt.Errorf("failed to ingest reading: %w", err)
	}

	view := &store.LiveView{
		SessionID:      sess.SessionID,
		KioskID:        kioskID,
		ReviewerID:     sess.ReviewerID,
		SubjectName:    subject.Name,
		LatestReading:  &reading,
		PredictedLabel: sess.PredictedLabel,
		Status:         newStatus,
	}
	if sess.Status == domain.StatusCollectingData {
		view.PredictedLabel = label
	}
	if err := s.cache.Put(ctx, view); err != nil {
		s.logger.Warn("failed to refresh live cache", zap.String("session_id", sess.SessionID), zap.Error(err))
	}

	if sess.Status == domain.StatusCollectingData && newStatus == domain.StatusPendingApproval {
		s.logger.Info("prediction pending approval",
			zap.String("kiosk_id", kioskID),
			zap.String("session_id", sess.SessionID),
			zap.String("label", string(label)))
		s.notifier.PredictionPending(ctx, sess.SessionID, kioskID, subject.Name, label)
		s.events.Publish(ctx, store.SessionEvent{
			EventType: "prediction_pending",
			SessionID: sess.SessionID,
			KioskID:   kioskID,
			Status:    string(domain.StatusPendingApproval),
		})
	}

	return label, nil
}

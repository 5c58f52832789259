package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/repository"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/store"
)

// maxConflictRetries 条件更新竞争失败的服务层重试上限
const maxConflictRetries = 3

// LifecycleService 会话生命周期管理：开启会话 + cleanup-on-start
type LifecycleService struct {
	sessions repository.SessionsRepo
	cache    *store.LiveCache
	events   *store.EventPublisher
	logger   *zap.Logger
}

func NewLifecycleService(sessions repository.SessionsRepo, cache *store.LiveCache, events *store.EventPublisher, logger *zap.Logger) *LifecycleService {
	return &LifecycleService{
		sessions: sessions,
		cache:    cache,
		events:   events,
		logger:   logger,
	}
}

// StartSession 为 kiosk 开启新的诊断会话。
// 可重复调用：旧的活跃 Subject 会被下线，旧的非终态 Session 会被标记 completed，
// 整个 cleanup + 创建在存储层单事务内完成。
// 返回 (subjectID, sessionID)。
func (s *LifecycleService) StartSession(ctx context.Context, kioskID string, info domain.SubjectInfo, reviewerID string) (string, string, error) {
	kioskID = strings.TrimSpace(kioskID)
	reviewerID = strings.TrimSpace(reviewerID)
	name := strings.TrimSpace(info.Name)

	if kioskID == "" {
		return "", "", fmt.Errorf("%w: kiosk_id is required", domain.ErrValidation)
	}
	if reviewerID == "" {
		return "", "", fmt.Errorf("%w: reviewer_id is required", domain.ErrValidation)
	}
	if name == "" {
		return "", "", fmt.Errorf("%w: subject name is required", domain.ErrValidation)
	}

	now := time.Now()
	subject := &domain.Subject{
		SubjectID:  uuid.NewString(),
		KioskID:    kioskID,
		ReviewerID: reviewerID,
		Name:       name,
		Notes:      info.Notes,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	session := &domain.Session{
		SessionID:      uuid.NewString(),
		KioskID:        kioskID,
		SubjectID:      subject.SubjectID,
		ReviewerID:     reviewerID,
		Readings:       []domain.Reading{},
		PredictedLabel: domain.LabelNoneYet,
		ApprovedLabel:  domain.LabelNoneYet,
		Status:         domain.StatusCollectingData,
		Command:        domain.CommandNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// cleanup-on-start 会把这些会话标记 completed，对应的实时视图缓存必须同步清除，
	// 否则 GetLiveView 在 TTL 内仍会命中已终态的会话
	stale, err := s.sessions.ListNonTerminalByKiosk(ctx, kioskID)
	if err != nil {
		return "", "", fmt.Errorf("failed to list sessions for cleanup: %w", err)
	}

	for attempt := 0; ; attempt++ {
		err = s.sessions.StartSession(ctx, subject, session)
		if err == nil {
			break
		}
		// 并发 StartSession 撞上活跃 Subject 唯一索引：瞬态，有限次重试
		if errors.Is(err, domain.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return "", "", fmt.Errorf("failed to start session: %w", err)
	}

	for _, old := range stale {
		if err := s.cache.Invalidate(ctx, old.SessionID); err != nil {
			s.logger.Warn("failed to invalidate live cache for abandoned session",
				zap.String("session_id", old.SessionID),
				zap.Error(err))
		}
	}

	s.logger.Info("session started",
		zap.String("kiosk_id", kioskID),
		zap.String("session_id", session.SessionID),
		zap.String("reviewer_id", reviewerID))

	s.events.Publish(ctx, store.SessionEvent{
		EventType: "session_started",
		SessionID: session.SessionID,
		KioskID:   kioskID,
		Status:    string(session.Status),
	})

	return subject.SubjectID, session.SessionID, nil
}

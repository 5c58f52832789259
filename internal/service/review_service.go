package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/repository"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/store"
)

// ReviewService 审批闸口 + 审批端只读投影（实时视图/历史）
type ReviewService struct {
	sessions repository.SessionsRepo
	subjects repository.SubjectsRepo
	cache    *store.LiveCache
	notifier *Notifier
	events   *store.EventPublisher
	logger   *zap.Logger
}

func NewReviewService(
	sessions repository.SessionsRepo,
	subjects repository.SubjectsRepo,
	cache *store.LiveCache,
	notifier *Notifier,
	events *store.EventPublisher,
	logger *zap.Logger,
) *ReviewService {
	return &ReviewService{
		sessions: sessions,
		subjects: subjects,
		cache:    cache,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

// ReviewSession 审批人对 pending_approval 会话做出决定。
//
// decision 取值：
//   - "declined"           拒绝：status=declined，command 保持 no-command
//   - 其他非空标签（如 "A"） 批准：approved_label=decision，按固定映射表计算 command
//
// 审批落定后立即下线 Subject（指令尚未投递也不再接收读数）。
// CAS 竞争失败（已被决定）映射为 ErrNotReviewable。
func (s *ReviewService) ReviewSession(ctx context.Context, sessionID, reviewerID, decision string) (domain.SessionStatus, domain.Command, error) {
	decision = strings.TrimSpace(decision)
	if sessionID == "" {
		return "", "", fmt.Errorf("%w: session_id is required", domain.ErrValidation)
	}
	if reviewerID == "" {
		return "", "", fmt.Errorf("%w: reviewer_id is required", domain.ErrValidation)
	}
	if decision == "" {
		return "", "", fmt.Errorf("%w: decision is required", domain.ErrValidation)
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	if sess.ReviewerID != reviewerID {
		// 归属不匹配与状态不可审批同样以冲突呈现
		return "", "", domain.ErrNotReviewable
	}
	if sess.Status != domain.StatusPendingApproval {
		return "", "", domain.ErrNotReviewable
	}

	var (
		toStatus domain.SessionStatus
		command  domain.Command
		updates  map[string]any
	)
	if decision == domain.DecisionDeclined {
		toStatus = domain.StatusDeclined
		command = domain.CommandNone
		updates = map[string]any{
			"status": toStatus,
		}
	} else {
		label := domain.Label(decision)
		toStatus = domain.StatusApproved
		command = domain.CommandForLabel(label)
		updates = map[string]any{
			"status":         toStatus,
			"approved_label": label,
			"command":        command,
		}
	}

	err = s.sessions.UpdateSessionStatus(ctx, sessionID, domain.StatusPendingApproval, updates)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// 并发审批：另一个决定已先落库
			return "", "", domain.ErrNotReviewable
		}
		return "", "", fmt.Errorf("failed to record review decision: %w", err)
	}

	// 审批即关闭读数通道
	if err := s.subjects.DeactivateSubject(ctx, sess.SubjectID); err != nil {
		s.logger.Warn("failed to deactivate subject after review",
			zap.String("subject_id", sess.SubjectID),
			zap.Error(err))
	}

	if err := s.cache.Invalidate(ctx, sessionID); err != nil {
		s.logger.Warn("failed to invalidate live cache", zap.String("session_id", sessionID), zap.Error(err))
	}

	s.logger.Info("session reviewed",
		zap.String("session_id", sessionID),
		zap.String("reviewer_id", reviewerID),
		zap.String("decision", decision),
		zap.String("status", string(toStatus)),
		zap.String("command", string(command)))

	s.notifier.Decision(ctx, sessionID, sess.KioskID, decision, toStatus, command)
	s.events.Publish(ctx, store.SessionEvent{
		EventType: "reviewed",
		SessionID: sessionID,
		KioskID:   sess.KioskID,
		Status:    string(toStatus),
		Command:   string(command),
	})

	return toStatus, command, nil
}

// GetLiveView 审批端实时视图。
// 缓存命中时免查主库；未命中回源并回填。
// 会话不存在 / 不归属该审批人 / 已进终态一律返回 ErrNotFound。
func (s *ReviewService) GetLiveView(ctx context.Context, sessionID, reviewerID string) (*store.LiveView, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", domain.ErrValidation)
	}
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer_id is required", domain.ErrValidation)
	}

	if view, err := s.cache.Get(ctx, sessionID); err == nil && view != nil {
		if view.ReviewerID != reviewerID || view.Status.Terminal() {
			return nil, domain.ErrNotFound
		}
		return view, nil
	} else if err != nil {
		s.logger.Warn("live cache read failed, falling back to store", zap.Error(err))
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ReviewerID != reviewerID || sess.Status.Terminal() {
		return nil, domain.ErrNotFound
	}

	name := ""
	if subject, err := s.subjects.GetSubject(ctx, sess.SubjectID); err == nil {
		name = subject.Name
	}

	view := &store.LiveView{
		SessionID:      sess.SessionID,
		KioskID:        sess.KioskID,
		ReviewerID:     sess.ReviewerID,
		SubjectName:    name,
		LatestReading:  sess.LatestReading(),
		PredictedLabel: sess.PredictedLabel,
		Status:         sess.Status,
	}
	if err := s.cache.Put(ctx, view); err != nil {
		s.logger.Warn("failed to backfill live cache", zap.String("session_id", sessionID), zap.Error(err))
	}
	return view, nil
}

// ListHistory 审批人历史（倒序），filter 为大小写不敏感子串匹配
func (s *ReviewService) ListHistory(ctx context.Context, reviewerID, filter string) ([]*domain.SessionSummary, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer_id is required", domain.ErrValidation)
	}
	return s.sessions.ListHistory(ctx, reviewerID, filter)
}

// DeleteHistory 管理操作：删除归属该审批人的会话记录
func (s *ReviewService) DeleteHistory(ctx context.Context, sessionID, reviewerID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session_id is required", domain.ErrValidation)
	}
	if reviewerID == "" {
		return fmt.Errorf("%w: reviewer_id is required", domain.ErrValidation)
	}
	if err := s.sessions.DeleteSession(ctx, sessionID, reviewerID); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, sessionID); err != nil {
		s.logger.Warn("failed to invalidate live cache", zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

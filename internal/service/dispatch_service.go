package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/repository"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/store"
)

// ExecutionSuccess kiosk 确认请求中表示执行成功的取值（缺省视为成功）
const ExecutionSuccess = "success"

// DispatchService 指令投递协议：kiosk 轮询取指令 + 执行确认。
// 每条指令恰好投递一次：轮询只读幂等，确认以轮询返回的 session id 寻址。
type DispatchService struct {
	sessions repository.SessionsRepo
	cache    *store.LiveCache
	events   *store.EventPublisher
	logger   *zap.Logger
}

func NewDispatchService(sessions repository.SessionsRepo, cache *store.LiveCache, events *store.EventPublisher, logger *zap.Logger) *DispatchService {
	return &DispatchService{
		sessions: sessions,
		cache:    cache,
		events:   events,
		logger:   logger,
	}
}

// FetchCommand kiosk 定时轮询待执行指令。
// 只读幂等：状态不变则重复轮询返回同一结果。
// 没有待投递指令时返回 (no-command, "")，这是正常结果而非错误。
// 返回的 session id 必须由 kiosk 在确认时原样带回（见 ConfirmExecution）。
func (s *DispatchService) FetchCommand(ctx context.Context, kioskID string) (domain.Command, string, error) {
	if kioskID == "" {
		return "", "", fmt.Errorf("%w: kiosk_id is required", domain.ErrValidation)
	}

	sess, err := s.sessions.LatestDeliverable(ctx, kioskID)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch command: %w", err)
	}
	if sess == nil {
		return domain.CommandNone, "", nil
	}
	return sess.Command, sess.SessionID, nil
}

// ConfirmExecution kiosk 确认指令已执行。
//
// 确认必须以 FetchCommand 返回的 session id 寻址——二次 "最新已批准" 查询
// 会在轮询后、确认前出现新审批时确认错会话。sessionID 为空时退回
// 最新匹配查询（兼容旧 kiosk 固件），这是已知竞态，记告警。
//
// 幂等：对已是 medication_dispensed 的会话重复确认是 no-op，返回同一 session id
// （kiosk 传输失败后会重试确认）。
func (s *DispatchService) ConfirmExecution(ctx context.Context, kioskID, sessionID, executionStatus string) (string, error) {
	if kioskID == "" {
		return "", fmt.Errorf("%w: kiosk_id is required", domain.ErrValidation)
	}

	var (
		sess *domain.Session
		err  error
	)
	if sessionID == "" {
		s.logger.Warn("execution confirmation without session id, falling back to latest-match query (known race)",
			zap.String("kiosk_id", kioskID))
		sess, err = s.sessions.LatestDeliverable(ctx, kioskID)
		if err != nil {
			return "", fmt.Errorf("failed to locate outstanding command: %w", err)
		}
		if sess == nil {
			return "", domain.ErrNotFound
		}
	} else {
		sess, err = s.sessions.GetSession(ctx, sessionID)
		if err != nil {
			return "", err
		}
		if sess.KioskID != kioskID {
			return "", domain.ErrNotFound
		}
	}

	// 重复确认：no-op
	if sess.Status == domain.StatusDispensed && sess.CommandExecuted {
		return sess.SessionID, nil
	}

	if executionStatus != "" && executionStatus != ExecutionSuccess {
		// 执行失败：指令保持待投递，kiosk 下次轮询会再次拿到
		s.logger.Warn("kiosk reported non-success execution, command left outstanding",
			zap.String("kiosk_id", kioskID),
			zap.String("session_id", sess.SessionID),
			zap.String("execution_status", executionStatus))
		return sess.SessionID, nil
	}

	if sess.Status != domain.StatusApproved || sess.Command == domain.CommandNone {
		return "", fmt.Errorf("%w: no outstanding command for session %s", domain.ErrNotFound, sess.SessionID)
	}

	err = s.sessions.UpdateSessionStatus(ctx, sess.SessionID, domain.StatusApproved, map[string]any{
		"status":           domain.StatusDispensed,
		"command_executed": true,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// 与重复确认竞争：已被标记投递则按幂等处理
			latest, getErr := s.sessions.GetSession(ctx, sess.SessionID)
			if getErr == nil && latest.Status == domain.StatusDispensed && latest.CommandExecuted {
				return latest.SessionID, nil
			}
			return "", err
		}
		return "", fmt.Errorf("failed to record execution: %w", err)
	}

	if err := s.cache.Invalidate(ctx, sess.SessionID); err != nil {
		s.logger.Warn("failed to invalidate live cache", zap.String("session_id", sess.SessionID), zap.Error(err))
	}

	s.logger.Info("command execution confirmed",
		zap.String("kiosk_id", kioskID),
		zap.String("session_id", sess.SessionID),
		zap.String("command", string(sess.Command)))

	s.events.Publish(ctx, store.SessionEvent{
		EventType: "command_dispensed",
		SessionID: sess.SessionID,
		KioskID:   kioskID,
		Status:    string(domain.StatusDispensed),
		Command:   string(sess.Command),
	})

	return sess.SessionID, nil
}

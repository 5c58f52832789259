package repository

import (
	"context"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
)

// SessionsRepo 会话存储接口
// 所有状态变更都以 status 条件更新（compare-and-swap）为前提：
// 读到的 status 与写入时不一致则返回 domain.ErrConflict，由服务层重试。
type SessionsRepo interface {
	// StartSession 原子执行 cleanup-on-start + 创建：
	//  1) 将该 kiosk 上 is_active 的旧 Subject 置为 inactive
	//  2) 将该 kiosk 上所有非终态 Session 标记为 completed（废弃）
	//  3) 插入新 Subject（is_active = true）与新 Session（collecting_data）
	// 整体在同一事务内完成，保证任一时刻该 kiosk 恰有一个活跃 Subject。
	StartSession(ctx context.Context, subject *domain.Subject, session *domain.Session) error

	// GetSession 按 session_id 查询
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListNonTerminalByKiosk 查询该 kiosk 的非终态会话，按创建时间倒序
	// （正常情况恰好一条；多于一条属于数据完整性告警，调用方取最新的一条）
	ListNonTerminalByKiosk(ctx context.Context, kioskID string) ([]*domain.Session, error)

	// LatestDeliverable 查询该 kiosk 最新的待投递会话：
	// status = approved 且 command_executed = false 且 command != no-command
	// 没有匹配时返回 (nil, nil)。
	LatestDeliverable(ctx context.Context, kioskID string) (*domain.Session, error)

	// AppendReading 追加读数并按 CAS 推进状态：
	// WHERE status = from；predicted 为 nil 时保留原 predicted_label。
	// 追加与状态迁移是同一条 UPDATE（不会出现读数已入库而状态未动的中间态）。
	AppendReading(ctx context.Context, sessionID string, reading domain.Reading, from, to domain.SessionStatus, predicted *domain.Label) error

	// UpdateSessionStatus 条件更新（WHERE status = from），支持部分字段更新。
	// 0 行受影响返回 domain.ErrConflict。
	UpdateSessionStatus(ctx context.Context, sessionID string, from domain.SessionStatus, updates map[string]any) error

	// ListHistory 审批人历史列表（倒序）；filter 为大小写不敏感子串匹配，
	// 作用于患者姓名 / kiosk id / 预测与审批标签 / 状态。
	ListHistory(ctx context.Context, reviewerID, filter string) ([]*domain.SessionSummary, error)

	// DeleteSession 管理操作：删除属于该审批人的会话，
	// 不存在或不属于该审批人返回 domain.ErrNotFound。
	DeleteSession(ctx context.Context, sessionID, reviewerID string) error
}

// SubjectsRepo 患者-自助机分配存储接口
type SubjectsRepo interface {
	GetSubject(ctx context.Context, subjectID string) (*domain.Subject, error)

	// ActiveSubjectByKiosk 查询该 kiosk 当前活跃的 Subject；没有时返回 (nil, nil)
	ActiveSubjectByKiosk(ctx context.Context, kioskID string) (*domain.Subject, error)

	// DeactivateSubject 关闭读数通道（审批落定后立即调用）
	DeactivateSubject(ctx context.Context, subjectID string) error
}

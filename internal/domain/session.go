package domain

import (
	"time"
)

// Label 分类结果（闭集）
type Label string

const (
	LabelNoneYet      Label = "none-yet"     // 尚未分类
	LabelUndetermined Label = "undetermined" // 无法判定（继续采集）
	LabelDiseaseA     Label = "A"
	LabelDiseaseB     Label = "B"
)

// Determined 返回该标签是否可以进入审批阶段
func (l Label) Determined() bool {
	return l == LabelDiseaseA || l == LabelDiseaseB
}

// DecisionDeclined 审批请求中的特殊值：拒绝本次预测
const DecisionDeclined = "declined"

// Command 药品分发指令（由审批结果映射而来）
type Command string

const (
	CommandNone      Command = "no-command"
	CommandDispense1 Command = "command-1"
	CommandDispense2 Command = "command-2"
)

// commandByLabel 标签 -> 指令 的固定映射表
// 注意：新增 Label 时必须同步补充此表（见 TestCommandForLabel_Exhaustive）
var commandByLabel = map[Label]Command{
	LabelDiseaseA: CommandDispense1,
	LabelDiseaseB: CommandDispense2,
}

// CommandForLabel 根据审批标签计算指令，未映射的标签一律返回 no-command
func CommandForLabel(l Label) Command {
	if cmd, ok := commandByLabel[l]; ok {
		return cmd
	}
	return CommandNone
}

// SessionStatus 会话状态（闭集状态机）
type SessionStatus string

const (
	StatusCollectingData  SessionStatus = "collecting_data"
	StatusPredictionMade  SessionStatus = "prediction_made" // 瞬态标记：单次摄入调用内直接进入 pending_approval
	StatusPendingApproval SessionStatus = "pending_approval"
	StatusApproved        SessionStatus = "approved"
	StatusDeclined        SessionStatus = "declined"
	StatusDispensed       SessionStatus = "medication_dispensed"
	StatusCompleted       SessionStatus = "completed"
)

// Terminal 返回该状态是否为终态（终态会话永久只读）
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDispensed
}

// NonTerminalStatuses 非终态集合（用于 cleanup-on-start 的 SQL IN 子句）
func NonTerminalStatuses() []SessionStatus {
	return []SessionStatus{
		StatusCollectingData,
		StatusPredictionMade,
		StatusPendingApproval,
		StatusApproved,
		StatusDeclined,
	}
}

// Reading 单次生理读数
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	BPM         float64   `json:"bpm"`
	SpO2        float64   `json:"spo2"`
	Temperature float64   `json:"temperature"`
}

// Session 诊断会话领域模型（对应 sessions 表）
type Session struct {
	// 主键
	SessionID string `db:"session_id"` // UUID, PRIMARY KEY

	// 关联标识
	KioskID    string `db:"kiosk_id"`    // 自助机标识, NOT NULL
	SubjectID  string `db:"subject_id"`  // UUID, REFERENCES subjects(subject_id)
	ReviewerID string `db:"reviewer_id"` // 审批医生标识, NOT NULL

	// 读数序列（JSONB, 追加写入, 顺序有意义：末尾读数驱动实时视图和分类）
	Readings []Reading `db:"readings"`

	// 分类与审批
	PredictedLabel Label `db:"predicted_label"` // 分类器最近一次输出
	ApprovedLabel  Label `db:"approved_label"`  // 审批人确认的标签（可覆盖预测）

	// 状态机
	Status SessionStatus `db:"status"`

	// 分发指令（仅由审批流程写入）
	Command         Command `db:"command"`
	CommandExecuted bool    `db:"command_executed"` // 仅由匹配的执行确认置 true

	// 时间戳
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// LatestReading 返回末尾读数（无读数时返回 nil）
func (s *Session) LatestReading() *Reading {
	if len(s.Readings) == 0 {
		return nil
	}
	return &s.Readings[len(s.Readings)-1]
}

// SessionSummary 历史列表投影（ListHistory 返回，按创建时间倒序）
type SessionSummary struct {
	SessionID      string        `json:"session_id"`
	KioskID        string        `json:"kiosk_id"`
	SubjectName    string        `json:"subject_name"`
	PredictedLabel Label         `json:"predicted_label"`
	ApprovedLabel  Label         `json:"approved_label"`
	Status         SessionStatus `json:"status"`
	Command        Command       `json:"command"`
	CreatedAt      time.Time     `json:"created_at"`
}

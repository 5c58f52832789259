package domain

import "time"

// Subject 患者-自助机分配记录（对应 subjects 表）
// 不变量：同一 kiosk_id 任一时刻最多只有一个 is_active = true 的 Subject
// （由 StartSession 事务 + 数据库部分唯一索引共同保证）
type Subject struct {
	// 主键
	SubjectID string `db:"subject_id"` // UUID, PRIMARY KEY

	// 分配关系
	KioskID    string `db:"kiosk_id"`    // NOT NULL
	ReviewerID string `db:"reviewer_id"` // NOT NULL

	// 患者信息
	Name  string `db:"subject_name"` // NOT NULL
	Notes string `db:"notes"`        // 可选备注

	// 会话开放标志：true 时允许该 kiosk 继续上传读数
	IsActive bool `db:"is_active"`

	// 时间戳
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SubjectInfo StartSession 请求携带的患者信息
type SubjectInfo struct {
	Name  string `json:"name"`
	Notes string `json:"notes"`
}

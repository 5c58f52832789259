package domain

import "errors"

// 错误分类（哨兵错误，HTTP 层用 errors.Is 映射状态码）
var (
	// ErrValidation 请求缺少必填字段或字段格式非法（不重试，原样返回调用方）
	ErrValidation = errors.New("validation error")

	// ErrNotFound 记录不存在或不属于调用方
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized 所有权校验失败
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoActiveSession 该 kiosk 当前没有开放的 Subject（kiosk 应停止上传/轮询）
	ErrNoActiveSession = errors.New("no active session for kiosk")

	// ErrNotReviewable 会话不处于 pending_approval，或已被决定，或审批人不匹配
	// （审批端视为冲突提示，不是服务端故障）
	ErrNotReviewable = errors.New("session not reviewable")

	// ErrConflict 条件更新竞争失败（服务层有限次重试后才向外暴露）
	ErrConflict = errors.New("store conflict")
)

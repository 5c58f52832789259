package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
)

// LiveView 审批端实时视图投影
type LiveView struct {
	SessionID      string               `json:"session_id"`
	KioskID        string               `json:"kiosk_id"`
	ReviewerID     string               `json:"reviewer_id"`
	SubjectName    string               `json:"subject_name"`
	LatestReading  *domain.Reading      `json:"latest_reading"`
	PredictedLabel domain.Label         `json:"predicted_label"`
	Status         domain.SessionStatus `json:"status"`
}

const (
	liveKeyPrefix = "medatm:session:"
	liveKeySuffix = ":live"
	liveTTL       = 5 * time.Minute
)

// LiveCache 实时视图缓存（Redis）。
// 摄入与审批路径写入，GetLiveView 命中时免查主库。
// 缓存失败只记录不阻断：主库永远是事实来源。
type LiveCache struct {
	kv KV
}

func NewLiveCache(kv KV) *LiveCache {
	return &LiveCache{kv: kv}
}

func liveKey(sessionID string) string {
	return liveKeyPrefix + sessionID + liveKeySuffix
}

// Put 写入/刷新实时视图（nil 安全：未配置缓存时为 no-op）
func (c *LiveCache) Put(ctx context.Context, view *LiveView) error {
	if c == nil || c.kv == nil || view == nil {
		return nil
	}
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, liveKey(view.SessionID), string(data), liveTTL)
}

// Get 读取实时视图；未命中返回 (nil, nil)
func (c *LiveCache) Get(ctx context.Context, sessionID string) (*LiveView, error) {
	if c == nil || c.kv == nil {
		return nil, nil
	}
	raw, err := c.kv.Get(ctx, liveKey(sessionID))
	if err != nil {
		if err == ErrMiss {
			return nil, nil
		}
		return nil, err
	}
	var view LiveView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Invalidate 会话进入终态后清除缓存
func (c *LiveCache) Invalidate(ctx context.Context, sessionID string) error {
	if c == nil || c.kv == nil {
		return nil
	}
	return c.kv.Del(ctx, liveKey(sessionID))
}

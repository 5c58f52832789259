package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
)

// writeJSON 写响应信封
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK[T any](w http.ResponseWriter, result T) {
	writeJSON(w, http.StatusOK, Ok(result))
}

// writeError 哨兵错误 -> HTTP 状态码映射
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	statusCode := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		statusCode = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
	case errors.Is(err, domain.ErrNoActiveSession):
		statusCode = http.StatusConflict
	case errors.Is(err, domain.ErrNotReviewable):
		statusCode = http.StatusConflict
	case errors.Is(err, domain.ErrConflict):
		// 有限次重试后仍竞争失败：瞬态，调用方可重试
		statusCode = http.StatusServiceUnavailable
	default:
		logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, statusCode, Fail(err.Error()))
}

// reviewerID 审批人身份：X-Reviewer-ID 头，缺省退回 query 参数
// （登录/凭证在本服务范围之外，由前置网关完成）
func reviewerID(r *http.Request) string {
	if id := r.Header.Get("X-Reviewer-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("reviewer_id")
}

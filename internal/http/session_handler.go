package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/service"
)

// SessionHandler 审批端（医生）接口：开启会话 / 实时视图 / 审批 / 历史
type SessionHandler struct {
	lifecycle *service.LifecycleService
	review    *service.ReviewService
	logger    *zap.Logger
}

func NewSessionHandler(lifecycle *service.LifecycleService, review *service.ReviewService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		lifecycle: lifecycle,
		review:    review,
		logger:    logger,
	}
}

// StartSessionRequest POST /api/v1/sessions 请求体
type StartSessionRequest struct {
	KioskID string             `json:"kiosk_id"`
	Subject domain.SubjectInfo `json:"subject"`
}

// StartSessionResponse 开启会话响应
type StartSessionResponse struct {
	SubjectID string `json:"subject_id"`
	SessionID string `json:"session_id"`
}

// StartSession 医生将患者分配到 kiosk 并开启诊断会话
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	subjectID, sessionID, err := h.lifecycle.StartSession(r.Context(), req.KioskID, req.Subject, reviewerID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, StartSessionResponse{SubjectID: subjectID, SessionID: sessionID})
}

// LiveView GET /api/v1/sessions/{id}/live
func (h *SessionHandler) LiveView(w http.ResponseWriter, r *http.Request, sessionID string) {
	view, err := h.review.GetLiveView(r.Context(), sessionID, reviewerID(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, view)
}

// ReviewRequest POST /api/v1/sessions/{id}/review 请求体
// decision: "A" / "B"（批准，允许覆盖预测）或 "declined"（拒绝）
type ReviewRequest struct {
	Decision string `json:"decision"`
}

// ReviewResponse 审批响应
type ReviewResponse struct {
	Status  domain.SessionStatus `json:"status"`
	Command domain.Command       `json:"command"`
}

// Review 医生审批待确认的预测
func (h *SessionHandler) Review(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	status, command, err := h.review.ReviewSession(r.Context(), sessionID, reviewerID(r), req.Decision)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, ReviewResponse{Status: status, Command: command})
}

// History GET /api/v1/history?filter=
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.review.ListHistory(r.Context(), reviewerID(r), r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, summaries)
}

// HistoryExport GET /api/v1/history/export 导出 xlsx
func (h *SessionHandler) HistoryExport(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.review.ListHistory(r.Context(), reviewerID(r), r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	data, err := GenerateHistoryExport(summaries)
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("failed to generate history export: %w", err))
		return
	}

	filename := "session-history-" + time.Now().Format("20060102-150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(data)
}

// DeleteHistory DELETE /api/v1/history/{id}
func (h *SessionHandler) DeleteHistory(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := h.review.DeleteHistory(r.Context(), sessionID, reviewerID(r)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, map[string]string{"session_id": sessionID})
}

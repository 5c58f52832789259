package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/service"
)

// KioskHandler kiosk 端接口：读数上传 / 指令轮询 / 执行确认
type KioskHandler struct {
	ingest   *service.IngestService
	dispatch *service.DispatchService
	logger   *zap.Logger
}

func NewKioskHandler(ingest *service.IngestService, dispatch *service.DispatchService, logger *zap.Logger) *KioskHandler {
	return &KioskHandler{
		ingest:   ingest,
		dispatch: dispatch,
		logger:   logger,
	}
}

// IngestRequest POST /kiosk/api/v1/readings 请求体
type IngestRequest struct {
	KioskID string         `json:"kiosk_id"`
	Reading domain.Reading `json:"reading"`
}

// IngestResponse 读数上传响应
type IngestResponse struct {
	PredictedLabel domain.Label `json:"predicted_label"`
}

// Readings kiosk 上传一次生理读数
func (h *KioskHandler) Readings(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	label, err := h.ingest.IngestReading(r.Context(), req.KioskID, req.Reading)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, IngestResponse{PredictedLabel: label})
}

// CommandResponse 指令轮询响应。
// session_id 必须在确认时原样带回，用于将确认与本次轮询到的指令关联。
type CommandResponse struct {
	Command   domain.Command `json:"command"`
	SessionID string         `json:"session_id,omitempty"`
}

// Command GET /kiosk/api/v1/command?kiosk_id=
// 对空闲/未知 kiosk 也返回 200 + no-command（不是错误）
func (h *KioskHandler) Command(w http.ResponseWriter, r *http.Request) {
	command, sessionID, err := h.dispatch.FetchCommand(r.Context(), r.URL.Query().Get("kiosk_id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, CommandResponse{Command: command, SessionID: sessionID})
}

// ConfirmRequest POST /kiosk/api/v1/command/confirm 请求体
type ConfirmRequest struct {
	KioskID         string `json:"kiosk_id"`
	SessionID       string `json:"session_id"` // FetchCommand 返回值，旧固件可能缺省
	ExecutionStatus string `json:"execution_status"`
}

// ConfirmResponse 执行确认响应
type ConfirmResponse struct {
	SessionID string `json:"session_id"`
}

// Confirm kiosk 确认指令已执行（重试安全）
func (h *KioskHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	sessionID, err := h.dispatch.ConfirmExecution(r.Context(), req.KioskID, req.SessionID, req.ExecutionStatus)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, ConfirmResponse{SessionID: sessionID})
}

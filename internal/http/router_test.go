package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/classifier"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/repository"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/service"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	store := repository.NewMemoryStore()
	logger := zap.NewNop()

	lifecycle := service.NewLifecycleService(store, nil, nil, logger)
	ingest := service.NewIngestService(store, store, classifier.RuleBased, nil, nil, nil, logger)
	review := service.NewReviewService(store, store, nil, nil, nil, logger)
	dispatch := service.NewDispatchService(store, nil, nil, logger)

	router := NewRouter(logger)
	router.RegisterSessionRoutes(NewSessionHandler(lifecycle, review, logger))
	router.RegisterKioskRoutes(NewKioskHandler(ingest, dispatch, logger))
	return router
}

// do 发起请求并解包响应信封
func do(t *testing.T, router *Router, method, path, reviewer string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if reviewer != "" {
		req.Header.Set("X-Reviewer-ID", reviewer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if out != nil && rec.Code == http.StatusOK {
		var envelope struct {
			Code   int             `json:"code"`
			Result json.RawMessage `json:"result"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
		require.Equal(t, ResultSuccess, envelope.Code)
		require.NoError(t, json.Unmarshal(envelope.Result, out))
	}
	return rec
}

// 完整流程：开启 -> 上传读数 -> 实时视图 -> 审批 -> 轮询 -> 确认 -> 历史
func TestRouter_FullFlow(t *testing.T) {
	router := newTestRouter(t)

	var started StartSessionResponse
	rec := do(t, router, http.MethodPost, "/api/v1/sessions", "doc-1", StartSessionRequest{
		KioskID: "K1",
		Subject: domain.SubjectInfo{Name: "Alice", Notes: "first visit"},
	}, &started)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, started.SessionID)

	var ingested IngestResponse
	rec = do(t, router, http.MethodPost, "/kiosk/api/v1/readings", "", IngestRequest{
		KioskID: "K1",
		Reading: domain.Reading{BPM: 100, SpO2: 92, Temperature: 38.0},
	}, &ingested)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.LabelDiseaseA, ingested.PredictedLabel)

	var view struct {
		SubjectName    string               `json:"subject_name"`
		PredictedLabel domain.Label         `json:"predicted_label"`
		Status         domain.SessionStatus `json:"status"`
	}
	rec = do(t, router, http.MethodGet, "/api/v1/sessions/"+started.SessionID+"/live", "doc-1", nil, &view)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice", view.SubjectName)
	assert.Equal(t, domain.LabelDiseaseA, view.PredictedLabel)
	assert.Equal(t, domain.StatusPendingApproval, view.Status)

	var reviewed ReviewResponse
	rec = do(t, router, http.MethodPost, "/api/v1/sessions/"+started.SessionID+"/review", "doc-1", ReviewRequest{Decision: "A"}, &reviewed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusApproved, reviewed.Status)
	assert.Equal(t, domain.CommandDispense1, reviewed.Command)

	var polled CommandResponse
	rec = do(t, router, http.MethodGet, "/kiosk/api/v1/command?kiosk_id=K1", "", nil, &polled)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CommandDispense1, polled.Command)
	assert.Equal(t, started.SessionID, polled.SessionID)

	var confirmed ConfirmResponse
	rec = do(t, router, http.MethodPost, "/kiosk/api/v1/command/confirm", "", ConfirmRequest{
		KioskID:         "K1",
		SessionID:       polled.SessionID,
		ExecutionStatus: service.ExecutionSuccess,
	}, &confirmed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, started.SessionID, confirmed.SessionID)

	// 确认后轮询返回 no-command
	polled = CommandResponse{}
	rec = do(t, router, http.MethodGet, "/kiosk/api/v1/command?kiosk_id=K1", "", nil, &polled)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CommandNone, polled.Command)
	assert.Empty(t, polled.SessionID)

	var history []*domain.SessionSummary
	rec = do(t, router, http.MethodGet, "/api/v1/history", "doc-1", nil, &history)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusDispensed, history[0].Status)
	assert.Equal(t, "Alice", history[0].SubjectName)
}

func TestRouter_ErrorMapping(t *testing.T) {
	router := newTestRouter(t)

	// 校验失败 -> 400
	rec := do(t, router, http.MethodPost, "/api/v1/sessions", "doc-1", StartSessionRequest{KioskID: ""}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// 无活跃会话的读数上传 -> 409
	rec = do(t, router, http.MethodPost, "/kiosk/api/v1/readings", "", IngestRequest{
		KioskID: "K9",
		Reading: domain.Reading{BPM: 70, SpO2: 98, Temperature: 36.5},
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 不存在的会话 -> 404
	rec = do(t, router, http.MethodGet, "/api/v1/sessions/missing/live", "doc-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// 未到 pending_approval 的审批 -> 409
	var started StartSessionResponse
	rec = do(t, router, http.MethodPost, "/api/v1/sessions", "doc-1", StartSessionRequest{
		KioskID: "K1",
		Subject: domain.SubjectInfo{Name: "Alice"},
	}, &started)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodPost, "/api/v1/sessions/"+started.SessionID+"/review", "doc-1", ReviewRequest{Decision: "A"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 错误信封
	var envelope struct {
		Code int    `json:"code"`
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, ResultError, envelope.Code)
	assert.Equal(t, "error", envelope.Type)

	// 方法不匹配 -> 405
	rec = do(t, router, http.MethodGet, "/api/v1/sessions", "doc-1", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// 空闲 kiosk 轮询返回 200 + no-command（不是错误）
func TestRouter_CommandIdleKiosk(t *testing.T) {
	router := newTestRouter(t)

	var polled CommandResponse
	rec := do(t, router, http.MethodGet, "/kiosk/api/v1/command?kiosk_id=unknown", "", nil, &polled)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CommandNone, polled.Command)

	// kiosk_id 缺失 -> 400
	rec = do(t, router, http.MethodGet, "/kiosk/api/v1/command", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_HistoryExportAndDelete(t *testing.T) {
	router := newTestRouter(t)

	var started StartSessionResponse
	rec := do(t, router, http.MethodPost, "/api/v1/sessions", "doc-1", StartSessionRequest{
		KioskID: "K1",
		Subject: domain.SubjectInfo{Name: "Alice"},
	}, &started)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/history/export", "doc-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "session-history-")
	assert.NotEmpty(t, rec.Body.Bytes())

	// 其他审批人删除 -> 404
	rec = do(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/history/%s", started.SessionID), "doc-2", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/history/%s", started.SessionID), "doc-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var history []*domain.SessionSummary
	rec = do(t, router, http.MethodGet, "/api/v1/history", "doc-1", nil, &history)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, history, 0)
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/classifier"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
	"github.com/SNEHALPRAVINPAWAR/medATM/internal/repository"
)

// testCore 组装基于内存存储的服务（缓存/通知/事件流均不参与）
type testCore struct {
	store     *repository.MemoryStore
	lifecycle *LifecycleService
	ingest    *IngestService
	review    *ReviewService
	dispatch  *DispatchService
}

func newTestCore(t *testing.T) *testCore {
	t.Helper()
	store := repository.NewMemoryStore()
	logger := zap.NewNop()
	return &testCore{
		store:     store,
		lifecycle: NewLifecycleService(store, nil, nil, logger),
		ingest:    NewIngestService(store, store, classifier.RuleBased, nil, nil, nil, logger),
		review:    NewReviewService(store, store, nil, nil, nil, logger),
		dispatch:  NewDispatchService(store, nil, nil, logger),
	}
}

func (c *testCore) start(t *testing.T, kioskID, reviewerID, name string) (string, string) {
	t.Helper()
	subjectID, sessionID, err := c.lifecycle.StartSession(context.Background(), kioskID, domain.SubjectInfo{Name: name}, reviewerID)
	require.NoError(t, err)
	return subjectID, sessionID
}

func TestStartSession_Validation(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	_, _, err := c.lifecycle.StartSession(ctx, "", domain.SubjectInfo{Name: "Alice"}, "doc-1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = c.lifecycle.StartSession(ctx, "K1", domain.SubjectInfo{}, "doc-1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = c.lifecycle.StartSession(ctx, "K1", domain.SubjectInfo{Name: "Alice"}, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// 场景 A：确定标签的读数一步进入 pending_approval（prediction_made 不可观测）
func TestIngestReading_DeterminedLabel(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")

	label, err := c.ingest.IngestReading(ctx, "K1", domain.Reading{BPM: 100, SpO2: 92, Temperature: 38.0})
	require.NoError(t, err)
	assert.Equal(t, domain.LabelDiseaseA, label)

	sess, err := c.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, sess.Status)
	assert.Equal(t, domain.LabelDiseaseA, sess.PredictedLabel)
	require.Len(t, sess.Readings, 1)
}

// 边界：读数含零值 -> undetermined，状态停留在 collecting_data
func TestIngestReading_ZeroReading(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")

	label, err := c.ingest.IngestReading(ctx, "K1", domain.Reading{BPM: 0, SpO2: 92, Temperature: 38.0})
	require.NoError(t, err)
	assert.Equal(t, domain.LabelUndetermined, label)

	sess, err := c.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCollectingData, sess.Status)
	assert.Equal(t, domain.LabelUndetermined, sess.PredictedLabel)
}

func TestIngestReading_NoActiveSession(t *testing.T) {
	c := newTestCore(t)

	_, err := c.ingest.IngestReading(context.Background(), "K1", domain.Reading{BPM: 70, SpO2: 98, Temperature: 36.5})
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}

// pending_approval 期间读数仅追加，预测与状态不变
func TestIngestReading_DuringPendingApproval(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")

	_, err := c.ingest.IngestReading(ctx, "K1", domain.Reading{BPM: 100, SpO2: 92, Temperature: 38.0})
	require.NoError(t, err)

	label, err := c.ingest.IngestReading(ctx, "K1", domain.Reading{BPM: 72, SpO2: 98, Temperature: 36.6})
	require.NoError(t, err)
	assert.Equal(t, domain.LabelUndetermined, label)

	sess, err := c.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, sess.Status)
	assert.Equal(t, domain.LabelDiseaseA, sess.PredictedLabel) // 预测保持首次判定
	assert.Len(t, sess.Readings, 2)
}

// 场景 B：审批通过 -> approved + command-1，Subject 立即下线
func TestReviewSession_Approve(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	subjectID, sessionID := c.start(t, "K1", "doc-1", "Alice")

	_, err := c.ingest.IngestReading(ctx, "K1", domain.Reading{BPM: 100, SpO2: 92, Temperature: 38.0})
	require.NoError(t, err)

	status, command, err := c.review.ReviewSession(ctx, sessionID, "doc-1", "A")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, status)
	assert.Equal(t, domain.CommandDispense1, command)

	sess, err := c.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.LabelDiseaseA, sess.ApprovedLabel)

	subject, err := c.store.GetSubject(ctx, subjectID)
	require.NoError(t, err)
	assert.False(t, subject.IsActive)

	// 审批后 kiosk 上传被拒
	_, err = c.ingest.IngestReading(ctx, "K1", domain.Reading{BPM: 70, SpO2: 98, Temperature: 36.5})
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}

// 审批人可覆盖预测标签
func TestReviewSession_Override(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")

	_, err := c.ingest.IngestReading(ctx, "K1", domain.Reading{BPM: 100, SpO2: 92, Temperature: 38.0})
	require.NoError(t, err)

	status, command, err := c.review.ReviewSession(ctx, sessionID, "doc-1", "B")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, status)
	assert.Equal(t, domain.CommandDispense2, command)
}

func TestReviewSession_Decline(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")

	_, err := c.ingest.IngestReading(ctx, "K1", domain.Reading{BPM: 100, SpO2: 92, Temperature: 38.0})
	require.NoError(t, err)

	status, command, err := c.review.ReviewSession(ctx, sessionID, "doc-1", domain.DecisionDeclined)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeclined, status)
	assert.Equal(t, domain.CommandNone, command)

	// 拒绝后没有待投递指令
	cmd, _, err := c.dispatch.FetchCommand(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, domain.CommandNone, cmd)
}

func TestReviewSession_Conflicts(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")

	// 尚未预测
	_, _, err := c.review.ReviewSession(ctx, sessionID, "doc-1", "A")
	assert.ErrorIs(t, err, domain.ErrNotReviewable)

	_, err = c.ingest.IngestReading(ctx, "K1", domain.Reading{BPM: 100, SpO2: 92, Temperature: 38.0})
	require.NoError(t, err)

	// 审批人不匹配
	_, _, err = c.review.ReviewSession(ctx, sessionID, "doc-2", "A")
	assert.ErrorIs(t, err, domain.ErrNotReviewable)

	// 二次决定
	_, _, err = c.review.ReviewSession(ctx, sessionID, "doc-1", "A")
	require.NoError(t, err)
	_, _, err = c.review.ReviewSession(ctx, sessionID, "doc-1", domain.DecisionDeclined)
	assert.ErrorIs(t, err, domain.ErrNotReviewable)

	// 不存在的会话
	_, _, err = c.review.ReviewSession(ctx, "missing", "doc-1", "A")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// 场景 D：第一个会话 pending_approval 时二次开启，旧会话 completed、旧 Subject 下线
func TestStartSession_ForcesPreviousCompleted(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	subjectID1, sessionID1 := c.start(t, "K1", "doc-1", "Alice")

	_, err := c.ingest.IngestReading(ctx, "K1", domain.Reading{BPM: 100, SpO2: 92, Temperature: 38.0})
	require.NoError(t, err)

	subjectID2, sessionID2 := c.start(t, "K1", "doc-1", "Bob")
	require.NotEqual(t, sessionID1, sessionID2)

	old, err := c.store.GetSession(ctx, sessionID1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, old.Status)

	oldSubject, err := c.store.GetSubject(ctx, subjectID1)
	require.NoError(t, err)
	assert.False(t, oldSubject.IsActive)

	newSubject, err := c.store.GetSubject(ctx, subjectID2)
	require.NoError(t, err)
	assert.True(t, newSubject.IsActive)
}

func TestGetLiveView(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")

	_, err := c.ingest.IngestReading(ctx, "K1", domain.Reading{BPM: 100, SpO2: 92, Temperature: 38.0})
	require.NoError(t, err)

	view, err := c.review.GetLiveView(ctx, sessionID, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", view.SubjectName)
	assert.Equal(t, domain.LabelDiseaseA, view.PredictedLabel)
	assert.Equal(t, domain.StatusPendingApproval, view.Status)
	require.NotNil(t, view.LatestReading)
	assert.Equal(t, 100.0, view.LatestReading.BPM)

	// 不归属该审批人
	_, err = c.review.GetLiveView(ctx, sessionID, "doc-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// 终态会话不可见
	_, _ = c.start(t, "K1", "doc-1", "Bob") // 强制旧会话 completed
	_, err = c.review.GetLiveView(ctx, sessionID, "doc-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SNEHALPRAVINPAWAR/medATM/internal/domain"
)

// approve 把一个会话推进到 approved（读数 -> 预测 -> 审批）
func (c *testCore) approve(t *testing.T, kioskID, sessionID string) {
	t.Helper()
	ctx := context.Background()
	_, err := c.ingest.IngestReading(ctx, kioskID, domain.Reading{BPM: 100, SpO2: 92, Temperature: 38.0})
	require.NoError(t, err)
	_, _, err = c.review.ReviewSession(ctx, sessionID, "doc-1", "A")
	require.NoError(t, err)
}

// 场景 C：轮询取指令 -> 确认 -> 再轮询返回 no-command
func TestDispatch_PollConfirmCycle(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")
	c.approve(t, "K1", sessionID)

	cmd, gotID, err := c.dispatch.FetchCommand(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, domain.CommandDispense1, cmd)
	assert.Equal(t, sessionID, gotID)

	// 轮询只读：重复轮询返回同一指令
	cmd2, gotID2, err := c.dispatch.FetchCommand(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, cmd, cmd2)
	assert.Equal(t, gotID, gotID2)

	confirmedID, err := c.dispatch.ConfirmExecution(ctx, "K1", gotID, ExecutionSuccess)
	require.NoError(t, err)
	assert.Equal(t, sessionID, confirmedID)

	sess, err := c.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDispensed, sess.Status)
	assert.True(t, sess.CommandExecuted)

	// 确认后指令不再投递
	cmd, gotID, err = c.dispatch.FetchCommand(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, domain.CommandNone, cmd)
	assert.Empty(t, gotID)
}

// 重复确认幂等（kiosk 确认响应丢失后重试）
func TestDispatch_ConfirmIdempotent(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")
	c.approve(t, "K1", sessionID)

	first, err := c.dispatch.ConfirmExecution(ctx, "K1", sessionID, ExecutionSuccess)
	require.NoError(t, err)
	second, err := c.dispatch.ConfirmExecution(ctx, "K1", sessionID, ExecutionSuccess)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	sess, err := c.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDispensed, sess.Status)
	assert.True(t, sess.CommandExecuted)
}

// 轮询后、确认前旧会话被新开机撤销：迟到的确认寻址旧会话被拒，
// 不会误标新会话（退回最新匹配查询就会吞掉新指令）
func TestDispatch_StaleConfirmRejected(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID1 := c.start(t, "K1", "doc-1", "Alice")
	c.approve(t, "K1", sessionID1)

	_, polledID, err := c.dispatch.FetchCommand(ctx, "K1")
	require.NoError(t, err)
	require.Equal(t, sessionID1, polledID)

	// 确认抵达前，同一 kiosk 重新开机并完成新一轮审批（旧会话被撤销）
	_, sessionID2 := c.start(t, "K1", "doc-1", "Bob")
	c.approve(t, "K1", sessionID2)

	_, err = c.dispatch.ConfirmExecution(ctx, "K1", polledID, ExecutionSuccess)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// 新会话的指令仍待投递且未被误标
	cmd, gotID, err := c.dispatch.FetchCommand(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, domain.CommandDispense1, cmd)
	assert.Equal(t, sessionID2, gotID)

	sess2, err := c.store.GetSession(ctx, sessionID2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, sess2.Status)
	assert.False(t, sess2.CommandExecuted)
}

// 旧固件兼容：session id 缺失时退回最新匹配查询
func TestDispatch_ConfirmLegacyFallback(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")
	c.approve(t, "K1", sessionID)

	confirmedID, err := c.dispatch.ConfirmExecution(ctx, "K1", "", ExecutionSuccess)
	require.NoError(t, err)
	assert.Equal(t, sessionID, confirmedID)

	// 没有待投递指令时的空确认
	_, err = c.dispatch.ConfirmExecution(ctx, "K1", "", ExecutionSuccess)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// 执行失败：指令保持待投递
func TestDispatch_ConfirmNonSuccessLeavesOutstanding(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")
	c.approve(t, "K1", sessionID)

	confirmedID, err := c.dispatch.ConfirmExecution(ctx, "K1", sessionID, "jam")
	require.NoError(t, err)
	assert.Equal(t, sessionID, confirmedID)

	// 状态不变，下次轮询再次拿到
	cmd, gotID, err := c.dispatch.FetchCommand(ctx, "K1")
	require.NoError(t, err)
	assert.Equal(t, domain.CommandDispense1, cmd)
	assert.Equal(t, sessionID, gotID)
}

func TestDispatch_Errors(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	_, _, err := c.dispatch.FetchCommand(ctx, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.dispatch.ConfirmExecution(ctx, "", "sess-1", ExecutionSuccess)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// session id 属于其他 kiosk
	_, sessionID := c.start(t, "K1", "doc-1", "Alice")
	c.approve(t, "K1", sessionID)
	_, err = c.dispatch.ConfirmExecution(ctx, "K2", sessionID, ExecutionSuccess)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// 未审批会话无待执行指令
	_, sessionID2 := c.start(t, "K2", "doc-1", "Bob")
	_, err = c.dispatch.ConfirmExecution(ctx, "K2", sessionID2, ExecutionSuccess)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

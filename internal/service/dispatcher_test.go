package service

import (
	"context"
	"testing"
	"time"

	"cluster-backend/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictingOperationRejected(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusOperational)
	h.node(t, c.ID, "node-1", deployedNode("controller"))
	ctx := context.Background()

	deploy, err := h.tasks.Deploy(ctx, c.ID)
	require.NoError(t, err)
	before, err := h.store.ListTasks(ctx, c.ID)
	require.NoError(t, err)

	for _, submit := range []func(context.Context, int) (*models.Task, error){h.tasks.Deploy, h.tasks.Reset} {
		_, err := submit(ctx, c.ID)
		assert.ErrorIs(t, err, ErrConflictingOperation)
	}

	after, err := h.store.ListTasks(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.Len(t, h.channel.Sent(), 1)
	assert.Equal(t, models.ClusterStatusDeployment, h.getCluster(t, c.ID).Status)

	holder, _ := h.locks.Holder(c.ID)
	assert.Equal(t, deploy.ID, holder)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.rejected.WithLabelValues("reset_environment", "conflict")))
}

func TestStopRequiresActiveDeploy(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusOperational)
	n := h.node(t, c.ID, "node-1", deployedNode("controller"))
	ctx := context.Background()

	_, err := h.tasks.Stop(ctx, c.ID)
	assert.ErrorIs(t, err, ErrInvalidClusterState)

	reset, err := h.tasks.Reset(ctx, c.ID)
	require.NoError(t, err)
	_, err = h.tasks.Stop(ctx, c.ID)
	assert.ErrorIs(t, err, ErrConflictingOperation)

	// 停止失败后重置不受影响
	assert.Equal(t, models.TaskStatusRunning, h.task(t, reset.ID).Status)
	assert.Equal(t, models.NodeStatusReady, h.getNode(t, n.ID).Status)
}

func TestDeployGraph(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusNew)
	fresh := h.node(t, c.ID, "node-1", pendingNode("controller"))
	ready := h.node(t, c.ID, "node-2", deployedNode("compute"))
	h.node(t, c.ID, "node-3", func(n *models.Node) {
		deployedNode("compute")(n)
		n.PendingDeletion = true
	})

	super, err := h.tasks.Deploy(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{fresh.ID, ready.ID}, super.NodeIDs)

	children := h.subtasks(t, super.ID)
	require.Len(t, children, 2)
	assert.Equal(t, models.TaskNameProvision, children[0].Name)
	assert.Equal(t, []int{fresh.ID}, children[0].NodeIDs)
	assert.Equal(t, models.TaskNameDeployment, children[1].Name)
	assert.Equal(t, []int{fresh.ID, ready.ID}, children[1].NodeIDs)
	assert.Equal(t, models.ClusterStatusDeployment, h.getCluster(t, c.ID).Status)
}

func TestSendFailureRestoresCluster(t *testing.T) {
	h := newHarnessWithChannel(t, newFailingChannel())
	c := h.cluster(t, "env", models.ClusterStatusOperational)
	h.node(t, c.ID, "node-1", deployedNode("controller"))
	ctx := context.Background()

	for _, submit := range []func(context.Context, int) (*models.Task, error){h.tasks.Deploy, h.tasks.Reset} {
		_, err := submit(ctx, c.ID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker unavailable")

		_, held := h.locks.Holder(c.ID)
		assert.False(t, held)
		assert.Equal(t, models.ClusterStatusOperational, h.getCluster(t, c.ID).Status)
	}

	tasks, err := h.store.ListTasks(ctx, c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)
	for _, task := range tasks {
		assert.Equal(t, models.TaskStatusError, task.Status)
	}
}

func TestRestoreReacquiresTokens(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusOperational)
	h.node(t, c.ID, "node-1", deployedNode("controller"))
	ctx := context.Background()

	reset, err := h.tasks.Reset(ctx, c.ID)
	require.NoError(t, err)

	// 模拟进程重启：令牌表丢失，存储保留
	restarted := NewDispatcher(h.store, h.channel, NewClusterLocks(), h.mutator, h.metrics, "", zerolog.Nop())
	require.NoError(t, restarted.Restore(ctx))

	holder, held := restarted.locks.Holder(c.ID)
	assert.True(t, held)
	assert.Equal(t, reset.ID, holder)

	_, err = restarted.Submit(ctx, c.ID, models.TaskNameResetEnvironment)
	assert.ErrorIs(t, err, ErrConflictingOperation)
}

func TestStopLosesToFinishingDeploy(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusNew)
	h.node(t, c.ID, "node-1", pendingNode("controller"))
	ctx := context.Background()

	deploy, err := h.tasks.Deploy(ctx, c.ID)
	require.NoError(t, err)

	// 回报处理正持有部署的操作锁
	unlock := h.mutator.LockOperation(deploy.ID)
	type result struct {
		task *models.Task
		err  error
	}
	done := make(chan result, 1)
	go func() {
		task, err := h.tasks.Stop(ctx, c.ID)
		done <- result{task, err}
	}()
	require.Eventually(t, func() bool {
		holder, _ := h.locks.Holder(c.ID)
		return holder != deploy.ID
	}, time.Second, time.Millisecond)

	// 部署在令牌转移之后成功结束，释放时令牌已不属于它
	for _, child := range h.subtasks(t, deploy.ID) {
		_, err := h.mutator.Task(ctx, child.ID, func(task *models.Task) error {
			task.Status = models.TaskStatusReady
			return nil
		})
		require.NoError(t, err)
	}
	_, err = h.mutator.Cluster(ctx, c.ID, func(cl *models.Cluster) error {
		cl.Status = models.ClusterStatusOperational
		return nil
	})
	require.NoError(t, err)
	_, err = h.mutator.Task(ctx, deploy.ID, func(task *models.Task) error {
		task.Status = models.TaskStatusReady
		return nil
	})
	require.NoError(t, err)
	assert.False(t, h.locks.Release(c.ID, deploy.ID))
	unlock()

	var res result
	select {
	case res = <-done:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
	assert.ErrorIs(t, res.err, ErrInvalidClusterState)
	assert.Nil(t, res.task)

	assert.Equal(t, models.ClusterStatusOperational, h.getCluster(t, c.ID).Status)
	assert.Equal(t, models.TaskStatusReady, h.task(t, deploy.ID).Status)
	_, held := h.locks.Holder(c.ID)
	assert.False(t, held)
	assert.Len(t, h.channel.Sent(), 1)

	tasks, err := h.store.ListTasks(ctx, c.ID)
	require.NoError(t, err)
	for _, task := range tasks {
		if task.Name == models.TaskNameStopDeployment {
			assert.Equal(t, models.TaskStatusError, task.Status)
		}
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.rejected.WithLabelValues("stop_deployment", "invalid_state")))
}

package service

import (
	"context"
	"strings"
	"testing"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/models"
	"cluster-backend/internal/store/memory"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetDispatchesThreeStages(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusOperational)
	n1 := h.node(t, c.ID, "node-1", deployedNode("controller"))
	n2 := h.node(t, c.ID, "node-2", deployedNode("compute"))

	super, err := h.tasks.Reset(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskNameResetEnvironment, super.Name)
	assert.Equal(t, []int{n1.ID, n2.ID}, super.NodeIDs)

	sent := h.channel.Sent()
	require.Len(t, sent, 1)
	batch := sent[0]
	assert.Equal(t, super.ID, batch.SupertaskUUID)
	require.Len(t, batch.Stages, 3)

	assert.Equal(t, channel.MethodResetEnvironment, batch.Stages[0].Method)
	assert.Equal(t, channel.MethodExecuteTasks, batch.Stages[1].Method)
	assert.Equal(t, []string{"remove_provisioning_artifacts"}, batch.Stages[1].Args["tasks"])
	assert.Equal(t, channel.MethodExecuteTasks, batch.Stages[2].Method)
	assert.Equal(t, []string{"reset_node_network"}, batch.Stages[2].Args["tasks"])

	children := h.subtasks(t, super.ID)
	require.Len(t, children, 3)
	for i, stage := range batch.Stages {
		assert.Equal(t, channel.RespondToReset, stage.RespondTo)
		assert.Equal(t, children[i].ID, stage.TaskUUID)
		assert.Equal(t, models.TaskStatusPending, children[i].Status)
	}

	holder, held := h.locks.Holder(c.ID)
	assert.True(t, held)
	assert.Equal(t, super.ID, holder)
}

func TestResetHappyPath(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusOperational)
	n1 := h.node(t, c.ID, "node-1", pendingNode("cinder"))
	n2 := h.node(t, c.ID, "node-2", deployedNode("compute"))
	require.NoError(t, h.store.CreatePluginLink(context.Background(), &models.PluginLink{ClusterID: c.ID, Title: "dashboard"}))

	super, err := h.tasks.Reset(context.Background(), c.ID)
	require.NoError(t, err)
	h.completeStages(t, super.ID, channel.RespondToReset, n1, n2)

	got := h.task(t, super.ID)
	assert.Equal(t, models.TaskStatusReady, got.Status)
	assert.Equal(t, 100, got.Progress)

	cluster := h.getCluster(t, c.ID)
	assert.Equal(t, models.ClusterStatusNew, cluster.Status)
	assert.False(t, cluster.Attributes.Generated.DeployedBefore.Value)

	for _, id := range []int{n1.ID, n2.ID} {
		n := h.getNode(t, id)
		assert.Equal(t, models.NodeStatusDiscover, n.Status)
		assert.True(t, n.PendingAddition)
		assert.False(t, n.PendingDeletion)
		assert.Empty(t, n.Roles)
		assert.NotEmpty(t, n.PendingRoles)
		assert.Equal(t, 0, n.Progress)
	}
	assert.Equal(t, []string{"compute"}, h.getNode(t, n2.ID).PendingRoles)

	links, err := h.store.ListPluginLinks(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	_, held := h.locks.Holder(c.ID)
	assert.False(t, held)

	// 全部节点都回报时不产生任何通知
	assert.Empty(t, h.notifications(t, c.ID))
}

func TestResetUnreachableNodesWarnOnce(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusOperational)
	n1 := h.node(t, c.ID, "alpha", deployedNode("controller"))
	n2 := h.node(t, c.ID, "bravo", deployedNode("compute"))
	n3 := h.node(t, c.ID, "charlie", deployedNode("compute"))

	super, err := h.tasks.Reset(context.Background(), c.ID)
	require.NoError(t, err)
	children := h.subtasks(t, super.ID)

	h.respond(t, channel.RespondToReset, children[0].ID, models.TaskStatusReady, ok(n1, n2)...)
	h.respond(t, channel.RespondToReset, children[1].ID, models.TaskStatusReady, ok(n1)...)
	h.respond(t, channel.RespondToReset, children[2].ID, models.TaskStatusReady, ok(n1, n2)...)

	assert.Equal(t, []int{n3.ID}, h.task(t, children[0].ID).UnreachableNodeIDs)
	assert.Equal(t, []int{n2.ID, n3.ID}, h.task(t, children[1].ID).UnreachableNodeIDs)
	assert.Equal(t, models.TaskStatusReady, h.task(t, super.ID).Status)

	// 未回报的节点同样被重置
	for _, n := range []*models.Node{n1, n2, n3} {
		assert.Equal(t, models.NodeStatusDiscover, h.getNode(t, n.ID).Status)
	}

	notes := h.notifications(t, c.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationTopicWarning, notes[0].Topic)
	assert.Equal(t,
		"Fuel couldn't reach these nodes during environment resetting: 'bravo, charlie'. Manual check may be needed.",
		notes[0].Message)
}

func TestResetIdempotentOnDuplicateResponses(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusOperational)
	n1 := h.node(t, c.ID, "node-1", deployedNode("controller"))

	super, err := h.tasks.Reset(context.Background(), c.ID)
	require.NoError(t, err)
	children := h.subtasks(t, super.ID)

	h.respond(t, channel.RespondToReset, children[0].ID, models.TaskStatusReady, ok(n1)...)
	first := h.task(t, children[0].ID)
	h.respond(t, channel.RespondToReset, children[0].ID, models.TaskStatusReady, ok(n1)...)
	assert.Equal(t, first.Version, h.task(t, children[0].ID).Version)

	h.respond(t, channel.RespondToReset, children[1].ID, models.TaskStatusReady, ok(n1)...)
	h.respond(t, channel.RespondToReset, children[2].ID, models.TaskStatusReady, ok(n1)...)

	cluster := h.getCluster(t, c.ID)
	node := h.getNode(t, n1.ID)
	superAfter := h.task(t, super.ID)

	// 终态之后重复投递
	h.respond(t, channel.RespondToReset, children[2].ID, models.TaskStatusReady, ok(n1)...)
	h.respond(t, channel.RespondToReset, super.ID, models.TaskStatusReady, ok(n1)...)

	assert.Equal(t, cluster, h.getCluster(t, c.ID))
	assert.Equal(t, node, h.getNode(t, n1.ID))
	assert.Equal(t, superAfter, h.task(t, super.ID))
	assert.Empty(t, h.notifications(t, c.ID))
}

func TestResetRetriedAfterFinalizeFailure(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore()}
	h := newHarnessWith(t, store, channel.NewMemory(64))
	c := h.cluster(t, "env", models.ClusterStatusOperational)
	n1 := h.node(t, c.ID, "node-1", deployedNode("controller"))
	n2 := h.node(t, c.ID, "node-2", deployedNode("compute"))
	require.NoError(t, h.store.CreatePluginLink(context.Background(), &models.PluginLink{ClusterID: c.ID, Title: "dashboard"}))

	store.nodeID = n1.ID
	store.when = func(n *models.Node) bool { return n.Status == models.NodeStatusDiscover }

	super, err := h.tasks.Reset(context.Background(), c.ID)
	require.NoError(t, err)
	children := h.subtasks(t, super.ID)
	h.respond(t, channel.RespondToReset, children[0].ID, models.TaskStatusReady, ok(n1, n2)...)
	h.respond(t, channel.RespondToReset, children[1].ID, models.TaskStatusReady, ok(n1, n2)...)

	last := channel.Envelope{
		RespondTo: channel.RespondToReset,
		Report: channel.Report{
			TaskUUID: children[2].ID,
			Status:   models.TaskStatusReady,
			Progress: 100,
			Nodes:    ok(n1, n2),
		},
	}
	require.Error(t, h.receiver.OnResponse(context.Background(), last))

	// 收尾失败：顶层任务未结束，令牌仍被持有，集群未动
	assert.False(t, h.task(t, super.ID).Status.Terminal())
	holder, held := h.locks.Holder(c.ID)
	assert.True(t, held)
	assert.Equal(t, super.ID, holder)
	assert.Equal(t, models.ClusterStatusOperational, h.getCluster(t, c.ID).Status)
	// 没有失败的节点也已尝试重置
	assert.Equal(t, models.NodeStatusDiscover, h.getNode(t, n2.ID).Status)

	// 重投同一条回报完成收尾
	require.NoError(t, h.receiver.OnResponse(context.Background(), last))

	assert.Equal(t, models.TaskStatusReady, h.task(t, super.ID).Status)
	cluster := h.getCluster(t, c.ID)
	assert.Equal(t, models.ClusterStatusNew, cluster.Status)
	assert.False(t, cluster.Attributes.Generated.DeployedBefore.Value)
	for _, n := range []*models.Node{n1, n2} {
		got := h.getNode(t, n.ID)
		assert.Equal(t, models.NodeStatusDiscover, got.Status)
		assert.Empty(t, got.Roles)
	}
	links, err := h.store.ListPluginLinks(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
	_, held = h.locks.Holder(c.ID)
	assert.False(t, held)
	assert.Empty(t, h.notifications(t, c.ID))
}

func TestResetOverridesPendingDeletion(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusOperational)
	n1 := h.node(t, c.ID, "node-1", deployedNode("controller"))
	n2 := h.node(t, c.ID, "node-2", deployedNode("compute"))

	super, err := h.tasks.Reset(context.Background(), c.ID)
	require.NoError(t, err)

	// 重置进行中外部把节点标记为待删除
	yes := true
	_, err = h.nodes.UpdateNode(context.Background(), n2.ID, NodeUpdate{PendingDeletion: &yes})
	require.NoError(t, err)

	h.completeStages(t, super.ID, channel.RespondToReset, n1, n2)

	n := h.getNode(t, n2.ID)
	assert.False(t, n.PendingDeletion)
	assert.True(t, n.PendingAddition)
	assert.Equal(t, []string{"compute"}, n.PendingRoles)
}

func TestResetStageFailure(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusOperational)
	n1 := h.node(t, c.ID, "node-1", deployedNode("controller"))

	super, err := h.tasks.Reset(context.Background(), c.ID)
	require.NoError(t, err)
	children := h.subtasks(t, super.ID)

	h.respond(t, channel.RespondToReset, children[0].ID, models.TaskStatusReady, ok(n1)...)
	env := channel.Envelope{
		RespondTo: channel.RespondToReset,
		Report: channel.Report{
			TaskUUID: children[1].ID,
			Status:   models.TaskStatusError,
			Error:    "artifacts busy",
			Nodes:    []channel.NodeOutcome{failed(n1, "artifacts busy")},
		},
	}
	require.NoError(t, h.receiver.OnResponse(context.Background(), env))

	got := h.task(t, super.ID)
	assert.Equal(t, models.TaskStatusError, got.Status)
	assert.Contains(t, got.Message, "artifacts busy")
	assert.Equal(t, models.TaskStatusError, h.task(t, children[2].ID).Status)

	assert.Equal(t, models.ClusterStatusError, h.getCluster(t, c.ID).Status)
	node := h.getNode(t, n1.ID)
	assert.Equal(t, models.NodeStatusReady, node.Status)
	assert.Equal(t, []string{"controller"}, node.Roles)

	_, held := h.locks.Holder(c.ID)
	assert.False(t, held)
	assert.Empty(t, h.notifications(t, c.ID))

	// error 集群允许再次重置
	_, err = h.tasks.Reset(context.Background(), c.ID)
	assert.NoError(t, err)
}

func TestResetRejectedStates(t *testing.T) {
	h := newHarness(t)
	fresh := h.cluster(t, "fresh", models.ClusterStatusNew)
	h.node(t, fresh.ID, "node-1", pendingNode("compute"))

	_, err := h.tasks.Reset(context.Background(), fresh.ID)
	assert.ErrorIs(t, err, ErrInvalidClusterState)
	_, held := h.locks.Holder(fresh.ID)
	assert.False(t, held)
	assert.Empty(t, h.channel.Sent())

	tasks, err := h.store.ListTasks(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Equal(t, models.ClusterStatusNew, h.getCluster(t, fresh.ID).Status)
}

func TestStopThenReset(t *testing.T) {
	h := newHarness(t)
	c := h.cluster(t, "env", models.ClusterStatusNew)
	n1 := h.node(t, c.ID, "node-1", pendingNode("controller"))
	n2 := h.node(t, c.ID, "node-2", pendingNode("compute"))
	ctx := context.Background()

	deploy, err := h.tasks.Deploy(ctx, c.ID)
	require.NoError(t, err)
	stop, err := h.tasks.Stop(ctx, c.ID)
	require.NoError(t, err)

	interrupted := h.task(t, deploy.ID)
	assert.Equal(t, models.TaskStatusError, interrupted.Status)
	assert.Equal(t, interruptedByStop, interrupted.Message)

	h.completeStages(t, stop.ID, channel.RespondToStop, n1, n2)
	assert.Equal(t, models.ClusterStatusStopped, h.getCluster(t, c.ID).Status)
	assert.Equal(t, models.NodeStatusStopped, h.getNode(t, n1.ID).Status)

	reset, err := h.tasks.Reset(ctx, c.ID)
	require.NoError(t, err)
	h.completeStages(t, reset.ID, channel.RespondToReset, n1, n2)

	assert.Equal(t, models.ClusterStatusNew, h.getCluster(t, c.ID).Status)
	for _, id := range []int{n1.ID, n2.ID} {
		n := h.getNode(t, id)
		assert.Equal(t, models.NodeStatusDiscover, n.Status)
		assert.True(t, n.PendingAddition)
		assert.Empty(t, n.Roles)
		assert.NotEmpty(t, n.PendingRoles)
	}
}

// TestResetNodeProperty 重置后的节点只剩待分配角色，且不丢失任何角色
func TestResetNodeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	names := []string{"controller", "compute", "cinder", "ceph-osd", "mongo"}
	roleGen := gen.SliceOf(gen.IntRange(0, len(names)-1).Map(func(i int) string {
		return names[i]
	}))

	properties.Property("roles move to pending_roles", prop.ForAll(
		func(roles, pending []string, addition, deletion bool) bool {
			n := &models.Node{
				Status:          models.NodeStatusReady,
				Roles:           append([]string{}, roles...),
				PendingRoles:    append([]string{}, pending...),
				PendingAddition: addition,
				PendingDeletion: deletion,
				Progress:        100,
			}
			before := n.AllRoles()
			resetNode(n)

			if len(n.Roles) != 0 || !n.PendingAddition || n.PendingDeletion {
				return false
			}
			if n.Status != models.NodeStatusDiscover || n.Progress != 0 {
				return false
			}
			return strings.Join(n.PendingRoles, ",") == strings.Join(before, ",")
		},
		roleGen, roleGen, gen.Bool(), gen.Bool(),
	))

	properties.TestingRun(t)
}

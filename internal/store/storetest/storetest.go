// Package storetest 为各个存储实现提供同一套行为测试
package storetest

import (
	"context"
	"testing"

	"cluster-backend/internal/models"
	"cluster-backend/internal/store/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run 对 store 执行完整的行为测试
func Run(t *testing.T, store types.Store) {
	ctx := context.Background()

	// 必须最先执行：新建的存储中每类记录各自从 1 开始编号
	t.Run("ID Allocation", func(t *testing.T) {
		cluster := &models.Cluster{Name: "env-ids", Status: models.ClusterStatusNew}
		require.NoError(t, store.CreateCluster(ctx, cluster))
		assert.Equal(t, 1, cluster.ID)

		node := &models.Node{ClusterID: cluster.ID, Name: "node-ids", Status: models.NodeStatusDiscover}
		require.NoError(t, store.CreateNode(ctx, node))
		assert.Equal(t, 1, node.ID)

		note := &models.Notification{ClusterID: cluster.ID, Topic: models.NotificationTopicDone, Message: "ids"}
		require.NoError(t, store.CreateNotification(ctx, note))
		assert.Equal(t, 1, note.ID)

		link := &models.PluginLink{ClusterID: cluster.ID, Title: "ids"}
		require.NoError(t, store.CreatePluginLink(ctx, link))
		assert.Equal(t, 1, link.ID)

		second := &models.Node{ClusterID: cluster.ID, Name: "node-ids-2", Status: models.NodeStatusDiscover}
		require.NoError(t, store.CreateNode(ctx, second))
		assert.Equal(t, 2, second.ID)
	})

	t.Run("Cluster Operations", func(t *testing.T) {
		cluster := &models.Cluster{Name: "env-1", Status: models.ClusterStatusNew}
		require.NoError(t, store.CreateCluster(ctx, cluster))
		assert.NotZero(t, cluster.ID)
		assert.Equal(t, 1, cluster.Version)

		got, err := store.GetCluster(ctx, cluster.ID)
		require.NoError(t, err)
		assert.Equal(t, "env-1", got.Name)

		got.Status = models.ClusterStatusDeployment
		got.Attributes.Generated.DeployedBefore.Value = true
		require.NoError(t, store.UpdateCluster(ctx, got))
		assert.Equal(t, 2, got.Version)

		reread, err := store.GetCluster(ctx, cluster.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ClusterStatusDeployment, reread.Status)
		assert.True(t, reread.Attributes.Generated.DeployedBefore.Value)

		// 旧版本写入必须失败
		cluster.Status = models.ClusterStatusError
		err = store.UpdateCluster(ctx, cluster)
		assert.ErrorIs(t, err, types.ErrVersionConflict)
		assert.Equal(t, 1, cluster.Version)

		_, err = store.GetCluster(ctx, 99999)
		assert.ErrorIs(t, err, types.ErrNotFound)

		clusters, err := store.ListClusters(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, clusters)
	})

	t.Run("Node Operations", func(t *testing.T) {
		cluster := &models.Cluster{Name: "env-nodes", Status: models.ClusterStatusNew}
		require.NoError(t, store.CreateCluster(ctx, cluster))

		for _, name := range []string{"node-a", "node-b"} {
			require.NoError(t, store.CreateNode(ctx, &models.Node{
				ClusterID:    cluster.ID,
				Name:         name,
				Status:       models.NodeStatusDiscover,
				PendingRoles: []string{"controller"},
			}))
		}

		nodes, err := store.ListNodes(ctx, cluster.ID)
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Less(t, nodes[0].ID, nodes[1].ID)
		assert.Equal(t, []string{"controller"}, nodes[0].PendingRoles)

		node := nodes[0]
		node.Roles = []string{"controller"}
		node.PendingRoles = []string{}
		node.Status = models.NodeStatusReady
		node.PendingAddition = false
		node.Progress = 100
		require.NoError(t, store.UpdateNode(ctx, node))

		got, err := store.GetNode(ctx, node.ID)
		require.NoError(t, err)
		assert.Equal(t, models.NodeStatusReady, got.Status)
		assert.Equal(t, []string{"controller"}, got.Roles)
		assert.Empty(t, got.PendingRoles)
		assert.Equal(t, 100, got.Progress)

		stale := nodes[0].Clone()
		stale.Version = 1
		assert.ErrorIs(t, store.UpdateNode(ctx, stale), types.ErrVersionConflict)

		missing := &models.Node{ID: 99999, Version: 1}
		assert.ErrorIs(t, store.UpdateNode(ctx, missing), types.ErrNotFound)
	})

	t.Run("Task Operations", func(t *testing.T) {
		cluster := &models.Cluster{Name: "env-tasks", Status: models.ClusterStatusOperational}
		require.NoError(t, store.CreateCluster(ctx, cluster))

		super := &models.Task{
			ID:        uuid.NewString(),
			ClusterID: cluster.ID,
			Name:      models.TaskNameResetEnvironment,
			Status:    models.TaskStatusRunning,
		}
		children := make([]*models.Task, 0, 3)
		for i := 1; i <= 3; i++ {
			parent := super.ID
			children = append(children, &models.Task{
				ID:        uuid.NewString(),
				ParentID:  &parent,
				ClusterID: cluster.ID,
				Name:      models.TaskNameExecuteTasks,
				Seq:       i,
				Status:    models.TaskStatusPending,
				NodeIDs:   []int{1, 2},
			})
		}
		require.NoError(t, store.CreateTasks(ctx, append([]*models.Task{super}, children...)...))

		subtasks, err := store.ListSubtasks(ctx, super.ID)
		require.NoError(t, err)
		require.Len(t, subtasks, 3)
		for i, sub := range subtasks {
			assert.Equal(t, i+1, sub.Seq)
			assert.Equal(t, []int{1, 2}, sub.NodeIDs)
		}

		active, err := store.ListActiveSupertasks(ctx)
		require.NoError(t, err)
		assert.Contains(t, taskIDs(active), super.ID)

		got, err := store.GetTask(ctx, super.ID)
		require.NoError(t, err)
		assert.True(t, got.IsSupertask())

		got.Status = models.TaskStatusReady
		got.Progress = 100
		require.NoError(t, store.UpdateTask(ctx, got))

		active, err = store.ListActiveSupertasks(ctx)
		require.NoError(t, err)
		assert.NotContains(t, taskIDs(active), super.ID)

		sub := subtasks[0]
		sub.UnreachableNodeIDs = []int{2}
		require.NoError(t, store.UpdateTask(ctx, sub))
		sub, err = store.GetTask(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{2}, sub.UnreachableNodeIDs)
		assert.Equal(t, super.ID, sub.RootID())

		all, err := store.ListTasks(ctx, cluster.ID)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		_, err = store.GetTask(ctx, uuid.NewString())
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("Notification And Plugin Link Operations", func(t *testing.T) {
		cluster := &models.Cluster{Name: "env-links", Status: models.ClusterStatusOperational}
		require.NoError(t, store.CreateCluster(ctx, cluster))

		require.NoError(t, store.CreateNotification(ctx, &models.Notification{
			ClusterID: cluster.ID,
			Topic:     models.NotificationTopicWarning,
			Message:   "check node-1",
		}))
		notes, err := store.ListNotifications(ctx, cluster.ID)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Equal(t, models.NotificationTopicWarning, notes[0].Topic)

		all, err := store.ListNotifications(ctx, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 1)

		for _, title := range []string{"dashboard", "logs"} {
			require.NoError(t, store.CreatePluginLink(ctx, &models.PluginLink{
				ClusterID: cluster.ID,
				Title:     title,
				URL:       "http://example.invalid/" + title,
			}))
		}
		links, err := store.ListPluginLinks(ctx, cluster.ID)
		require.NoError(t, err)
		assert.Len(t, links, 2)

		require.NoError(t, store.DeletePluginLinks(ctx, cluster.ID))
		links, err = store.ListPluginLinks(ctx, cluster.ID)
		require.NoError(t, err)
		assert.Empty(t, links)
	})
}

func taskIDs(tasks []*models.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

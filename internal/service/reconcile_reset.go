package service

import (
	"context"
	"errors"
	"fmt"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/models"
)

// reconcileReset 重置过程中只跟踪进度，节点状态在整个操作成功后一次性回退
func (r *Receiver) reconcileReset(ctx context.Context, task *models.Task, report *channel.Report, _ models.TaskStatus) error {
	return r.eachOutcome(report, func(id int, o channel.NodeOutcome) error {
		if o.Failed() {
			r.logger.Warn().Int("node_id", id).Str("task_id", task.ID).Str("error", o.Error).Msg("Node failed to reset")
			return nil
		}
		if o.Progress == nil {
			return nil
		}
		return r.updateNode(ctx, task.ClusterID, id, func(n *models.Node) error {
			n.Progress = clampProgress(*o.Progress)
			return nil
		})
	})
}

// resetNode 节点回到待部署状态，全部角色重新待分配，待删除标记被覆盖
func resetNode(n *models.Node) {
	n.PendingRoles = n.AllRoles()
	n.Roles = []string{}
	n.PendingAddition = true
	n.PendingDeletion = false
	n.Status = models.NodeStatusDiscover
	n.Progress = 0
	n.ErrorType = ""
}

func (r *Receiver) finishReset(ctx context.Context, out operationOutcome) error {
	super := out.super
	if super.Status != models.TaskStatusReady {
		// 已完成阶段留下的节点状态保持不变
		_, err := r.setClusterStatus(ctx, super.ClusterID, models.ClusterStatusError, nil)
		return err
	}

	// 每个节点都尝试一次；有失败时集群保持原状，重投时整体重做
	var errs []error
	for _, id := range super.NodeIDs {
		if err := r.updateNode(ctx, super.ClusterID, id, func(n *models.Node) error {
			resetNode(n)
			return nil
		}); err != nil {
			errs = append(errs, fmt.Errorf("resetting node %d: %w", id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	deployed := false
	cluster, err := r.setClusterStatus(ctx, super.ClusterID, models.ClusterStatusNew, &deployed)
	if err != nil {
		return err
	}
	if err := r.store.DeletePluginLinks(ctx, cluster.ID); err != nil {
		return fmt.Errorf("deleting plugin links: %w", err)
	}

	r.warnUnreachable(ctx, cluster.ID, out.unreachable, "environment resetting")
	return nil
}

package service

import (
	"context"
	"fmt"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/models"
)

func (r *Receiver) reconcileStop(ctx context.Context, task *models.Task, report *channel.Report, status models.TaskStatus) error {
	return r.eachOutcome(report, func(id int, o channel.NodeOutcome) error {
		return r.updateNode(ctx, task.ClusterID, id, func(n *models.Node) error {
			switch {
			case o.Failed():
				n.Status = models.NodeStatusError
				n.ErrorType = models.ErrorTypeStop
			case status == models.TaskStatusReady:
				n.Status = models.NodeStatusStopped
				n.Progress = 0
			case o.Progress != nil:
				n.Progress = clampProgress(*o.Progress)
			default:
				return errNoChange
			}
			return nil
		})
	})
}

func (r *Receiver) finishStop(ctx context.Context, out operationOutcome) error {
	super := out.super
	if super.Status == models.TaskStatusReady {
		cluster, err := r.setClusterStatus(ctx, super.ClusterID, models.ClusterStatusStopped, nil)
		if err != nil {
			return err
		}
		r.warnUnreachable(ctx, cluster.ID, out.unreachable, "stopping deployment")
		r.notifier.Notify(cluster.ID, models.NotificationTopicDone,
			fmt.Sprintf("Deployment of environment '%s' was successfully stopped.", cluster.Name))
		return nil
	}

	cluster, err := r.setClusterStatus(ctx, super.ClusterID, models.ClusterStatusError, nil)
	if err != nil {
		return err
	}
	r.notifier.Notify(cluster.ID, models.NotificationTopicError,
		fmt.Sprintf("Stop deployment of environment '%s' has failed. %s", cluster.Name, out.failure.Error()))
	return nil
}

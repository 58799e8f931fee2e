package service

import (
	"context"
	"fmt"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/models"
)

func (r *Receiver) reconcileProvision(ctx context.Context, task *models.Task, report *channel.Report, status models.TaskStatus) error {
	err := r.eachOutcome(report, func(id int, o channel.NodeOutcome) error {
		return r.updateNode(ctx, task.ClusterID, id, func(n *models.Node) error {
			switch {
			case o.Failed():
				n.Status = models.NodeStatusError
				n.ErrorType = models.ErrorTypeProvision
			case o.Status == string(models.NodeStatusProvisioned) || o.Status == string(models.TaskStatusReady):
				markProvisioned(n)
			default:
				n.Status = models.NodeStatusProvisioning
				if o.Progress != nil {
					n.Progress = clampProgress(*o.Progress)
				}
			}
			return nil
		})
	})
	if err != nil || status != models.TaskStatusReady {
		return err
	}

	for _, id := range task.NodeIDs {
		err := r.updateNode(ctx, task.ClusterID, id, func(n *models.Node) error {
			if n.Status == models.NodeStatusError || n.Status == models.NodeStatusProvisioned {
				return errNoChange
			}
			markProvisioned(n)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func markProvisioned(n *models.Node) {
	n.Status = models.NodeStatusProvisioned
	n.Progress = 100
	n.ErrorType = ""
}

func (r *Receiver) reconcileDeploy(ctx context.Context, task *models.Task, report *channel.Report, status models.TaskStatus) error {
	err := r.eachOutcome(report, func(id int, o channel.NodeOutcome) error {
		return r.updateNode(ctx, task.ClusterID, id, func(n *models.Node) error {
			switch {
			case o.Failed():
				n.Status = models.NodeStatusError
				n.ErrorType = models.ErrorTypeDeploy
			case o.Status == string(models.NodeStatusReady):
				markDeployed(n)
			default:
				n.Status = models.NodeStatusDeploying
				if o.Progress != nil {
					n.Progress = clampProgress(*o.Progress)
				}
			}
			return nil
		})
	})
	if err != nil || status != models.TaskStatusReady {
		return err
	}

	for _, id := range task.NodeIDs {
		err := r.updateNode(ctx, task.ClusterID, id, func(n *models.Node) error {
			if n.Status == models.NodeStatusError || n.Status == models.NodeStatusReady {
				return errNoChange
			}
			markDeployed(n)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// markDeployed 待分配角色并入已分配角色
func markDeployed(n *models.Node) {
	n.Roles = n.AllRoles()
	n.PendingRoles = []string{}
	n.PendingAddition = false
	n.Status = models.NodeStatusReady
	n.Progress = 100
	n.ErrorType = ""
}

func (r *Receiver) finishDeploy(ctx context.Context, out operationOutcome) error {
	super := out.super
	if super.Status == models.TaskStatusReady {
		deployed := true
		cluster, err := r.setClusterStatus(ctx, super.ClusterID, models.ClusterStatusOperational, &deployed)
		if err != nil {
			return err
		}
		r.notifier.Notify(cluster.ID, models.NotificationTopicDone,
			fmt.Sprintf("Deployment of environment '%s' is done.", cluster.Name))
		return nil
	}

	cluster, err := r.setClusterStatus(ctx, super.ClusterID, models.ClusterStatusError, nil)
	if err != nil {
		return err
	}
	r.notifier.Notify(cluster.ID, models.NotificationTopicError,
		fmt.Sprintf("Deployment of environment '%s' has failed. %s", cluster.Name, out.failure.Error()))
	return nil
}

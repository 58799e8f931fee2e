package service

import (
	"context"
	"errors"
	"fmt"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/models"
	"cluster-backend/internal/store/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const interruptedByStop = "Deployment was interrupted by stop_deployment"

// Dispatcher 创建任务树并下发给执行端，不等待执行结果
type Dispatcher struct {
	store       types.Store
	channel     channel.Channel
	locks       *ClusterLocks
	mutator     *Mutator
	metrics     *Metrics
	destination string
	logger      zerolog.Logger
}

func NewDispatcher(
	store types.Store,
	ch channel.Channel,
	locks *ClusterLocks,
	mutator *Mutator,
	metrics *Metrics,
	destination string,
	logger zerolog.Logger,
) *Dispatcher {
	if destination == "" {
		destination = channel.DefaultDestination
	}
	return &Dispatcher{
		store:       store,
		channel:     ch,
		locks:       locks,
		mutator:     mutator,
		metrics:     metrics,
		destination: destination,
		logger:      logger.With().Str("service", "dispatcher").Logger(),
	}
}

// Submit 发起集群操作，返回顶层任务。
// 令牌检查先于状态检查；校验失败时集群保持不变。
func (d *Dispatcher) Submit(ctx context.Context, clusterID int, op models.TaskName) (*models.Task, error) {
	superID := uuid.NewString()
	log := d.logger.With().Int("cluster_id", clusterID).Str("operation", string(op)).Str("task_id", superID).Logger()

	var preempted *models.Task
	if op == models.TaskNameStopDeployment {
		deployTask, err := d.stoppableDeploy(ctx, clusterID)
		if err != nil {
			d.reject(op, err)
			return nil, err
		}
		preempted = deployTask
	} else if !d.locks.TryAcquire(clusterID, superID) {
		d.metrics.recordRejected(op, "conflict")
		return nil, fmt.Errorf("%w: cluster %d", ErrConflictingOperation, clusterID)
	}

	release := func() {
		if preempted == nil {
			d.locks.Release(clusterID, superID)
		}
	}

	cluster, err := d.store.GetCluster(ctx, clusterID)
	if err != nil {
		release()
		return nil, fmt.Errorf("loading cluster: %w", err)
	}
	nodes, err := d.store.ListNodes(ctx, clusterID)
	if err != nil {
		release()
		return nil, fmt.Errorf("loading nodes: %w", err)
	}

	plans, err := BuildGraph(cluster, nodes, op)
	if err != nil {
		release()
		d.reject(op, err)
		return nil, err
	}

	if preempted != nil && !d.locks.Transfer(clusterID, preempted.ID, superID) {
		d.metrics.recordRejected(op, "conflict")
		return nil, fmt.Errorf("%w: cluster %d changed hands", ErrConflictingOperation, clusterID)
	}

	super, children := newTaskTree(superID, cluster.ID, op, plans)
	if err := d.store.CreateTasks(ctx, append([]*models.Task{super}, children...)...); err != nil {
		if preempted != nil {
			d.locks.Transfer(clusterID, superID, preempted.ID)
		} else {
			d.locks.Release(clusterID, superID)
		}
		return nil, fmt.Errorf("saving tasks: %w", err)
	}

	previous, err := d.startOperation(ctx, cluster, op, preempted)
	if err != nil {
		d.reject(op, err)
		d.abort(ctx, super, children, cluster.ID, previous, err)
		return nil, err
	}

	batch := channel.Batch{ClusterID: cluster.ID, SupertaskUUID: super.ID}
	for i, plan := range plans {
		batch.Stages = append(batch.Stages, channel.Stage{
			Method:    plan.Method,
			TaskUUID:  children[i].ID,
			RespondTo: plan.RespondTo,
			Args:      plan.Args,
		})
	}
	if err := d.channel.Send(ctx, d.destination, batch); err != nil {
		err = fmt.Errorf("sending tasks: %w", err)
		d.abort(ctx, super, children, cluster.ID, previous, err)
		return nil, err
	}

	d.metrics.recordSubmitted(op)
	d.metrics.setActive(d.locks.Held())
	log.Info().Int("stages", len(plans)).Ints("node_ids", super.NodeIDs).Msg("Task dispatched")
	return super, nil
}

func (d *Dispatcher) reject(op models.TaskName, err error) {
	switch {
	case errors.Is(err, ErrConflictingOperation):
		d.metrics.recordRejected(op, "conflict")
	case errors.Is(err, ErrInvalidClusterState):
		d.metrics.recordRejected(op, "invalid_state")
	}
}

// stoppableDeploy 停止部署只能抢占进行中的部署
func (d *Dispatcher) stoppableDeploy(ctx context.Context, clusterID int) (*models.Task, error) {
	holder, held := d.locks.Holder(clusterID)
	if !held {
		return nil, invalidState("cluster %d has no deployment in progress", clusterID)
	}
	task, err := d.store.GetTask(ctx, holder)
	if err != nil {
		return nil, fmt.Errorf("loading active task: %w", err)
	}
	if task.Name != models.TaskNameDeploy {
		return nil, fmt.Errorf("%w: cluster %d is running %s", ErrConflictingOperation, clusterID, task.Name)
	}
	return task, nil
}

func newTaskTree(superID string, clusterID int, op models.TaskName, plans []StagePlan) (*models.Task, []*models.Task) {
	super := &models.Task{
		ID:        superID,
		ClusterID: clusterID,
		Name:      op,
		Status:    models.TaskStatusRunning,
	}
	seen := make(map[int]struct{})
	children := make([]*models.Task, 0, len(plans))
	for i, plan := range plans {
		parent := superID
		children = append(children, &models.Task{
			ID:        uuid.NewString(),
			ParentID:  &parent,
			ClusterID: clusterID,
			Name:      plan.Name,
			Seq:       i + 1,
			Status:    models.TaskStatusPending,
			NodeIDs:   plan.NodeIDs,
		})
		for _, id := range plan.NodeIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				super.NodeIDs = append(super.NodeIDs, id)
			}
		}
	}
	return super, children
}

// startOperation 操作开始时的状态变更，返回变更前的集群状态
func (d *Dispatcher) startOperation(ctx context.Context, cluster *models.Cluster, op models.TaskName, preempted *models.Task) (models.ClusterStatus, error) {
	previous := cluster.Status
	switch op {
	case models.TaskNameDeploy:
		_, err := d.mutator.Cluster(ctx, cluster.ID, func(c *models.Cluster) error {
			previous = c.Status
			c.Status = models.ClusterStatusDeployment
			return nil
		})
		return previous, err
	case models.TaskNameStopDeployment:
		return previous, d.interrupt(ctx, preempted)
	}
	return previous, nil
}

// interrupt 把被停止的部署及其未结束的子任务置为 error，令牌已经转给停止任务。
// 部署在令牌转移之后才结束时返回 ErrInvalidClusterState，集群保持部署给出的结果。
func (d *Dispatcher) interrupt(ctx context.Context, deployTask *models.Task) error {
	unlock := d.mutator.LockOperation(deployTask.ID)
	defer unlock()

	current, err := d.store.GetTask(ctx, deployTask.ID)
	if err != nil {
		return fmt.Errorf("loading deployment: %w", err)
	}
	if current.Status.Terminal() {
		return invalidState("deployment %s already finished with status %s", current.ID, current.Status)
	}

	children, err := d.store.ListSubtasks(ctx, deployTask.ID)
	if err != nil {
		return fmt.Errorf("loading subtasks: %w", err)
	}
	for _, child := range append(children, deployTask) {
		if child.Status.Terminal() {
			continue
		}
		_, err := d.mutator.Task(ctx, child.ID, func(t *models.Task) error {
			if t.Status.Terminal() {
				return errNoChange
			}
			t.Status = models.TaskStatusError
			t.Message = interruptedByStop
			return nil
		})
		if err != nil {
			return err
		}
	}
	d.metrics.recordCompleted(deployTask.Name, models.TaskStatusError, deployTask.CreatedAt)
	d.logger.Info().Int("cluster_id", deployTask.ClusterID).Str("task_id", deployTask.ID).Msg("Deployment interrupted")
	return nil
}

// abort 下发失败：任务置为 error，恢复集群状态，释放令牌
func (d *Dispatcher) abort(ctx context.Context, super *models.Task, children []*models.Task, clusterID int, previous models.ClusterStatus, cause error) {
	for _, t := range append(children, super) {
		_, err := d.mutator.Task(ctx, t.ID, func(task *models.Task) error {
			task.Status = models.TaskStatusError
			task.Message = cause.Error()
			return nil
		})
		if err != nil {
			d.logger.Error().Err(err).Str("task_id", t.ID).Msg("Failed to mark task as error")
		}
	}

	restore := previous
	if super.Name == models.TaskNameStopDeployment {
		// 部署已被中断，集群无法回到部署中
		restore = models.ClusterStatusError
	}
	// 部署已自行结束时停止任务没有改动过集群
	untouched := errors.Is(cause, ErrInvalidClusterState)
	if super.Name != models.TaskNameResetEnvironment && !untouched {
		_, err := d.mutator.Cluster(ctx, clusterID, func(c *models.Cluster) error {
			if c.Status == restore {
				return errNoChange
			}
			c.Status = restore
			return nil
		})
		if err != nil {
			d.logger.Error().Err(err).Int("cluster_id", clusterID).Msg("Failed to restore cluster status")
		}
	}

	d.locks.Release(clusterID, super.ID)
	d.metrics.setActive(d.locks.Held())
	d.logger.Error().Err(cause).Int("cluster_id", clusterID).Str("task_id", super.ID).Msg("Dispatch failed")
}

// Restore 启动时为未结束的顶层任务重新占用令牌
func (d *Dispatcher) Restore(ctx context.Context) error {
	tasks, err := d.store.ListActiveSupertasks(ctx)
	if err != nil {
		return fmt.Errorf("loading active tasks: %w", err)
	}
	for _, t := range tasks {
		if !d.locks.TryAcquire(t.ClusterID, t.ID) {
			holder, _ := d.locks.Holder(t.ClusterID)
			d.logger.Warn().
				Int("cluster_id", t.ClusterID).
				Str("task_id", t.ID).
				Str("holder", holder).
				Msg("Cluster already has an active task")
			continue
		}
		d.logger.Info().Int("cluster_id", t.ClusterID).Str("task_id", t.ID).Str("operation", string(t.Name)).Msg("Token restored")
	}
	d.metrics.setActive(d.locks.Held())
	return nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"cluster-backend/internal/models"
	"cluster-backend/internal/store/types"
)

// TaskService 调用方入口：发起操作，查询和等待任务
type TaskService struct {
	store      types.Store
	dispatcher *Dispatcher
}

func NewTaskService(store types.Store, dispatcher *Dispatcher) *TaskService {
	return &TaskService{store: store, dispatcher: dispatcher}
}

// Deploy 部署集群
func (s *TaskService) Deploy(ctx context.Context, clusterID int) (*models.Task, error) {
	return s.dispatcher.Submit(ctx, clusterID, models.TaskNameDeploy)
}

// Stop 停止进行中的部署
func (s *TaskService) Stop(ctx context.Context, clusterID int) (*models.Task, error) {
	return s.dispatcher.Submit(ctx, clusterID, models.TaskNameStopDeployment)
}

// Reset 把已部署的集群重置回待部署状态
func (s *TaskService) Reset(ctx context.Context, clusterID int) (*models.Task, error) {
	return s.dispatcher.Submit(ctx, clusterID, models.TaskNameResetEnvironment)
}

// GetStatus 返回任务及其子任务
func (s *TaskService) GetStatus(ctx context.Context, id string) (*models.TaskView, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	view := taskView(task)
	if !task.IsSupertask() {
		return view, nil
	}

	children, err := s.store.ListSubtasks(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("loading subtasks: %w", err)
	}
	for _, c := range children {
		view.Subtasks = append(view.Subtasks, taskView(c))
	}
	return view, nil
}

func taskView(t *models.Task) *models.TaskView {
	return &models.TaskView{
		ID:        t.ID,
		Name:      t.Name,
		ClusterID: t.ClusterID,
		Status:    t.Status,
		Progress:  t.Progress,
		Message:   t.Message,
	}
}

// ListTasks 集群的全部任务，clusterID 为 0 时返回所有集群
func (s *TaskService) ListTasks(ctx context.Context, clusterID int) ([]*models.Task, error) {
	return s.store.ListTasks(ctx, clusterID)
}

// Wait 轮询直到任务进入终态。任务失败时返回 *StageFailure。
func (s *TaskService) Wait(ctx context.Context, id string, interval time.Duration) (*models.TaskView, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := s.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		switch view.Status {
		case models.TaskStatusReady:
			return view, nil
		case models.TaskStatusError:
			return view, failureOf(view)
		}

		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

func failureOf(view *models.TaskView) *StageFailure {
	for _, sub := range view.Subtasks {
		if sub.Status == models.TaskStatusError {
			return &StageFailure{TaskUUID: sub.ID, Stage: sub.Name, Message: sub.Message}
		}
	}
	return &StageFailure{TaskUUID: view.ID, Stage: view.Name, Message: view.Message}
}

package models

import (
	"time"
)

type TaskName string
type TaskStatus string

const (
	// 顶层操作
	TaskNameDeploy           TaskName = "deploy"
	TaskNameStopDeployment   TaskName = "stop_deployment"
	TaskNameResetEnvironment TaskName = "reset_environment"

	// 阶段
	TaskNameProvision    TaskName = "provision"
	TaskNameDeployment   TaskName = "deployment"
	TaskNameExecuteTasks TaskName = "execute_tasks"

	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusReady   TaskStatus = "ready"
	TaskStatusError   TaskStatus = "error"
)

// Terminal 终态任务不再接受任何更新
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusReady || s == TaskStatusError
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusReady, TaskStatusError:
		return true
	}
	return false
}

type Task struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"uuid"`
	ParentID           *string    `gorm:"index;size:36" json:"parent_id,omitempty"`
	ClusterID          int        `gorm:"index;not null" json:"cluster_id"`
	Name               TaskName   `gorm:"not null" json:"name"`
	Seq                int        `json:"seq"`
	Status             TaskStatus `gorm:"index;not null" json:"status"`
	Progress           int        `json:"progress"`
	Message            string     `json:"message,omitempty"`
	NodeIDs            []int      `gorm:"serializer:json" json:"node_ids,omitempty"`
	UnreachableNodeIDs []int      `gorm:"serializer:json" json:"unreachable_node_ids,omitempty"`
	Version            int        `gorm:"not null;default:1" json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsSupertask 顶层任务没有父任务
func (t *Task) IsSupertask() bool {
	return t.ParentID == nil
}

// RootID 返回任务所属操作的顶层任务 ID
func (t *Task) RootID() string {
	if t.ParentID != nil {
		return *t.ParentID
	}
	return t.ID
}

// AggregateStatus 由子任务状态推导父任务状态：
// 任一子任务 error 则为 error；全部 ready 才为 ready；其余情况为 running。
func AggregateStatus(children []TaskStatus) TaskStatus {
	if len(children) == 0 {
		return TaskStatusRunning
	}
	ready := 0
	for _, s := range children {
		switch s {
		case TaskStatusError:
			return TaskStatusError
		case TaskStatusReady:
			ready++
		}
	}
	if ready == len(children) {
		return TaskStatusReady
	}
	return TaskStatusRunning
}

// AggregateProgress 子任务进度的平均值
func AggregateProgress(children []*Task) int {
	if len(children) == 0 {
		return 0
	}
	total := 0
	for _, c := range children {
		if c.Status == TaskStatusReady {
			total += 100
			continue
		}
		total += c.Progress
	}
	return total / len(children)
}

func (t *Task) Clone() *Task {
	cp := *t
	if t.ParentID != nil {
		parent := *t.ParentID
		cp.ParentID = &parent
	}
	cp.NodeIDs = append([]int(nil), t.NodeIDs...)
	cp.UnreachableNodeIDs = append([]int(nil), t.UnreachableNodeIDs...)
	return &cp
}

package service

import (
	"errors"
	"fmt"

	"cluster-backend/internal/models"
)

var (
	// ErrInvalidClusterState 当前集群状态下不允许该操作
	ErrInvalidClusterState = errors.New("invalid cluster state")
	// ErrConflictingOperation 集群上已有进行中的操作
	ErrConflictingOperation = errors.New("conflicting operation in progress")
	// ErrUnknownTask 回报引用的任务不存在
	ErrUnknownTask = errors.New("unknown task")
	// ErrInvalidArgument 请求参数不合法
	ErrInvalidArgument = errors.New("invalid argument")
)

// StageFailure 执行端报告某个阶段失败
type StageFailure struct {
	TaskUUID string
	Stage    models.TaskName
	Message  string
}

func (e *StageFailure) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("stage %s (task %s) failed", e.Stage, e.TaskUUID)
	}
	return fmt.Sprintf("stage %s (task %s) failed: %s", e.Stage, e.TaskUUID, e.Message)
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidClusterState, fmt.Sprintf(format, args...))
}

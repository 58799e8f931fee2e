package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/models"
	"cluster-backend/pkg/config"

	"github.com/rs/zerolog"
)

// Reporter 回写阶段结果
type Reporter interface {
	Report(ctx context.Context, env channel.Envelope) error
}

// TaskHandler 按顺序执行 batch 中的阶段并回报结果。
// 不做真实操作，只模拟执行端的回报节奏，可按配置注入失败和失联节点。
type TaskHandler struct {
	config   *config.AgentConfig
	logger   zerolog.Logger
	reporter Reporter

	unreachable map[string]struct{}
	failing     map[string]struct{}
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(cfg *config.AgentConfig, logger zerolog.Logger, reporter Reporter) *TaskHandler {
	h := &TaskHandler{
		config:      cfg,
		logger:      logger.With().Str("handler", "task").Logger(),
		reporter:    reporter,
		unreachable: make(map[string]struct{}),
		failing:     make(map[string]struct{}),
	}
	for _, uid := range cfg.Faults.UnreachableNodes {
		h.unreachable[uid] = struct{}{}
	}
	for _, m := range cfg.Faults.FailMethods {
		h.failing[m] = struct{}{}
	}
	return h
}

// HandleBatch 依次执行各阶段，某一阶段失败后剩余阶段不再执行
func (h *TaskHandler) HandleBatch(ctx context.Context, batch channel.Batch) error {
	logger := h.logger.With().
		Int("cluster_id", batch.ClusterID).
		Str("supertask_id", batch.SupertaskUUID).
		Logger()
	logger.Info().Int("stages", len(batch.Stages)).Msg("Processing batch")

	for _, stage := range batch.Stages {
		ok, err := h.handleStage(ctx, stage)
		if err != nil {
			return fmt.Errorf("stage %s: %w", stage.TaskUUID, err)
		}
		if !ok {
			logger.Warn().Str("task_id", stage.TaskUUID).Str("method", stage.Method).Msg("Stage failed, skipping the rest of the batch")
			return nil
		}
	}
	logger.Info().Msg("Batch finished")
	return nil
}

func (h *TaskHandler) handleStage(ctx context.Context, stage channel.Stage) (bool, error) {
	var reachable []string
	for _, uid := range StageNodes(stage) {
		if _, skip := h.unreachable[uid]; !skip {
			reachable = append(reachable, uid)
		}
	}

	if err := h.report(ctx, stage, models.TaskStatusRunning, 50, outcomes(reachable, "running", 50, ""), ""); err != nil {
		return false, err
	}
	if err := h.wait(ctx); err != nil {
		return false, err
	}

	if _, fail := h.failing[stage.Method]; fail {
		msg := fmt.Sprintf("%s failed on executor", stage.Method)
		return false, h.report(ctx, stage, models.TaskStatusError, 100, outcomes(reachable, "error", 100, msg), msg)
	}
	return true, h.report(ctx, stage, models.TaskStatusReady, 100, outcomes(reachable, "ready", 100, ""), "")
}

func (h *TaskHandler) wait(ctx context.Context) error {
	if h.config.Runtime.StepDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(h.config.Runtime.StepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// report 更新任务状态
func (h *TaskHandler) report(ctx context.Context, stage channel.Stage, status models.TaskStatus, progress int, nodes []channel.NodeOutcome, msg string) error {
	env := channel.Envelope{
		RespondTo: stage.RespondTo,
		Report: channel.Report{
			TaskUUID: stage.TaskUUID,
			Status:   status,
			Progress: progress,
			Nodes:    nodes,
			Error:    msg,
		},
	}
	if err := h.reporter.Report(ctx, env); err != nil {
		h.logger.Error().Err(err).Str("task_id", stage.TaskUUID).Msg("Failed to report stage status")
		return err
	}
	h.logger.Debug().Str("task_id", stage.TaskUUID).Str("status", string(status)).Msg("Stage status reported")
	return nil
}

func outcomes(uids []string, status string, progress int, msg string) []channel.NodeOutcome {
	out := make([]channel.NodeOutcome, 0, len(uids))
	for _, uid := range uids {
		out = append(out, channel.NodeOutcome{
			UID:      uid,
			Status:   status,
			Progress: channel.IntPtr(progress),
			Error:    msg,
		})
	}
	return out
}

// StageNodes 阶段参数中的节点 uid。nodes 可以是 uid 列表，也可以是带 uid 字段的对象列表。
func StageNodes(stage channel.Stage) []string {
	if stage.NodeUID != "" {
		return []string{stage.NodeUID}
	}
	raw, err := json.Marshal(stage.Args["nodes"])
	if err != nil {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	uids := make([]string, 0, len(items))
	for _, item := range items {
		var uid string
		if err := json.Unmarshal(item, &uid); err == nil {
			uids = append(uids, uid)
			continue
		}
		var node struct {
			UID string `json:"uid"`
		}
		if err := json.Unmarshal(item, &node); err == nil && node.UID != "" {
			uids = append(uids, node.UID)
		}
	}
	return uids
}

package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sort"
	"strings"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/models"
	"cluster-backend/internal/store/types"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ReceiverConfig 回报处理参数
type ReceiverConfig struct {
	// SystemName 出现在通知文案中
	SystemName string
	// Workers 并行处理的分片数，同一任务的回报总是落在同一分片
	Workers int
}

// Receiver 回报流的唯一消费者：解析任务，对账节点和集群，更新任务，汇总顶层任务
type Receiver struct {
	store    types.Store
	locks    *ClusterLocks
	mutator  *Mutator
	notifier *Notifier
	metrics  *Metrics
	cfg      ReceiverConfig
	logger   zerolog.Logger
}

func NewReceiver(
	store types.Store,
	locks *ClusterLocks,
	mutator *Mutator,
	notifier *Notifier,
	metrics *Metrics,
	cfg ReceiverConfig,
	logger zerolog.Logger,
) *Receiver {
	if cfg.SystemName == "" {
		cfg.SystemName = "Fuel"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Receiver{
		store:    store,
		locks:    locks,
		mutator:  mutator,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger.With().Str("service", "receiver").Logger(),
	}
}

// Run 消费 inbound 直到 ctx 结束或通道关闭
func (r *Receiver) Run(ctx context.Context, inbound <-chan channel.Envelope) error {
	g, ctx := errgroup.WithContext(ctx)

	shards := make([]chan channel.Envelope, r.cfg.Workers)
	for i := range shards {
		shard := make(chan channel.Envelope, 64)
		shards[i] = shard
		g.Go(func() error {
			for env := range shard {
				if err := r.OnResponse(ctx, env); err != nil {
					r.logger.Warn().Err(err).Str("task_id", env.TaskUUID).Str("respond_to", env.RespondTo).Msg("Response dropped")
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, shard := range shards {
				close(shard)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return nil
			case env, ok := <-inbound:
				if !ok {
					return nil
				}
				select {
				case shards[shardFor(env.TaskUUID, len(shards))] <- env:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})

	r.logger.Info().Int("workers", r.cfg.Workers).Msg("Receiver started")
	return g.Wait()
}

func shardFor(taskID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(taskID))
	return int(h.Sum32() % uint32(n))
}

// OnResponse 处理一条回报。重复或迟到的终态回报被忽略。
func (r *Receiver) OnResponse(ctx context.Context, env channel.Envelope) error {
	res, err := channel.Decode(env)
	if err != nil {
		r.metrics.recordResponse(env.RespondTo, "invalid")
		return err
	}
	report := res.Common()

	found, err := r.store.GetTask(ctx, report.TaskUUID)
	if errors.Is(err, types.ErrNotFound) {
		r.metrics.recordResponse(env.RespondTo, "unknown")
		return fmt.Errorf("%w: %s", ErrUnknownTask, report.TaskUUID)
	}
	if err != nil {
		return fmt.Errorf("loading task: %w", err)
	}

	unlock := r.mutator.LockOperation(found.RootID())
	defer unlock()

	task, err := r.store.GetTask(ctx, found.ID)
	if err != nil {
		return fmt.Errorf("loading task: %w", err)
	}
	super := task
	if !task.IsSupertask() {
		if super, err = r.store.GetTask(ctx, *task.ParentID); err != nil {
			return fmt.Errorf("loading supertask: %w", err)
		}
	}
	if super.Status.Terminal() {
		r.metrics.recordResponse(env.RespondTo, "duplicate")
		r.logger.Debug().Str("task_id", task.ID).Str("status", string(task.Status)).Msg("Task already finished, ignoring response")
		return nil
	}
	if task.Status.Terminal() {
		// 阶段已结束而顶层任务未结束：重新汇总，上次收尾失败时在这里重试
		r.metrics.recordResponse(env.RespondTo, "duplicate")
		r.logger.Debug().Str("task_id", task.ID).Str("status", string(task.Status)).Msg("Stage already finished, re-settling supertask")
		next, err := r.aggregate(ctx, super)
		if err != nil {
			return err
		}
		return r.settle(ctx, next)
	}

	status := report.Status
	if status == models.TaskStatusPending {
		status = models.TaskStatusRunning
	}

	log := r.logger.With().
		Int("cluster_id", task.ClusterID).
		Str("task_id", task.ID).
		Str("operation", string(super.Name)).
		Str("status", string(status)).
		Logger()

	if err := r.reconcileNodes(ctx, res, task, status); err != nil {
		return err
	}

	var unreachable []int
	if status == models.TaskStatusReady {
		unreachable = missingNodes(task.NodeIDs, report.Nodes)
	}
	if len(unreachable) > 0 {
		log.Warn().Ints("node_ids", unreachable).Msg("Nodes did not report for stage")
	}

	var next *models.Task
	if task.IsSupertask() {
		if status.Terminal() {
			if err := r.closeOpenChildren(ctx, task.ID, status, report.Error); err != nil {
				return err
			}
		}
		next = task.Clone()
		applyReport(next, status, report)
		next.UnreachableNodeIDs = unreachable
	} else {
		_, err := r.mutator.Task(ctx, task.ID, func(t *models.Task) error {
			applyReport(t, status, report)
			t.UnreachableNodeIDs = unreachable
			return nil
		})
		if err != nil {
			return err
		}
		if next, err = r.aggregate(ctx, super); err != nil {
			return err
		}
	}

	r.metrics.recordResponse(env.RespondTo, "applied")
	log.Debug().Str("supertask_status", string(next.Status)).Int("supertask_progress", next.Progress).Msg("Response applied")
	return r.settle(ctx, next)
}

// settle 写入顶层任务的新状态。进入终态时先完成集群和节点的收尾，再写任务，最后释放令牌，
// 轮询方看到终态时收尾已经可见。
func (r *Receiver) settle(ctx context.Context, next *models.Task) error {
	if next.Status.Terminal() {
		// 收尾失败时顶层任务保持未结束，令牌不释放，重投的回报会再次收尾
		if err := r.finalize(ctx, next); err != nil {
			return fmt.Errorf("finalizing %s: %w", next.Name, err)
		}
	}

	super, err := r.mutator.Task(ctx, next.ID, func(t *models.Task) error {
		if t.Status == next.Status && t.Progress == next.Progress && t.Message == next.Message &&
			slices.Equal(t.UnreachableNodeIDs, next.UnreachableNodeIDs) {
			return errNoChange
		}
		t.Status = next.Status
		t.Progress = next.Progress
		t.Message = next.Message
		t.UnreachableNodeIDs = next.UnreachableNodeIDs
		return nil
	})
	if err != nil {
		return err
	}
	if !super.Status.Terminal() {
		return nil
	}

	log := r.logger.With().
		Int("cluster_id", super.ClusterID).
		Str("task_id", super.ID).
		Str("operation", string(super.Name)).
		Str("status", string(super.Status)).
		Logger()
	if r.locks.Release(super.ClusterID, super.ID) {
		log.Info().Msg("Cluster token released")
	}
	r.metrics.recordCompleted(super.Name, super.Status, super.CreatedAt)
	r.metrics.setActive(r.locks.Held())
	log.Info().Msg("Operation finished")
	return nil
}

func applyReport(t *models.Task, status models.TaskStatus, report *channel.Report) {
	t.Status = status
	t.Progress = clampProgress(report.Progress)
	switch status {
	case models.TaskStatusReady:
		t.Progress = 100
	case models.TaskStatusError:
		t.Message = report.Error
		if t.Message == "" {
			t.Message = fmt.Sprintf("%s failed", t.Name)
		}
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// missingNodes 期望回报但没有出现在结果中的节点
func missingNodes(expected []int, outcomes []channel.NodeOutcome) []int {
	reported := make(map[int]struct{}, len(outcomes))
	for _, o := range outcomes {
		if id, err := models.ParseUID(o.UID); err == nil {
			reported[id] = struct{}{}
		}
	}
	var missing []int
	for _, id := range expected {
		if _, ok := reported[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func (r *Receiver) reconcileNodes(ctx context.Context, res channel.Result, task *models.Task, status models.TaskStatus) error {
	switch res := res.(type) {
	case *channel.ProvisionResult:
		return r.reconcileProvision(ctx, task, &res.Report, status)
	case *channel.DeployResult:
		return r.reconcileDeploy(ctx, task, &res.Report, status)
	case *channel.StopResult:
		return r.reconcileStop(ctx, task, &res.Report, status)
	case *channel.ResetResult:
		return r.reconcileReset(ctx, task, &res.Report, status)
	default:
		return fmt.Errorf("unhandled result %T", res)
	}
}

// updateNode 修改属于任务所在集群的节点；节点已不存在时跳过
func (r *Receiver) updateNode(ctx context.Context, clusterID, nodeID int, fn func(*models.Node) error) error {
	_, err := r.mutator.Node(ctx, nodeID, func(n *models.Node) error {
		if n.ClusterID != clusterID {
			return errNoChange
		}
		return fn(n)
	})
	if errors.Is(err, types.ErrNotFound) {
		r.logger.Warn().Int("node_id", nodeID).Msg("Node vanished, skipping")
		return nil
	}
	return err
}

// eachOutcome 对回报中的每个节点调用 fn，无法识别的 uid 记录日志后跳过
func (r *Receiver) eachOutcome(report *channel.Report, fn func(nodeID int, o channel.NodeOutcome) error) error {
	for _, o := range report.Nodes {
		id, err := models.ParseUID(o.UID)
		if err != nil {
			r.logger.Warn().Str("uid", o.UID).Str("task_id", report.TaskUUID).Msg("Unknown node uid in response")
			continue
		}
		if err := fn(id, o); err != nil {
			return err
		}
	}
	return nil
}

// aggregate 由子任务汇总顶层任务的状态和进度，不写入存储
func (r *Receiver) aggregate(ctx context.Context, super *models.Task) (*models.Task, error) {
	children, err := r.store.ListSubtasks(ctx, super.ID)
	if err != nil {
		return nil, fmt.Errorf("loading subtasks: %w", err)
	}
	statuses := make([]models.TaskStatus, 0, len(children))
	for _, c := range children {
		statuses = append(statuses, c.Status)
	}

	next := super.Clone()
	next.Status = models.AggregateStatus(statuses)
	next.Progress = models.AggregateProgress(children)
	switch next.Status {
	case models.TaskStatusReady:
		next.Progress = 100
	case models.TaskStatusError:
		if failure := firstFailure(children); failure != nil && next.Message == "" {
			next.Message = failure.Error()
		}
	}
	return next, nil
}

func firstFailure(children []*models.Task) *StageFailure {
	for _, c := range children {
		if c.Status == models.TaskStatusError {
			return &StageFailure{TaskUUID: c.ID, Stage: c.Name, Message: c.Message}
		}
	}
	return nil
}

// closeOpenChildren 顶层任务直接收到终态时，未结束的子任务跟随同一状态
func (r *Receiver) closeOpenChildren(ctx context.Context, superID string, status models.TaskStatus, message string) error {
	children, err := r.store.ListSubtasks(ctx, superID)
	if err != nil {
		return fmt.Errorf("loading subtasks: %w", err)
	}
	for _, c := range children {
		if c.Status.Terminal() {
			continue
		}
		_, err := r.mutator.Task(ctx, c.ID, func(t *models.Task) error {
			if t.Status.Terminal() {
				return errNoChange
			}
			t.Status = status
			if status == models.TaskStatusReady {
				t.Progress = 100
			} else {
				t.Message = message
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// finalize 顶层任务即将进入终态：按操作类型收尾集群和节点。收尾必须可以重复执行。
func (r *Receiver) finalize(ctx context.Context, super *models.Task) error {
	log := r.logger.With().
		Int("cluster_id", super.ClusterID).
		Str("task_id", super.ID).
		Str("operation", string(super.Name)).
		Str("status", string(super.Status)).
		Logger()

	if super.Status == models.TaskStatusError {
		// 失败后剩余阶段不会再执行
		if err := r.closeOpenChildren(ctx, super.ID, models.TaskStatusError, "Skipped after an earlier stage failed"); err != nil {
			return fmt.Errorf("closing remaining stages: %w", err)
		}
	}

	children, err := r.store.ListSubtasks(ctx, super.ID)
	if err != nil {
		return fmt.Errorf("loading subtasks: %w", err)
	}

	outcome := operationOutcome{
		super:       super,
		unreachable: unreachableNodes(super, children),
		failure:     firstFailure(children),
	}
	if outcome.failure == nil && super.Status == models.TaskStatusError {
		outcome.failure = &StageFailure{TaskUUID: super.ID, Stage: super.Name, Message: super.Message}
	}

	switch super.Name {
	case models.TaskNameDeploy:
		err = r.finishDeploy(ctx, outcome)
	case models.TaskNameStopDeployment:
		err = r.finishStop(ctx, outcome)
	case models.TaskNameResetEnvironment:
		err = r.finishReset(ctx, outcome)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to finalize operation, waiting for redelivery")
		return err
	}
	if len(outcome.unreachable) > 0 {
		log.Info().Ints("unreachable", outcome.unreachable).Msg("Operation finished with unreachable nodes")
	}
	return nil
}

type operationOutcome struct {
	super       *models.Task
	unreachable []int
	failure     *StageFailure
}

func unreachableNodes(super *models.Task, children []*models.Task) []int {
	seen := make(map[int]struct{})
	var ids []int
	add := func(list []int) {
		for _, id := range list {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	add(super.UnreachableNodeIDs)
	for _, c := range children {
		add(c.UnreachableNodeIDs)
	}
	sort.Ints(ids)
	return ids
}

// setClusterStatus 更新集群状态，可选地修改 deployed_before
func (r *Receiver) setClusterStatus(ctx context.Context, clusterID int, status models.ClusterStatus, deployedBefore *bool) (*models.Cluster, error) {
	return r.mutator.Cluster(ctx, clusterID, func(c *models.Cluster) error {
		c.Status = status
		if deployedBefore != nil {
			c.Attributes.Generated.DeployedBefore.Value = *deployedBefore
		}
		return nil
	})
}

// nodeNames 按节点 ID 排序后的名字
func (r *Receiver) nodeNames(ctx context.Context, ids []int) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := r.store.GetNode(ctx, id)
		if err != nil {
			names = append(names, fmt.Sprintf("node-%d", id))
			continue
		}
		names = append(names, n.Name)
	}
	return names
}

// warnUnreachable 每次操作最多一条告警，列出全部未回报的节点
func (r *Receiver) warnUnreachable(ctx context.Context, clusterID int, ids []int, during string) {
	if len(ids) == 0 {
		return
	}
	msg := fmt.Sprintf("%s couldn't reach these nodes during %s: '%s'. Manual check may be needed.",
		r.cfg.SystemName, during, strings.Join(r.nodeNames(ctx, ids), ", "))
	r.notifier.Notify(clusterID, models.NotificationTopicWarning, msg)
}

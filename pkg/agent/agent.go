package agent

import (
	"context"
	"errors"
	"fmt"

	"cluster-backend/internal/channel"
	"cluster-backend/pkg/agent/handlers"
	"cluster-backend/pkg/config"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Agent 模拟执行端：订阅 batch，逐阶段回报
type Agent struct {
	config *config.AgentConfig
	logger zerolog.Logger

	endpoint    channel.Endpoint
	taskHandler *handlers.TaskHandler

	// 控制
	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// New 创建新的Agent实例
func New(cfg *config.AgentConfig, endpoint channel.Endpoint, logger zerolog.Logger) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With().Str("agent_id", cfg.AgentID).Logger()
	return &Agent{
		config:      cfg,
		logger:      logger,
		endpoint:    endpoint,
		taskHandler: handlers.NewTaskHandler(cfg, logger, endpoint),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan error, 1),
	}
}

// Start 启动Agent
func (a *Agent) Start() error {
	if a.ctx.Err() != nil {
		return fmt.Errorf("agent already stopped")
	}
	go func() { a.done <- a.run(a.ctx) }()
	a.logger.Info().Int("workers", a.config.Runtime.Workers).Msg("Agent started")
	return nil
}

// Stop 停止Agent，等待进行中的 batch 结束
func (a *Agent) Stop() error {
	a.cancel()
	err := <-a.done
	if closeErr := a.endpoint.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// run 每个 batch 内阶段串行，不同 batch 之间并行
func (a *Agent) run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(a.config.Runtime.Workers)

	batches := a.endpoint.Batches()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case batch, ok := <-batches:
			if !ok {
				break loop
			}
			g.Go(func() error {
				err := a.taskHandler.HandleBatch(ctx, batch)
				if err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Error().Err(err).Str("supertask_id", batch.SupertaskUUID).Msg("Batch aborted")
				}
				return nil
			})
		}
	}

	return g.Wait()
}

package handlers

import (
	"context"
	"sync"
	"testing"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/models"
	"cluster-backend/pkg/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	envs []channel.Envelope
}

func (r *recorder) Report(_ context.Context, env channel.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return nil
}

func newHandler(mutate func(*config.AgentConfig)) (*TaskHandler, *recorder) {
	cfg := config.DefaultAgentConfig()
	cfg.Runtime.StepDelay = 0
	if mutate != nil {
		mutate(cfg)
	}
	rec := &recorder{}
	return NewTaskHandler(cfg, zerolog.Nop(), rec), rec
}

func TestStageNodes(t *testing.T) {
	assert.Equal(t, []string{"1", "2"}, StageNodes(channel.Stage{Args: map[string]any{"nodes": []string{"1", "2"}}}))
	assert.Equal(t, []string{"3"}, StageNodes(channel.Stage{Args: map[string]any{
		"nodes": []map[string]any{{"uid": "3", "roles": []string{"compute"}}},
	}}))
	assert.Equal(t, []string{"4", "5"}, StageNodes(channel.Stage{Args: map[string]any{"nodes": []any{"4", map[string]any{"uid": "5"}}}}))
	assert.Equal(t, []string{"9"}, StageNodes(channel.Stage{NodeUID: "9"}))
	assert.Empty(t, StageNodes(channel.Stage{}))
}

func TestHandleBatchReportsEveryStage(t *testing.T) {
	h, rec := newHandler(func(c *config.AgentConfig) {
		c.Faults.UnreachableNodes = []string{"2"}
	})
	batch := channel.Batch{ClusterID: 1, SupertaskUUID: "super", Stages: []channel.Stage{
		{Method: channel.MethodResetEnvironment, TaskUUID: "a", RespondTo: channel.RespondToReset, Args: map[string]any{"nodes": []string{"1", "2"}}},
		{Method: channel.MethodExecuteTasks, TaskUUID: "b", RespondTo: channel.RespondToReset, Args: map[string]any{"nodes": []string{"1", "2"}}},
	}}

	require.NoError(t, h.HandleBatch(context.Background(), batch))
	require.Len(t, rec.envs, 4)

	assert.Equal(t, "a", rec.envs[0].TaskUUID)
	assert.Equal(t, models.TaskStatusRunning, rec.envs[0].Status)
	assert.Equal(t, "a", rec.envs[1].TaskUUID)
	assert.Equal(t, models.TaskStatusReady, rec.envs[1].Status)
	assert.Equal(t, "b", rec.envs[3].TaskUUID)
	for _, env := range rec.envs {
		assert.Equal(t, channel.RespondToReset, env.RespondTo)
		require.Len(t, env.Nodes, 1)
		assert.Equal(t, "1", env.Nodes[0].UID)
	}
}

func TestHandleBatchStopsAfterFailure(t *testing.T) {
	h, rec := newHandler(func(c *config.AgentConfig) {
		c.Faults.FailMethods = []string{channel.MethodResetEnvironment}
	})
	batch := channel.Batch{Stages: []channel.Stage{
		{Method: channel.MethodResetEnvironment, TaskUUID: "a", RespondTo: channel.RespondToReset, Args: map[string]any{"nodes": []string{"1"}}},
		{Method: channel.MethodExecuteTasks, TaskUUID: "b", RespondTo: channel.RespondToReset},
	}}

	require.NoError(t, h.HandleBatch(context.Background(), batch))
	require.Len(t, rec.envs, 2)
	last := rec.envs[1]
	assert.Equal(t, models.TaskStatusError, last.Status)
	assert.NotEmpty(t, last.Error)
	assert.True(t, last.Nodes[0].Failed())
}

func TestHandleBatchHonoursContext(t *testing.T) {
	h, _ := newHandler(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.HandleBatch(ctx, channel.Batch{Stages: []channel.Stage{{Method: channel.MethodDeploy, TaskUUID: "a"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

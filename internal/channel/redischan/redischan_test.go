package redischan

import (
	"context"
	"os"
	"testing"
	"time"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "cluster:executor", StreamKey("cluster", channel.DefaultDestination))
}

func TestPayloadRoundTrip(t *testing.T) {
	in := channel.Batch{
		ClusterID:     7,
		SupertaskUUID: "super",
		Stages: []channel.Stage{{
			Method:    channel.MethodExecuteTasks,
			TaskUUID:  "child",
			RespondTo: channel.RespondToReset,
			Args:      map[string]any{"tasks": []any{"remove_provisioning"}},
		}},
	}
	values, err := encode(in)
	require.NoError(t, err)

	var out channel.Batch
	require.NoError(t, decode(redis.XMessage{ID: "1-0", Values: values}, &out))
	assert.Equal(t, in, out)

	assert.Error(t, decode(redis.XMessage{ID: "2-0", Values: map[string]any{}}, &out))
}

// TestRoundTrip 需要真实的 Redis，设置 CLUSTERD_TEST_REDIS_ADDR 后运行
func TestRoundTrip(t *testing.T) {
	addr := os.Getenv("CLUSTERD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CLUSTERD_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := Config{Addr: addr, Prefix: "test-" + uuid.NewString(), Block: 200 * time.Millisecond}

	controlClient, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	ch, err := New(ctx, controlClient, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer ch.Close()

	agentClient, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	agentCfg := cfg
	agentCfg.Consumer = "agent-1"
	ep, err := NewEndpoint(ctx, agentClient, agentCfg, channel.DefaultDestination, zerolog.Nop())
	require.NoError(t, err)
	defer ep.Close()

	require.NoError(t, ch.Send(ctx, channel.DefaultDestination, channel.Batch{ClusterID: 3}))
	select {
	case b := <-ep.Batches():
		assert.Equal(t, 3, b.ClusterID)
	case <-ctx.Done():
		t.Fatal("batch not delivered")
	}

	require.NoError(t, ep.Report(ctx, channel.Envelope{
		RespondTo: channel.RespondToStop,
		Report:    channel.Report{TaskUUID: "t-1", Status: models.TaskStatusReady, Progress: 100},
	}))
	select {
	case env := <-ch.Inbound():
		assert.Equal(t, "t-1", env.TaskUUID)
	case <-ctx.Done():
		t.Fatal("report not delivered")
	}
}

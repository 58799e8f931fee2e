package channel

import (
	"context"
	"encoding/json"
	"testing"

	"cluster-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVariants(t *testing.T) {
	cases := map[string]Result{
		RespondToProvision: &ProvisionResult{},
		RespondToDeploy:    &DeployResult{},
		RespondToStop:      &StopResult{},
		RespondToReset:     &ResetResult{},
	}
	for tag, want := range cases {
		t.Run(tag, func(t *testing.T) {
			res, err := Decode(Envelope{
				RespondTo: tag,
				Report:    Report{TaskUUID: "t-1", Status: models.TaskStatusReady, Progress: 100},
			})
			require.NoError(t, err)
			assert.IsType(t, want, res)
			assert.Equal(t, tag, res.RespondTo())
			assert.Equal(t, "t-1", res.Common().TaskUUID)
		})
	}
}

func TestDecodeRejectsBadEnvelopes(t *testing.T) {
	_, err := Decode(Envelope{RespondTo: "dump_resp", Report: Report{TaskUUID: "t", Status: models.TaskStatusReady}})
	assert.Error(t, err)

	_, err = Decode(Envelope{RespondTo: RespondToReset, Report: Report{TaskUUID: "t", Status: "finished"}})
	assert.Error(t, err)

	_, err = Decode(Envelope{RespondTo: RespondToReset, Report: Report{Status: models.TaskStatusReady}})
	assert.Error(t, err)
}

func TestEnvelopeWireFormat(t *testing.T) {
	raw := `{"respond_to":"reset_environment_resp","task_uuid":"abc","status":"ready","progress":100,
		"nodes":[{"uid":"1"},{"uid":"2","progress":40,"status":"error","error":"timeout"}]}`

	env, res, err := UnmarshalEnvelope([]byte(raw))
	require.NoError(t, err)
	reset, ok := res.(*ResetResult)
	require.True(t, ok)
	require.Len(t, reset.Nodes, 2)
	assert.Nil(t, reset.Nodes[0].Progress)
	assert.False(t, reset.Nodes[0].Failed())
	assert.Equal(t, 40, *reset.Nodes[1].Progress)
	assert.True(t, reset.Nodes[1].Failed())

	out, err := json.Marshal(Encode(res))
	require.NoError(t, err)
	var back Envelope
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, env, back)
}

func TestMemoryChannel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(8)
	ep := m.Endpoint(DefaultDestination)

	for i := 1; i <= 3; i++ {
		require.NoError(t, m.Send(ctx, DefaultDestination, Batch{ClusterID: i}))
	}
	for i := 1; i <= 3; i++ {
		b := <-ep.Batches()
		assert.Equal(t, i, b.ClusterID)
	}
	assert.Len(t, m.Sent(), 3)

	require.NoError(t, ep.Report(ctx, Envelope{RespondTo: RespondToDeploy, Report: Report{TaskUUID: "x"}}))
	env := <-m.Inbound()
	assert.Equal(t, "x", env.TaskUUID)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Send(ctx, DefaultDestination, Batch{}), ErrClosed)
}

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/storagetest"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

func TestRegister_CreatesNewAgentInBooting(t *testing.T) {
	store := storagetest.New()
	reg := New(store, nil)

	agent, err := reg.Register(context.Background(), "gpu-worker", "10.0.0.1", "10.0.0.1", 9000, map[string]string{"zone": "us-east"})
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusBooting, agent.Status)
	assert.NotEmpty(t, agent.ID)
}

func TestRegister_IsIdempotentOnAddress(t *testing.T) {
	store := storagetest.New()
	reg := New(store, nil)
	ctx := context.Background()

	first, err := reg.Register(ctx, "gpu-worker", "10.0.0.1", "10.0.0.1", 9000, nil)
	require.NoError(t, err)

	require.NoError(t, reg.MarkReady(ctx, first.ID))

	second, err := reg.Register(ctx, "gpu-worker", "10.0.0.1", "10.0.0.1", 9000, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, types.AgentStatusBooting, second.Status, "re-registration resets to booting")
}

func TestMarkReady_RejectsFromNonBooting(t *testing.T) {
	store := storagetest.New()
	reg := New(store, nil)
	ctx := context.Background()

	agent, err := reg.Register(ctx, "gpu-worker", "10.0.0.1", "10.0.0.1", 9000, nil)
	require.NoError(t, err)
	require.NoError(t, reg.MarkReady(ctx, agent.ID))

	err = reg.MarkReady(ctx, agent.ID)
	require.Error(t, err)
	assert.Equal(t, storage.KindConflictingState, storage.KindOf(err))
}

func TestMarkWorking_RejectsWhenCurrentJobAlreadySet(t *testing.T) {
	store := storagetest.New()
	reg := New(store, nil)
	ctx := context.Background()

	agent, err := reg.Register(ctx, "gpu-worker", "10.0.0.1", "10.0.0.1", 9000, nil)
	require.NoError(t, err)
	require.NoError(t, reg.MarkReady(ctx, agent.ID))
	require.NoError(t, reg.MarkWorking(ctx, agent.ID, "job-1"))

	err = reg.MarkWorking(ctx, agent.ID, "job-2")
	require.Error(t, err)
	assert.Equal(t, storage.KindConflictingState, storage.KindOf(err))
}

func TestMarkFinished_ClearsCurrentJobAndSetsOutcome(t *testing.T) {
	store := storagetest.New()
	reg := New(store, nil)
	ctx := context.Background()

	agent, err := reg.Register(ctx, "gpu-worker", "10.0.0.1", "10.0.0.1", 9000, nil)
	require.NoError(t, err)
	require.NoError(t, reg.MarkReady(ctx, agent.ID))
	require.NoError(t, reg.MarkWorking(ctx, agent.ID, "job-1"))

	require.NoError(t, reg.MarkFinished(ctx, agent.ID, types.AgentStatusCompleted))

	got, err := reg.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusCompleted, got.Status)
	assert.Empty(t, got.CurrentJobID)
}

func TestMarkFinished_RejectsInvalidOutcome(t *testing.T) {
	store := storagetest.New()
	reg := New(store, nil)
	ctx := context.Background()

	agent, err := reg.Register(ctx, "gpu-worker", "10.0.0.1", "10.0.0.1", 9000, nil)
	require.NoError(t, err)
	require.NoError(t, reg.MarkReady(ctx, agent.ID))
	require.NoError(t, reg.MarkWorking(ctx, agent.ID, "job-1"))

	err = reg.MarkFinished(ctx, agent.ID, types.AgentStatusOffline)
	require.Error(t, err)
	assert.Equal(t, storage.KindConstraintViolation, storage.KindOf(err))
}

func TestHeartbeat_FromOfflineAgentIsNotFound(t *testing.T) {
	store := storagetest.New()
	reg := New(store, nil)
	ctx := context.Background()

	agent, err := reg.Register(ctx, "gpu-worker", "10.0.0.1", "10.0.0.1", 9000, nil)
	require.NoError(t, err)
	require.NoError(t, reg.MarkReady(ctx, agent.ID))
	require.NoError(t, reg.MarkOffline(ctx, agent.ID))

	err = reg.Heartbeat(ctx, agent.ID, "", nil)
	require.Error(t, err)
	assert.Equal(t, storage.KindNotFound, storage.KindOf(err))
}

func TestRemove_RejectedWhileWorking(t *testing.T) {
	store := storagetest.New()
	reg := New(store, nil)
	ctx := context.Background()

	agent, err := reg.Register(ctx, "gpu-worker", "10.0.0.1", "10.0.0.1", 9000, nil)
	require.NoError(t, err)
	require.NoError(t, reg.MarkReady(ctx, agent.ID))
	require.NoError(t, reg.MarkWorking(ctx, agent.ID, "job-1"))

	err = reg.Remove(ctx, agent.ID)
	require.Error(t, err)
	assert.Equal(t, storage.KindConflictingState, storage.KindOf(err))
}

func TestCanTransition_AgentStateMachine(t *testing.T) {
	cases := []struct {
		from, to types.AgentStatus
		want     bool
	}{
		{types.AgentStatusBooting, types.AgentStatusReady, true},
		{types.AgentStatusBooting, types.AgentStatusWorking, false},
		{types.AgentStatusReady, types.AgentStatusWorking, true},
		{types.AgentStatusWorking, types.AgentStatusCompleted, true},
		{types.AgentStatusCompleted, types.AgentStatusReady, true},
		{types.AgentStatusOffline, types.AgentStatusReady, false},
		{types.AgentStatusFailed, types.AgentStatusOffline, true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, canTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

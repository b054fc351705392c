package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/storagetest"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

type fakeAgentClient struct {
	mu       sync.Mutex
	calls    int
	failN    int // fail the first failN calls, then succeed
	lastJob  string
	lastAgnt string
}

func (f *fakeAgentClient) Start(ctx context.Context, agent *types.Agent, job *types.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastJob = job.ID
	f.lastAgnt = agent.ID
	if f.calls <= f.failN {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeAgentClient) Cancel(ctx context.Context, agent *types.Agent, jobID string) error {
	return nil
}

func (f *fakeAgentClient) Resume(ctx context.Context, agent *types.Agent, job *types.Job, feedback string) error {
	return nil
}

func (f *fakeAgentClient) Approve(ctx context.Context, agent *types.Agent, job *types.Job) error {
	return nil
}

func TestDispatchOne_MatchesJobToReadyAgentByConfigName(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	job := &types.Job{ID: "job-1", ConfigName: "writer", Status: types.JobStatusCreated, CreatedAt: time.Now()}
	require.NoError(t, store.CreateJob(ctx, job))

	agent := &types.Agent{ID: "agent-1", ConfigName: "writer", Status: types.AgentStatusReady, LastHeartbeat: time.Now()}
	require.NoError(t, store.CreateAgent(ctx, agent))

	client := &fakeAgentClient{}
	d := New(store, client, time.Hour)

	err := store.ClaimJobsForDispatch(ctx, BatchSize, func(tx storage.Tx, jobs []*types.Job) error {
		require.Len(t, jobs, 1)
		d.dispatchOne(ctx, tx, jobs[0])
		return nil
	})
	require.NoError(t, err)

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusProcessing, got.Status)
	assert.Equal(t, "agent-1", got.AssignedAgentID)

	gotAgent, err := store.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusWorking, gotAgent.Status)
	assert.Equal(t, "job-1", gotAgent.CurrentJobID)
}

func TestDispatchOne_NoMatchLeavesJobCreated(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	job := &types.Job{ID: "job-1", ConfigName: "coder", Status: types.JobStatusCreated, CreatedAt: time.Now()}
	require.NoError(t, store.CreateJob(ctx, job))

	agent := &types.Agent{ID: "agent-1", ConfigName: "writer", Status: types.AgentStatusReady, LastHeartbeat: time.Now()}
	require.NoError(t, store.CreateAgent(ctx, agent))

	client := &fakeAgentClient{}
	d := New(store, client, time.Hour)

	err := store.ClaimJobsForDispatch(ctx, BatchSize, func(tx storage.Tx, jobs []*types.Job) error {
		d.dispatchOne(ctx, tx, jobs[0])
		return nil
	})
	require.NoError(t, err)

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCreated, got.Status)
}

func TestRollback_ReturnsJobToCreatedAndIncrementsAttempts(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	job := &types.Job{ID: "job-1", ConfigName: "writer", Status: types.JobStatusProcessing, AssignedAgentID: "agent-1", CreatedAt: time.Now()}
	require.NoError(t, store.CreateJob(ctx, job))

	d := New(store, &fakeAgentClient{}, time.Hour)
	d.rollback(job, errors.New("timeout"))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCreated, got.Status)
	assert.Equal(t, 1, got.DispatchAttempts)
	assert.Empty(t, got.AssignedAgentID)
}

func TestRollback_EscalatesToFailedAfterMaxAttempts(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	job := &types.Job{
		ID: "job-1", ConfigName: "writer", Status: types.JobStatusProcessing,
		AssignedAgentID: "agent-1", DispatchAttempts: MaxDispatchAttempts - 1, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateJob(ctx, job))

	d := New(store, &fakeAgentClient{}, time.Hour)
	d.rollback(job, errors.New("timeout"))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Equal(t, "no_compatible_agent", got.ErrorMessage)
}

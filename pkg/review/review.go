// Package review implements the Review Coordinator (C5): the
// freeze/approve/resume checkpoint workflow of §4.5.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/orchestrator-core/pkg/agentclient"
	"github.com/cuemby/orchestrator-core/pkg/events"
	"github.com/cuemby/orchestrator-core/pkg/jobstore"
	"github.com/cuemby/orchestrator-core/pkg/registry"
	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

// FreezePayload is the body an agent posts to /jobs/{id}/freeze.
type FreezePayload struct {
	Summary      string   `json:"summary" validate:"required"`
	Deliverables []string `json:"deliverables"`
	Confidence   float64  `json:"confidence"`
	Notes        string   `json:"notes"`
	PhaseNumber  int      `json:"phase_number"`
	FrozenAt     time.Time `json:"frozen_at"`
}

// Coordinator is the Review Coordinator component (C5).
type Coordinator struct {
	jobs     *jobstore.JobStore
	agents   *registry.Registry
	client   agentclient.Client
	broker   *events.Broker
	dispatch Kicker
}

// Kicker lets the coordinator nudge the dispatcher after detaching a
// job back to created, without importing pkg/dispatcher directly.
type Kicker interface {
	Kick()
}

// New constructs a Coordinator.
func New(jobs *jobstore.JobStore, agents *registry.Registry, client agentclient.Client, broker *events.Broker, dispatch Kicker) *Coordinator {
	return &Coordinator{jobs: jobs, agents: agents, client: client, broker: broker, dispatch: dispatch}
}

func (c *Coordinator) publish(ev events.Event) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&ev)
}

// Freeze stores the agent's checkpoint payload and transitions the job
// processing -> pending_review.
func (c *Coordinator) Freeze(ctx context.Context, jobID string, payload FreezePayload) error {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return storage.NewError("review.Freeze", storage.KindConstraintViolation, err)
	}
	err = c.jobs.UpdateStatus(ctx, jobID, types.JobStatusProcessing, types.JobStatusPendingReview, func(j *types.Job) {
		j.FrozenData = raw
	})
	if err != nil {
		return err
	}
	c.publish(events.Event{Type: events.EventJobFrozen, JobID: jobID, AgentID: job.AssignedAgentID})
	return nil
}

// Approve moves a job pending_review -> completed, detaches the agent,
// and tells the agent pod to release back to ready.
func (c *Coordinator) Approve(ctx context.Context, jobID string) error {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := c.jobs.UpdateStatus(ctx, jobID, types.JobStatusPendingReview, types.JobStatusCompleted, nil); err != nil {
		return err
	}
	if err := c.jobs.DetachAgent(ctx, jobID); err != nil {
		return err
	}
	c.publish(events.Event{Type: events.EventJobApproved, JobID: jobID, AgentID: job.AssignedAgentID})

	if job.AssignedAgentID == "" {
		return nil
	}
	agent, err := c.agents.Get(ctx, job.AssignedAgentID)
	if err != nil {
		return nil // agent already gone; nothing further to acknowledge
	}
	if approveErr := c.client.Approve(ctx, agent, job); approveErr != nil {
		return nil // best-effort acknowledgment, not fatal to the approve operation
	}
	return c.agents.MarkFinished(ctx, agent.ID, types.AgentStatusCompleted)
}

// Resume moves a job pending_review -> processing and forwards
// feedback to the currently assigned agent. If that agent is
// unreachable or offline, the job is detached and returned to created
// so the dispatcher can re-place it.
func (c *Coordinator) Resume(ctx context.Context, jobID, feedback string) error {
	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.AssignedAgentID == "" {
		return storage.NewError("review.Resume", storage.KindConflictingState, fmt.Errorf("job %s has no assigned agent", jobID))
	}

	agent, err := c.agents.Get(ctx, job.AssignedAgentID)
	reachable := err == nil && agent.Status != types.AgentStatusOffline
	if reachable {
		if sendErr := c.client.Resume(ctx, agent, job, feedback); sendErr != nil {
			reachable = false
		}
	}

	if reachable {
		if err := c.jobs.UpdateStatus(ctx, jobID, types.JobStatusPendingReview, types.JobStatusProcessing, nil); err != nil {
			return err
		}
		c.publish(events.Event{Type: events.EventJobResumed, JobID: jobID, AgentID: job.AssignedAgentID})
		return nil
	}

	if err := c.jobs.UpdateStatus(ctx, jobID, types.JobStatusPendingReview, types.JobStatusCreated, func(j *types.Job) {
		j.AssignedAgentID = ""
	}); err != nil {
		return err
	}
	if err := c.jobs.DetachAgent(ctx, jobID); err != nil {
		return err
	}
	c.publish(events.Event{Type: events.EventJobResumed, JobID: jobID})
	if c.dispatch != nil {
		c.dispatch.Kick()
	}
	return nil
}

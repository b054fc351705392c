// Package jobstore implements the Job Store: the job state machine of
// §4.3 layered over the storage.Store persistence gateway.
package jobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/orchestrator-core/pkg/events"
	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

// JobStore is the Job Store component (C3).
type JobStore struct {
	store  storage.Store
	broker *events.Broker
}

// New constructs a JobStore backed by store.
func New(store storage.Store, broker *events.Broker) *JobStore {
	return &JobStore{store: store, broker: broker}
}

func (j *JobStore) publish(ev events.Event) {
	if j.broker == nil {
		return
	}
	j.broker.Publish(&ev)
}

// CreateJob inserts a new job in status created. context and
// instructions are optional orchestration hints relayed verbatim to
// the agent's start command; the orchestrator never interprets them.
func (j *JobStore) CreateJob(ctx context.Context, description, configName, uploadID, jobContext, instructions string) (*types.Job, error) {
	if description == "" {
		return nil, storage.NewError("jobstore.CreateJob", storage.KindConstraintViolation,
			fmt.Errorf("description must be non-empty"))
	}
	job := &types.Job{
		ID:              uuid.NewString(),
		Description:     description,
		ConfigName:      configName,
		UploadID:        uploadID,
		Context:         jobContext,
		Instructions:    instructions,
		Status:          types.JobStatusCreated,
		CreatorStatus:   types.RoleStatusPending,
		ValidatorStatus: types.RoleStatusPending,
	}
	if err := j.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	j.publish(events.Event{Type: events.EventJobCreated, JobID: job.ID})
	return job, nil
}

// Get returns a single job by ID.
func (j *JobStore) Get(ctx context.Context, id string) (*types.Job, error) {
	return j.store.GetJob(ctx, id)
}

// List returns jobs matching filter.
func (j *JobStore) List(ctx context.Context, filter storage.JobFilter) ([]*types.Job, error) {
	return j.store.ListJobs(ctx, filter)
}

// UpdateStatus performs the state machine's compare-and-swap update: it
// only applies if the current status equals from and the from->to edge
// exists in the transition table. mutate, if non-nil, applies
// additional field changes (error_message, frozen_data, ...) within the
// same transaction as the status change.
func (j *JobStore) UpdateStatus(ctx context.Context, jobID string, from, to types.JobStatus, mutate func(*types.Job)) error {
	if !canTransition(from, to) {
		return storage.NewError("jobstore.UpdateStatus", storage.KindConstraintViolation,
			fmt.Errorf("job transition %s -> %s is not permitted", from, to))
	}
	wrapped := func(job *types.Job) {
		if to.Terminal() {
			now := time.Now()
			job.CompletedAt = &now
		}
		if mutate != nil {
			mutate(job)
		}
	}
	if err := j.store.UpdateJobStatus(ctx, jobID, from, to, wrapped); err != nil {
		return err
	}
	j.publish(events.Event{Type: eventForTransition(to), JobID: jobID})
	return nil
}

func eventForTransition(to types.JobStatus) events.EventType {
	switch to {
	case types.JobStatusPendingReview:
		return events.EventJobFrozen
	case types.JobStatusProcessing:
		return events.EventJobResumed
	case types.JobStatusCompleted:
		return events.EventJobCompleted
	case types.JobStatusFailed:
		return events.EventJobFailed
	case types.JobStatusCancelled:
		return events.EventJobCancelled
	default:
		return events.EventJobDispatched
	}
}

// Cancel cancels a job from created, processing, or pending_review.
func (j *JobStore) Cancel(ctx context.Context, jobID string) error {
	job, err := j.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case types.JobStatusCreated, types.JobStatusProcessing, types.JobStatusPendingReview:
		return j.UpdateStatus(ctx, jobID, job.Status, types.JobStatusCancelled, func(job *types.Job) {
			job.AssignedAgentID = ""
		})
	default:
		return storage.NewError("jobstore.Cancel", storage.KindConflictingState,
			fmt.Errorf("job %s is %s, cannot be cancelled", jobID, job.Status))
	}
}

// Delete removes a job. Only permitted from a terminal state.
func (j *JobStore) Delete(ctx context.Context, id string) error {
	return j.store.DeleteJob(ctx, id)
}

// AttachAgent records assigned_agent_id for a job.
func (j *JobStore) AttachAgent(ctx context.Context, jobID, agentID string) error {
	return j.store.AttachAgent(ctx, jobID, agentID)
}

// DetachAgent clears assigned_agent_id for a job.
func (j *JobStore) DetachAgent(ctx context.Context, jobID string) error {
	return j.store.DetachAgent(ctx, jobID)
}

// Package registry implements the Agent Registry: lifecycle management
// for registered agent pods, heartbeat ingestion, and the agent state
// machine of §4.2.1.
package registry

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cuemby/orchestrator-core/pkg/events"
	"github.com/cuemby/orchestrator-core/pkg/log"
	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

// Registry is the Agent Registry component (C2).
type Registry struct {
	store  storage.Store
	broker *events.Broker
}

// New constructs a Registry backed by store, publishing lifecycle
// events on broker (broker may be nil in tests).
func New(store storage.Store, broker *events.Broker) *Registry {
	return &Registry{store: store, broker: broker}
}

func (r *Registry) publish(ev events.Event) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&ev)
}

// Register implements §4.2's register operation. Idempotent on
// (hostname, pod_ip, port): a pod that re-registers the same address
// reuses its record, reset to booting with counters cleared.
func (r *Registry) Register(ctx context.Context, configName, hostname, podIP string, port int, metadata map[string]string) (*types.Agent, error) {
	if configName == "" {
		return nil, storage.NewError("registry.Register", storage.KindConstraintViolation,
			fmt.Errorf("config_name must be non-empty"))
	}

	existing, err := r.store.FindAgentByAddress(ctx, hostname, podIP, port)
	if err == nil {
		existing.ConfigName = configName
		existing.Status = types.AgentStatusBooting
		existing.CurrentJobID = ""
		existing.Metadata = metadata
		if err := r.store.UpdateAgent(ctx, existing); err != nil {
			return nil, err
		}
		log.WithAgentID(existing.ID).Info().Msg("agent re-registered")
		r.publish(events.Event{Type: events.EventAgentRegistered, AgentID: existing.ID})
		return existing, nil
	}
	if !storage.IsNotFound(err) {
		return nil, err
	}

	agent := &types.Agent{
		ID:         uuid.NewString(),
		ConfigName: configName,
		Hostname:   hostname,
		PodIP:      podIP,
		Port:       port,
		Status:     types.AgentStatusBooting,
		Metadata:   metadata,
	}
	if err := r.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	log.WithAgentID(agent.ID).Info().Msg("agent registered")
	r.publish(events.Event{Type: events.EventAgentRegistered, AgentID: agent.ID})
	return agent, nil
}

// Heartbeat updates last_heartbeat to the server clock and optionally
// transitions status. A heartbeat from an offline or unknown agent
// returns KindNotFound so the pod re-registers.
func (r *Registry) Heartbeat(ctx context.Context, agentID string, status types.AgentStatus, currentJobID *string) error {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status == types.AgentStatusOffline {
		return storage.NewError("registry.Heartbeat", storage.KindNotFound,
			fmt.Errorf("agent %s is offline, must re-register", agentID))
	}
	if status != "" && !canTransition(agent.Status, status) {
		return storage.NewError("registry.Heartbeat", storage.KindConflictingState,
			fmt.Errorf("agent %s cannot transition %s -> %s", agentID, agent.Status, status))
	}
	useStatus := agent.Status
	if status != "" {
		useStatus = status
	}
	return r.store.Heartbeat(ctx, agentID, useStatus, currentJobID)
}

// MarkReady transitions booting -> ready.
func (r *Registry) MarkReady(ctx context.Context, agentID string) error {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status != types.AgentStatusBooting {
		return storage.NewError("registry.MarkReady", storage.KindConflictingState,
			fmt.Errorf("agent %s is %s, not booting", agentID, agent.Status))
	}
	agent.Status = types.AgentStatusReady
	if err := r.store.UpdateAgent(ctx, agent); err != nil {
		return err
	}
	r.publish(events.Event{Type: events.EventAgentReady, AgentID: agentID})
	return nil
}

// MarkWorking transitions ready -> working and sets current_job_id.
// Rejects if status != ready or current_job_id is already set.
func (r *Registry) MarkWorking(ctx context.Context, agentID, jobID string) error {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status != types.AgentStatusReady {
		return storage.NewError("registry.MarkWorking", storage.KindConflictingState,
			fmt.Errorf("agent %s is %s, not ready", agentID, agent.Status))
	}
	if agent.CurrentJobID != "" {
		return storage.NewError("registry.MarkWorking", storage.KindConflictingState,
			fmt.Errorf("agent %s already has current_job_id set", agentID))
	}
	agent.Status = types.AgentStatusWorking
	agent.CurrentJobID = jobID
	if err := r.store.UpdateAgent(ctx, agent); err != nil {
		return err
	}
	r.publish(events.Event{Type: events.EventAgentWorking, AgentID: agentID, JobID: jobID})
	return nil
}

// MarkFinished transitions working -> completed|failed and clears
// current_job_id. Callers must have already recorded the outcome on
// the Job via the job store before calling this.
func (r *Registry) MarkFinished(ctx context.Context, agentID string, outcome types.AgentStatus) error {
	if outcome != types.AgentStatusCompleted && outcome != types.AgentStatusFailed {
		return storage.NewError("registry.MarkFinished", storage.KindConstraintViolation,
			fmt.Errorf("outcome must be completed or failed, got %s", outcome))
	}
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status != types.AgentStatusWorking {
		return storage.NewError("registry.MarkFinished", storage.KindConflictingState,
			fmt.Errorf("agent %s is %s, not working", agentID, agent.Status))
	}
	agent.Status = outcome
	agent.CurrentJobID = ""
	return r.store.UpdateAgent(ctx, agent)
}

// MarkOffline transitions an agent to offline through the agent state
// machine. The stuck-work detector's liveness sweep does not call it; it
// writes the offline status through the store directly.
func (r *Registry) MarkOffline(ctx context.Context, agentID string) error {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if !canTransition(agent.Status, types.AgentStatusOffline) {
		return storage.NewError("registry.MarkOffline", storage.KindConflictingState,
			fmt.Errorf("agent %s cannot go offline from %s", agentID, agent.Status))
	}
	agent.Status = types.AgentStatusOffline
	if err := r.store.UpdateAgent(ctx, agent); err != nil {
		return err
	}
	r.publish(events.Event{Type: events.EventAgentOffline, AgentID: agentID})
	return nil
}

// Remove hard-deletes an agent. Only permitted from offline, failed, or
// completed.
func (r *Registry) Remove(ctx context.Context, agentID string) error {
	if err := r.store.DeleteAgent(ctx, agentID); err != nil {
		return err
	}
	r.publish(events.Event{Type: events.EventAgentRemoved, AgentID: agentID})
	return nil
}

// Get returns a single agent by ID.
func (r *Registry) Get(ctx context.Context, agentID string) (*types.Agent, error) {
	return r.store.GetAgent(ctx, agentID)
}

// List returns agents matching filter.
func (r *Registry) List(ctx context.Context, filter storage.AgentFilter) ([]*types.Agent, error) {
	return r.store.ListAgents(ctx, filter)
}

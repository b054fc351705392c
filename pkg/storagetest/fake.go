// Package storagetest provides an in-memory storage.Store fake shared by
// the registry, jobstore, and dispatcher unit tests.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

// Fake is an in-memory storage.Store. It is not safe for concurrent
// dispatch-claim testing beyond simple sequential scenarios: it exists
// to let component tests exercise state-machine and CAS logic without
// a live Postgres instance.
type Fake struct {
	mu sync.Mutex

	Jobs          map[string]*types.Job
	Agents        map[string]*types.Agent
	Requirements  map[string]*types.Requirement
	Sources       map[string]*types.Source
	Citations     map[string]*types.Citation
	Uploads       map[string]*types.UploadBundle
	AgentConfigs  map[string]*types.AgentConfigSpec
	AuditEvents   []storage.AuditEvent
	nextAuditID   int64
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Jobs:         map[string]*types.Job{},
		Agents:       map[string]*types.Agent{},
		Requirements: map[string]*types.Requirement{},
		Sources:      map[string]*types.Source{},
		Citations:    map[string]*types.Citation{},
		Uploads:      map[string]*types.UploadBundle{},
		AgentConfigs: map[string]*types.AgentConfigSpec{},
	}
}

func (f *Fake) CreateJob(ctx context.Context, job *types.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Jobs[job.ID]; ok {
		return storage.NewError("CreateJob", storage.KindConstraintViolation, fmt.Errorf("duplicate id"))
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	cp := *job
	f.Jobs[job.ID] = &cp
	return nil
}

func (f *Fake) GetJob(ctx context.Context, id string) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.Jobs[id]
	if !ok {
		return nil, storage.NewError("GetJob", storage.KindNotFound, fmt.Errorf("job %s not found", id))
	}
	cp := *job
	return &cp, nil
}

func (f *Fake) ListJobs(ctx context.Context, filter storage.JobFilter) ([]*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Job
	for _, j := range f.Jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *Fake) UpdateJobStatus(ctx context.Context, jobID string, from, to types.JobStatus, mutate func(*types.Job)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.Jobs[jobID]
	if !ok {
		return storage.NewError("UpdateJobStatus", storage.KindNotFound, fmt.Errorf("job %s not found", jobID))
	}
	if job.Status != from {
		return storage.NewError("UpdateJobStatus", storage.KindConflictingState,
			fmt.Errorf("job %s is %s, not %s", jobID, job.Status, from))
	}
	job.Status = to
	if mutate != nil {
		mutate(job)
	}
	return nil
}

func (f *Fake) DeleteJob(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.Jobs[id]
	if !ok {
		return storage.NewError("DeleteJob", storage.KindNotFound, fmt.Errorf("job %s not found", id))
	}
	if !job.Status.Terminal() {
		return storage.NewError("DeleteJob", storage.KindConflictingState, fmt.Errorf("job %s not terminal", id))
	}
	delete(f.Jobs, id)
	return nil
}

func (f *Fake) AttachAgent(ctx context.Context, jobID, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.Jobs[jobID]
	if !ok {
		return storage.NewError("AttachAgent", storage.KindNotFound, fmt.Errorf("job %s not found", jobID))
	}
	job.AssignedAgentID = agentID
	return nil
}

func (f *Fake) DetachAgent(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.Jobs[jobID]
	if !ok {
		return storage.NewError("DetachAgent", storage.KindNotFound, fmt.Errorf("job %s not found", jobID))
	}
	job.AssignedAgentID = ""
	return nil
}

// ClaimJobsForDispatch provides a best-effort, single-threaded
// approximation of the skip-locked claim for dispatcher unit tests.
func (f *Fake) ClaimJobsForDispatch(ctx context.Context, limit int, fn func(tx storage.Tx, jobs []*types.Job) error) error {
	f.mu.Lock()
	var created []*types.Job
	for _, j := range f.Jobs {
		if j.Status == types.JobStatusCreated {
			cp := *j
			created = append(created, &cp)
		}
	}
	sort.Slice(created, func(i, k int) bool { return created[i].CreatedAt.Before(created[k].CreatedAt) })
	if len(created) > limit {
		created = created[:limit]
	}
	f.mu.Unlock()
	return fn(&fakeTx{f: f}, created)
}

type fakeTx struct{ f *Fake }

func (t *fakeTx) ClaimReadyAgent(ctx context.Context, configName string) (*types.Agent, error) {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	var best *types.Agent
	for _, a := range t.f.Agents {
		if a.Status == types.AgentStatusReady && a.ConfigName == configName && a.CurrentJobID == "" {
			if best == nil || a.LastHeartbeat.After(best.LastHeartbeat) {
				best = a
			}
		}
	}
	if best == nil {
		return nil, storage.NewError("ClaimReadyAgent", storage.KindNotFound, fmt.Errorf("no ready agent for %s", configName))
	}
	cp := *best
	return &cp, nil
}

func (t *fakeTx) AssignJob(ctx context.Context, jobID, agentID string) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	job, ok := t.f.Jobs[jobID]
	if !ok {
		return storage.NewError("AssignJob", storage.KindNotFound, fmt.Errorf("job %s not found", jobID))
	}
	job.Status = types.JobStatusProcessing
	job.AssignedAgentID = agentID
	return nil
}

func (t *fakeTx) MarkAgentWorking(ctx context.Context, agentID, jobID string) error {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	agent, ok := t.f.Agents[agentID]
	if !ok {
		return storage.NewError("MarkAgentWorking", storage.KindNotFound, fmt.Errorf("agent %s not found", agentID))
	}
	agent.Status = types.AgentStatusWorking
	agent.CurrentJobID = jobID
	return nil
}

func (f *Fake) CreateAgent(ctx context.Context, agent *types.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Agents[agent.ID]; ok {
		return storage.NewError("CreateAgent", storage.KindConstraintViolation, fmt.Errorf("duplicate id"))
	}
	now := time.Now()
	if agent.RegisteredAt.IsZero() {
		agent.RegisteredAt = now
	}
	if agent.LastHeartbeat.IsZero() {
		agent.LastHeartbeat = now
	}
	cp := *agent
	f.Agents[agent.ID] = &cp
	return nil
}

func (f *Fake) FindAgentByAddress(ctx context.Context, hostname, podIP string, port int) (*types.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.Agents {
		if a.Hostname == hostname && a.PodIP == podIP && a.Port == port {
			cp := *a
			return &cp, nil
		}
	}
	return nil, storage.NewError("FindAgentByAddress", storage.KindNotFound, fmt.Errorf("no agent at %s/%s:%d", hostname, podIP, port))
}

func (f *Fake) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Agents[id]
	if !ok {
		return nil, storage.NewError("GetAgent", storage.KindNotFound, fmt.Errorf("agent %s not found", id))
	}
	cp := *a
	return &cp, nil
}

func (f *Fake) ListAgents(ctx context.Context, filter storage.AgentFilter) ([]*types.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Agent
	for _, a := range f.Agents {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.ConfigName != "" && a.ConfigName != filter.ConfigName {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (f *Fake) UpdateAgent(ctx context.Context, agent *types.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Agents[agent.ID]; !ok {
		return storage.NewError("UpdateAgent", storage.KindNotFound, fmt.Errorf("agent %s not found", agent.ID))
	}
	cp := *agent
	f.Agents[agent.ID] = &cp
	return nil
}

func (f *Fake) Heartbeat(ctx context.Context, agentID string, status types.AgentStatus, currentJobID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Agents[agentID]
	if !ok {
		return storage.NewError("Heartbeat", storage.KindNotFound, fmt.Errorf("agent %s not found", agentID))
	}
	if a.Status == types.AgentStatusOffline {
		return storage.NewError("Heartbeat", storage.KindNotFound, fmt.Errorf("agent %s offline", agentID))
	}
	a.Status = status
	a.LastHeartbeat = time.Now()
	if currentJobID != nil {
		a.CurrentJobID = *currentJobID
	}
	return nil
}

func (f *Fake) DeleteAgent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Agents[id]
	if !ok {
		return storage.NewError("DeleteAgent", storage.KindNotFound, fmt.Errorf("agent %s not found", id))
	}
	if a.Status != types.AgentStatusOffline && a.Status != types.AgentStatusFailed && a.Status != types.AgentStatusCompleted {
		return storage.NewError("DeleteAgent", storage.KindConflictingState, fmt.Errorf("agent %s is %s", id, a.Status))
	}
	delete(f.Agents, id)
	return nil
}

func (f *Fake) CreateRequirement(ctx context.Context, req *types.Requirement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *req
	f.Requirements[req.ID] = &cp
	return nil
}

func (f *Fake) UpdateRequirementStatus(ctx context.Context, id string, status types.RequirementStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Requirements[id]
	if !ok {
		return storage.NewError("UpdateRequirementStatus", storage.KindNotFound, fmt.Errorf("requirement %s not found", id))
	}
	r.Status = status
	return nil
}

func (f *Fake) ListRequirementsByJob(ctx context.Context, jobID string) ([]*types.Requirement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Requirement
	for _, r := range f.Requirements {
		if r.JobID == jobID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *Fake) CountRequirementsByJob(ctx context.Context, jobID string) (storage.RequirementCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c storage.RequirementCounts
	for _, r := range f.Requirements {
		if r.JobID != jobID {
			continue
		}
		switch r.Status {
		case types.RequirementStatusPending:
			c.Pending++
		case types.RequirementStatusValidating:
			c.Validating++
		case types.RequirementStatusIntegrated:
			c.Integrated++
		case types.RequirementStatusRejected:
			c.Rejected++
		case types.RequirementStatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (f *Fake) CreateSource(ctx context.Context, src *types.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *src
	f.Sources[src.ID] = &cp
	return nil
}

func (f *Fake) CreateCitation(ctx context.Context, cit *types.Citation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cit
	f.Citations[cit.ID] = &cp
	return nil
}

func (f *Fake) ListSourcesByJob(ctx context.Context, jobID string) ([]*types.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Source
	for _, s := range f.Sources {
		if s.JobID == jobID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *Fake) ListCitationsByJob(ctx context.Context, jobID string) ([]*types.Citation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Citation
	for _, c := range f.Citations {
		if c.JobID == jobID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *Fake) CreateUploadBundle(ctx context.Context, bundle *types.UploadBundle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *bundle
	f.Uploads[bundle.ID] = &cp
	return nil
}

func (f *Fake) GetUploadBundle(ctx context.Context, id string) (*types.UploadBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.Uploads[id]
	if !ok {
		return nil, storage.NewError("GetUploadBundle", storage.KindNotFound, fmt.Errorf("bundle %s not found", id))
	}
	cp := *b
	return &cp, nil
}

func (f *Fake) UpsertAgentConfig(ctx context.Context, spec *types.AgentConfigSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *spec
	f.AgentConfigs[spec.Name] = &cp
	return nil
}

func (f *Fake) GetAgentConfig(ctx context.Context, name string) (*types.AgentConfigSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.AgentConfigs[name]
	if !ok {
		return nil, storage.NewError("GetAgentConfig", storage.KindNotFound, fmt.Errorf("config %s not found", name))
	}
	cp := *c
	return &cp, nil
}

func (f *Fake) ListAgentConfigs(ctx context.Context) ([]*types.AgentConfigSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.AgentConfigSpec
	for _, c := range f.AgentConfigs {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (f *Fake) RecordAuditEvent(ctx context.Context, ev storage.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextAuditID++
	ev.ID = f.nextAuditID
	f.AuditEvents = append(f.AuditEvents, ev)
	return nil
}

func (f *Fake) ListAuditEvents(ctx context.Context, jobID string, limit, offset int) ([]storage.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.AuditEvent
	for _, ev := range f.AuditEvents {
		if ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) JobStatusCounts(ctx context.Context) (map[types.JobStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[types.JobStatus]int{}
	for _, j := range f.Jobs {
		out[j.Status]++
	}
	return out, nil
}

func (f *Fake) AgentStatusCounts(ctx context.Context) (map[types.AgentStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[types.AgentStatus]int{}
	for _, a := range f.Agents {
		out[a.Status]++
	}
	return out, nil
}

func (f *Fake) DailyJobCounts(ctx context.Context, days int) (map[string]int, error) {
	return map[string]int{}, nil
}

func (f *Fake) StuckJobs(ctx context.Context, staleThreshold int64) ([]*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Job
	for _, j := range f.Jobs {
		if j.Status == types.JobStatusProcessing || j.Status == types.JobStatusCreated {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *Fake) Ping(ctx context.Context) error { return nil }
func (f *Fake) Close() error                   { return nil }

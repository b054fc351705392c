package storage

import (
	"context"
	"time"

	"github.com/cuemby/orchestrator-core/pkg/types"
)

// JobFilter narrows a job listing.
type JobFilter struct {
	Status types.JobStatus // empty means "any"
	Limit  int
}

// AgentFilter narrows an agent listing.
type AgentFilter struct {
	Status     types.AgentStatus
	ConfigName string
}

// AuditEvent is one row of the append-only audit log backing
// GET /jobs/{id}/audit.
type AuditEvent struct {
	ID        int64
	JobID     string
	AgentID   string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// RequirementCounts is the per-status tally used for progress reporting.
type RequirementCounts struct {
	Pending    int
	Validating int
	Integrated int
	Rejected   int
	Failed     int
}

// Store is the narrow, transactional interface over the relational
// store, grouped by aggregate root. Implementations MUST convert driver
// errors into the *Error taxonomy before returning.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*types.Job, error)
	// UpdateJobStatus performs a compare-and-swap: the update only
	// applies if the row's current status equals from. A mismatch
	// surfaces as KindConflictingState.
	UpdateJobStatus(ctx context.Context, jobID string, from, to types.JobStatus, mutate func(*types.Job)) error
	DeleteJob(ctx context.Context, id string) error
	AttachAgent(ctx context.Context, jobID, agentID string) error
	DetachAgent(ctx context.Context, jobID string) error

	// ClaimJobsForDispatch selects up to limit `created` jobs ordered by
	// created_at (id as tiebreak) with FOR UPDATE SKIP LOCKED, within
	// the transaction passed to fn; fn must perform the corresponding
	// agent claim and both job/agent updates before returning.
	ClaimJobsForDispatch(ctx context.Context, limit int, fn func(tx Tx, jobs []*types.Job) error) error

	// Agents
	CreateAgent(ctx context.Context, agent *types.Agent) error
	// FindAgentByAddress looks up an agent by the (hostname, pod_ip, port)
	// tuple that uniquely identifies a live agent per §3.
	FindAgentByAddress(ctx context.Context, hostname, podIP string, port int) (*types.Agent, error)
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	ListAgents(ctx context.Context, filter AgentFilter) ([]*types.Agent, error)
	UpdateAgent(ctx context.Context, agent *types.Agent) error
	// Heartbeat updates last_heartbeat using the database server clock
	// and optionally status/current_job_id.
	Heartbeat(ctx context.Context, agentID string, status types.AgentStatus, currentJobID *string) error
	DeleteAgent(ctx context.Context, id string) error

	// Requirements
	CreateRequirement(ctx context.Context, req *types.Requirement) error
	UpdateRequirementStatus(ctx context.Context, id string, status types.RequirementStatus) error
	ListRequirementsByJob(ctx context.Context, jobID string) ([]*types.Requirement, error)
	CountRequirementsByJob(ctx context.Context, jobID string) (RequirementCounts, error)

	// Sources & Citations
	CreateSource(ctx context.Context, src *types.Source) error
	CreateCitation(ctx context.Context, cit *types.Citation) error
	ListSourcesByJob(ctx context.Context, jobID string) ([]*types.Source, error)
	ListCitationsByJob(ctx context.Context, jobID string) ([]*types.Citation, error)

	// Upload bundles
	CreateUploadBundle(ctx context.Context, bundle *types.UploadBundle) error
	GetUploadBundle(ctx context.Context, id string) (*types.UploadBundle, error)

	// Agent config catalog
	UpsertAgentConfig(ctx context.Context, spec *types.AgentConfigSpec) error
	GetAgentConfig(ctx context.Context, name string) (*types.AgentConfigSpec, error)
	ListAgentConfigs(ctx context.Context) ([]*types.AgentConfigSpec, error)

	// Audit
	RecordAuditEvent(ctx context.Context, ev AuditEvent) error
	ListAuditEvents(ctx context.Context, jobID string, limit, offset int) ([]AuditEvent, error)

	// Statistics
	JobStatusCounts(ctx context.Context) (map[types.JobStatus]int, error)
	AgentStatusCounts(ctx context.Context) (map[types.AgentStatus]int, error)
	DailyJobCounts(ctx context.Context, days int) (map[string]int, error)

	// StuckJobs returns jobs in `processing` or `created` whose
	// updated_at is older than staleThreshold, for the stuck-work
	// report. Created jobs are never auto-escalated by this query; they
	// are reported so a caller can see a job with no compatible agent.
	StuckJobs(ctx context.Context, staleThreshold int64) ([]*types.Job, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the subset of transactional operations the dispatcher needs
// while holding the claim transaction open.
type Tx interface {
	ClaimReadyAgent(ctx context.Context, configName string) (*types.Agent, error)
	AssignJob(ctx context.Context, jobID, agentID string) error
	MarkAgentWorking(ctx context.Context, agentID, jobID string) error
}

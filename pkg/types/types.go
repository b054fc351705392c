package types

import (
	"encoding/json"
	"time"
)

// JobStatus represents the current lifecycle state of a Job.
type JobStatus string

const (
	JobStatusCreated       JobStatus = "created"
	JobStatusProcessing    JobStatus = "processing"
	JobStatusPendingReview JobStatus = "pending_review"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusFailed        JobStatus = "failed"
	JobStatusCancelled     JobStatus = "cancelled"
)

// Terminal reports whether a job in this status can transition further.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// RoleStatus tracks the progress of one of a job's internal roles
// (creator, validator). Informational only; the orchestrator does not
// act on it beyond surfacing it through the API.
type RoleStatus string

const (
	RoleStatusPending    RoleStatus = "pending"
	RoleStatusProcessing RoleStatus = "processing"
	RoleStatusCompleted  RoleStatus = "completed"
	RoleStatusFailed     RoleStatus = "failed"
)

// Job is a unit of work submitted for an agent to process.
type Job struct {
	ID          string
	Description string
	ConfigName  string // selects the AgentConfigSpec an agent must match
	UploadID    string // optional, references an UploadBundle

	// Context and Instructions are optional orchestration hints supplied
	// at create time and relayed verbatim to the agent's start command;
	// the orchestrator does not interpret either.
	Context      string
	Instructions string

	Status          JobStatus
	CreatorStatus   RoleStatus
	ValidatorStatus RoleStatus

	AssignedAgentID string

	DispatchAttempts int

	FrozenData json.RawMessage // snapshot captured when frozen for review

	ErrorMessage string
	ErrorDetails json.RawMessage // structured diagnostic, e.g. {"reason": "agent_offline"}

	TokensUsed   int64
	RequestCount int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// NewErrorDetails marshals a structured diagnostic payload for
// Job.ErrorDetails, e.g. {"reason": "agent_offline"}.
func NewErrorDetails(fields map[string]interface{}) json.RawMessage {
	b, err := json.Marshal(fields)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// AgentStatus represents the current lifecycle state of an Agent.
type AgentStatus string

const (
	AgentStatusBooting   AgentStatus = "booting"
	AgentStatusReady     AgentStatus = "ready"
	AgentStatusWorking   AgentStatus = "working"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusOffline   AgentStatus = "offline"
)

// Terminal reports whether an agent in this status will not transition
// back into the pool without re-registration.
func (s AgentStatus) Terminal() bool {
	switch s {
	case AgentStatusFailed, AgentStatusOffline:
		return true
	default:
		return false
	}
}

// Agent is a registered worker pod capable of processing jobs.
type Agent struct {
	ID         string
	ConfigName string // the AgentConfigSpec this agent satisfies

	Hostname string
	PodIP    string
	Port     int

	Status       AgentStatus
	CurrentJobID string

	Metadata map[string]string

	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// RequirementStatus represents the lifecycle of a Requirement artifact
// produced by an agent while processing a job.
type RequirementStatus string

const (
	RequirementStatusPending    RequirementStatus = "pending"
	RequirementStatusValidating RequirementStatus = "validating"
	RequirementStatusIntegrated RequirementStatus = "integrated"
	RequirementStatusRejected   RequirementStatus = "rejected"
	RequirementStatusFailed     RequirementStatus = "failed"
)

// Requirement is an artifact tied to a job. The orchestrator persists
// and counts these for progress reporting; it does not interpret their
// content.
type Requirement struct {
	ID          string
	JobID       string
	GraphNodeID string
	Status      RequirementStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Source is a reference document discovered or used while processing a
// job.
type Source struct {
	ID        string
	JobID     string
	URI       string
	Title     string
	CreatedAt time.Time
}

// Citation links a Source to a specific location within a job's output.
type Citation struct {
	ID        string
	JobID     string
	SourceID  string
	Locator   string
	CreatedAt time.Time
}

// UploadFile describes one file within an UploadBundle.
type UploadFile struct {
	Name     string
	Size     int64
	MimeType string
}

// UploadBundle is an immutable named group of files attached to a job at
// creation time.
type UploadBundle struct {
	ID        string
	Files     []UploadFile
	CreatedAt time.Time
}

// AgentConfigSpec is the flat, declarative description of a class of
// agent pod (image, resource envelope, capability tags). Replaces the
// inheritance-based profile model; see design notes.
type AgentConfigSpec struct {
	Name          string            `yaml:"name"`
	Image         string            `yaml:"image"`
	CPURequest    string            `yaml:"cpu_request"`
	MemoryRequest string            `yaml:"memory_request"`
	CPULimit      string            `yaml:"cpu_limit"`
	MemoryLimit   string            `yaml:"memory_limit"`
	Capabilities  []string          `yaml:"capabilities"`
	Env           map[string]string `yaml:"env"`
}

// Event is a point-in-time occurrence in the job/agent lifecycle. No
// component uses it: the in-process broker publishes events.Event, and
// nothing writes lifecycle transitions to the audit log.
type Event struct {
	Type      string
	Timestamp time.Time
	JobID     string
	AgentID   string
	Message   string
	Data      map[string]string
}

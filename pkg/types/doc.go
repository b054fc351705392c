/*
Package types defines the core data structures shared across the
orchestrator: jobs, agents, requirements, sources/citations, and
upload bundles. These types are used by storage, jobstore, registry,
review, detector, dispatcher, agentclient, and api for state
management and wire communication.

# Core types

Job lifecycle:

	Job: a unit of work tracked from creation through completion.
	JobStatus: created, processing, pending_review, completed, failed, cancelled.
	RoleStatus: per-role (creator/validator) sub-status within a job.

Agent lifecycle:

	Agent: a registered worker pod capable of executing jobs.
	AgentStatus: booting, ready, working, completed, failed, offline.

Requirement tracking:

	Requirement: one deliverable tracked within a job's processing.
	RequirementStatus: pending, validating, integrated, rejected, failed.
	Source / Citation: supporting evidence attached to a job.

Uploads:

	UploadFile / UploadBundle: the file set attached to a job at
	create time and relayed to its agent.

Agent configuration:

	AgentConfigSpec / AgentConfigCatalog (configcatalog.go): the named
	configuration profiles an agent can be registered against.

# State machines

Job and Agent each follow a state machine enforced outside this
package — jobstore.JobStore (Job) and registry.Registry's fsm.go
(Agent) own the transition tables; types.go only defines the states
themselves and is silent on which transitions are legal.

# Design patterns

Enums are typed string constants, matching the rest of the corpus:

	type JobStatus string
	const (
		JobStatusCreated JobStatus = "created"
		...
	)

# Thread safety

Types in this package carry no synchronization of their own: callers
holding a *Job or *Agent must treat it as a snapshot. storage.Store
and its callers (jobstore, registry) are responsible for the
compare-and-swap discipline that makes concurrent updates safe.
*/
package types

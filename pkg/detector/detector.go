// Package detector implements the Stuck-Work Detector (C6): agent
// liveness sweeps, job recovery grace windows, and progress
// staleness/escalation reporting, per §4.6.
package detector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/orchestrator-core/pkg/log"
	"github.com/cuemby/orchestrator-core/pkg/metrics"
	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

// Defaults for the detector's thresholds, all configurable.
const (
	DefaultLivenessThreshold      = 90 * time.Second
	DefaultRecoveryGraceWindow    = 120 * time.Second
	DefaultProgressStaleThreshold = 10 * time.Minute
	DefaultEscalationThreshold    = 60 * time.Minute
	DefaultTickInterval           = 30 * time.Second
)

// Dispatcher is the narrow dispatch-nudge interface the detector is
// constructed with. The detector never returns a job to created and
// makes no Kick call.
type Dispatcher interface {
	Kick()
}

// StuckJob is one entry of the progress staleness report.
type StuckJob struct {
	Job            *types.Job
	StaleFor       time.Duration
	WillEscalateAt time.Time
}

// Detector is the Stuck-Work Detector component (C6).
type Detector struct {
	store  storage.Store
	kicker Dispatcher
	logger zerolog.Logger

	livenessThreshold time.Duration
	recoveryGrace     time.Duration
	staleThreshold    time.Duration
	escalation        time.Duration
	tickInterval      time.Duration

	mu          sync.RWMutex
	stuckReport []StuckJob

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures non-default thresholds.
type Option func(*Detector)

func WithLivenessThreshold(d time.Duration) Option   { return func(det *Detector) { det.livenessThreshold = d } }
func WithRecoveryGrace(d time.Duration) Option        { return func(det *Detector) { det.recoveryGrace = d } }
func WithStaleThreshold(d time.Duration) Option       { return func(det *Detector) { det.staleThreshold = d } }
func WithEscalationThreshold(d time.Duration) Option  { return func(det *Detector) { det.escalation = d } }
func WithTickInterval(d time.Duration) Option         { return func(det *Detector) { det.tickInterval = d } }

// New constructs a Detector with the §4.6 defaults, overridden by opts.
func New(store storage.Store, kicker Dispatcher, opts ...Option) *Detector {
	d := &Detector{
		store:             store,
		kicker:            kicker,
		logger:            log.WithComponent("detector"),
		livenessThreshold: DefaultLivenessThreshold,
		recoveryGrace:     DefaultRecoveryGraceWindow,
		staleThreshold:    DefaultProgressStaleThreshold,
		escalation:        DefaultEscalationThreshold,
		tickInterval:      DefaultTickInterval,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins the detector loop.
func (d *Detector) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop halts the detector loop.
func (d *Detector) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Detector) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.reconcileAgents()
			d.reconcileJobs()
		case <-d.stopCh:
			return
		}
	}
}

// reconcileAgents is the liveness sweep: agents whose heartbeat has
// gone stale transition to offline, and any job they were working is
// entered into the recovery grace window.
func (d *Detector) reconcileAgents() {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DetectorCycleDuration, "agents")

	ctx := context.Background()
	agents, err := d.store.ListAgents(ctx, storage.AgentFilter{})
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to list agents for liveness sweep")
		return
	}

	now := time.Now()
	for _, agent := range agents {
		if agent.Status == types.AgentStatusOffline {
			continue
		}
		if now.Sub(agent.LastHeartbeat) < d.livenessThreshold {
			continue
		}

		jobID := agent.CurrentJobID
		agent.Status = types.AgentStatusOffline
		agent.CurrentJobID = ""
		if err := d.store.UpdateAgent(ctx, agent); err != nil {
			d.logger.Error().Err(err).Str("agent_id", agent.ID).Msg("failed to mark agent offline")
			continue
		}
		metrics.AgentsMarkedOfflineTotal.Inc()
		d.logger.Warn().Str("agent_id", agent.ID).Msg("agent marked offline on liveness timeout")

		if jobID == "" {
			continue
		}
		d.recoverJob(ctx, jobID)
	}
}

// recoverJob implements the recovery grace window: a job left
// `processing` by an offline agent is force-failed with reason
// agent_offline once its updated_at is older than recoveryGrace. It is
// checked when the agent is marked offline and again on every
// reconcileJobs pass while the assigned agent stays offline or absent.
// The job is never returned to created for reassignment.
func (d *Detector) recoverJob(ctx context.Context, jobID string) {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	if job.Status != types.JobStatusProcessing {
		return
	}
	if time.Since(job.UpdatedAt) < d.recoveryGrace {
		return
	}

	err = d.store.UpdateJobStatus(ctx, jobID, types.JobStatusProcessing, types.JobStatusFailed, func(j *types.Job) {
		j.ErrorMessage = "agent_offline"
		j.ErrorDetails = types.NewErrorDetails(map[string]interface{}{"reason": "agent_offline"})
		j.AssignedAgentID = ""
	})
	if err != nil {
		if !storage.IsConflictingState(err) {
			d.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to escalate orphaned job")
		}
		return
	}
	metrics.JobsEscalatedTotal.WithLabelValues("agent_offline").Inc()
}

// reconcileJobs builds the progress staleness report and escalates
// `processing` jobs that have exceeded the hard escalation threshold.
// `created` jobs that have gone stale (no compatible agent has ever
// claimed them) are added to the same report but never auto-escalated:
// the orchestrator has no way to know whether a matching agent is
// simply slow to register.
func (d *Detector) reconcileJobs() {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DetectorCycleDuration, "jobs")

	ctx := context.Background()
	now := time.Now()
	var report []StuckJob

	processing, err := d.store.ListJobs(ctx, storage.JobFilter{Status: types.JobStatusProcessing})
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to list processing jobs")
		return
	}
	for _, job := range processing {
		if job.AssignedAgentID != "" {
			agent, err := d.store.GetAgent(ctx, job.AssignedAgentID)
			if storage.IsNotFound(err) || (err == nil && agent.Status == types.AgentStatusOffline) {
				d.recoverJob(ctx, job.ID)
			}
		}

		staleFor := now.Sub(job.UpdatedAt)
		if staleFor < d.staleThreshold {
			continue
		}

		if staleFor >= d.escalation {
			err := d.store.UpdateJobStatus(ctx, job.ID, types.JobStatusProcessing, types.JobStatusFailed, func(j *types.Job) {
				j.ErrorMessage = "no_progress"
				j.ErrorDetails = types.NewErrorDetails(map[string]interface{}{"reason": "no_progress"})
			})
			if err == nil {
				metrics.JobsEscalatedTotal.WithLabelValues("no_progress").Inc()
				continue
			}
			if !storage.IsConflictingState(err) {
				d.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to escalate stalled job")
			}
		}

		report = append(report, StuckJob{
			Job:            job,
			StaleFor:       staleFor,
			WillEscalateAt: job.UpdatedAt.Add(d.escalation),
		})
	}

	created, err := d.store.ListJobs(ctx, storage.JobFilter{Status: types.JobStatusCreated})
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to list created jobs")
	} else {
		for _, job := range created {
			staleFor := now.Sub(job.UpdatedAt)
			if staleFor < d.staleThreshold {
				continue
			}
			report = append(report, StuckJob{Job: job, StaleFor: staleFor})
		}
	}

	d.mu.Lock()
	d.stuckReport = report
	d.mu.Unlock()
}

// StuckReport returns the most recent progress staleness report,
// surfaced by GET /statistics/stuck-jobs.
func (d *Detector) StuckReport() []StuckJob {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]StuckJob, len(d.stuckReport))
	copy(out, d.stuckReport)
	return out
}

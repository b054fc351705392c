// Package dispatcher implements the Dispatcher (C4): matches created
// jobs to ready agents and pushes the start command, with the
// post-dispatch retry/rollback handling of §4.4.2.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/orchestrator-core/pkg/agentclient"
	"github.com/cuemby/orchestrator-core/pkg/log"
	"github.com/cuemby/orchestrator-core/pkg/metrics"
	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

// BatchSize is N in §4.4.1: the number of created jobs considered per tick.
const BatchSize = 16

// MaxDispatchAttempts is the cap in §4.4.2 before a job is marked
// failed with reason no_compatible_agent.
const MaxDispatchAttempts = 5

// StartCommandTimeout bounds a single outbound start call.
const StartCommandTimeout = 10 * time.Second

// startRetryDelays are the post-dispatch retry backoffs of §4.4.2.
var startRetryDelays = []time.Duration{1 * time.Second, 2 * time.Second}

// Dispatcher is the Dispatcher component (C4).
type Dispatcher struct {
	store  storage.Store
	client agentclient.Client
	logger zerolog.Logger

	tickInterval time.Duration
	kickCh       chan struct{}
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// New constructs a Dispatcher. tickInterval is the polling cadence
// (default 2s per §4.9). Kick sends to a one-slot buffered channel
// without blocking and triggers an out-of-band pass; the review
// coordinator is its only caller in the service. Creating a job or an
// agent reaching ready does not trigger a pass: that work waits for the
// next tick.
func New(store storage.Store, client agentclient.Client, tickInterval time.Duration) *Dispatcher {
	return &Dispatcher{
		store:        store,
		client:       client,
		logger:       log.WithComponent("dispatcher"),
		tickInterval: tickInterval,
		kickCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the dispatcher loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop halts the dispatcher loop.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// Kick requests an out-of-band dispatch pass as soon as the loop next
// selects; non-blocking, coalesces bursts into one extra pass.
func (d *Dispatcher) Kick() {
	select {
	case d.kickCh <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.tick()
		case <-d.kickCh:
			d.tick()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) tick() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DispatchTickDuration)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := d.store.ClaimJobsForDispatch(ctx, BatchSize, func(tx storage.Tx, jobs []*types.Job) error {
		for _, job := range jobs {
			d.dispatchOne(ctx, tx, job)
		}
		return nil
	})
	if err != nil {
		d.logger.Error().Err(err).Msg("dispatch tick failed")
	}
}

// dispatchOne tries to match a single claimed job to a ready agent.
// Errors finding an agent are not fatal to the tick: the job simply
// stays created and is reconsidered next pass.
func (d *Dispatcher) dispatchOne(ctx context.Context, tx storage.Tx, job *types.Job) {
	agent, err := tx.ClaimReadyAgent(ctx, job.ConfigName)
	if err != nil {
		if storage.IsNotFound(err) {
			return
		}
		d.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to claim agent")
		return
	}

	if err := tx.AssignJob(ctx, job.ID, agent.ID); err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to assign job")
		return
	}
	if err := tx.MarkAgentWorking(ctx, agent.ID, job.ID); err != nil {
		d.logger.Error().Err(err).Str("agent_id", agent.ID).Msg("failed to mark agent working")
		return
	}

	metrics.JobsDispatchedTotal.Inc()
	go d.pushStartCommand(job.ID, agent.ID)
}

// pushStartCommand runs the post-assignment start call and its retry
// policy (§4.4.2) outside the claim transaction, since an HTTP round
// trip to an agent pod must never hold a database lock.
func (d *Dispatcher) pushStartCommand(jobID, agentID string) {
	job, err := d.store.GetJob(context.Background(), jobID)
	if err != nil {
		d.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to reload job for start command")
		return
	}
	agent, err := d.store.GetAgent(context.Background(), agentID)
	if err != nil {
		d.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to reload agent for start command")
		return
	}

	attempts := append([]time.Duration{0}, startRetryDelays...)
	var lastErr error
	for i, delay := range attempts {
		if delay > 0 {
			time.Sleep(delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), StartCommandTimeout)
		lastErr = d.client.Start(ctx, agent, job)
		cancel()
		if lastErr == nil {
			return
		}
		d.logger.Warn().Err(lastErr).Str("job_id", jobID).Int("attempt", i+1).Msg("start command failed")
	}

	metrics.DispatchFailuresTotal.WithLabelValues("start_command_unreachable").Inc()
	d.rollback(job, lastErr)
}

// rollback implements the §4.4.2 failure path: roll processing back to
// created, increment dispatch_attempts, and escalate to failed with
// reason no_compatible_agent once the cap is reached.
func (d *Dispatcher) rollback(job *types.Job, cause error) {
	ctx := context.Background()

	if job.AssignedAgentID != "" {
		if agent, agentErr := d.store.GetAgent(ctx, job.AssignedAgentID); agentErr == nil {
			agent.Status = types.AgentStatusFailed
			agent.CurrentJobID = ""
			if updErr := d.store.UpdateAgent(ctx, agent); updErr != nil {
				d.logger.Error().Err(updErr).Str("agent_id", agent.ID).Msg("failed to mark agent failed after start command failure")
			}
		}
	}

	err := d.store.UpdateJobStatus(ctx, job.ID, types.JobStatusProcessing, types.JobStatusCreated, func(j *types.Job) {
		j.AssignedAgentID = ""
		j.DispatchAttempts++
		j.ErrorMessage = cause.Error()
		j.ErrorDetails = types.NewErrorDetails(map[string]interface{}{
			"reason":            cause.Error(),
			"dispatch_attempts": j.DispatchAttempts,
		})
	})
	if err != nil {
		d.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to roll back job after dispatch failure")
		return
	}

	if job.DispatchAttempts+1 >= MaxDispatchAttempts {
		failErr := d.store.UpdateJobStatus(ctx, job.ID, types.JobStatusCreated, types.JobStatusFailed, func(j *types.Job) {
			j.ErrorMessage = "no_compatible_agent"
			j.ErrorDetails = types.NewErrorDetails(map[string]interface{}{"reason": "no_compatible_agent"})
		})
		if failErr != nil {
			d.logger.Error().Err(failErr).Str("job_id", job.ID).Msg("failed to escalate exhausted job")
			return
		}
		metrics.JobsEscalatedTotal.WithLabelValues("no_compatible_agent").Inc()
	}
}

// Package background implements the Background Scheduler (C9): the
// aggregation point for the orchestrator's periodic work. The
// dispatcher and detector already run their own tick loops (§4.4/§4.6);
// this package starts and stops them together, and owns the one
// genuinely calendar-scheduled task — the daily statistics rollup —
// plus the §7 failure-pause policy. Only the rollup runs under that
// policy: the dispatcher and detector loops have no failure pause,
// overlap guard or panic recovery from this package.
package background

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuemby/orchestrator-core/pkg/log"
	"github.com/cuemby/orchestrator-core/pkg/metrics"
	"github.com/cuemby/orchestrator-core/pkg/storage"
)

// errPanic is the error recorded when a background task panics.
var errPanic = errors.New("background task panicked")

// maxConsecutiveFailures and pauseDuration implement §7: "a task that
// fails more than K times consecutively (default K=5) is paused for
// one minute."
const (
	maxConsecutiveFailures = 5
	pauseDuration          = 1 * time.Minute

	// DefaultStatisticsRollupCron is the daily rollup cadence of §4.9.
	DefaultStatisticsRollupCron = "0 0 * * *"

	// defaultStuckThreshold mirrors the detector's default progress
	// stale threshold for the rollup's own stuck-job count.
	defaultStuckThreshold = 10 * time.Minute
)

// Lifecycle is the subset of dispatcher/detector that the scheduler
// starts and stops as a unit.
type Lifecycle interface {
	Start()
	Stop()
}

// Scheduler owns the background task lifecycle: starting/stopping the
// dispatcher and detector ticker loops, and running the daily
// statistics rollup on a cron schedule with overlap suppression and
// the consecutive-failure pause policy.
type Scheduler struct {
	dispatcher Lifecycle
	detector   Lifecycle
	store      storage.Store

	cron     *cron.Cron
	cronSpec string
	rollup   *taskRunner
}

// New constructs a Scheduler. cronSpec defaults to
// DefaultStatisticsRollupCron if empty.
func New(dispatcher, detector Lifecycle, store storage.Store, cronSpec string) *Scheduler {
	if cronSpec == "" {
		cronSpec = DefaultStatisticsRollupCron
	}
	return &Scheduler{
		dispatcher: dispatcher,
		detector:   detector,
		store:      store,
		cron:       cron.New(),
		cronSpec:   cronSpec,
		rollup:     newTaskRunner("statistics_rollup"),
	}
}

// Start begins the dispatcher and detector loops and schedules the
// daily rollup.
func (s *Scheduler) Start() error {
	s.dispatcher.Start()
	s.detector.Start()

	_, err := s.cron.AddFunc(s.cronSpec, func() {
		s.rollup.run(s.runRollup)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts every background task, reversing the start order.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.detector.Stop()
	s.dispatcher.Stop()
}

// runRollup logs a daily summary of job/agent/stuck-work counts. It is
// the one production call site for storage.Store.StuckJobs: the
// detector keeps its own richer, escalation-aware in-memory report for
// GET /statistics/stuck-jobs, but the rollup independently re-derives
// a point-in-time count straight from the store for the audit log.
func (s *Scheduler) runRollup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	jobCounts, err := s.store.JobStatusCounts(ctx)
	if err != nil {
		return err
	}
	agentCounts, err := s.store.AgentStatusCounts(ctx)
	if err != nil {
		return err
	}
	stuck, err := s.store.StuckJobs(ctx, int64(defaultStuckThreshold.Seconds()))
	if err != nil {
		return err
	}

	log.WithComponent("background").Info().
		Interface("job_counts", jobCounts).
		Interface("agent_counts", agentCounts).
		Int("stuck_jobs", len(stuck)).
		Msg("daily statistics rollup")
	return nil
}

// taskRunner wraps a background task with the overlap suppression and
// consecutive-failure pause policy of §7/§4.9: a non-blocking
// atomic.Bool guard (not golang.org/x/sync/singleflight, which is used
// in pkg/api to coalesce concurrent reads instead) skips a tick that
// overlaps the previous one, and a sixth consecutive failure (more than
// maxConsecutiveFailures) pauses the task for one minute.
type taskRunner struct {
	name    string
	running atomic.Bool

	consecutiveFailures int
	pausedUntil         time.Time
}

func newTaskRunner(name string) *taskRunner {
	return &taskRunner{name: name}
}

func (t *taskRunner) run(fn func() error) {
	if !t.running.CompareAndSwap(false, true) {
		metrics.SkippedTicksTotal.WithLabelValues(t.name).Inc()
		return
	}
	defer t.running.Store(false)

	if time.Now().Before(t.pausedUntil) {
		return
	}

	logger := log.WithComponent("background")
	if err := t.runOnce(fn); err != nil {
		t.consecutiveFailures++
		metrics.TaskFailuresTotal.WithLabelValues(t.name).Inc()
		logger.Error().Err(err).Str("task", t.name).Int("consecutive_failures", t.consecutiveFailures).Msg("background task failed")
		if t.consecutiveFailures > maxConsecutiveFailures {
			t.pausedUntil = time.Now().Add(pauseDuration)
			t.consecutiveFailures = 0
			logger.Warn().Str("task", t.name).Dur("pause", pauseDuration).Msg("background task paused after repeated failures")
		}
		return
	}
	t.consecutiveFailures = 0
}

// runOnce recovers a panic from fn into an error so a single bad tick
// can never take down the process.
func (t *taskRunner) runOnce(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithComponent("background").Error().Interface("panic", rec).Str("task", t.name).Msg("background task panicked")
			err = errPanic
		}
	}()
	return fn()
}

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"troffee-auction-engine/internal/adapters/metrics"
	"troffee-auction-engine/internal/config"
	"troffee-auction-engine/internal/domain/job"
	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler runs a due job for its target auction
type Handler func(ctx context.Context, auctionID uuid.UUID) error

// SweepFunc runs a recurring sweep that does not go through the job queue
type SweepFunc func(ctx context.Context, now time.Time) error

type sweep struct {
	name     job.Type
	interval time.Duration
	fn       SweepFunc
}

// Scheduler runs durable, time-triggered jobs stored in the ledger. Jobs are
// claimed under a lease, so a crashed instance's jobs are picked up again once
// the lease expires.
type Scheduler struct {
	jobs     outbound.JobRepository
	metrics  *metrics.Collector
	cfg      config.SchedulerConfig
	clock    func() time.Time
	pool     *pond.WorkerPool
	logger   zerolog.Logger
	mu       sync.RWMutex
	handlers map[job.Type]Handler
	sweeps   []sweep
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type SchedulerParams struct {
	Jobs    outbound.JobRepository
	Config  config.SchedulerConfig
	Metrics *metrics.Collector
	Clock   func() time.Time
	Logger  zerolog.Logger
}

var _ outbound.JobScheduler = (*Scheduler)(nil)

func NewScheduler(params SchedulerParams) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	workers := params.Config.Workers
	if workers < 1 {
		workers = 1
	}

	return &Scheduler{
		jobs:     params.Jobs,
		metrics:  params.Metrics,
		cfg:      params.Config,
		clock:    clock,
		pool:     pond.New(workers, params.Config.BatchSize, pond.Strategy(pond.Balanced())),
		logger:   params.Logger.With().Str("component", "scheduler").Logger(),
		handlers: make(map[job.Type]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle registers the handler for a job type
func (s *Scheduler) Handle(jobType job.Type, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = h
}

// Every registers a recurring sweep. Sweeps start with Start.
func (s *Scheduler) Every(name job.Type, interval time.Duration, fn SweepFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps = append(s.sweeps, sweep{name: name, interval: interval, fn: fn})
}

// Schedule creates the job of the given type for an auction, or moves the
// due time of the pending one
func (s *Scheduler) Schedule(ctx context.Context, jobType job.Type, auctionID uuid.UUID, dueAt time.Time) error {
	now := s.clock()
	stored, err := s.jobs.Upsert(ctx, &job.ScheduledJob{
		ID:        uuid.New(),
		Type:      jobType,
		AuctionID: &auctionID,
		DueAt:     dueAt.UTC(),
		Status:    job.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("auction_id", auctionID.String()).Str("job_type", string(jobType)).Msg("Failed to schedule job")
		return fmt.Errorf("failed to schedule %s job: %w", jobType, err)
	}

	s.logger.Info().
		Str("job_id", stored.ID.String()).
		Str("job_type", string(jobType)).
		Str("auction_id", auctionID.String()).
		Time("due_at", stored.DueAt).
		Int64("revision", stored.Revision).
		Msg("Job scheduled")

	return nil
}

// Cancel removes all pending jobs for an auction
func (s *Scheduler) Cancel(ctx context.Context, auctionID uuid.UUID) error {
	removed, err := s.jobs.CancelByAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("failed to cancel jobs: %w", err)
	}

	s.logger.Info().Str("auction_id", auctionID.String()).Int("removed", removed).Msg("Jobs cancelled")
	return nil
}

// Start begins the poll loop and the recurring sweeps
func (s *Scheduler) Start() {
	s.logger.Info().Dur("poll_interval", s.cfg.PollInterval).Msg("Starting scheduler")

	s.wg.Add(1)
	go s.pollLoop()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sw := range s.sweeps {
		s.wg.Add(1)
		go s.sweepLoop(sw)
	}
}

// Stop gracefully stops the scheduler and waits for running jobs. Claimed
// jobs that have not started yet are left to lease expiry.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping scheduler")
		s.cancel()
		s.wg.Wait()
		s.pool.StopAndWait()
	})
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// past-due jobs left by a previous run are picked up on the first pass
		if _, err := s.RunDueJobs(s.ctx, s.clock()); err != nil && s.ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("Failed to run due jobs")
		}

		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			s.logger.Info().Msg("Scheduler loop stopped")
			return
		}
	}
}

func (s *Scheduler) sweepLoop(sw sweep) {
	defer s.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.invoke(s.ctx, func(ctx context.Context) error { return sw.fn(ctx, s.clock()) }); err != nil {
				s.logger.Error().Err(err).Str("job_type", string(sw.name)).Msg("Sweep failed")
				s.metrics.JobProcessed(string(sw.name), "retry")
				continue
			}
			s.metrics.JobProcessed(string(sw.name), "completed")
		case <-s.ctx.Done():
			return
		}
	}
}

// RunDueJobs claims the jobs due at now and runs them in parallel. It returns
// the number of jobs claimed.
func (s *Scheduler) RunDueJobs(ctx context.Context, now time.Time) (int, error) {
	claimed, err := s.jobs.ClaimDue(ctx, now, s.cfg.Lease, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim due jobs: %w", err)
	}

	if len(claimed) == 0 {
		return 0, nil
	}

	s.logger.Debug().Int("count", len(claimed)).Msg("Claimed due jobs")

	group := s.pool.Group()
	for _, j := range claimed {
		j := j
		group.Submit(func() {
			s.run(ctx, j, now)
		})
	}
	group.Wait()

	return len(claimed), nil
}

func (s *Scheduler) run(ctx context.Context, j *job.ScheduledJob, now time.Time) {
	logger := s.logger.With().
		Str("job_id", j.ID.String()).
		Str("job_type", string(j.Type)).
		Str("auction_id", j.Target()).
		Int("attempt", j.Attempts+1).
		Logger()

	if ctx.Err() != nil {
		logger.Info().Msg("Scheduler stopping, job left for lease expiry")
		return
	}

	err := s.dispatch(ctx, j)

	var outcome string
	switch {
	case err == nil:
		outcome = "completed"
		j.Status = job.StatusCompleted
		j.LastError = ""
		logger.Info().Msg("Job completed")
	case shared.IsStateConflict(err):
		// the auction already moved on
		outcome = "completed"
		j.Status = job.StatusCompleted
		j.LastError = err.Error()
		logger.Info().Err(err).Msg("Job completed with stale state")
	default:
		j.Attempts++
		j.LastError = err.Error()
		if j.Attempts >= s.cfg.MaxAttempts || shared.IsValidation(err) {
			outcome = "failed"
			j.Status = job.StatusFailed
			s.metrics.JobFailed(string(j.Type))
			logger.Error().Err(err).Msg("Job failed permanently")
		} else {
			outcome = "retry"
			j.DueAt = now.Add(job.Backoff(j.Attempts, s.cfg.BackoffBase, s.cfg.BackoffMax))
			logger.Warn().Err(err).Time("retry_at", j.DueAt).Msg("Job failed, retrying")
		}
	}
	s.metrics.JobProcessed(string(j.Type), outcome)

	j.UpdatedAt = s.clock()
	// the result is recorded even when shutdown began while the job ran
	finished, err := s.jobs.Finish(context.WithoutCancel(ctx), j)
	if err != nil {
		// lease expiry makes the job due again
		logger.Error().Err(err).Msg("Failed to record job result")
		return
	}
	if !finished {
		logger.Info().Msg("Job was rescheduled or cancelled while running")
	}
}

func (s *Scheduler) dispatch(ctx context.Context, j *job.ScheduledJob) error {
	s.mu.RLock()
	handler, ok := s.handlers[j.Type]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrNoHandler, j.Type)
	}
	if j.AuctionID == nil {
		return shared.ErrJobTargetRequired
	}

	auctionID := *j.AuctionID
	return s.invoke(ctx, func(ctx context.Context) error { return handler(ctx, auctionID) })
}

// invoke runs fn under the per-job timeout and turns a panic into an error
func (s *Scheduler) invoke(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	return fn(ctx)
}

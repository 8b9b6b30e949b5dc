package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"troffee-auction-engine/internal/adapters/memory"
	"troffee-auction-engine/internal/adapters/metrics"
	"troffee-auction-engine/internal/config"
	"troffee-auction-engine/internal/domain/job"
	"troffee-auction-engine/internal/domain/shared"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var now = time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *memory.JobRepository) {
	t.Helper()
	jobs := memory.NewStore().GetJobRepository()
	s := NewScheduler(SchedulerParams{
		Jobs: jobs,
		Config: config.SchedulerConfig{
			PollInterval: time.Second,
			Workers:      4,
			BatchSize:    10,
			Lease:        time.Minute,
			JobTimeout:   time.Second,
			MaxAttempts:  3,
			BackoffBase:  2 * time.Second,
			BackoffMax:   time.Minute,
		},
		Metrics: metrics.NewCollector(prometheus.NewRegistry()),
		Clock:   func() time.Time { return now },
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(s.Stop)
	return s, jobs
}

func TestRunDueJobs_OnlyDueJobsRun(t *testing.T) {
	ctx := context.Background()
	s, jobs := newTestScheduler(t)

	var ran []uuid.UUID
	s.Handle(job.TypeEnd, func(ctx context.Context, auctionID uuid.UUID) error {
		ran = append(ran, auctionID)
		return nil
	})

	due, later := uuid.New(), uuid.New()
	assert.NoError(t, s.Schedule(ctx, job.TypeEnd, due, now.Add(-time.Second)))
	assert.NoError(t, s.Schedule(ctx, job.TypeEnd, later, now.Add(time.Hour)))

	n, err := s.RunDueJobs(ctx, now)
	assert.NoError(t, err)
	check.Equal(t, 1, n)
	check.Equal(t, []uuid.UUID{due}, ran)

	all := jobs.Jobs()
	assert.Equal(t, 2, len(all))
	check.Equal(t, job.StatusCompleted, all[0].Status)
	check.Equal(t, job.StatusPending, all[1].Status)
}

func TestRunDueJobs_RetriesWithBackoffThenFails(t *testing.T) {
	ctx := context.Background()
	s, jobs := newTestScheduler(t)

	var calls atomic.Int32
	s.Handle(job.TypeActivate, func(ctx context.Context, auctionID uuid.UUID) error {
		calls.Add(1)
		return shared.ErrGatewayUnavailable
	})

	assert.NoError(t, s.Schedule(ctx, job.TypeActivate, uuid.New(), now))

	_, err := s.RunDueJobs(ctx, now)
	assert.NoError(t, err)
	j := jobs.Jobs()[0]
	check.Equal(t, job.StatusPending, j.Status)
	check.Equal(t, 1, j.Attempts)
	check.Equal(t, now.Add(2*time.Second), j.DueAt)
	check.Equal(t, shared.ErrGatewayUnavailable.Error(), j.LastError)

	n, err := s.RunDueJobs(ctx, now.Add(time.Second))
	assert.NoError(t, err)
	check.Equal(t, 0, n)

	_, err = s.RunDueJobs(ctx, now.Add(2*time.Second))
	assert.NoError(t, err)
	check.Equal(t, now.Add(2*time.Second+4*time.Second), jobs.Jobs()[0].DueAt)

	_, err = s.RunDueJobs(ctx, now.Add(time.Hour))
	assert.NoError(t, err)
	j = jobs.Jobs()[0]
	check.Equal(t, job.StatusFailed, j.Status)
	check.Equal(t, 3, j.Attempts)
	check.Equal(t, int32(3), calls.Load())

	n, err = s.RunDueJobs(ctx, now.Add(2*time.Hour))
	assert.NoError(t, err)
	check.Equal(t, 0, n)
}

func TestRunDueJobs_StateConflictCompletes(t *testing.T) {
	ctx := context.Background()
	s, jobs := newTestScheduler(t)

	s.Handle(job.TypeEnd, func(ctx context.Context, auctionID uuid.UUID) error {
		return shared.ErrInvalidTransition
	})
	assert.NoError(t, s.Schedule(ctx, job.TypeEnd, uuid.New(), now))

	_, err := s.RunDueJobs(ctx, now)
	assert.NoError(t, err)
	check.Equal(t, job.StatusCompleted, jobs.Jobs()[0].Status)
}

func TestRunDueJobs_RescheduledDuringRunStaysPending(t *testing.T) {
	ctx := context.Background()
	s, jobs := newTestScheduler(t)
	extended := now.Add(30 * time.Minute)

	s.Handle(job.TypeEnd, func(ctx context.Context, auctionID uuid.UUID) error {
		return s.Schedule(ctx, job.TypeEnd, auctionID, extended)
	})
	assert.NoError(t, s.Schedule(ctx, job.TypeEnd, uuid.New(), now))

	_, err := s.RunDueJobs(ctx, now)
	assert.NoError(t, err)

	all := jobs.Jobs()
	assert.Equal(t, 1, len(all))
	check.Equal(t, job.StatusPending, all[0].Status)
	check.Equal(t, extended, all[0].DueAt)
	check.Nil(t, all[0].LockedUntil)
}

func TestRunDueJobs_PanicIsRetried(t *testing.T) {
	ctx := context.Background()
	s, jobs := newTestScheduler(t)

	s.Handle(job.TypeEnd, func(ctx context.Context, auctionID uuid.UUID) error {
		panic("boom")
	})
	assert.NoError(t, s.Schedule(ctx, job.TypeEnd, uuid.New(), now))

	_, err := s.RunDueJobs(ctx, now)
	assert.NoError(t, err)

	j := jobs.Jobs()[0]
	check.Equal(t, job.StatusPending, j.Status)
	check.Equal(t, 1, j.Attempts)
	check.Equal(t, "job panicked: boom", j.LastError)
}

func TestRunDueJobs_TimeoutIsRetried(t *testing.T) {
	ctx := context.Background()
	s, jobs := newTestScheduler(t)
	s.cfg.JobTimeout = 10 * time.Millisecond

	s.Handle(job.TypeEnd, func(ctx context.Context, auctionID uuid.UUID) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, s.Schedule(ctx, job.TypeEnd, uuid.New(), now))

	_, err := s.RunDueJobs(ctx, now)
	assert.NoError(t, err)

	j := jobs.Jobs()[0]
	check.Equal(t, 1, j.Attempts)
	check.Equal(t, context.DeadlineExceeded.Error(), j.LastError)
}

func TestRunDueJobs_RecoversJobsOfCrashedInstance(t *testing.T) {
	ctx := context.Background()
	s, jobs := newTestScheduler(t)

	var ran atomic.Int32
	s.Handle(job.TypeEnd, func(ctx context.Context, auctionID uuid.UUID) error {
		ran.Add(1)
		return nil
	})
	assert.NoError(t, s.Schedule(ctx, job.TypeEnd, uuid.New(), now.Add(-time.Hour)))

	// another instance claimed the job and died before finishing it
	claimed, err := jobs.ClaimDue(ctx, now, time.Minute, 10)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(claimed))

	n, err := s.RunDueJobs(ctx, now.Add(30*time.Second))
	assert.NoError(t, err)
	check.Equal(t, 0, n)

	n, err = s.RunDueJobs(ctx, now.Add(time.Minute))
	assert.NoError(t, err)
	check.Equal(t, 1, n)
	check.Equal(t, int32(1), ran.Load())
	check.Equal(t, job.StatusCompleted, jobs.Jobs()[0].Status)
}

func TestRunDueJobs_MissingHandlerRetries(t *testing.T) {
	ctx := context.Background()
	s, jobs := newTestScheduler(t)

	assert.NoError(t, s.Schedule(ctx, job.TypeActivate, uuid.New(), now))

	_, err := s.RunDueJobs(ctx, now)
	assert.NoError(t, err)

	j := jobs.Jobs()[0]
	check.Equal(t, job.StatusPending, j.Status)
	check.Equal(t, 1, j.Attempts)
}

func TestCancel_RemovesPendingJobs(t *testing.T) {
	ctx := context.Background()
	s, jobs := newTestScheduler(t)
	auctionID := uuid.New()

	assert.NoError(t, s.Schedule(ctx, job.TypeActivate, auctionID, now))
	assert.NoError(t, s.Schedule(ctx, job.TypeEnd, auctionID, now.Add(time.Hour)))
	assert.NoError(t, s.Cancel(ctx, auctionID))

	check.Equal(t, 0, len(jobs.Jobs()))
}

func TestStop_ReturnsDuringInFlightBatch(t *testing.T) {
	ctx := context.Background()
	jobs := memory.NewStore().GetJobRepository()
	s := NewScheduler(SchedulerParams{
		Jobs: jobs,
		Config: config.SchedulerConfig{
			PollInterval: time.Second,
			Workers:      1,
			BatchSize:    10,
			Lease:        time.Minute,
			JobTimeout:   time.Second,
			MaxAttempts:  3,
			BackoffBase:  2 * time.Second,
			BackoffMax:   time.Minute,
		},
		Metrics: metrics.NewCollector(prometheus.NewRegistry()),
		Clock:   func() time.Time { return now },
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(s.Stop)

	var started atomic.Int32
	s.Handle(job.TypeEnd, func(ctx context.Context, auctionID uuid.UUID) error {
		started.Add(1)
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	for i := 0; i < 5; i++ {
		assert.NoError(t, s.Schedule(ctx, job.TypeEnd, uuid.New(), now.Add(-time.Second)))
	}

	s.Start()
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while a batch was in flight")
	}
	check.True(t, started.Load() < 5)
}

// Package scheduler is the durable timer service. Jobs are persisted through
// the repository so they survive restarts: on start the scheduler reconciles,
// firing anything already past due and arming in-memory timers for the rest.
// A job is consumed (marked FIRED) before its handler runs, so handlers must
// be idempotent.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
	"github.com/JonathanHarford/epyc/internal/repository"
)

// Handler runs a fired job. Handlers may be invoked after a crash that lost
// their side effects, and must tolerate targets that have already moved on.
type Handler func(ctx context.Context, job models.ScheduledJob) error

type Config struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:      4,
		MaxAttempts:  3,
		RetryBackoff: time.Second,
	}
}

type Scheduler struct {
	jobs      repository.JobStore
	clock     clockwork.Clock
	cfg       Config
	onFailure func(models.ScheduledJob)
	handlers  map[models.JobType]Handler

	workCh chan uuid.UUID

	timersMu sync.Mutex
	timers   map[uuid.UUID]clockwork.Timer

	inFlightMu sync.Mutex
	inFlight   map[uuid.UUID]bool

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New creates a scheduler. onFailure is called after a job exhausts its
// attempt budget; wire it to operator notification.
func New(jobs repository.JobStore, clock clockwork.Clock, cfg Config, onFailure func(models.ScheduledJob)) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Scheduler{
		jobs:      jobs,
		clock:     clock,
		cfg:       cfg,
		onFailure: onFailure,
		handlers:  make(map[models.JobType]Handler),
		workCh:    make(chan uuid.UUID, cfg.Workers*2),
		timers:    make(map[uuid.UUID]clockwork.Timer),
		inFlight:  make(map[uuid.UUID]bool),
	}
}

// RegisterHandler binds a handler to a job type. Must be called before Start.
func (s *Scheduler) RegisterHandler(jobType models.JobType, h Handler) {
	s.handlers[jobType] = h
}

// Start launches the worker pool and reconciles persisted jobs: past-due jobs
// are dispatched immediately, the rest are armed as in-memory timers.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	runCtx := s.runCtx
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx, i)
	}

	pending, err := s.jobs.ListPendingJobs(runCtx)
	if err != nil {
		return fmt.Errorf("reconcile pending jobs: %w", err)
	}
	for i := range pending {
		s.arm(&pending[i])
	}
	log.Info().Int("workers", s.cfg.Workers).Int("reconciled", len(pending)).Msg("scheduler started")
	return nil
}

// Stop cancels timers and waits for in-progress handlers to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

// Schedule persists a job due at dueAt, first cancelling any non-terminal job
// with the same (jobType, targetID) key so at most one is ever in flight.
func (s *Scheduler) Schedule(ctx context.Context, jobType models.JobType, targetID uuid.UUID, dueAt time.Time) (uuid.UUID, error) {
	if err := s.Cancel(ctx, jobType, targetID); err != nil {
		return uuid.Nil, err
	}
	job := &models.ScheduledJob{
		ID:       uuid.New(),
		Type:     jobType,
		TargetID: targetID,
		DueAt:    dueAt.UTC(),
		Status:   models.JobStatusPending,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}
	log.Debug().
		Str("job_type", string(jobType)).
		Str("target_id", targetID.String()).
		Time("due_at", job.DueAt).
		Msg("scheduled job")
	s.arm(job)
	return job.ID, nil
}

// Cancel marks the pending job for the key CANCELLED; a no-op if none exists
// or it already fired.
func (s *Scheduler) Cancel(ctx context.Context, jobType models.JobType, targetID uuid.UUID) error {
	job, err := s.jobs.FindPendingJob(ctx, jobType, targetID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find pending job: %w", err)
	}
	if _, err := s.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusPending, models.JobStatusCancelled); err != nil {
		// Losing the race to a concurrent fire or cancel is benign.
		if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("cancel job: %w", err)
	}
	s.stopTimer(job.ID)
	return nil
}

// CancelForTargets cancels every pending job aimed at any of the targets.
// Used when a season or game is torn down.
func (s *Scheduler) CancelForTargets(ctx context.Context, targets []uuid.UUID) error {
	if len(targets) == 0 {
		return nil
	}
	cancelled, err := s.jobs.CancelPendingJobsForTargets(ctx, targets)
	if err != nil {
		return fmt.Errorf("cancel jobs for targets: %w", err)
	}
	for _, id := range cancelled {
		s.stopTimer(id)
	}
	return nil
}

// arm sets up the in-memory timer for a pending job, or dispatches it
// immediately when already due. Before Start the job only exists in storage;
// reconciliation arms it.
func (s *Scheduler) arm(job *models.ScheduledJob) {
	s.mu.Lock()
	started := s.started
	ctx := s.runCtx
	s.mu.Unlock()
	if !started {
		return
	}

	wait := job.DueAt.Sub(s.clock.Now())
	if wait <= 0 {
		go s.enqueue(ctx, job.ID)
		return
	}

	timer := s.clock.NewTimer(wait)
	s.replaceTimer(job.ID, timer)
	go func(id uuid.UUID, t clockwork.Timer) {
		select {
		case <-t.Chan():
			s.removeTimer(id)
			s.enqueue(ctx, id)
		case <-ctx.Done():
			stopAndDrainTimer(t)
			s.removeTimer(id)
		}
	}(job.ID, timer)
}

// enqueue hands a due job to the worker pool, deduplicating jobs already in
// flight.
func (s *Scheduler) enqueue(ctx context.Context, jobID uuid.UUID) {
	s.inFlightMu.Lock()
	if s.inFlight[jobID] {
		s.inFlightMu.Unlock()
		return
	}
	s.inFlight[jobID] = true
	s.inFlightMu.Unlock()

	select {
	case s.workCh <- jobID:
	case <-ctx.Done():
		s.clearInFlight(jobID)
	}
}

func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-s.workCh:
			s.execute(ctx, jobID)
			s.clearInFlight(jobID)
		}
	}
}

// execute consumes and runs a single job. The PENDING→FIRED conditional
// update is the consumption point: losing it means the job was cancelled or
// another instance took it, which is benign.
func (s *Scheduler) execute(ctx context.Context, jobID uuid.UUID) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("load job for execution")
		return
	}
	if _, err := s.jobs.UpdateJobStatus(ctx, jobID, models.JobStatusPending, models.JobStatusFired); err != nil {
		if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound) {
			log.Debug().Str("job_id", jobID.String()).Msg("job no longer pending; skipping")
			return
		}
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("mark job fired")
		return
	}
	job.Status = models.JobStatusFired

	handler, ok := s.handlers[job.Type]
	if !ok {
		log.Error().Str("job_type", string(job.Type)).Str("job_id", jobID.String()).Msg("no handler registered")
		s.fail(ctx, job, fmt.Errorf("no handler for %s", job.Type))
		return
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			s.clock.Sleep(s.backoff(attempt))
		}
		if lastErr = handler(ctx, *job); lastErr == nil {
			return
		}
		log.Warn().
			Err(lastErr).
			Str("job_type", string(job.Type)).
			Str("job_id", jobID.String()).
			Int("attempt", attempt).
			Msg("job handler failed")
		if err := s.jobs.RecordJobAttempt(ctx, jobID, attempt, lastErr.Error()); err != nil {
			log.Error().Err(err).Str("job_id", jobID.String()).Msg("record job attempt")
		}
	}
	s.fail(ctx, job, lastErr)
}

func (s *Scheduler) fail(ctx context.Context, job *models.ScheduledJob, cause error) {
	if _, err := s.jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusFired, models.JobStatusFailed); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("mark job failed")
	}
	log.Error().
		Err(cause).
		Str("job_type", string(job.Type)).
		Str("target_id", job.TargetID.String()).
		Msg("job failed permanently; escalating")
	if s.onFailure != nil {
		job.Status = models.JobStatusFailed
		s.onFailure(*job)
	}
}

// backoff doubles per attempt starting from the configured base.
func (s *Scheduler) backoff(attempt int) time.Duration {
	return s.cfg.RetryBackoff << (attempt - 2)
}

func (s *Scheduler) replaceTimer(jobID uuid.UUID, timer clockwork.Timer) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if existing, ok := s.timers[jobID]; ok {
		stopAndDrainTimer(existing)
	}
	s.timers[jobID] = timer
}

func (s *Scheduler) stopTimer(jobID uuid.UUID) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if timer, ok := s.timers[jobID]; ok {
		stopAndDrainTimer(timer)
		delete(s.timers, jobID)
	}
}

func (s *Scheduler) removeTimer(jobID uuid.UUID) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	delete(s.timers, jobID)
}

func (s *Scheduler) clearInFlight(jobID uuid.UUID) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, jobID)
}

// stopAndDrainTimer stops a timer and drains its channel so the arming
// goroutine never leaks.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

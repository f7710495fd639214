package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
)

func (s *Store) CreateJob(ctx context.Context, job *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return apperr.ErrConflict
	}
	for _, existing := range s.jobs {
		if existing.Status == models.JobStatusPending && existing.Type == job.Type && existing.TargetID == job.TargetID {
			return apperr.ErrConflict
		}
	}
	now := s.clock.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *Store) FindPendingJob(ctx context.Context, jobType models.JobType, targetID uuid.UUID) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.Status == models.JobStatusPending && job.Type == jobType && job.TargetID == targetID {
			cp := *job
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *Store) ListPendingJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduledJob
	for _, job := range s.jobs {
		if job.Status == models.JobStatusPending {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, id uuid.UUID, expected, next models.JobStatus) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if job.Status != expected {
		return nil, apperr.ErrConflict
	}
	job.Status = next
	job.UpdatedAt = s.clock.Now().UTC()
	cp := *job
	return &cp, nil
}

func (s *Store) RecordJobAttempt(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return apperr.ErrNotFound
	}
	job.Attempts = attempts
	job.LastError = &lastErr
	job.UpdatedAt = s.clock.Now().UTC()
	return nil
}

func (s *Store) CancelPendingJobsForTargets(ctx context.Context, targets []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	targetSet := make(map[uuid.UUID]bool, len(targets))
	for _, id := range targets {
		targetSet[id] = true
	}
	var cancelled []uuid.UUID
	for _, job := range s.jobs {
		if job.Status == models.JobStatusPending && targetSet[job.TargetID] {
			job.Status = models.JobStatusCancelled
			job.UpdatedAt = s.clock.Now().UTC()
			cancelled = append(cancelled, job.ID)
		}
	}
	return cancelled, nil
}

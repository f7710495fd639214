package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
)

const jobColumns = "id, job_type, target_id, due_at, status, attempts, last_error, created_at, updated_at"

func (s *Store) CreateJob(ctx context.Context, job *models.ScheduledJob) error {
	now := s.clock.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO scheduled_jobs (id, job_type, target_id, due_at, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		job.ID, job.Type, job.TargetID, job.DueAt, job.Status, job.Attempts, job.LastError, now,
	)
	if isUniqueViolation(err) {
		return apperr.ErrConflict
	}
	return err
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.ScheduledJob, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *Store) FindPendingJob(ctx context.Context, jobType models.JobType, targetID uuid.UUID) (*models.ScheduledJob, error) {
	row := s.db(ctx).QueryRow(ctx, `
		SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE job_type = $1 AND target_id = $2 AND status = 'PENDING'`,
		jobType, targetID,
	)
	return scanJob(row)
}

func (s *Store) ListPendingJobs(ctx context.Context) ([]models.ScheduledJob, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE status = 'PENDING'
		ORDER BY due_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScheduledJob
	for rows.Next() {
		var job models.ScheduledJob
		err := rows.Scan(
			&job.ID, &job.Type, &job.TargetID, &job.DueAt, &job.Status,
			&job.Attempts, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) UpdateJobStatus(ctx context.Context, id uuid.UUID, expected, next models.JobStatus) (*models.ScheduledJob, error) {
	row := s.db(ctx).QueryRow(ctx, `
		UPDATE scheduled_jobs SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+jobColumns,
		id, expected, next, s.clock.Now().UTC(),
	)
	job, err := scanJob(row)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, s.jobMissOrConflict(ctx, id)
	}
	return job, err
}

func (s *Store) jobMissOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.db(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scheduled_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return apperr.ErrConflict
	}
	return apperr.ErrNotFound
}

func (s *Store) RecordJobAttempt(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE scheduled_jobs SET attempts = $2, last_error = $3, updated_at = $4
		WHERE id = $1`,
		id, attempts, lastErr, s.clock.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *Store) CancelPendingJobsForTargets(ctx context.Context, targets []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db(ctx).Query(ctx, `
		UPDATE scheduled_jobs SET status = 'CANCELLED', updated_at = $2
		WHERE status = 'PENDING' AND target_id = ANY($1)
		RETURNING id`,
		targets, s.clock.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cancelled []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		cancelled = append(cancelled, id)
	}
	return cancelled, rows.Err()
}

func scanJob(row pgx.Row) (*models.ScheduledJob, error) {
	var job models.ScheduledJob
	err := row.Scan(
		&job.ID, &job.Type, &job.TargetID, &job.DueAt, &job.Status,
		&job.Attempts, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

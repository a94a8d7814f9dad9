package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/store"
)

// JobRepo — журнал фоновых задач.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

const jobColumns = `
	id, kind, execution_id, stage_id, payload, state, attempts, max_attempts,
	error, next_attempt_at, created_at, updated_at`

// CreateJob добавляет задачу в журнал.
func (r *JobRepo) CreateJob(ctx context.Context, job *domain.DispatchedJob) error {
	query := `
		INSERT INTO dispatched_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Kind,
		job.ExecutionID,
		job.StageID,
		[]byte(job.Payload),
		job.State,
		job.Attempts,
		job.MaxAttempts,
		nullString(job.Error),
		job.NextAttemptAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if isUniqueViolation(err, "") {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob возвращает задачу по ID.
func (r *JobRepo) GetJob(ctx context.Context, id uuid.UUID) (*domain.DispatchedJob, error) {
	query := `SELECT ` + jobColumns + ` FROM dispatched_jobs WHERE id = $1`

	job, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// ListJobs возвращает задачи с фильтрацией, новые первыми.
func (r *JobRepo) ListJobs(ctx context.Context, filter store.JobFilter) ([]domain.DispatchedJob, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	query := `
		SELECT ` + jobColumns + `
		FROM dispatched_jobs
		WHERE ($1::text IS NULL OR state = $1)
		  AND ($2::text IS NULL OR kind = $2)
		  AND ($3::uuid IS NULL OR execution_id = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.State)),
		nullString(string(filter.Kind)),
		filter.ExecutionID,
		filter.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListRetryable возвращает отложенные задачи, время которых пришло.
func (r *JobRepo) ListRetryable(ctx context.Context, now time.Time, limit int) ([]domain.DispatchedJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM dispatched_jobs
		WHERE state = 'retried'
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY next_attempt_at ASC NULLS FIRST
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable jobs: %w", err)
	}
	return collectJobs(rows)
}

// TransitionJob записывает задачу, если её состояние входит в from.
func (r *JobRepo) TransitionJob(ctx context.Context, job *domain.DispatchedJob, from ...domain.JobState) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	query := `
		UPDATE dispatched_jobs
		SET state = $3, attempts = $4, error = $5, next_attempt_at = $6, updated_at = $7
		WHERE id = $1 AND state = ANY($2)
	`
	result, err := r.pool.Exec(ctx, query,
		job.ID,
		states,
		job.State,
		job.Attempts,
		nullString(job.Error),
		job.NextAttemptAt,
		job.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetJob(ctx, job.ID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// DeleteJobs удаляет задачи в указанном состоянии.
func (r *JobRepo) DeleteJobs(ctx context.Context, state domain.JobState) (int, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM dispatched_jobs WHERE state = $1`, state)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// --- Helpers ---

func collectJobs(rows pgx.Rows) ([]domain.DispatchedJob, error) {
	defer rows.Close()

	var jobs []domain.DispatchedJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.DispatchedJob, error) {
	var job domain.DispatchedJob
	var payload []byte
	var jobErr *string

	err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.ExecutionID,
		&job.StageID,
		&payload,
		&job.State,
		&job.Attempts,
		&job.MaxAttempts,
		&jobErr,
		&job.NextAttemptAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Payload = payload
	job.Error = fromNull(jobErr)
	return &job, nil
}

package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cadence/internal/domain"
)

// EvaluationRepo — репозиторий результатов условий.
// Строки только вставляются, UPDATE для них не существует.
type EvaluationRepo struct {
	pool *pgxpool.Pool
}

// NewEvaluationRepo создаёт новый EvaluationRepo.
func NewEvaluationRepo(pool *pgxpool.Pool) *EvaluationRepo {
	return &EvaluationRepo{pool: pool}
}

const evaluationColumns = `
	id, execution_id, stage_id, condition_id, metric_param, operator, threshold,
	yes_count, no_count, yes_contacts, no_contacts, result, evaluated_at`

// CreateEvaluation сохраняет результат, если его ещё нет.
func (r *EvaluationRepo) CreateEvaluation(ctx context.Context, ev *domain.ConditionEvaluation) (bool, error) {
	query := `
		INSERT INTO condition_evaluations (` + evaluationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (execution_id, condition_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		ev.ID,
		ev.ExecutionID,
		ev.StageID,
		ev.ConditionID,
		ev.MetricParam,
		ev.Operator,
		ev.Threshold,
		ev.YesCount,
		ev.NoCount,
		contactsOrEmpty(ev.YesContacts),
		contactsOrEmpty(ev.NoContacts),
		ev.Result,
		ev.EvaluatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert evaluation: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// GetEvaluation возвращает результат условия в рамках execution.
func (r *EvaluationRepo) GetEvaluation(ctx context.Context, executionID uuid.UUID, conditionID string) (*domain.ConditionEvaluation, error) {
	query := `
		SELECT ` + evaluationColumns + `
		FROM condition_evaluations
		WHERE execution_id = $1 AND condition_id = $2
	`
	ev, err := scanEvaluation(r.pool.QueryRow(ctx, query, executionID, conditionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

// ListEvaluations возвращает историю условий execution.
func (r *EvaluationRepo) ListEvaluations(ctx context.Context, executionID uuid.UUID) ([]domain.ConditionEvaluation, error) {
	query := `
		SELECT ` + evaluationColumns + `
		FROM condition_evaluations
		WHERE execution_id = $1
		ORDER BY evaluated_at ASC
	`
	rows, err := r.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []domain.ConditionEvaluation
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func scanEvaluation(row pgx.Row) (*domain.ConditionEvaluation, error) {
	var ev domain.ConditionEvaluation
	err := row.Scan(
		&ev.ID,
		&ev.ExecutionID,
		&ev.StageID,
		&ev.ConditionID,
		&ev.MetricParam,
		&ev.Operator,
		&ev.Threshold,
		&ev.YesCount,
		&ev.NoCount,
		&ev.YesContacts,
		&ev.NoContacts,
		&ev.Result,
		&ev.EvaluatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan evaluation: %w", err)
	}
	return &ev, nil
}

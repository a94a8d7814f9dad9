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

// ExecutionRepo — репозиторий для работы с executions.
//
// Все изменения состояния — условные UPDATE: состояние проверяется
// в WHERE, а RowsAffected показывает, выиграл ли вызывающий.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

// NewExecutionRepo создаёт новый ExecutionRepo.
func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

const executionColumns = `
	id, flow_id, contact_ids, state, current_node, next_node, next_node_due_at,
	error, started_at, finished_at, created_at, updated_at`

// oneActivePerFlow — имя частичного уникального индекса из schema.sql.
const oneActivePerFlow = "executions_one_active_per_flow"

// CreateExecution создаёт новый execution.
func (r *ExecutionRepo) CreateExecution(ctx context.Context, exec *domain.Execution) error {
	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		exec.ID,
		exec.FlowID,
		exec.ContactIDs,
		exec.State,
		nullString(exec.CurrentNode),
		nullString(exec.NextNode),
		exec.NextNodeDueAt,
		nullString(exec.Error),
		exec.StartedAt,
		exec.FinishedAt,
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	switch {
	case isUniqueViolation(err, oneActivePerFlow):
		return store.ErrActiveExecution
	case isUniqueViolation(err, ""):
		return ErrAlreadyExists
	case err != nil:
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution возвращает execution по ID.
func (r *ExecutionRepo) GetExecution(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	exec, err := scanExecution(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return exec, err
}

// ListExecutions возвращает executions с фильтрацией, новые первыми.
func (r *ExecutionRepo) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]domain.Execution, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE ($1::uuid IS NULL OR flow_id = $1)
		  AND ($2::text IS NULL OR state = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		filter.FlowID,
		nullString(string(filter.State)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListDueExecutions возвращает executions, готовые к продвижению.
func (r *ExecutionRepo) ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]domain.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE state = 'in_progress'
		  AND next_node IS NOT NULL
		  AND next_node_due_at <= $1
		ORDER BY next_node_due_at ASC, id ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due executions: %w", err)
	}
	return collectExecutions(rows)
}

// TransitionExecution меняет состояние, если текущее входит в from.
func (r *ExecutionRepo) TransitionExecution(ctx context.Context, id uuid.UUID, from []domain.ExecutionState, to domain.ExecutionState, reason string, now time.Time) (bool, error) {
	if err := store.CheckExecutionTransition(from, to); err != nil {
		return false, err
	}

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	query := `
		UPDATE executions
		SET state = $3,
		    updated_at = $4,
		    started_at = CASE WHEN $3 = 'in_progress' THEN COALESCE(started_at, $4) ELSE started_at END,
		    finished_at = CASE WHEN $3 IN ('completed', 'failed') THEN $4 ELSE finished_at END,
		    next_node = CASE WHEN $3 IN ('completed', 'failed') THEN NULL ELSE next_node END,
		    next_node_due_at = CASE WHEN $3 IN ('completed', 'failed') THEN NULL ELSE next_node_due_at END,
		    error = COALESCE($5, error)
		WHERE id = $1 AND state = ANY($2)
	`
	result, err := r.pool.Exec(ctx, query, id, states, string(to), now, nullString(reason))
	if err != nil {
		return false, fmt.Errorf("transition execution: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, r.ensureExists(ctx, id)
	}
	return true, nil
}

// AdvancePointer пересчитывает позицию execution.
//
// Строка execution блокируется FOR UPDATE до выбора стадии, поэтому
// параллельные вызовы выполняются по очереди и каждый видит стадии,
// созданные до него.
func (r *ExecutionRepo) AdvancePointer(ctx context.Context, id uuid.UUID, currentNode string, now time.Time) (*domain.Execution, bool, error) {
	var (
		exec    *domain.Execution
		applied bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var state domain.ExecutionState
		err := tx.QueryRow(ctx, `SELECT state FROM executions WHERE id = $1 FOR UPDATE`, id).Scan(&state)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock execution: %w", err)
		}

		if !state.IsTerminal() {
			var nextNode *string
			var nextDue *time.Time
			err = tx.QueryRow(ctx, `
				SELECT node_id, COALESCE(due_at, $2)
				FROM execution_stages
				WHERE execution_id = $1 AND state = 'pending' AND NOT placeholder
				ORDER BY due_at ASC NULLS FIRST, created_at ASC, id ASC
				LIMIT 1
			`, id, now).Scan(&nextNode, &nextDue)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("select next stage: %w", err)
			}

			_, err = tx.Exec(ctx, `
				UPDATE executions
				SET current_node = COALESCE($2, current_node),
				    next_node = $3, next_node_due_at = $4, updated_at = $5
				WHERE id = $1
			`, id, nullString(currentNode), nextNode, nextDue, now)
			if err != nil {
				return fmt.Errorf("update pointer: %w", err)
			}
			applied = true
		}

		exec, err = scanExecution(tx.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return exec, applied, nil
}

// CompleteIfIdle завершает execution, если активных стадий не осталось.
// Проверка и запись — один оператор, поэтому два воркера, завершившие
// параллельные ветки одновременно, не потеряют завершение.
func (r *ExecutionRepo) CompleteIfIdle(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE executions e
		SET state = 'completed', finished_at = $2, updated_at = $2,
		    next_node = NULL, next_node_due_at = NULL
		WHERE e.id = $1
		  AND e.state = 'in_progress'
		  AND NOT EXISTS (
		      SELECT 1 FROM execution_stages s
		      WHERE s.execution_id = e.id
		        AND (s.state = 'executing' OR (s.state = 'pending' AND NOT s.placeholder))
		  )
	`
	result, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("complete execution: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func (r *ExecutionRepo) ensureExists(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check execution: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func collectExecutions(rows pgx.Rows) ([]domain.Execution, error) {
	defer rows.Close()

	var execs []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *exec)
	}
	return execs, rows.Err()
}

// scanExecution сканирует строку в Execution.
func scanExecution(row pgx.Row) (*domain.Execution, error) {
	var exec domain.Execution
	var currentNode, nextNode, execError *string

	err := row.Scan(
		&exec.ID,
		&exec.FlowID,
		&exec.ContactIDs,
		&exec.State,
		&currentNode,
		&nextNode,
		&exec.NextNodeDueAt,
		&execError,
		&exec.StartedAt,
		&exec.FinishedAt,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	exec.CurrentNode = fromNull(currentNode)
	exec.NextNode = fromNull(nextNode)
	exec.Error = fromNull(execError)
	return &exec, nil
}

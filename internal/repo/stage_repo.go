package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/store"
)

// StageRepo — репозиторий для работы со стадиями executions и доставками.
type StageRepo struct {
	pool *pgxpool.Pool
}

// NewStageRepo создаёт новый StageRepo.
func NewStageRepo(pool *pgxpool.Pool) *StageRepo {
	return &StageRepo{pool: pool}
}

const stageColumns = `
	id, execution_id, node_id, node_kind, parent_stage_id, contact_ids, placeholder,
	due_at, state, external_message_id, sent_count, failed_count, cost_units,
	error, started_at, finished_at, created_at, updated_at`

// CreateStage создаёт стадию. Уникальность (execution_id, node_id)
// обеспечивает БД: при конфликте строка не вставляется.
func (r *StageRepo) CreateStage(ctx context.Context, st *domain.ExecutionStage) (bool, error) {
	query := `
		INSERT INTO execution_stages (` + stageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (execution_id, node_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		st.ID,
		st.ExecutionID,
		st.NodeID,
		st.NodeKind,
		st.ParentStageID,
		contactsOrEmpty(st.ContactIDs),
		st.Placeholder,
		st.DueAt,
		st.State,
		nullString(st.ExternalMessageID),
		st.SentCount,
		st.FailedCount,
		st.CostUnits,
		nullString(st.Error),
		st.StartedAt,
		st.FinishedAt,
		st.CreatedAt,
		st.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert stage: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// GetStage возвращает стадию по ID.
func (r *StageRepo) GetStage(ctx context.Context, id uuid.UUID) (*domain.ExecutionStage, error) {
	query := `SELECT ` + stageColumns + ` FROM execution_stages WHERE id = $1`

	st, err := scanStage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return st, err
}

// GetStageByNode возвращает стадию узла в рамках execution.
func (r *StageRepo) GetStageByNode(ctx context.Context, executionID uuid.UUID, nodeID string) (*domain.ExecutionStage, error) {
	query := `SELECT ` + stageColumns + ` FROM execution_stages WHERE execution_id = $1 AND node_id = $2`

	st, err := scanStage(r.pool.QueryRow(ctx, query, executionID, nodeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return st, err
}

// ListStages возвращает все стадии execution в порядке создания.
func (r *StageRepo) ListStages(ctx context.Context, executionID uuid.UUID) ([]domain.ExecutionStage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM execution_stages
		WHERE execution_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []domain.ExecutionStage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, *st)
	}
	return stages, rows.Err()
}

// TransitionStage записывает стадию, если её состояние в БД равно from.
func (r *StageRepo) TransitionStage(ctx context.Context, st *domain.ExecutionStage, from domain.StageState) (bool, error) {
	if err := store.CheckStageTransition(from, st.State); err != nil {
		return false, err
	}

	query := `
		UPDATE execution_stages
		SET contact_ids = $3, placeholder = $4, due_at = $5, state = $6,
		    external_message_id = $7, sent_count = $8, failed_count = $9, cost_units = $10,
		    error = $11, started_at = $12, finished_at = $13, updated_at = $14,
		    parent_stage_id = $15
		WHERE id = $1 AND state = $2
	`
	result, err := r.pool.Exec(ctx, query,
		st.ID,
		from,
		contactsOrEmpty(st.ContactIDs),
		st.Placeholder,
		st.DueAt,
		st.State,
		nullString(st.ExternalMessageID),
		st.SentCount,
		st.FailedCount,
		st.CostUnits,
		nullString(st.Error),
		st.StartedAt,
		st.FinishedAt,
		st.UpdatedAt,
		st.ParentStageID,
	)
	if err != nil {
		return false, fmt.Errorf("transition stage: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetStage(ctx, st.ID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// RecordDelivery сохраняет результат отправки контакту.
func (r *StageRepo) RecordDelivery(ctx context.Context, d *domain.Delivery) (bool, error) {
	query := `
		INSERT INTO stage_deliveries
		    (stage_id, contact_id, channel, success, provider_message_id, error, cost_units, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stage_id, contact_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		d.StageID,
		d.ContactID,
		d.Channel,
		d.Success,
		nullString(d.ProviderMessageID),
		nullString(d.Error),
		d.CostUnits,
		d.SentAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert delivery: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListDeliveries возвращает доставки стадии.
func (r *StageRepo) ListDeliveries(ctx context.Context, stageID uuid.UUID) ([]domain.Delivery, error) {
	query := `
		SELECT stage_id, contact_id, channel, success, provider_message_id, error, cost_units, sent_at
		FROM stage_deliveries
		WHERE stage_id = $1
		ORDER BY sent_at ASC, contact_id ASC
	`
	rows, err := r.pool.Query(ctx, query, stageID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var msgID, deliveryErr *string
		if err := rows.Scan(
			&d.StageID,
			&d.ContactID,
			&d.Channel,
			&d.Success,
			&msgID,
			&deliveryErr,
			&d.CostUnits,
			&d.SentAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.ProviderMessageID = fromNull(msgID)
		d.Error = fromNull(deliveryErr)
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Helpers ---

// scanStage сканирует строку в ExecutionStage.
func scanStage(row pgx.Row) (*domain.ExecutionStage, error) {
	var st domain.ExecutionStage
	var externalID, stageErr *string

	err := row.Scan(
		&st.ID,
		&st.ExecutionID,
		&st.NodeID,
		&st.NodeKind,
		&st.ParentStageID,
		&st.ContactIDs,
		&st.Placeholder,
		&st.DueAt,
		&st.State,
		&externalID,
		&st.SentCount,
		&st.FailedCount,
		&st.CostUnits,
		&stageErr,
		&st.StartedAt,
		&st.FinishedAt,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan stage: %w", err)
	}

	st.ExternalMessageID = fromNull(externalID)
	st.Error = fromNull(stageErr)
	return &st, nil
}

func contactsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cadence/internal/domain"
)

// FlowRepo — репозиторий для работы с flows.
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

const flowColumns = `id, name, description, graph, is_active, created_at, updated_at`

// CreateFlow создаёт новый flow.
func (r *FlowRepo) CreateFlow(ctx context.Context, flow *domain.Flow) error {
	graphJSON, err := json.Marshal(flow.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	query := `
		INSERT INTO flows (` + flowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		flow.ID,
		flow.Name,
		nullString(flow.Description),
		graphJSON,
		flow.IsActive,
		flow.CreatedAt,
		flow.UpdatedAt,
	)
	if isUniqueViolation(err, "") {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

// GetFlow возвращает flow по ID.
func (r *FlowRepo) GetFlow(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE id = $1`

	flow, err := scanFlow(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return flow, err
}

// ListFlows возвращает flows в порядке создания.
func (r *FlowRepo) ListFlows(ctx context.Context, limit, offset int) ([]domain.Flow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + flowColumns + `
		FROM flows
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *flow)
	}
	return flows, rows.Err()
}

// scanFlow сканирует строку в Flow.
func scanFlow(row pgx.Row) (*domain.Flow, error) {
	var flow domain.Flow
	var description *string
	var graphJSON []byte

	err := row.Scan(
		&flow.ID,
		&flow.Name,
		&description,
		&graphJSON,
		&flow.IsActive,
		&flow.CreatedAt,
		&flow.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan flow: %w", err)
	}

	if err := json.Unmarshal(graphJSON, &flow.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	flow.Description = fromNull(description)
	return &flow, nil
}

package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Cadence/internal/domain"
)

// ContactRepo — чтение контактов. Импорт контактов происходит вне движка.
type ContactRepo struct {
	pool *pgxpool.Pool
}

// NewContactRepo создаёт новый ContactRepo.
func NewContactRepo(pool *pgxpool.Pool) *ContactRepo {
	return &ContactRepo{pool: pool}
}

// GetContact возвращает контакт по ID.
func (r *ContactRepo) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	query := `
		SELECT id, email, phone, first_name, last_name, attributes
		FROM contacts
		WHERE id = $1
	`
	var c domain.Contact
	var email, phone, first, last *string
	var attrs []byte

	err := r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &email, &phone, &first, &last, &attrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}

	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	c.Email = fromNull(email)
	c.Phone = fromNull(phone)
	c.FirstName = fromNull(first)
	c.LastName = fromNull(last)
	return &c, nil
}

// TemplateRepo — чтение шаблонов сообщений.
type TemplateRepo struct {
	pool *pgxpool.Pool
}

// NewTemplateRepo создаёт новый TemplateRepo.
func NewTemplateRepo(pool *pgxpool.Pool) *TemplateRepo {
	return &TemplateRepo{pool: pool}
}

// GetTemplate возвращает шаблон по ссылке.
func (r *TemplateRepo) GetTemplate(ctx context.Context, ref string) (*domain.Template, error) {
	query := `SELECT ref, channel, subject, body FROM message_templates WHERE ref = $1`

	var t domain.Template
	var subject *string
	err := r.pool.QueryRow(ctx, query, ref).Scan(&t.Ref, &t.Channel, &subject, &t.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	t.Subject = fromNull(subject)
	return &t, nil
}

// EngagementRepo — факты вовлечённости от трекинга открытий и кликов.
type EngagementRepo struct {
	pool *pgxpool.Pool
}

// NewEngagementRepo создаёт новый EngagementRepo.
func NewEngagementRepo(pool *pgxpool.Pool) *EngagementRepo {
	return &EngagementRepo{pool: pool}
}

// GetStats агрегирует факты по сообщению провайдера.
func (r *EngagementRepo) GetStats(ctx context.Context, providerMessageID string) (domain.EngagementStats, bool, error) {
	query := `
		SELECT
		    COUNT(*) FILTER (WHERE event = 'open'),
		    COUNT(*) FILTER (WHERE event = 'click'),
		    COUNT(*) FILTER (WHERE event = 'bounce'),
		    COUNT(*) FILTER (WHERE event = 'unsubscribe'),
		    COUNT(*)
		FROM engagement_facts
		WHERE provider_message_id = $1
	`
	var stats domain.EngagementStats
	var total int
	err := r.pool.QueryRow(ctx, query, providerMessageID).Scan(
		&stats.Opens,
		&stats.Clicks,
		&stats.Bounces,
		&stats.Unsubscribes,
		&total,
	)
	if err != nil {
		return domain.EngagementStats{}, false, fmt.Errorf("get engagement stats: %w", err)
	}
	return stats, total > 0, nil
}

// RecordEngagement записывает факт.
func (r *EngagementRepo) RecordEngagement(ctx context.Context, providerMessageID string, event domain.EngagementEvent, at time.Time) error {
	query := `
		INSERT INTO engagement_facts (provider_message_id, event, occurred_at)
		VALUES ($1, $2, $3)
	`
	if _, err := r.pool.Exec(ctx, query, providerMessageID, event, at); err != nil {
		return fmt.Errorf("insert engagement fact: %w", err)
	}
	return nil
}

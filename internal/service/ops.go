package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cadence/internal/breaker"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/queue"
	"github.com/shaiso/Cadence/internal/ratelimit"
	"github.com/shaiso/Cadence/internal/scheduler"
	"github.com/shaiso/Cadence/internal/store"
)

// ChannelStatus — состояние канала: breaker и окна rate limiter.
type ChannelStatus struct {
	Channel   domain.Channel    `json:"channel"`
	Breaker   *breaker.Status   `json:"breaker"`
	RateLimit *ratelimit.Status `json:"rate_limit"`
}

// ChannelStatus возвращает состояние канала.
func (s *Service) ChannelStatus(ctx context.Context, name string) (*ChannelStatus, error) {
	ch, err := parseChannel(name)
	if err != nil {
		return nil, err
	}

	b, err := s.breaker.Status(ctx, ch)
	if err != nil {
		return nil, err
	}
	rl, err := s.limiter.Status(ctx, ch)
	if err != nil {
		return nil, err
	}
	return &ChannelStatus{Channel: ch, Breaker: b, RateLimit: rl}, nil
}

// ResetBreaker вручную закрывает breaker канала.
func (s *Service) ResetBreaker(ctx context.Context, name string) (*ChannelStatus, error) {
	ch, err := parseChannel(name)
	if err != nil {
		return nil, err
	}
	if err := s.breaker.Reset(ctx, ch); err != nil {
		return nil, err
	}
	s.logger.Info("breaker reset manually", "channel", ch)
	return s.ChannelStatus(ctx, name)
}

func parseChannel(name string) (domain.Channel, error) {
	ch, ok := domain.ParseChannel(strings.ToLower(strings.TrimSpace(name)))
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return ch, nil
}

// ListJobs возвращает записи журнала задач.
func (s *Service) ListJobs(ctx context.Context, filter store.JobFilter) ([]domain.DispatchedJob, error) {
	jobs, err := s.ledger.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// RetryJob перезапускает failed задачу.
func (s *Service) RetryJob(ctx context.Context, id uuid.UUID) (*domain.DispatchedJob, error) {
	job, err := s.ledger.Retry(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	case errors.Is(err, queue.ErrJobNotFailed):
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	case err != nil:
		return nil, err
	}
	return job, nil
}

// ClearFailedJobs удаляет failed задачи.
func (s *Service) ClearFailedJobs(ctx context.Context) (int, error) {
	return s.ledger.ClearFailed(ctx)
}

// Tick выполняет один тик планировщика.
func (s *Service) Tick(ctx context.Context) (scheduler.TickResult, error) {
	return s.scheduler.Tick(ctx)
}

// RecordEngagement записывает факт вовлечённости по сообщению
// провайдера. at == nil означает «сейчас».
func (s *Service) RecordEngagement(ctx context.Context, providerMessageID string, event domain.EngagementEvent, at *time.Time) error {
	if strings.TrimSpace(providerMessageID) == "" {
		return NewValidationError("provider_message_id", "provider message id is required", nil)
	}
	if !event.IsValid() {
		return NewValidationError("event", fmt.Sprintf("unsupported event %q", event), ErrInvalidEvent)
	}

	when := s.clock.Now()
	if at != nil {
		when = at.UTC()
	}
	if err := s.store.RecordEngagement(ctx, providerMessageID, event, when); err != nil {
		return fmt.Errorf("record engagement: %w", err)
	}

	s.logger.Debug("engagement recorded", "provider_message_id", providerMessageID, "event", event)
	return nil
}

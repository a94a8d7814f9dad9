// Package breaker — circuit breaker для каналов доставки.
//
// Состояние хранится в counter.Store, поэтому все воркеры видят один
// и тот же breaker канала:
//
//	cb:{channel}:failures  — ошибки в текущем окне (TTL = FailureWindow)
//	cb:{channel}:opened_at — unix-время открытия
//
// CLOSED → OPEN: за FailureWindow набралось FailureThreshold ошибок.
// OPEN → HALF_OPEN: прошло RecoveryTime. Отдельной пробы нет — первая
// попытка после этого сама решает исход: успех закрывает breaker и
// сбрасывает счётчики, ошибка открывает его заново.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shaiso/Cadence/internal/counter"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/telemetry"
)

// State — состояние breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config — настройки breaker.
type Config struct {
	// FailureThreshold — сколько ошибок открывают breaker.
	FailureThreshold int

	// FailureWindow — окно подсчёта ошибок.
	FailureWindow time.Duration

	// RecoveryTime — сколько breaker остаётся открытым.
	RecoveryTime time.Duration

	// Logger — логгер.
	Logger *slog.Logger
}

// Breaker — circuit breaker по каналам.
type Breaker struct {
	store  counter.Store
	clock  clockwork.Clock
	config Config
	logger *slog.Logger
}

// New создаёт breaker.
func New(store counter.Store, cfg Config, clock clockwork.Clock) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = time.Minute
	}
	if cfg.RecoveryTime <= 0 {
		cfg.RecoveryTime = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Breaker{
		store:  store,
		clock:  clock,
		config: cfg,
		logger: cfg.Logger.With("component", "breaker"),
	}
}

func failuresKey(ch domain.Channel) string { return "cb:" + string(ch) + ":failures" }
func openedAtKey(ch domain.Channel) string { return "cb:" + string(ch) + ":opened_at" }

// State возвращает текущее состояние канала.
func (b *Breaker) State(ctx context.Context, ch domain.Channel) (State, error) {
	openedAt, err := b.store.Get(ctx, openedAtKey(ch))
	if err != nil {
		return "", fmt.Errorf("read breaker state: %w", err)
	}
	return b.stateAt(openedAt), nil
}

func (b *Breaker) stateAt(openedAt int64) State {
	if openedAt == 0 {
		return StateClosed
	}
	reopen := time.UnixMilli(openedAt).Add(b.config.RecoveryTime)
	if b.clock.Now().Before(reopen) {
		return StateOpen
	}
	return StateHalfOpen
}

// Allow возвращает false, пока breaker открыт.
func (b *Breaker) Allow(ctx context.Context, ch domain.Channel) (bool, error) {
	state, err := b.State(ctx, ch)
	if err != nil {
		return false, err
	}
	return state != StateOpen, nil
}

// RecordSuccess фиксирует успешную отправку.
// В HALF_OPEN закрывает breaker со сбросом счётчиков.
func (b *Breaker) RecordSuccess(ctx context.Context, ch domain.Channel) error {
	state, err := b.State(ctx, ch)
	if err != nil {
		return err
	}
	if state == StateHalfOpen {
		b.logger.Info("circuit closed after recovery", "channel", ch)
		return b.Reset(ctx, ch)
	}
	return nil
}

// RecordFailure фиксирует ошибку отправки.
// Возвращает true, если эта ошибка открыла breaker.
func (b *Breaker) RecordFailure(ctx context.Context, ch domain.Channel) (bool, error) {
	state, err := b.State(ctx, ch)
	if err != nil {
		return false, err
	}

	switch state {
	case StateOpen:
		return false, nil
	case StateHalfOpen:
		if err := b.open(ctx, ch); err != nil {
			return false, err
		}
		b.logger.Warn("circuit reopened after failed recovery attempt", "channel", ch)
		return true, nil
	}

	failures, err := b.store.IncrementWithExpiry(ctx, failuresKey(ch), b.config.FailureWindow)
	if err != nil {
		return false, fmt.Errorf("count failure: %w", err)
	}
	if failures < int64(b.config.FailureThreshold) {
		return false, nil
	}

	if err := b.open(ctx, ch); err != nil {
		return false, err
	}
	b.logger.Warn("circuit opened",
		"channel", ch,
		"failures", failures,
		"recovery_time", b.config.RecoveryTime,
	)
	telemetry.BreakerOpened.WithLabelValues(string(ch)).Inc()
	return true, nil
}

func (b *Breaker) open(ctx context.Context, ch domain.Channel) error {
	// opened_at в миллисекундах. Живёт дольше recovery, чтобы
	// HALF_OPEN был наблюдаем.
	ttl := 2*b.config.RecoveryTime + b.config.FailureWindow
	if err := b.store.Set(ctx, openedAtKey(ch), b.clock.Now().UnixMilli(), ttl); err != nil {
		return fmt.Errorf("open breaker: %w", err)
	}
	return nil
}

// Reset вручную закрывает breaker, не дожидаясь RecoveryTime.
func (b *Breaker) Reset(ctx context.Context, ch domain.Channel) error {
	if err := b.store.Delete(ctx, failuresKey(ch), openedAtKey(ch)); err != nil {
		return fmt.Errorf("reset breaker: %w", err)
	}
	return nil
}

// Status — состояние breaker для API.
type Status struct {
	Channel   domain.Channel `json:"channel"`
	State     State          `json:"state"`
	Failures  int64          `json:"failures"`
	Threshold int            `json:"threshold"`
	OpenedAt  *time.Time     `json:"opened_at,omitempty"`
	ReopensAt *time.Time     `json:"reopens_at,omitempty"`
}

// Status возвращает состояние канала.
func (b *Breaker) Status(ctx context.Context, ch domain.Channel) (*Status, error) {
	openedAt, err := b.store.Get(ctx, openedAtKey(ch))
	if err != nil {
		return nil, fmt.Errorf("read breaker state: %w", err)
	}
	failures, err := b.store.Get(ctx, failuresKey(ch))
	if err != nil {
		return nil, fmt.Errorf("read breaker failures: %w", err)
	}

	st := &Status{
		Channel:   ch,
		State:     b.stateAt(openedAt),
		Failures:  failures,
		Threshold: b.config.FailureThreshold,
	}
	if openedAt != 0 {
		opened := time.UnixMilli(openedAt).UTC()
		reopens := opened.Add(b.config.RecoveryTime)
		st.OpenedAt = &opened
		st.ReopensAt = &reopens
	}
	return st, nil
}

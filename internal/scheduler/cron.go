package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule — расписание тиков по умолчанию.
const DefaultSchedule = "@every 5s"

// ErrAlreadyStarted — daemon уже запущен.
var ErrAlreadyStarted = errors.New("scheduler already started")

// cronParser — парсер cron-выражений и дескрипторов (@every 5s, @hourly).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Start запускает тики по расписанию schedule.
//
// Следующий тик не начинается, пока не закончился предыдущий
// (cron.SkipIfStillRunning). Метод не блокирует.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if err := ValidateCronExpr(schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("add tick job: %w", err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("scheduler started", "schedule", schedule)
	return nil
}

// Stop останавливает тики и ждёт завершения текущего.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// NextStart вычисляет время старта execution по cron-выражению:
// первое срабатывание после from в часовом поясе tz.
// Невалидный tz заменяется на UTC.
func NextStart(expr string, from time.Time, tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(from.In(loc)).UTC(), nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Package ratelimit — ограничение скорости отправки по каналам.
//
// Три независимых окна фиксированного размера (секунда, минута, час).
// Ключ окна — усечённое время: rl:{channel}:s:{unix}, rl:{channel}:m:{unix/60},
// rl:{channel}:h:{unix/3600}. Счётчик живёт два окна и исчезает по TTL.
// Скользящего окна нет: всплеск на границе окон допустим.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shaiso/Cadence/internal/counter"
	"github.com/shaiso/Cadence/internal/domain"
)

// Limits — потолки канала. 0 — без ограничения.
type Limits struct {
	PerSecond int `json:"per_second"`
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
}

// Limiter — rate limiter по каналам.
type Limiter struct {
	store  counter.Store
	clock  clockwork.Clock
	limits map[domain.Channel]Limits
	logger *slog.Logger
}

// New создаёт limiter. Канал без записи в limits не ограничивается.
func New(store counter.Store, limits map[domain.Channel]Limits, clock clockwork.Clock, logger *slog.Logger) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if limits == nil {
		limits = make(map[domain.Channel]Limits)
	}
	return &Limiter{
		store:  store,
		clock:  clock,
		limits: limits,
		logger: logger.With("component", "ratelimit"),
	}
}

type window struct {
	name   string
	size   time.Duration
	cap    int
	bucket int64
}

func (l *Limiter) windows(ch domain.Channel, now time.Time) []window {
	lim := l.limits[ch]
	unix := now.Unix()
	return []window{
		{name: "s", size: time.Second, cap: lim.PerSecond, bucket: unix},
		{name: "m", size: time.Minute, cap: lim.PerMinute, bucket: unix / 60},
		{name: "h", size: time.Hour, cap: lim.PerHour, bucket: unix / 3600},
	}
}

func (w window) key(ch domain.Channel) string {
	return "rl:" + string(ch) + ":" + w.name + ":" + strconv.FormatInt(w.bucket, 10)
}

// Allow проверяет все три окна и, если место есть везде, занимает его.
// Отказ не увеличивает ни один счётчик.
func (l *Limiter) Allow(ctx context.Context, ch domain.Channel) (bool, error) {
	wins := l.windows(ch, l.clock.Now())

	for _, w := range wins {
		if w.cap <= 0 {
			continue
		}
		used, err := l.store.Get(ctx, w.key(ch))
		if err != nil {
			return false, fmt.Errorf("read rate window %s: %w", w.name, err)
		}
		if used >= int64(w.cap) {
			l.logger.Debug("rate limit reached", "channel", ch, "window", w.name, "used", used, "cap", w.cap)
			return false, nil
		}
	}

	for _, w := range wins {
		if w.cap <= 0 {
			continue
		}
		if _, err := l.store.IncrementWithExpiry(ctx, w.key(ch), 2*w.size); err != nil {
			return false, fmt.Errorf("count rate window %s: %w", w.name, err)
		}
	}
	return true, nil
}

// WindowStatus — использование одного окна.
type WindowStatus struct {
	Used int64 `json:"used"`
	Cap  int   `json:"cap"`
}

// Status — использование окон канала для API.
type Status struct {
	Channel domain.Channel `json:"channel"`
	Second  WindowStatus   `json:"second"`
	Minute  WindowStatus   `json:"minute"`
	Hour    WindowStatus   `json:"hour"`
}

// Status возвращает текущее использование окон.
func (l *Limiter) Status(ctx context.Context, ch domain.Channel) (*Status, error) {
	wins := l.windows(ch, l.clock.Now())
	out := make([]WindowStatus, len(wins))
	for i, w := range wins {
		used, err := l.store.Get(ctx, w.key(ch))
		if err != nil {
			return nil, fmt.Errorf("read rate window %s: %w", w.name, err)
		}
		out[i] = WindowStatus{Used: used, Cap: w.cap}
	}
	return &Status{Channel: ch, Second: out[0], Minute: out[1], Hour: out[2]}, nil
}

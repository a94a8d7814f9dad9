package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Cadence/internal/counter"
	"github.com/shaiso/Cadence/internal/domain"
)

func newTestLimiter(limits Limits) (*Limiter, *clockwork.FakeClock, *counter.Memory) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store := counter.NewMemory(clock)
	l := New(store, map[domain.Channel]Limits{domain.ChannelEmail: limits}, clock, nil)
	return l, clock, store
}

func TestLimiter_PerSecondBoundary(t *testing.T) {
	ctx := context.Background()
	l, clock, _ := newTestLimiter(Limits{PerSecond: 2})

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, domain.ChannelEmail)
		require.NoError(t, err)
		assert.True(t, ok, "send %d should pass", i+1)
	}

	ok, err := l.Allow(ctx, domain.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, ok, "third send in the same second is deferred")

	clock.Advance(time.Second)
	ok, _ = l.Allow(ctx, domain.ChannelEmail)
	assert.True(t, ok, "next second bucket starts empty")
}

func TestLimiter_RejectIncrementsNothing(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLimiter(Limits{PerSecond: 1, PerMinute: 10, PerHour: 100})

	ok, _ := l.Allow(ctx, domain.ChannelEmail)
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		ok, _ = l.Allow(ctx, domain.ChannelEmail)
		assert.False(t, ok)
	}

	st, err := l.Status(ctx, domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Second.Used)
	assert.Equal(t, int64(1), st.Minute.Used, "rejected sends must not touch the minute window")
	assert.Equal(t, int64(1), st.Hour.Used)
}

func TestLimiter_AllWindowsMustAllow(t *testing.T) {
	ctx := context.Background()
	l, clock, _ := newTestLimiter(Limits{PerSecond: 10, PerMinute: 3})

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow(ctx, domain.ChannelEmail)
		require.True(t, ok)
		clock.Advance(time.Second)
	}

	ok, _ := l.Allow(ctx, domain.ChannelEmail)
	assert.False(t, ok, "minute cap blocks even with per-second room")

	clock.Advance(time.Minute)
	ok, _ = l.Allow(ctx, domain.ChannelEmail)
	assert.True(t, ok)
}

func TestLimiter_UnlimitedChannel(t *testing.T) {
	ctx := context.Background()
	l, _, store := newTestLimiter(Limits{PerSecond: 1})

	for i := 0; i < 50; i++ {
		ok, err := l.Allow(ctx, domain.ChannelSMS)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Zero(t, store.Len(), "unlimited channels keep no counters")
}

func TestLimiter_CountersExpire(t *testing.T) {
	ctx := context.Background()
	l, clock, store := newTestLimiter(Limits{PerSecond: 5})

	_, _ = l.Allow(ctx, domain.ChannelEmail)
	assert.Equal(t, 1, store.Len())

	clock.Advance(3 * time.Second)
	assert.Zero(t, store.Len(), "window counter expires by TTL")
}

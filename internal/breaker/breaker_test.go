package breaker

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

func newTestBreaker(t *testing.T) (*Breaker, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	b := New(counter.NewMemory(clock), Config{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		RecoveryTime:     60 * time.Second,
	}, clock)
	return b, clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(t)

	for i := 0; i < 2; i++ {
		opened, err := b.RecordFailure(ctx, domain.ChannelEmail)
		require.NoError(t, err)
		assert.False(t, opened)
	}
	allowed, err := b.Allow(ctx, domain.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, allowed, "below threshold the breaker stays closed")

	opened, err := b.RecordFailure(ctx, domain.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, opened)

	state, _ := b.State(ctx, domain.ChannelEmail)
	assert.Equal(t, StateOpen, state)

	allowed, _ = b.Allow(ctx, domain.ChannelEmail)
	assert.False(t, allowed)

	// другие каналы не затронуты
	allowed, _ = b.Allow(ctx, domain.ChannelSMS)
	assert.True(t, allowed)
}

func TestBreaker_RecoveryTiming(t *testing.T) {
	ctx := context.Background()
	b, clock := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		_, err := b.RecordFailure(ctx, domain.ChannelEmail)
		require.NoError(t, err)
	}

	clock.Advance(59 * time.Second)
	allowed, err := b.Allow(ctx, domain.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, allowed, "blocked at opened_at+59s")

	clock.Advance(2 * time.Second)
	allowed, err = b.Allow(ctx, domain.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, allowed, "allowed at opened_at+61s")

	state, _ := b.State(ctx, domain.ChannelEmail)
	assert.Equal(t, StateHalfOpen, state)
}

func TestBreaker_RecoveryCountsFromExactOpenTime(t *testing.T) {
	ctx := context.Background()
	openedAt := time.Date(2024, 3, 1, 12, 0, 0, int(900*time.Millisecond), time.UTC)
	clock := clockwork.NewFakeClockAt(openedAt)
	b := New(counter.NewMemory(clock), Config{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		RecoveryTime:     60 * time.Second,
	}, clock)

	for i := 0; i < 3; i++ {
		_, err := b.RecordFailure(ctx, domain.ChannelEmail)
		require.NoError(t, err)
	}

	clock.Advance(59*time.Second + 999*time.Millisecond)
	state, err := b.State(ctx, domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, state, "sub-second part of opened_at is kept")

	clock.Advance(time.Millisecond)
	state, _ = b.State(ctx, domain.ChannelEmail)
	assert.Equal(t, StateHalfOpen, state)

	st, err := b.Status(ctx, domain.ChannelEmail)
	require.NoError(t, err)
	require.NotNil(t, st.OpenedAt)
	assert.True(t, st.OpenedAt.Equal(openedAt))
	assert.True(t, st.ReopensAt.Equal(openedAt.Add(60*time.Second)))
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	ctx := context.Background()
	b, clock := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		_, _ = b.RecordFailure(ctx, domain.ChannelSMS)
	}
	clock.Advance(61 * time.Second)

	require.NoError(t, b.RecordSuccess(ctx, domain.ChannelSMS))

	st, err := b.Status(ctx, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st.State)
	assert.Zero(t, st.Failures, "counters reset on close")
	assert.Nil(t, st.OpenedAt)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	b, clock := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		_, _ = b.RecordFailure(ctx, domain.ChannelSMS)
	}
	clock.Advance(61 * time.Second)

	opened, err := b.RecordFailure(ctx, domain.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, opened, "a failed first attempt reopens the breaker")

	clock.Advance(30 * time.Second)
	allowed, _ := b.Allow(ctx, domain.ChannelSMS)
	assert.False(t, allowed, "new recovery period starts from the reopen")
}

func TestBreaker_FailuresOutsideWindow(t *testing.T) {
	ctx := context.Background()
	b, clock := newTestBreaker(t)

	_, _ = b.RecordFailure(ctx, domain.ChannelEmail)
	_, _ = b.RecordFailure(ctx, domain.ChannelEmail)
	clock.Advance(2 * time.Minute)

	opened, err := b.RecordFailure(ctx, domain.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, opened, "failures from an expired window do not count")
}

func TestBreaker_ManualReset(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		_, _ = b.RecordFailure(ctx, domain.ChannelEmail)
	}
	require.NoError(t, b.Reset(ctx, domain.ChannelEmail))

	allowed, err := b.Allow(ctx, domain.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, allowed, "manual reset bypasses recovery time")

	st, _ := b.Status(ctx, domain.ChannelEmail)
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 3, st.Threshold)
}

package counter

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_IncrementWithExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)

	v, err := m.IncrementWithExpiry(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, _ = m.IncrementWithExpiry(ctx, "k", time.Second)
	assert.Equal(t, int64(2), v)

	// TTL не продлевается инкрементами
	clock.Advance(999 * time.Millisecond)
	v, _ = m.IncrementWithExpiry(ctx, "k", time.Second)
	assert.Equal(t, int64(3), v)

	clock.Advance(time.Millisecond)
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, got, "key should expire one TTL after creation")

	v, _ = m.IncrementWithExpiry(ctx, "k", time.Second)
	assert.Equal(t, int64(1), v, "expired key starts a new window")
}

func TestMemory_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)

	got, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, got)

	require.NoError(t, m.Set(ctx, "a", 42, 0))
	require.NoError(t, m.Set(ctx, "b", 7, time.Minute))
	assert.Equal(t, 2, m.Len())

	clock.Advance(time.Hour)
	a, _ := m.Get(ctx, "a")
	b, _ := m.Get(ctx, "b")
	assert.Equal(t, int64(42), a, "no TTL means no expiry")
	assert.Zero(t, b)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete(ctx, "a", "nope"))
	a, _ = m.Get(ctx, "a")
	assert.Zero(t, a)
}

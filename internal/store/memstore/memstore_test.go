package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/store"
	"github.com/shaiso/Cadence/internal/store/storetest"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, New())
}

func TestStore_Directory(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.PutContact(domain.Contact{ID: "c1", Email: "ann@example.com"})
	s.PutTemplate(domain.Template{Ref: "welcome", Channel: domain.ChannelEmail, Body: "Hi"})

	c, err := s.GetContact(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", c.Email)

	tpl, err := s.GetTemplate(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "Hi", tpl.Body)

	_, err = s.GetContact(ctx, "c2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetTemplate(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	flow := &domain.Flow{ID: uuid.New(), Name: "copies", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateFlow(ctx, flow))

	exec := &domain.Execution{ID: uuid.New(), FlowID: flow.ID, ContactIDs: []string{"c1"}, State: domain.ExecutionInProgress}
	require.NoError(t, s.CreateExecution(ctx, exec))

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	got.ContactIDs[0] = "mutated"
	got.State = domain.ExecutionFailed

	again, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, again.ContactIDs)
	assert.Equal(t, domain.ExecutionInProgress, again.State)
}

func TestStore_ListFlowsPaging(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateFlow(ctx, &domain.Flow{ID: uuid.New(), Name: name}))
	}

	flows, err := s.ListFlows(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, flows, 2)

	flows, err = s.ListFlows(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, flows)
}

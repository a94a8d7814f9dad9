package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/store/memstore"
	"github.com/shaiso/Cadence/internal/telemetry"
)

type recordingQueue struct {
	mu        sync.Mutex
	published []Envelope
	err       error
}

func (q *recordingQueue) Publish(_ context.Context, env Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, env)
	return nil
}

func (q *recordingQueue) Subscribe(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return nil
}

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published)
}

func newTestLedger(t *testing.T, maxAttempts int) (*Ledger, *memstore.Store, *recordingQueue, *clockwork.FakeClock) {
	t.Helper()
	st := memstore.New()
	q := &recordingQueue{}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	l := NewLedger(LedgerConfig{
		Store:       st,
		Queue:       q,
		MaxAttempts: maxAttempts,
		Backoff:     Backoff{Initial: 10 * time.Second, Max: time.Minute},
		Clock:       clock,
		Logger:      telemetry.DiscardLogger(),
	})
	return l, st, q, clock
}

func sendJob() domain.SendStageJob {
	return domain.SendStageJob{ExecutionID: uuid.New(), StageID: uuid.New(), NodeID: "s1"}
}

func TestLedger_SubmitAndComplete(t *testing.T) {
	ctx := context.Background()
	l, st, q, _ := newTestLedger(t, 3)

	row, err := l.Submit(ctx, sendJob())
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, row.State)
	assert.Equal(t, 1, q.count())

	var got domain.Job
	err = l.Process(ctx, row.ID, func(_ context.Context, job domain.Job) error {
		got = job
		return nil
	})
	require.NoError(t, err)

	send, ok := got.(domain.SendStageJob)
	require.True(t, ok, "handler receives the typed job")
	assert.Equal(t, "s1", send.NodeID)

	stored, _ := st.GetJob(ctx, row.ID)
	assert.Equal(t, domain.JobCompleted, stored.State)
	assert.Equal(t, 1, stored.Attempts)
}

func TestLedger_DuplicateDeliveryIsNoop(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newTestLedger(t, 3)

	row, err := l.Submit(ctx, sendJob())
	require.NoError(t, err)

	calls := 0
	fn := func(context.Context, domain.Job) error { calls++; return nil }

	require.NoError(t, l.Process(ctx, row.ID, fn))
	require.NoError(t, l.Process(ctx, row.ID, fn))
	assert.Equal(t, 1, calls, "terminal job must not run again")
}

func TestLedger_DeferredThenFailed(t *testing.T) {
	ctx := context.Background()
	l, st, q, clock := newTestLedger(t, 2)

	row, err := l.Submit(ctx, sendJob())
	require.NoError(t, err)

	deferred := func(context.Context, domain.Job) error { return ErrDeferred }

	require.NoError(t, l.Process(ctx, row.ID, deferred))
	stored, _ := st.GetJob(ctx, row.ID)
	assert.Equal(t, domain.JobRetried, stored.State)
	require.NotNil(t, stored.NextAttemptAt)
	assert.Equal(t, clock.Now().Add(10*time.Second), *stored.NextAttemptAt)

	// до next_attempt_at задача не возвращается в очередь
	n, err := l.Requeue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(10 * time.Second)
	n, err = l.Requeue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, q.count(), "requeue republishes the job")

	require.NoError(t, l.Process(ctx, row.ID, deferred))
	stored, _ = st.GetJob(ctx, row.ID)
	assert.Equal(t, domain.JobFailed, stored.State, "max attempts exhausted")
	assert.Equal(t, 2, stored.Attempts)
	assert.Contains(t, stored.Error, "deferred")
}

func TestLedger_ManualRetryAndClear(t *testing.T) {
	ctx := context.Background()
	l, st, _, _ := newTestLedger(t, 1)

	boom := errors.New("boom")
	a, _ := l.Submit(ctx, sendJob())
	b, _ := l.Submit(ctx, sendJob())
	require.NoError(t, l.Process(ctx, a.ID, func(context.Context, domain.Job) error { return boom }))
	require.NoError(t, l.Process(ctx, b.ID, func(context.Context, domain.Job) error { return boom }))

	_, err := l.Retry(ctx, uuid.New())
	assert.Error(t, err)

	retried, err := l.Retry(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, retried.State)
	assert.Zero(t, retried.Attempts)

	_, err = l.Retry(ctx, a.ID)
	assert.ErrorIs(t, err, ErrJobNotFailed)

	n, err := l.ClearFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.GetJob(ctx, b.ID)
	assert.Error(t, err)

	queued, err := l.ListQueued(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, a.ID, queued[0].ID)
}

func TestLedger_PublishFailureKeepsRow(t *testing.T) {
	ctx := context.Background()
	l, st, q, _ := newTestLedger(t, 3)
	q.err = errors.New("broker down")

	row, err := l.Submit(ctx, sendJob())
	require.NoError(t, err, "publish failure is recovered by polling")

	stored, err := st.GetJob(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, stored.State)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 10 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}

	assert.Equal(t, defaultInitialDelay, Backoff{}.Delay(1))
}

// Package storetest — общий набор проверок для реализаций store.Store.
//
// memstore прогоняет его в обычных тестах, repo — под тегом integration
// на настоящем PostgreSQL. Сценарии не зависят друг от друга: каждый
// создаёт свой flow, поэтому хранилище можно не очищать.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/store"
)

// base — время сценариев. Секундная точность совпадает с тем,
// что возвращает PostgreSQL.
var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// listLimit покрывает все строки, созданные сценариями.
const listLimit = 1000

// Run прогоняет все сценарии на хранилище.
func Run(t *testing.T, s store.Store) {
	t.Run("Flows", func(t *testing.T) { testFlows(t, s) })
	t.Run("OneActiveExecutionPerFlow", func(t *testing.T) { testOneActive(t, s) })
	t.Run("TransitionExecution", func(t *testing.T) { testTransitionExecution(t, s) })
	t.Run("ListDueExecutions", func(t *testing.T) { testListDue(t, s) })
	t.Run("AdvancePointer", func(t *testing.T) { testAdvancePointer(t, s) })
	t.Run("CompleteIfIdle", func(t *testing.T) { testCompleteIfIdle(t, s) })
	t.Run("Stages", func(t *testing.T) { testStages(t, s) })
	t.Run("MonotonicStages", func(t *testing.T) { testMonotonicStages(t, s) })
	t.Run("ExecutionLifecycle", func(t *testing.T) { testExecutionLifecycle(t, s) })
	t.Run("Deliveries", func(t *testing.T) { testDeliveries(t, s) })
	t.Run("Evaluations", func(t *testing.T) { testEvaluations(t, s) })
	t.Run("Jobs", func(t *testing.T) { testJobs(t, s) })
	t.Run("Engagement", func(t *testing.T) { testEngagement(t, s) })
}

func newFlow(t *testing.T, s store.Store) *domain.Flow {
	t.Helper()
	f := &domain.Flow{
		ID:   uuid.New(),
		Name: "flow-" + uuid.NewString(),
		Graph: domain.FlowGraph{
			Stages:   []domain.StageDef{{ID: "email1", Type: domain.StageTypeSend, Channel: domain.ChannelEmail}, {ID: "done", Type: domain.StageTypeEnd}},
			Branches: []domain.Branch{{SourceID: "email1", TargetID: "done"}},
		},
		IsActive:  true,
		CreatedAt: base,
		UpdatedAt: base,
	}
	require.NoError(t, s.CreateFlow(context.Background(), f))
	return f
}

func newExecution(t *testing.T, s store.Store, state domain.ExecutionState) *domain.Execution {
	t.Helper()
	f := newFlow(t, s)
	e := &domain.Execution{
		ID:         uuid.New(),
		FlowID:     f.ID,
		ContactIDs: []string{"c1", "c2"},
		State:      state,
		CreatedAt:  base,
		UpdatedAt:  base,
	}
	require.NoError(t, s.CreateExecution(context.Background(), e))
	return e
}

func newStage(t *testing.T, s store.Store, execID uuid.UUID, node string, state domain.StageState, placeholder bool, due *time.Time) *domain.ExecutionStage {
	t.Helper()
	st := &domain.ExecutionStage{
		ID:          uuid.New(),
		ExecutionID: execID,
		NodeID:      node,
		NodeKind:    domain.NodeSend,
		Placeholder: placeholder,
		DueAt:       due,
		State:       state,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
	if !placeholder {
		st.ContactIDs = []string{"c1"}
	}
	ok, err := s.CreateStage(context.Background(), st)
	require.NoError(t, err)
	require.True(t, ok)
	return st
}

func at(d time.Duration) *time.Time {
	v := base.Add(d)
	return &v
}

func testFlows(t *testing.T, s store.Store) {
	ctx := context.Background()
	f := newFlow(t, s)

	got, err := s.GetFlow(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Name, got.Name)
	assert.Equal(t, f.Graph, got.Graph)
	assert.True(t, got.IsActive)

	dup := *f
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.CreateFlow(ctx, &dup), store.ErrAlreadyExists, "names are unique")

	_, err = s.GetFlow(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testOneActive(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newExecution(t, s, domain.ExecutionInProgress)

	second := &domain.Execution{
		ID:         uuid.New(),
		FlowID:     e.FlowID,
		ContactIDs: []string{"c1"},
		State:      domain.ExecutionPending,
		CreatedAt:  base,
		UpdatedAt:  base,
	}
	assert.ErrorIs(t, s.CreateExecution(ctx, second), store.ErrActiveExecution)

	ok, err := s.TransitionExecution(ctx, e.ID, []domain.ExecutionState{domain.ExecutionInProgress}, domain.ExecutionCompleted, "", base)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, s.CreateExecution(ctx, second), "a finished execution frees the flow")
}

func testTransitionExecution(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newExecution(t, s, domain.ExecutionPending)

	ok, err := s.TransitionExecution(ctx, e.ID, []domain.ExecutionState{domain.ExecutionPending}, domain.ExecutionInProgress, "", base)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionExecution(ctx, e.ID, []domain.ExecutionState{domain.ExecutionPending}, domain.ExecutionInProgress, "", base)
	require.NoError(t, err)
	assert.False(t, ok, "CAS fails once the state moved on")

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(base))

	finished := base.Add(time.Minute)
	ok, err = s.TransitionExecution(ctx, e.ID, []domain.ExecutionState{domain.ExecutionInProgress, domain.ExecutionPaused}, domain.ExecutionFailed, "cancelled", finished)
	require.NoError(t, err)
	require.True(t, ok)

	got, err = s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, got.State)
	assert.Equal(t, "cancelled", got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.NextNode)

	_, err = s.TransitionExecution(ctx, uuid.New(), []domain.ExecutionState{domain.ExecutionPending}, domain.ExecutionInProgress, "", base)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListDue(t *testing.T, s store.Store) {
	ctx := context.Background()

	now := base.Add(1000 * time.Hour)

	late := newExecution(t, s, domain.ExecutionInProgress)
	early := newExecution(t, s, domain.ExecutionInProgress)
	future := newExecution(t, s, domain.ExecutionInProgress)
	paused := newExecution(t, s, domain.ExecutionPaused)

	for _, c := range []struct {
		exec *domain.Execution
		due  time.Time
	}{
		{late, now.Add(-time.Minute)},
		{early, now.Add(-time.Hour)},
		{future, now.Add(time.Hour)},
		{paused, now.Add(-time.Hour)},
	} {
		newStage(t, s, c.exec.ID, "email1", domain.StagePending, false, &c.due)
		_, _, err := s.AdvancePointer(ctx, c.exec.ID, "", now)
		require.NoError(t, err)
	}

	due, err := s.ListDueExecutions(ctx, now, listLimit)
	require.NoError(t, err)

	own := map[uuid.UUID]bool{late.ID: true, early.ID: true, future.ID: true, paused.ID: true}
	var ids []uuid.UUID
	for _, e := range due {
		if own[e.ID] {
			ids = append(ids, e.ID)
		}
	}
	assert.Equal(t, []uuid.UUID{early.ID, late.ID}, ids, "ordered by due time, paused and future excluded")
}

func testAdvancePointer(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newExecution(t, s, domain.ExecutionInProgress)

	newStage(t, s, e.ID, "later", domain.StagePending, false, at(2*time.Hour))
	newStage(t, s, e.ID, "planned", domain.StagePending, true, at(time.Minute))
	newStage(t, s, e.ID, "sooner", domain.StagePending, false, at(time.Hour))
	newStage(t, s, e.ID, "sent", domain.StageCompleted, false, nil)

	got, applied, err := s.AdvancePointer(ctx, e.ID, "email1", base)
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, "email1", got.CurrentNode)
	assert.Equal(t, "sooner", got.NextNode, "earliest armed stage wins, placeholders are ignored")
	require.NotNil(t, got.NextNodeDueAt)
	assert.True(t, got.NextNodeDueAt.Equal(base.Add(time.Hour)))

	newStage(t, s, e.ID, "now", domain.StagePending, false, nil)
	got, _, err = s.AdvancePointer(ctx, e.ID, "", base)
	require.NoError(t, err)
	assert.Equal(t, "now", got.NextNode, "a stage without due time comes first")
	assert.Equal(t, "email1", got.CurrentNode, "empty currentNode keeps the previous one")
	assert.True(t, got.NextNodeDueAt.Equal(base))

	ok, err := s.TransitionExecution(ctx, e.ID, []domain.ExecutionState{domain.ExecutionInProgress}, domain.ExecutionCompleted, "", base)
	require.NoError(t, err)
	require.True(t, ok)

	got, applied, err = s.AdvancePointer(ctx, e.ID, "x", base)
	require.NoError(t, err)
	assert.False(t, applied, "terminal executions keep their pointer")
	assert.Equal(t, "email1", got.CurrentNode)
}

func testCompleteIfIdle(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newExecution(t, s, domain.ExecutionInProgress)

	st := newStage(t, s, e.ID, "email1", domain.StagePending, false, nil)
	newStage(t, s, e.ID, "unreached", domain.StagePending, true, at(time.Hour))

	done, err := s.CompleteIfIdle(ctx, e.ID, base)
	require.NoError(t, err)
	assert.False(t, done, "an armed stage keeps the execution open")

	st.MarkExecuting([]string{"c1"}, base)
	ok, err := s.TransitionStage(ctx, st, domain.StagePending)
	require.NoError(t, err)
	require.True(t, ok)

	done, _ = s.CompleteIfIdle(ctx, e.ID, base)
	assert.False(t, done, "an executing stage keeps the execution open")

	st.MarkCompleted(base)
	ok, err = s.TransitionStage(ctx, st, domain.StageExecuting)
	require.NoError(t, err)
	require.True(t, ok)

	done, err = s.CompleteIfIdle(ctx, e.ID, base)
	require.NoError(t, err)
	assert.True(t, done, "placeholders do not block completion")

	got, _ := s.GetExecution(ctx, e.ID)
	assert.Equal(t, domain.ExecutionCompleted, got.State)

	done, _ = s.CompleteIfIdle(ctx, e.ID, base)
	assert.False(t, done)
}

func testStages(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newExecution(t, s, domain.ExecutionInProgress)

	st := newStage(t, s, e.ID, "email1", domain.StagePending, true, at(time.Hour))

	dup := *st
	dup.ID = uuid.New()
	ok, err := s.CreateStage(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, ok, "one stage row per node")

	byNode, err := s.GetStageByNode(ctx, e.ID, "email1")
	require.NoError(t, err)
	assert.Equal(t, st.ID, byNode.ID)
	assert.True(t, byNode.Placeholder)
	assert.Empty(t, byNode.ContactIDs)

	parent := uuid.New()
	byNode.ParentStageID = &parent
	byNode.MarkExecuting([]string{"c1", "c2"}, base)
	ok, err = s.TransitionStage(ctx, byNode, domain.StagePending)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TransitionStage(ctx, byNode, domain.StagePending)
	require.NoError(t, err)
	assert.False(t, ok, "the second dispatch loses the CAS")

	got, err := s.GetStage(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageExecuting, got.State)
	assert.False(t, got.Placeholder)
	assert.Equal(t, []string{"c1", "c2"}, got.ContactIDs)
	require.NotNil(t, got.ParentStageID)
	assert.Equal(t, parent, *got.ParentStageID)

	got.SentCount = 2
	got.CostUnits = 3
	got.ExternalMessageID = "msg-1"
	got.MarkCompleted(base)
	ok, err = s.TransitionStage(ctx, got, domain.StageExecuting)
	require.NoError(t, err)
	require.True(t, ok)

	stages, err := s.ListStages(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, 2, stages[0].SentCount)
	assert.Equal(t, "msg-1", stages[0].ExternalMessageID)

	_, err = s.GetStageByNode(ctx, e.ID, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMonotonicStages(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newExecution(t, s, domain.ExecutionInProgress)

	st := newStage(t, s, e.ID, "email1", domain.StageExecuting, false, nil)

	// устаревшая копия стадии не должна вернуть её в pending
	stale := *st
	stale.State = domain.StagePending
	ok, err := s.TransitionStage(ctx, &stale, domain.StageExecuting)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.False(t, ok)

	got, err := s.GetStage(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageExecuting, got.State)

	got.MarkFailed("gateway down", base)
	ok, err = s.TransitionStage(ctx, got, domain.StageExecuting)
	require.NoError(t, err)
	require.True(t, ok)

	got.MarkCompleted(base)
	ok, err = s.TransitionStage(ctx, got, domain.StageFailed)
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "terminal stages are final")
	assert.False(t, ok)

	got, err = s.GetStage(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageFailed, got.State)
	assert.Equal(t, "gateway down", got.Error)

	// стадия конечного узла завершается прямо из pending
	end := newStage(t, s, e.ID, "done", domain.StagePending, true, nil)
	end.MarkExecuting([]string{"c1"}, base)
	end.MarkCompleted(base)
	ok, err = s.TransitionStage(ctx, end, domain.StagePending)
	require.NoError(t, err)
	assert.True(t, ok)

	skipped := newStage(t, s, e.ID, "skipped", domain.StagePending, true, nil)
	skipped.MarkFailed("skipped", base)
	ok, err = s.TransitionStage(ctx, skipped, domain.StagePending)
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "a stage fails only after it was dispatched")
	assert.False(t, ok)
}

func testExecutionLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newExecution(t, s, domain.ExecutionPending)

	ok, err := s.TransitionExecution(ctx, e.ID, []domain.ExecutionState{domain.ExecutionPending}, domain.ExecutionCompleted, "", base)
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "a pending execution cannot complete")
	assert.False(t, ok)

	ok, err = s.TransitionExecution(ctx, e.ID, []domain.ExecutionState{domain.ExecutionPending, domain.ExecutionPaused}, domain.ExecutionPaused, "", base)
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "every source state is checked")
	assert.False(t, ok)

	ok, err = s.TransitionExecution(ctx, e.ID, domain.ActiveExecutionStates, domain.ExecutionFailed, "cancelled", base)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TransitionExecution(ctx, e.ID, []domain.ExecutionState{domain.ExecutionFailed}, domain.ExecutionInProgress, "", base)
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "terminal executions are final")
	assert.False(t, ok)

	got, err := s.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, got.State)
}

func testDeliveries(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newExecution(t, s, domain.ExecutionInProgress)
	st := newStage(t, s, e.ID, "email1", domain.StageExecuting, false, nil)

	d := &domain.Delivery{
		StageID:           st.ID,
		ContactID:         "c1",
		Channel:           domain.ChannelEmail,
		Success:           true,
		ProviderMessageID: "msg-1",
		CostUnits:         1,
		SentAt:            base,
	}
	ok, err := s.RecordDelivery(ctx, d)
	require.NoError(t, err)
	assert.True(t, ok)

	again := *d
	again.ProviderMessageID = "msg-2"
	ok, err = s.RecordDelivery(ctx, &again)
	require.NoError(t, err)
	assert.False(t, ok, "a contact is delivered once per stage")

	failed := &domain.Delivery{StageID: st.ID, ContactID: "c2", Channel: domain.ChannelEmail, Error: "bounced", SentAt: base}
	_, err = s.RecordDelivery(ctx, failed)
	require.NoError(t, err)

	list, err := s.ListDeliveries(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	byContact := map[string]domain.Delivery{}
	for _, d := range list {
		byContact[d.ContactID] = d
	}
	assert.Equal(t, "msg-1", byContact["c1"].ProviderMessageID)
	assert.False(t, byContact["c2"].Success)
	assert.Equal(t, "bounced", byContact["c2"].Error)
}

func testEvaluations(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newExecution(t, s, domain.ExecutionInProgress)

	ev := &domain.ConditionEvaluation{
		ID:          uuid.New(),
		ExecutionID: e.ID,
		StageID:     uuid.New(),
		ConditionID: "opened",
		MetricParam: "opens",
		Operator:    ">",
		Threshold:   "0",
		YesCount:    1,
		NoCount:     1,
		YesContacts: []string{"c1"},
		NoContacts:  []string{"c2"},
		Result:      domain.ResultMixed,
		EvaluatedAt: base,
	}
	ok, err := s.CreateEvaluation(ctx, ev)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := *ev
	dup.ID = uuid.New()
	ok, err = s.CreateEvaluation(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, ok, "a condition is evaluated once per execution")

	got, err := s.GetEvaluation(ctx, e.ID, "opened")
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, []string{"c1"}, got.YesContacts)
	assert.Equal(t, domain.ResultMixed, got.Result)

	list, err := s.ListEvaluations(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetEvaluation(ctx, e.ID, "clicked")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newExecution(t, s, domain.ExecutionInProgress)

	job, err := domain.NewDispatchedJob(domain.SendStageJob{ExecutionID: e.ID, StageID: uuid.New()}, 3, base)
	require.NoError(t, err)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	decoded, err := got.Job()
	require.NoError(t, err)
	assert.Equal(t, job.StageID, decoded.Stage())

	got.State = domain.JobProcessing
	got.Attempts = 1
	ok, err := s.TransitionJob(ctx, got, domain.JobQueued, domain.JobRetried)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TransitionJob(ctx, got, domain.JobQueued, domain.JobRetried)
	require.NoError(t, err)
	assert.False(t, ok, "only one worker takes the job")

	retryAt := base.Add(time.Minute)
	got.State = domain.JobRetried
	got.Error = "gateway timeout"
	got.NextAttemptAt = &retryAt
	ok, err = s.TransitionJob(ctx, got, domain.JobProcessing)
	require.NoError(t, err)
	require.True(t, ok)

	retryable, err := s.ListRetryable(ctx, base, listLimit)
	require.NoError(t, err)
	assert.NotContains(t, jobIDs(retryable), job.ID, "not before next_attempt_at")

	retryable, err = s.ListRetryable(ctx, retryAt, listLimit)
	require.NoError(t, err)
	assert.Contains(t, jobIDs(retryable), job.ID)

	execID := e.ID
	listed, err := s.ListJobs(ctx, store.JobFilter{ExecutionID: &execID, State: domain.JobRetried})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 1, listed[0].Attempts)
	assert.Equal(t, "gateway timeout", listed[0].Error)

	got.State = domain.JobFailed
	_, err = s.TransitionJob(ctx, got, domain.JobRetried)
	require.NoError(t, err)

	n, err := s.DeleteJobs(ctx, domain.JobFailed)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	_, err = s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func jobIDs(jobs []domain.DispatchedJob) []uuid.UUID {
	ids := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

func testEngagement(t *testing.T, s store.Store) {
	ctx := context.Background()
	msg := "msg-" + uuid.NewString()

	_, found, err := s.GetStats(ctx, msg)
	require.NoError(t, err)
	assert.False(t, found)

	for _, ev := range []domain.EngagementEvent{domain.EventOpen, domain.EventOpen, domain.EventClick} {
		require.NoError(t, s.RecordEngagement(ctx, msg, ev, base))
	}

	stats, found, err := s.GetStats(ctx, msg)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, domain.EngagementStats{Opens: 2, Clicks: 1}, stats)
}

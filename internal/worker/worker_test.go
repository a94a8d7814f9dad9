package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Cadence/internal/breaker"
	"github.com/shaiso/Cadence/internal/channel"
	"github.com/shaiso/Cadence/internal/counter"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/orchestrator"
	"github.com/shaiso/Cadence/internal/queue"
	"github.com/shaiso/Cadence/internal/ratelimit"
	"github.com/shaiso/Cadence/internal/store"
	"github.com/shaiso/Cadence/internal/store/memstore"
	"github.com/shaiso/Cadence/internal/telemetry"
)

// fakeGateway записывает сообщения и отклоняет контакты из reject.
type fakeGateway struct {
	mu     sync.Mutex
	sent   []channel.Message
	reject map[string]bool
}

func (g *fakeGateway) Send(_ context.Context, msg channel.Message) (channel.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	if g.reject[msg.Contact.ID] {
		return channel.Result{Error: "provider rejected"}, nil
	}
	return channel.Result{Success: true, ProviderMessageID: "msg-" + msg.Contact.ID, CostUnits: 1}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

type options struct {
	limits    ratelimit.Limits
	threshold int
	graph     domain.FlowGraph
}

type fixture struct {
	worker  *Worker
	orch    *orchestrator.Orchestrator
	ledger  *queue.Ledger
	store   *memstore.Store
	clock   *clockwork.FakeClock
	gateway *fakeGateway
	flow    *domain.Flow
}

// branchingGraph: email1 → opened? yes → email2 → done, no → done.
func branchingGraph() domain.FlowGraph {
	return domain.FlowGraph{
		Stages: []domain.StageDef{
			{ID: "email1", Type: domain.StageTypeSend, Channel: domain.ChannelEmail, TemplateRef: "welcome"},
			{ID: "email2", Type: domain.StageTypeSend, Channel: domain.ChannelEmail, TemplateRef: "welcome"},
			{ID: "done", Type: domain.StageTypeEnd},
		},
		Conditions: []domain.ConditionDef{
			{ID: "opened", MetricParam: "opens", Operator: ">", Threshold: "0", EvalDelaySec: 3600},
		},
		Branches: []domain.Branch{
			{SourceID: "email1", TargetID: "opened"},
			{SourceID: "opened", TargetID: "email2", Label: domain.BranchYes},
			{SourceID: "opened", TargetID: "done", Label: domain.BranchNo},
			{SourceID: "email2", TargetID: "done"},
		},
	}
}

func newFixture(t *testing.T, opts options) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := telemetry.DiscardLogger()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	st := memstore.New()

	ledger := queue.NewLedger(queue.LedgerConfig{
		Store:       st,
		MaxAttempts: 3,
		Backoff:     queue.Backoff{Initial: 10 * time.Second, Max: time.Minute},
		Clock:       clock,
		Logger:      logger,
	})
	orch := orchestrator.New(orchestrator.Config{Store: st, Ledger: ledger, Clock: clock, Logger: logger})

	gw := &fakeGateway{reject: make(map[string]bool)}
	gateways := channel.NewRegistry()
	gateways.Register(domain.ChannelEmail, gw)

	counters := counter.NewMemory(clock)
	threshold := opts.threshold
	if threshold == 0 {
		threshold = 100
	}
	cb := breaker.New(counters, breaker.Config{
		FailureThreshold: threshold,
		FailureWindow:    time.Minute,
		RecoveryTime:     time.Minute,
		Logger:           logger,
	}, clock)
	limiter := ratelimit.New(counters, map[domain.Channel]ratelimit.Limits{domain.ChannelEmail: opts.limits}, clock, logger)

	w := New(Config{
		Orchestrator: orch,
		Ledger:       ledger,
		Gateways:     gateways,
		Breaker:      cb,
		Limiter:      limiter,
		Logger:       logger,
	})

	graph := opts.graph
	if graph.Stages == nil {
		graph = branchingGraph()
	}
	flow := &domain.Flow{ID: uuid.New(), Name: "welcome", Graph: graph, IsActive: true}
	require.NoError(t, st.CreateFlow(ctx, flow))
	st.PutTemplate(domain.Template{Ref: "welcome", Channel: domain.ChannelEmail, Subject: "Hi {{ .Contact.FirstName }}", Body: "Welcome"})

	return &fixture{worker: w, orch: orch, ledger: ledger, store: st, clock: clock, gateway: gw, flow: flow}
}

// start создаёт execution и передаёт на выполнение первую стадию.
func (f *fixture) start(t *testing.T, contacts ...string) *domain.Execution {
	t.Helper()
	ctx := context.Background()

	for _, id := range contacts {
		f.store.PutContact(domain.Contact{ID: id, Email: id + "@example.com", FirstName: id})
	}

	now := f.clock.Now()
	exec := &domain.Execution{
		ID:         uuid.New(),
		FlowID:     f.flow.ID,
		ContactIDs: contacts,
		State:      domain.ExecutionInProgress,
		StartedAt:  &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.store.CreateExecution(ctx, exec))

	lf, err := f.orch.Flow(ctx, f.flow.ID)
	require.NoError(t, err)
	start, err := lf.Graph.Start()
	require.NoError(t, err)
	_, _, err = f.orch.Dispatch(ctx, exec, lf, start, nil, contacts)
	require.NoError(t, err)
	return exec
}

func (f *fixture) stage(t *testing.T, exec *domain.Execution, nodeID string) *domain.ExecutionStage {
	t.Helper()
	st, err := f.store.GetStageByNode(context.Background(), exec.ID, nodeID)
	require.NoError(t, err)
	return st
}

func (f *fixture) execution(t *testing.T, exec *domain.Execution) *domain.Execution {
	t.Helper()
	e, err := f.store.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	return e
}

// dispatchArmed передаёт на выполнение запланированную стадию, как это
// делает планировщик.
func (f *fixture) dispatchArmed(t *testing.T, exec *domain.Execution, nodeID string) {
	t.Helper()
	ctx := context.Background()
	st := f.stage(t, exec, nodeID)
	require.True(t, st.IsArmed(), "stage %s should be armed", nodeID)

	lf, err := f.orch.Flow(ctx, exec.FlowID)
	require.NoError(t, err)
	_, outcome, err := f.orch.Dispatch(ctx, exec, lf, nodeID, st.ParentStageID, st.ContactIDs)
	require.NoError(t, err)
	require.Equal(t, orchestrator.OutcomeDispatched, outcome)
}

func (f *fixture) sendJobs(t *testing.T) []domain.DispatchedJob {
	t.Helper()
	jobs, err := f.store.ListJobs(context.Background(), store.JobFilter{Kind: domain.JobSendStage})
	require.NoError(t, err)
	return jobs
}

func TestWorker_MixedBranchScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{})
	exec := f.start(t, "c1", "c2", "c3", "c4", "c5")

	assert.Equal(t, 1, f.worker.Poll(ctx))
	email1 := f.stage(t, exec, "email1")
	assert.Equal(t, domain.StageCompleted, email1.State)
	assert.Equal(t, 5, email1.SentCount)
	assert.Equal(t, 5, email1.CostUnits)
	assert.Equal(t, "msg-c1", email1.ExternalMessageID)

	opened := f.stage(t, exec, "opened")
	assert.True(t, opened.IsArmed())
	assert.Equal(t, f.clock.Now().Add(time.Hour), *opened.DueAt)

	e := f.execution(t, exec)
	assert.Equal(t, "email1", e.CurrentNode)
	assert.Equal(t, "opened", e.NextNode)

	require.NoError(t, f.store.RecordEngagement(ctx, "msg-c1", domain.EventOpen, f.clock.Now()))
	require.NoError(t, f.store.RecordEngagement(ctx, "msg-c2", domain.EventOpen, f.clock.Now()))
	require.NoError(t, f.store.RecordEngagement(ctx, "msg-c3", domain.EventClick, f.clock.Now()))

	f.clock.Advance(time.Hour)
	f.dispatchArmed(t, exec, "opened")
	assert.Equal(t, 1, f.worker.Poll(ctx))

	ev, err := f.store.GetEvaluation(ctx, exec.ID, "opened")
	require.NoError(t, err)
	assert.Equal(t, domain.ResultMixed, ev.Result)
	assert.Equal(t, 2, ev.YesCount)
	assert.Equal(t, 3, ev.NoCount)
	assert.Equal(t, []string{"c1", "c2"}, ev.YesContacts)
	assert.Equal(t, []string{"c3", "c4", "c5"}, ev.NoContacts)
	assert.Equal(t, 5, ev.YesCount+ev.NoCount, "every contact lands in exactly one branch")

	done := f.stage(t, exec, "done")
	assert.Equal(t, domain.StageCompleted, done.State)
	assert.Equal(t, []string{"c3", "c4", "c5"}, done.ContactIDs)

	email2 := f.stage(t, exec, "email2")
	assert.Equal(t, domain.StageExecuting, email2.State, "zero-offset target is dispatched immediately")
	assert.Equal(t, []string{"c1", "c2"}, email2.ContactIDs)

	assert.Equal(t, 1, f.worker.Poll(ctx))
	assert.Equal(t, 7, f.gateway.calls())

	e = f.execution(t, exec)
	assert.Equal(t, domain.ExecutionCompleted, e.State)
	assert.Empty(t, e.NextNode)
}

func TestWorker_ConditionWithoutMessagesGoesNo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{})
	f.gateway.reject["c2"] = true
	exec := f.start(t, "c1", "c2")

	f.worker.Poll(ctx)
	f.clock.Advance(time.Hour)
	f.dispatchArmed(t, exec, "opened")
	f.worker.Poll(ctx)

	ev, err := f.store.GetEvaluation(ctx, exec.ID, "opened")
	require.NoError(t, err)
	assert.Equal(t, domain.ResultNo, ev.Result)
	assert.Equal(t, []string{"c1", "c2"}, ev.NoContacts, "no engagement facts and no message both mean no")

	_, err = f.store.GetStageByNode(ctx, exec.ID, "email2")
	assert.ErrorIs(t, err, store.ErrNotFound, "empty branches create nothing")
	assert.Equal(t, domain.ExecutionCompleted, f.execution(t, exec).State)
}

func TestWorker_PartialFailureCompletesStage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{})
	f.gateway.reject["c2"] = true
	exec := f.start(t, "c1", "c2", "c3")

	f.worker.Poll(ctx)

	st := f.stage(t, exec, "email1")
	assert.Equal(t, domain.StageCompleted, st.State)
	assert.Equal(t, 2, st.SentCount)
	assert.Equal(t, 1, st.FailedCount)

	deliveries, err := f.store.ListDeliveries(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 3)
	assert.False(t, deliveries[1].Success)
	assert.Equal(t, "provider rejected", deliveries[1].Error)
}

func TestWorker_TotalFailureFailsOnlyStage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{})
	f.gateway.reject["c1"] = true
	f.gateway.reject["c2"] = true
	exec := f.start(t, "c1", "c2")

	f.worker.Poll(ctx)

	st := f.stage(t, exec, "email1")
	assert.Equal(t, domain.StageFailed, st.State)
	assert.Contains(t, st.Error, "all 2 sends failed")
	assert.Equal(t, 2, st.FailedCount)

	_, err := f.store.GetStageByNode(ctx, exec.ID, "opened")
	assert.ErrorIs(t, err, store.ErrNotFound, "a failed stage schedules nothing downstream")

	e := f.execution(t, exec)
	assert.Equal(t, domain.ExecutionCompleted, e.State, "nothing else to wait for")
	assert.Empty(t, e.Error)
}

// splitSendGraph: email1 → opened? yes → emailA (через час) → done,
// no → emailB → done.
func splitSendGraph() domain.FlowGraph {
	return domain.FlowGraph{
		Stages: []domain.StageDef{
			{ID: "email1", Type: domain.StageTypeSend, Channel: domain.ChannelEmail, TemplateRef: "welcome"},
			{ID: "emailA", Type: domain.StageTypeSend, Channel: domain.ChannelEmail, TemplateRef: "welcome", WaitOffsetSec: 3600},
			{ID: "emailB", Type: domain.StageTypeSend, Channel: domain.ChannelEmail, TemplateRef: "welcome"},
			{ID: "done", Type: domain.StageTypeEnd},
		},
		Conditions: []domain.ConditionDef{
			{ID: "opened", MetricParam: "opens", Operator: ">", Threshold: "0", EvalDelaySec: 3600},
		},
		Branches: []domain.Branch{
			{SourceID: "email1", TargetID: "opened"},
			{SourceID: "opened", TargetID: "emailA", Label: domain.BranchYes},
			{SourceID: "opened", TargetID: "emailB", Label: domain.BranchNo},
			{SourceID: "emailA", TargetID: "done"},
			{SourceID: "emailB", TargetID: "done"},
		},
	}
}

func TestWorker_FailedBranchDoesNotStopSibling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{graph: splitSendGraph()})
	exec := f.start(t, "c1", "c2")

	assert.Equal(t, 1, f.worker.Poll(ctx))
	require.NoError(t, f.store.RecordEngagement(ctx, "msg-c1", domain.EventOpen, f.clock.Now()))

	// c2 недоступен только во второй волне отправок
	f.gateway.mu.Lock()
	f.gateway.reject["c2"] = true
	f.gateway.mu.Unlock()

	f.clock.Advance(time.Hour)
	f.dispatchArmed(t, exec, "opened")
	assert.Equal(t, 1, f.worker.Poll(ctx))

	emailA := f.stage(t, exec, "emailA")
	assert.True(t, emailA.IsArmed(), "the yes branch waits for its offset")
	assert.Equal(t, []string{"c1"}, emailA.ContactIDs)

	assert.Equal(t, 1, f.worker.Poll(ctx))
	emailB := f.stage(t, exec, "emailB")
	assert.Equal(t, domain.StageFailed, emailB.State)
	assert.Contains(t, emailB.Error, "all 1 sends failed")

	e := f.execution(t, exec)
	assert.Equal(t, domain.ExecutionInProgress, e.State, "a channel failure fails the stage, not the execution")
	assert.Equal(t, "emailA", e.NextNode)

	f.clock.Advance(time.Hour)
	f.dispatchArmed(t, exec, "emailA")
	assert.Equal(t, 1, f.worker.Poll(ctx))

	emailA = f.stage(t, exec, "emailA")
	assert.Equal(t, domain.StageCompleted, emailA.State)
	assert.Equal(t, 1, emailA.SentCount)
	assert.Equal(t, 4, f.gateway.calls())

	done := f.stage(t, exec, "done")
	assert.Equal(t, []string{"c1"}, done.ContactIDs, "only the delivered branch reaches the end")

	e = f.execution(t, exec)
	assert.Equal(t, domain.ExecutionCompleted, e.State)
	assert.Empty(t, e.Error)
}

func TestWorker_MissingDestinationIsFailedDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{threshold: 1})
	exec := f.start(t, "c1", "c2")
	f.store.PutContact(domain.Contact{ID: "c2"})

	f.worker.Poll(ctx)

	st := f.stage(t, exec, "email1")
	assert.Equal(t, domain.StageCompleted, st.State)
	assert.Equal(t, 1, st.SentCount)
	assert.Equal(t, 1, st.FailedCount)
	assert.Equal(t, 1, f.gateway.calls(), "no provider call without a destination")

	state, err := f.worker.breaker.State(ctx, domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, state, "data errors do not trip the breaker")
}

func TestWorker_RateLimitDefersRemainder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{limits: ratelimit.Limits{PerSecond: 2}})
	exec := f.start(t, "c1", "c2", "c3")

	f.worker.Poll(ctx)

	assert.Equal(t, 2, f.gateway.calls())
	assert.Equal(t, domain.StageExecuting, f.stage(t, exec, "email1").State)

	jobs := f.sendJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobRetried, jobs[0].State)
	assert.Contains(t, jobs[0].Error, "rate limit")

	f.clock.Advance(10 * time.Second)
	n, err := f.ledger.Requeue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	f.worker.Poll(ctx)

	assert.Equal(t, 3, f.gateway.calls(), "resumed job sends only the remaining contact")
	st := f.stage(t, exec, "email1")
	assert.Equal(t, domain.StageCompleted, st.State)
	assert.Equal(t, 3, st.SentCount)
}

func TestWorker_OpenBreakerDefers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{threshold: 2})
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		f.gateway.reject[id] = true
	}
	exec := f.start(t, "c1", "c2", "c3", "c4")

	f.worker.Poll(ctx)

	assert.Equal(t, 2, f.gateway.calls(), "breaker opens after two failures")
	assert.Equal(t, domain.StageExecuting, f.stage(t, exec, "email1").State)
	assert.Equal(t, domain.ExecutionInProgress, f.execution(t, exec).State)

	jobs := f.sendJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobRetried, jobs[0].State)
	assert.Contains(t, jobs[0].Error, "circuit open")
}

func TestWorker_DeferralExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{limits: ratelimit.Limits{PerHour: 1}})
	exec := f.start(t, "c1", "c2")

	for i := 0; i < 3; i++ {
		f.worker.Poll(ctx)
		f.clock.Advance(time.Minute)
		_, err := f.ledger.Requeue(ctx, 10)
		require.NoError(t, err)
	}

	jobs := f.sendJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobFailed, jobs[0].State)
	assert.Equal(t, 3, jobs[0].Attempts)
	assert.Equal(t, domain.StageExecuting, f.stage(t, exec, "email1").State, "stage waits for operator action")
}

func TestWorker_DuplicateJobIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{})
	exec := f.start(t, "c1", "c2")

	f.worker.Poll(ctx)
	require.Equal(t, 2, f.gateway.calls())

	jobs := f.sendJobs(t)
	require.Len(t, jobs, 1)
	require.NoError(t, f.worker.ProcessJob(ctx, jobs[0].ID))

	st := f.stage(t, exec, "email1")
	_, err := f.ledger.Submit(ctx, domain.SendStageJob{ExecutionID: exec.ID, StageID: st.ID, NodeID: "email1"})
	require.NoError(t, err)
	f.worker.Poll(ctx)

	assert.Equal(t, 2, f.gateway.calls(), "a completed stage is never sent again")
}

func TestWorker_ConditionEvaluatedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{})
	exec := f.start(t, "c1")
	f.worker.Poll(ctx)

	f.clock.Advance(time.Hour)
	f.dispatchArmed(t, exec, "opened")
	f.worker.Poll(ctx)

	first, err := f.store.GetEvaluation(ctx, exec.ID, "opened")
	require.NoError(t, err)

	require.NoError(t, f.store.RecordEngagement(ctx, "msg-c1", domain.EventOpen, f.clock.Now()))
	st := f.stage(t, exec, "opened")
	_, err = f.ledger.Submit(ctx, domain.VerifyConditionJob{ExecutionID: exec.ID, StageID: st.ID, ConditionID: "opened"})
	require.NoError(t, err)
	f.worker.Poll(ctx)

	again, err := f.store.GetEvaluation(ctx, exec.ID, "opened")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, domain.ResultNo, again.Result)
}

func TestWorker_CancelledExecutionAbandonsStage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, options{})
	exec := f.start(t, "c1", "c2")

	_, err := f.orch.Fail(ctx, exec.ID, "cancelled")
	require.NoError(t, err)
	f.worker.Poll(ctx)

	assert.Zero(t, f.gateway.calls())
	st := f.stage(t, exec, "email1")
	assert.Equal(t, domain.StageFailed, st.State)
	assert.Equal(t, "execution failed: cancelled", st.Error)
}

func TestWorker_MissingTemplateFailsExecution(t *testing.T) {
	ctx := context.Background()
	graph := branchingGraph()
	graph.Stages[0].TemplateRef = "missing"
	f := newFixture(t, options{graph: graph})
	exec := f.start(t, "c1")

	f.worker.Poll(ctx)

	assert.Zero(t, f.gateway.calls())
	e := f.execution(t, exec)
	assert.Equal(t, domain.ExecutionFailed, e.State)
	assert.Contains(t, e.Error, `template "missing" not found`)
}

func TestWorker_MissingEdgeFailsExecution(t *testing.T) {
	ctx := context.Background()
	graph := branchingGraph()
	graph.Branches = graph.Branches[1:]
	graph.StartNode = "email1"
	f := newFixture(t, options{graph: graph})
	exec := f.start(t, "c1")

	f.worker.Poll(ctx)

	assert.Equal(t, domain.StageCompleted, f.stage(t, exec, "email1").State, "the send itself succeeded")
	e := f.execution(t, exec)
	assert.Equal(t, domain.ExecutionFailed, e.State)
	assert.Contains(t, e.Error, "no matching edge")
}

func TestWorker_InvalidConditionFailsExecution(t *testing.T) {
	ctx := context.Background()
	graph := branchingGraph()
	graph.Conditions[0].MetricParam = "likes"
	f := newFixture(t, options{graph: graph})
	exec := f.start(t, "c1")

	f.worker.Poll(ctx)
	f.clock.Advance(time.Hour)
	f.dispatchArmed(t, exec, "opened")
	f.worker.Poll(ctx)

	assert.Equal(t, domain.StageFailed, f.stage(t, exec, "opened").State)
	e := f.execution(t, exec)
	assert.Equal(t, domain.ExecutionFailed, e.State)
	assert.Contains(t, e.Error, "unknown metric")
}

func TestWorker_StartStop(t *testing.T) {
	f := newFixture(t, options{})
	require.NoError(t, f.worker.Start(context.Background()))
	assert.False(t, f.worker.IsStopped())

	f.worker.Stop()
	assert.True(t, f.worker.IsStopped())
	assert.ErrorIs(t, f.worker.Start(context.Background()), ErrWorkerStopped)
}

func TestNew_Defaults(t *testing.T) {
	f := newFixture(t, options{})
	w := New(Config{Orchestrator: f.orch, Ledger: f.ledger})
	assert.Equal(t, defaultPollInterval, w.pollInterval)
	assert.Equal(t, defaultBatchSize, w.batchSize)
	assert.NotNil(t, w.gateways)
	assert.Nil(t, w.queue)
}

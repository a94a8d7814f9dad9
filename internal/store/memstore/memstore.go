// Package memstore — хранилище движка в памяти.
//
// Используется в тестах и в all-in-one режиме без PostgreSQL.
// Семантика совпадает с internal/repo: те же ошибки, те же
// compare-and-set переходы под одним мьютексом.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/store"
)

// Store реализует store.Store в памяти.
type Store struct {
	mu sync.Mutex

	flows      map[uuid.UUID]domain.Flow
	flowOrder  []uuid.UUID
	executions map[uuid.UUID]domain.Execution
	execOrder  []uuid.UUID

	stages      map[uuid.UUID]domain.ExecutionStage
	stageByNode map[uuid.UUID]map[string]uuid.UUID
	stageOrder  map[uuid.UUID][]uuid.UUID

	deliveries    map[uuid.UUID]map[string]domain.Delivery
	deliveryOrder map[uuid.UUID][]string

	evaluations map[evalKey]domain.ConditionEvaluation
	evalOrder   map[uuid.UUID][]evalKey

	jobs     map[uuid.UUID]domain.DispatchedJob
	jobOrder []uuid.UUID

	contacts   map[string]domain.Contact
	templates  map[string]domain.Template
	engagement map[string]domain.EngagementStats
}

type evalKey struct {
	executionID uuid.UUID
	conditionID string
}

var _ store.Store = (*Store)(nil)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		flows:         make(map[uuid.UUID]domain.Flow),
		executions:    make(map[uuid.UUID]domain.Execution),
		stages:        make(map[uuid.UUID]domain.ExecutionStage),
		stageByNode:   make(map[uuid.UUID]map[string]uuid.UUID),
		stageOrder:    make(map[uuid.UUID][]uuid.UUID),
		deliveries:    make(map[uuid.UUID]map[string]domain.Delivery),
		deliveryOrder: make(map[uuid.UUID][]string),
		evaluations:   make(map[evalKey]domain.ConditionEvaluation),
		evalOrder:     make(map[uuid.UUID][]evalKey),
		jobs:          make(map[uuid.UUID]domain.DispatchedJob),
		contacts:      make(map[string]domain.Contact),
		templates:     make(map[string]domain.Template),
		engagement:    make(map[string]domain.EngagementStats),
	}
}

// --- Flows ---

func (s *Store) CreateFlow(_ context.Context, flow *domain.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.flows {
		if f.Name == flow.Name {
			return store.ErrAlreadyExists
		}
	}
	s.flows[flow.ID] = *flow
	s.flowOrder = append(s.flowOrder, flow.ID)
	return nil
}

func (s *Store) GetFlow(_ context.Context, id uuid.UUID) (*domain.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (s *Store) ListFlows(_ context.Context, limit, offset int) ([]domain.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flows []domain.Flow
	for _, id := range page(s.flowOrder, limit, offset) {
		flows = append(flows, s.flows[id])
	}
	return flows, nil
}

// --- Executions ---

func (s *Store) CreateExecution(_ context.Context, exec *domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; exists {
		return store.ErrAlreadyExists
	}
	for _, e := range s.executions {
		if e.FlowID == exec.FlowID && !e.State.IsTerminal() {
			return store.ErrActiveExecution
		}
	}
	c := *exec
	c.ContactIDs = slices.Clone(exec.ContactIDs)
	s.executions[exec.ID] = c
	s.execOrder = append(s.execOrder, exec.ID)
	return nil
}

func (s *Store) GetExecution(_ context.Context, id uuid.UUID) (*domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneExecution(e), nil
}

func (s *Store) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []uuid.UUID
	for i := len(s.execOrder) - 1; i >= 0; i-- {
		e := s.executions[s.execOrder[i]]
		if filter.FlowID != nil && e.FlowID != *filter.FlowID {
			continue
		}
		if filter.State != "" && e.State != filter.State {
			continue
		}
		matched = append(matched, e.ID)
	}

	var out []domain.Execution
	for _, id := range page(matched, filter.Limit, filter.Offset) {
		out = append(out, *cloneExecution(s.executions[id]))
	}
	return out, nil
}

func (s *Store) ListDueExecutions(_ context.Context, now time.Time, limit int) ([]domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Execution
	for _, e := range s.executions {
		if e.IsDue(now) {
			due = append(due, *cloneExecution(e))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].NextNodeDueAt, due[j].NextNodeDueAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return due[i].ID.String() < due[j].ID.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) TransitionExecution(_ context.Context, id uuid.UUID, from []domain.ExecutionState, to domain.ExecutionState, reason string, now time.Time) (bool, error) {
	if err := store.CheckExecutionTransition(from, to); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if !slices.Contains(from, e.State) {
		return false, nil
	}
	applyExecutionState(&e, to, reason, now)
	s.executions[id] = e
	return true, nil
}

func (s *Store) AdvancePointer(_ context.Context, id uuid.UUID, currentNode string, now time.Time) (*domain.Execution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if e.State.IsTerminal() {
		return cloneExecution(e), false, nil
	}

	var next *domain.ExecutionStage
	for _, sid := range s.stageOrder[id] {
		st := s.stages[sid]
		if !st.IsArmed() {
			continue
		}
		if next == nil || dueBefore(st.DueAt, next.DueAt) {
			next = &st
		}
	}

	if currentNode != "" {
		e.CurrentNode = currentNode
	}
	e.NextNode = ""
	e.NextNodeDueAt = nil
	if next != nil {
		e.NextNode = next.NodeID
		due := now
		if next.DueAt != nil {
			due = *next.DueAt
		}
		e.NextNodeDueAt = &due
	}
	e.UpdatedAt = now
	s.executions[id] = e
	return cloneExecution(e), true, nil
}

// dueBefore сравнивает плановые времена; nil — «уже пора».
func dueBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	default:
		return a.Before(*b)
	}
}

func (s *Store) CompleteIfIdle(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if e.State != domain.ExecutionInProgress {
		return false, nil
	}
	for _, sid := range s.stageOrder[id] {
		st := s.stages[sid]
		if st.State == domain.StageExecuting || st.IsArmed() {
			return false, nil
		}
	}
	applyExecutionState(&e, domain.ExecutionCompleted, "", now)
	s.executions[id] = e
	return true, nil
}

func applyExecutionState(e *domain.Execution, to domain.ExecutionState, reason string, now time.Time) {
	e.State = to
	e.UpdatedAt = now
	switch {
	case to == domain.ExecutionInProgress && e.StartedAt == nil:
		e.StartedAt = &now
	case to.IsTerminal():
		e.FinishedAt = &now
		e.NextNode = ""
		e.NextNodeDueAt = nil
		if reason != "" {
			e.Error = reason
		}
	}
}

// --- Stages ---

func (s *Store) CreateStage(_ context.Context, stage *domain.ExecutionStage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byNode := s.stageByNode[stage.ExecutionID]
	if byNode == nil {
		byNode = make(map[string]uuid.UUID)
		s.stageByNode[stage.ExecutionID] = byNode
	}
	if _, exists := byNode[stage.NodeID]; exists {
		return false, nil
	}
	byNode[stage.NodeID] = stage.ID
	s.stages[stage.ID] = *cloneStage(*stage)
	s.stageOrder[stage.ExecutionID] = append(s.stageOrder[stage.ExecutionID], stage.ID)
	return true, nil
}

func (s *Store) GetStage(_ context.Context, id uuid.UUID) (*domain.ExecutionStage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneStage(st), nil
}

func (s *Store) GetStageByNode(_ context.Context, executionID uuid.UUID, nodeID string) (*domain.ExecutionStage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.stageByNode[executionID][nodeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneStage(s.stages[id]), nil
}

func (s *Store) ListStages(_ context.Context, executionID uuid.UUID) ([]domain.ExecutionStage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ExecutionStage
	for _, id := range s.stageOrder[executionID] {
		out = append(out, *cloneStage(s.stages[id]))
	}
	return out, nil
}

func (s *Store) TransitionStage(_ context.Context, stage *domain.ExecutionStage, from domain.StageState) (bool, error) {
	if err := store.CheckStageTransition(from, stage.State); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.stages[stage.ID]
	if !ok {
		return false, store.ErrNotFound
	}
	if cur.State != from {
		return false, nil
	}
	s.stages[stage.ID] = *cloneStage(*stage)
	return true, nil
}

func (s *Store) RecordDelivery(_ context.Context, d *domain.Delivery) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byContact := s.deliveries[d.StageID]
	if byContact == nil {
		byContact = make(map[string]domain.Delivery)
		s.deliveries[d.StageID] = byContact
	}
	if _, exists := byContact[d.ContactID]; exists {
		return false, nil
	}
	byContact[d.ContactID] = *d
	s.deliveryOrder[d.StageID] = append(s.deliveryOrder[d.StageID], d.ContactID)
	return true, nil
}

func (s *Store) ListDeliveries(_ context.Context, stageID uuid.UUID) ([]domain.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Delivery
	for _, contactID := range s.deliveryOrder[stageID] {
		out = append(out, s.deliveries[stageID][contactID])
	}
	return out, nil
}

// --- Evaluations ---

func (s *Store) CreateEvaluation(_ context.Context, ev *domain.ConditionEvaluation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := evalKey{executionID: ev.ExecutionID, conditionID: ev.ConditionID}
	if _, exists := s.evaluations[key]; exists {
		return false, nil
	}
	c := *ev
	c.YesContacts = slices.Clone(ev.YesContacts)
	c.NoContacts = slices.Clone(ev.NoContacts)
	s.evaluations[key] = c
	s.evalOrder[ev.ExecutionID] = append(s.evalOrder[ev.ExecutionID], key)
	return true, nil
}

func (s *Store) GetEvaluation(_ context.Context, executionID uuid.UUID, conditionID string) (*domain.ConditionEvaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.evaluations[evalKey{executionID: executionID, conditionID: conditionID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ev, nil
}

func (s *Store) ListEvaluations(_ context.Context, executionID uuid.UUID) ([]domain.ConditionEvaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ConditionEvaluation
	for _, key := range s.evalOrder[executionID] {
		out = append(out, s.evaluations[key])
	}
	return out, nil
}

// --- Jobs ---

func (s *Store) CreateJob(_ context.Context, job *domain.DispatchedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return store.ErrAlreadyExists
	}
	s.jobs[job.ID] = *cloneJob(*job)
	s.jobOrder = append(s.jobOrder, job.ID)
	return nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*domain.DispatchedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *Store) ListJobs(_ context.Context, filter store.JobFilter) ([]domain.DispatchedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.DispatchedJob
	for i := len(s.jobOrder) - 1; i >= 0; i-- {
		j, ok := s.jobs[s.jobOrder[i]]
		if !ok {
			continue
		}
		if filter.State != "" && j.State != filter.State {
			continue
		}
		if filter.Kind != "" && j.Kind != filter.Kind {
			continue
		}
		if filter.ExecutionID != nil && j.ExecutionID != *filter.ExecutionID {
			continue
		}
		out = append(out, *cloneJob(j))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListRetryable(_ context.Context, now time.Time, limit int) ([]domain.DispatchedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.DispatchedJob
	for _, id := range s.jobOrder {
		j, ok := s.jobs[id]
		if !ok || j.State != domain.JobRetried {
			continue
		}
		if j.NextAttemptAt != nil && j.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, *cloneJob(j))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) TransitionJob(_ context.Context, job *domain.DispatchedJob, from ...domain.JobState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[job.ID]
	if !ok {
		return false, store.ErrNotFound
	}
	if !slices.Contains(from, cur.State) {
		return false, nil
	}
	s.jobs[job.ID] = *cloneJob(*job)
	return true, nil
}

func (s *Store) DeleteJobs(_ context.Context, state domain.JobState) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	kept := s.jobOrder[:0]
	for _, id := range s.jobOrder {
		if s.jobs[id].State == state {
			delete(s.jobs, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	s.jobOrder = kept
	return n, nil
}

// --- Contacts, templates, engagement ---

// PutContact добавляет или заменяет контакт.
func (s *Store) PutContact(c domain.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
}

// PutTemplate добавляет или заменяет шаблон.
func (s *Store) PutTemplate(t domain.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.Ref] = t
}

func (s *Store) GetContact(_ context.Context, id string) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetTemplate(_ context.Context, ref string) (*domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[ref]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) GetStats(_ context.Context, providerMessageID string) (domain.EngagementStats, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.engagement[providerMessageID]
	return stats, ok, nil
}

func (s *Store) RecordEngagement(_ context.Context, providerMessageID string, event domain.EngagementEvent, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.engagement[providerMessageID]
	stats.Apply(event)
	s.engagement[providerMessageID] = stats
	return nil
}

// --- Helpers ---

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneExecution(e domain.Execution) *domain.Execution {
	e.ContactIDs = slices.Clone(e.ContactIDs)
	e.NextNodeDueAt = cloneTime(e.NextNodeDueAt)
	return &e
}

func cloneStage(st domain.ExecutionStage) *domain.ExecutionStage {
	st.ContactIDs = slices.Clone(st.ContactIDs)
	st.DueAt = cloneTime(st.DueAt)
	if st.ParentStageID != nil {
		p := *st.ParentStageID
		st.ParentStageID = &p
	}
	return &st
}

func cloneJob(j domain.DispatchedJob) *domain.DispatchedJob {
	j.Payload = slices.Clone(j.Payload)
	j.NextAttemptAt = cloneTime(j.NextAttemptAt)
	return &j
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobKind — тип фоновой задачи. Множество закрыто.
type JobKind string

const (
	// JobSendStage — отправка стадии.
	JobSendStage JobKind = "send-stage"

	// JobVerifyCondition — вычисление условия.
	JobVerifyCondition JobKind = "verify-condition"
)

// ErrUnknownJobKind — тип задачи не поддерживается.
var ErrUnknownJobKind = errors.New("unknown job kind")

// Job — фоновая задача движка.
//
// Реализации: SendStageJob и VerifyConditionJob. Других нет,
// обработчики разбирают задачу через type switch.
type Job interface {
	Kind() JobKind
	Execution() uuid.UUID
	Stage() uuid.UUID
	isJob()
}

// SendStageJob — отправить стадию её набору контактов.
type SendStageJob struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	StageID     uuid.UUID `json:"stage_id"`
	NodeID      string    `json:"node_id"`
}

func (SendStageJob) Kind() JobKind          { return JobSendStage }
func (j SendStageJob) Execution() uuid.UUID { return j.ExecutionID }
func (j SendStageJob) Stage() uuid.UUID     { return j.StageID }
func (SendStageJob) isJob()                 {}

// VerifyConditionJob — вычислить условие и разделить контакты.
type VerifyConditionJob struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	StageID     uuid.UUID `json:"stage_id"`
	ConditionID string    `json:"condition_id"`
}

func (VerifyConditionJob) Kind() JobKind          { return JobVerifyCondition }
func (j VerifyConditionJob) Execution() uuid.UUID { return j.ExecutionID }
func (j VerifyConditionJob) Stage() uuid.UUID     { return j.StageID }
func (VerifyConditionJob) isJob()                 {}

// EncodeJob сериализует payload задачи.
func EncodeJob(job Job) (json.RawMessage, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal %s job: %w", job.Kind(), err)
	}
	return data, nil
}

// DecodeJob восстанавливает задачу по типу и payload.
func DecodeJob(kind JobKind, payload json.RawMessage) (Job, error) {
	switch kind {
	case JobSendStage:
		var j SendStageJob
		if err := json.Unmarshal(payload, &j); err != nil {
			return nil, fmt.Errorf("unmarshal %s job: %w", kind, err)
		}
		return j, nil
	case JobVerifyCondition:
		var j VerifyConditionJob
		if err := json.Unmarshal(payload, &j); err != nil {
			return nil, fmt.Errorf("unmarshal %s job: %w", kind, err)
		}
		return j, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobKind, kind)
	}
}

// DispatchedJob — запись журнала фоновых задач.
//
// Журнал — источник истины для воркеров: сообщение в очереди несёт
// только ID записи, а повторная доставка того же сообщения
// отбрасывается по состоянию записи.
type DispatchedJob struct {
	// ID — уникальный идентификатор задачи.
	ID uuid.UUID `json:"id"`

	// Kind — send-stage или verify-condition.
	Kind JobKind `json:"kind"`

	// ExecutionID и StageID дублируют payload для фильтрации.
	ExecutionID uuid.UUID `json:"execution_id"`
	StageID     uuid.UUID `json:"stage_id"`

	// Payload — сериализованная задача.
	Payload json.RawMessage `json:"payload"`

	// State — состояние задачи.
	State JobState `json:"state"`

	// Attempts — сколько раз задача бралась в обработку.
	Attempts int `json:"attempts"`

	// MaxAttempts — предел попыток до перехода в failed.
	MaxAttempts int `json:"max_attempts"`

	// Error — последняя ошибка.
	Error string `json:"error,omitempty"`

	// NextAttemptAt — когда задачу можно повторить (для retried).
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDispatchedJob создаёт запись журнала для задачи.
func NewDispatchedJob(job Job, maxAttempts int, now time.Time) (*DispatchedJob, error) {
	payload, err := EncodeJob(job)
	if err != nil {
		return nil, err
	}
	return &DispatchedJob{
		ID:          uuid.New(),
		Kind:        job.Kind(),
		ExecutionID: job.Execution(),
		StageID:     job.Stage(),
		Payload:     payload,
		State:       JobQueued,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Job восстанавливает типизированную задачу из записи.
func (j *DispatchedJob) Job() (Job, error) {
	return DecodeJob(j.Kind, j.Payload)
}

// CanRetry возвращает true, если попытки ещё остались.
func (j *DispatchedJob) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Flow — определение кампании.
//
// Flow — это многошаговый сценарий рассылки: граф из отправок,
// условий и ветвлений. Один flow может запускаться многократно,
// каждый запуск — это Execution над фиксированным набором контактов.
// Для движка Flow доступен только на чтение.
type Flow struct {
	// ID — уникальный идентификатор flow.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя flow (например, "welcome-series").
	Name string `json:"name"`

	// Description — описание назначения flow.
	Description string `json:"description,omitempty"`

	// Graph — граф стадий, условий и переходов.
	Graph FlowGraph `json:"graph"`

	// IsActive — флаг активности. Неактивный flow нельзя запустить.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания flow.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// FlowGraph — граф flow (содержимое JSONB поля graph).
//
// Пример:
//
//	stages:
//	  - {id: email1, type: send, channel: email, template_ref: welcome}
//	  - {id: email2, type: send, channel: email, wait_offset_sec: 86400}
//	  - {id: done, type: end}
//	conditions:
//	  - {id: opened, metric_param: opens, operator: ">", threshold: "0", eval_delay_sec: 172800}
//	branches:
//	  - {source_id: email1, target_id: opened}
//	  - {source_id: opened, target_id: email2, label: "yes"}
//	  - {source_id: opened, target_id: done, label: "no"}
//	  - {source_id: email2, target_id: done}
type FlowGraph struct {
	// StartNode — первый узел. Если пуст, стартом считается первый
	// объявленный узел без входящих рёбер.
	StartNode string `json:"start_node,omitempty" yaml:"start_node,omitempty"`

	// Stages — стадии отправки и конечные узлы.
	Stages []StageDef `json:"stages" yaml:"stages"`

	// Conditions — узлы ветвления.
	Conditions []ConditionDef `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// Branches — рёбра графа. Порядок важен: при поиске перехода
	// побеждает первое подходящее ребро.
	Branches []Branch `json:"branches" yaml:"branches"`
}

// StageDef — определение стадии.
type StageDef struct {
	// ID — уникальный идентификатор узла внутри flow.
	ID string `json:"id" yaml:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type — send или end.
	Type StageType `json:"type" yaml:"type"`

	// Channel — канал отправки (только для send).
	Channel Channel `json:"channel,omitempty" yaml:"channel,omitempty"`

	// WaitOffsetSec — задержка перед стадией относительно завершения
	// предыдущего узла, в секундах.
	WaitOffsetSec int `json:"wait_offset_sec,omitempty" yaml:"wait_offset_sec,omitempty"`

	// TemplateRef — ссылка на шаблон сообщения.
	TemplateRef string `json:"template_ref,omitempty" yaml:"template_ref,omitempty"`
}

// WaitOffset возвращает задержку стадии.
func (s StageDef) WaitOffset() time.Duration {
	return time.Duration(s.WaitOffsetSec) * time.Second
}

// ConditionDef — определение узла-условия.
//
// Условие вычисляется для каждого контакта отдельно по метрике
// вовлечённости его последнего сообщения.
type ConditionDef struct {
	// ID — уникальный идентификатор узла внутри flow.
	ID string `json:"id" yaml:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// MetricParam — метрика: opens (views), clicks, bounces, unsubscribes.
	MetricParam string `json:"metric_param" yaml:"metric_param"`

	// Operator — оператор сравнения: > >= == != < <= in not_in.
	Operator string `json:"operator" yaml:"operator"`

	// Threshold — порог. Для in/not_in — список через запятую.
	Threshold string `json:"threshold" yaml:"threshold"`

	// EvalDelaySec — задержка перед вычислением условия, в секундах.
	EvalDelaySec int `json:"eval_delay_sec,omitempty" yaml:"eval_delay_sec,omitempty"`
}

// EvalDelay возвращает задержку вычисления условия.
func (c ConditionDef) EvalDelay() time.Duration {
	return time.Duration(c.EvalDelaySec) * time.Second
}

// Branch — ребро графа.
type Branch struct {
	SourceID string      `json:"source_id" yaml:"source_id"`
	TargetID string      `json:"target_id" yaml:"target_id"`
	Label    BranchLabel `json:"label,omitempty" yaml:"label,omitempty"`
}

// StageType — тип стадии.
type StageType string

const (
	// StageTypeSend — отправка сообщения.
	StageTypeSend StageType = "send"

	// StageTypeEnd — конец flow.
	StageTypeEnd StageType = "end"
)

// BranchLabel — метка ребра.
type BranchLabel string

const (
	// BranchNone — безусловный переход.
	BranchNone BranchLabel = ""

	// BranchYes — условие выполнено.
	BranchYes BranchLabel = "yes"

	// BranchNo — условие не выполнено.
	BranchNo BranchLabel = "no"
)

// Channel — канал доставки.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Channels возвращает все поддерживаемые каналы.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS}
}

// ParseChannel парсит строку в Channel.
func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelEmail, ChannelSMS:
		return Channel(s), true
	default:
		return "", false
	}
}

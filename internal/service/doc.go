// Package service — операции движка, доступные снаружи.
//
// Service — единая точка входа для HTTP API и all-in-one бинаря:
//
//   - Flows: CreateFlow, GetFlow, ListFlows
//   - Executions: RunFlow, Pause, Resume, Cancel, FailExecution
//   - Чтение: GetProgress, ListStages, ListEvaluations, ListExecutions
//   - Каналы: ChannelStatus, ResetBreaker
//   - Журнал задач: ListJobs, RetryJob, ClearFailedJobs
//   - Tick и RecordEngagement
//
// Все переходы состояний execution выполняются через compare-and-set
// хранилища. Переход из неподходящего состояния возвращает
// ErrInvalidState, а не меняет execution молча.
package service

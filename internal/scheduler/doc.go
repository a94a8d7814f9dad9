// Package scheduler продвигает executions по тикам.
//
// Ожидание между узлами хранится данными: next_node и
// next_node_due_at. Каждый тик находит executions, чьё время пришло,
// и продвигает каждый ровно на один узел:
//
//  1. тип узла из графа flow (неизвестный узел — execution failed)
//  2. защита идемпотентности: стадия узла уже executing или
//     завершена — пропуск, указатель пересчитывается
//  3. набор контактов: запланированной стадии, затем текущего узла,
//     затем всего execution
//  4. стадия переводится в executing, ставится задача в журнал
//     (конечный узел завершается сразу)
//
// Планировщик никогда не перезапускает executing стадию: упавший
// воркер оставляет её оператору (at-most-once).
//
// Структура:
//   - scheduler.go — Tick и продвижение одного execution
//   - cron.go      — daemon на robfig/cron и разбор cron-выражений
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Orchestrator: orch,
//	    Ledger:       ledger,
//	    Logger:       logger,
//	})
//	if err := sched.Start(ctx, cfg.TickSchedule); err != nil {
//	    return err
//	}
//	defer sched.Stop()
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Бинарник cadence-scheduler держит repo.Leader (pg_try_advisory_lock).
// Тики запускаются только лидером.
package scheduler

// Package worker выполняет задачи журнала.
//
// # Обзор
//
// Worker — stateless компонент системы Cadence. Он берёт задачи,
// поставленные планировщиком или другими задачами, и выполняет их:
//
//   - SendStageJob — отправка стадии её набору контактов (dispatcher)
//   - VerifyConditionJob — вычисление условия и ветвление (evaluator)
//
// Задачи приходят из очереди (RabbitMQ или in-process), а потерянные
// сообщения подбирает polling журнала. Workers масштабируются
// горизонтально: задачу выполняет тот, кто первым перевёл запись
// журнала в processing.
//
//	w := worker.New(worker.Config{
//	    Orchestrator: orch,
//	    Ledger:       ledger,
//	    Queue:        q,
//	    Gateways:     channel.DefaultRegistry(urls, timeout, logger),
//	    Breaker:      cb,
//	    Limiter:      limiter,
//	    Logger:       logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Dispatcher
//
// Обрабатывает только стадию в executing. Для каждого контакта, ещё
// не записанного в журнал доставок стадии:
//
//  1. breaker.Allow и limiter.Allow канала; отказ — ErrDeferred
//  2. контакт → адрес, template_ref → отрендеренное сообщение
//  3. Gateway.Send, запись доставки, учёт в breaker
//
// Стадия проваливается, только если не удалась ни одна отправка. Её
// ветка на этом обрывается, execution продолжает остальные ветки.
// Иначе следующий узел планируется на now + wait_offset.
//
// # Evaluator
//
// Условие вычисляется по каждому контакту отдельно, по статистике его
// последнего сообщения. Нет сообщения или фактов — контакт идёт в
// "no". Непустые ветви получают свои стадии: узел без задержки
// передаётся на выполнение сразу, остальные ждут планировщика.
//
// # Повторы
//
// Повторы ведёт журнал (queue.Ledger), а не воркер: ErrDeferred и
// прочие ошибки переводят задачу в retried с backoff, после
// max_attempts — в failed. Ошибки графа и конфигурации проваливают
// execution и не повторяются.
package worker

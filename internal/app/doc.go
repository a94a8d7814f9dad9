// Package app собирает компоненты Cadence из конфигурации.
//
// Все бинарники (cadence-api, cadence-scheduler, cadence-worker и
// all-in-one cadence) получают один и тот же граф зависимостей:
//
//	store (Postgres | memstore)
//	  └─ ledger (журнал задач) ── queue (RabbitMQ | Watermill gochannel)
//	       └─ orchestrator
//	            ├─ scheduler
//	            ├─ worker ── gateways, breaker, limiter ── counters (Redis | memory)
//	            └─ service ── api
//
// Build открывает внешние подключения, Close закрывает их в обратном
// порядке.
package app

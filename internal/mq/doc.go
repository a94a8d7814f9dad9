// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, confirm mode, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений с подтверждением брокера
//   - consumer.go   — потребление сообщений из очередей
//
// Сообщение несёт только ссылку на запись журнала задач (job_id и kind).
// Состояние задачи живёт в БД, поэтому повторная доставка безопасна.
//
// Exchanges:
//   - cadence.jobs — задачи воркеров, routing key = kind задачи
//   - cadence.dlq  — dead letter queue
package mq

// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go           — Handler с DI (service, validator, logger)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (recovery, tracing, logging)
//   - response.go          — унифицированные JSON-ответы и обработка ошибок
//   - dto.go               — Data Transfer Objects (request/response)
//   - flow_handler.go      — обработчики для /flows
//   - execution_handler.go — обработчики для /executions
//   - ops_handler.go       — tick, каналы, журнал задач, вовлечённость, пробы
//
// API предоставляет REST endpoints для управления flows и executions
// и для операционного контроля каналов и фоновых задач.
package api

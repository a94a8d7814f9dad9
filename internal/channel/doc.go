// Package channel содержит шлюзы доставки сообщений.
//
// Gateway отправляет одно сообщение одному контакту через провайдера
// канала (email, sms). Registry сопоставляет канал и шлюз.
//
// Реализации:
//   - HTTPGateway — POST в webhook провайдера
//   - LogGateway — пишет сообщение в лог, для разработки
//
// Ошибка провайдера (4xx/5xx, таймаут) — это неуспешная доставка,
// а не ошибка Send. Ошибка Send означает, что отправку нельзя даже
// попытаться выполнить (нет адреса, нет шлюза).
package channel

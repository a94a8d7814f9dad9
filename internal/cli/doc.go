// Package cli реализует инструмент командной строки Cadence.
//
// # Обзор
//
// CLI — клиентская утилита для Cadence API. Работает через HTTP;
// из внутренних пакетов использует только разбор файла flow (engine)
// и вычисление cron-времени старта (scheduler), чтобы ошибки в файле
// ловились до запроса к серверу.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Cadence API. Инкапсулирует HTTP-запросы,
// разбор конвертов ответа (data, list, error) и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	flows, err := client.ListFlows()
//
// ## Output
//
// Форматирование вывода: таблицы text/tabwriter по умолчанию,
// JSON с флагом -o json. Данные идут в stdout, сообщения в stderr:
//
//	cadence-cli exec list -o json | jq .
//
// ## Commands
//
// Cobra-команды по ресурсам:
//   - flow: list, get, create -f
//   - exec: start, list, show, stages, evaluations, pause, resume, cancel
//   - tick, channel status|reset, job list|retry|clear
//
// Каждая группа создаётся фабрикой (NewFlowCmd и т.д.), принимающей
// clientFn и outputFn — замыкания для ленивого создания Client и Output
// после разбора PersistentFlags.
package cli

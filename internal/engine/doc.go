// Package engine содержит модель графа flow.
//
// Включает:
//   - graph.go    — индекс графа, NextNode и best-effort линеаризация
//   - operator.go — операторы условий и извлечение метрик
//   - parser.go   — разбор графа из YAML/JSON
//   - template.go — рендеринг шаблонов сообщений ({{ .Contact.FirstName }})
//
// Линеаризация и разрешение следующего узла — два независимых прохода:
// первый лишь заранее создаёт placeholder-стадии прямого участка,
// второй определяет реальный путь execution во время выполнения.
package engine

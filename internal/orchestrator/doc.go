// Package orchestrator ведёт состояние executions и их стадий.
//
// Планировщик, evaluator и dispatcher меняют одно и то же состояние:
// создают стадии, переводят их в executing, ставят задачи в журнал,
// двигают указатель execution и завершают его. Все эти операции
// собраны здесь, чтобы инварианты держались в одном месте:
//
//   - стадия (execution, node) передаётся на выполнение не больше одного раза
//   - указатель всегда пересчитывается из строк стадий (Advance)
//   - execution завершается только когда не осталось активных стадий
//   - терминальный execution не меняется
//
// Orchestrator не хранит состояния между вызовами, кроме кэша графов:
// определения flow неизменяемы.
package orchestrator

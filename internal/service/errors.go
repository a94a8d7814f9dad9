package service

import (
	"errors"

	"github.com/shaiso/Cadence/internal/orchestrator"
)

// Ошибки сервиса.
var (
	// ErrFlowNotFound — flow не найден.
	ErrFlowNotFound = orchestrator.ErrFlowNotFound

	// ErrExecutionNotFound — execution не найден.
	ErrExecutionNotFound = orchestrator.ErrExecutionNotFound

	// ErrFlowExists — flow с таким именем уже есть.
	ErrFlowExists = errors.New("flow already exists")

	// ErrFlowInactive — flow выключен и не может быть запущен.
	ErrFlowInactive = errors.New("flow is not active")

	// ErrNoContacts — запуск без контактов.
	ErrNoContacts = errors.New("no contacts")

	// ErrInvalidGraph — у графа flow не определяется стартовый узел.
	ErrInvalidGraph = errors.New("invalid flow graph")

	// ErrExecutionActive — у flow уже есть незавершённый execution.
	ErrExecutionActive = errors.New("flow already has an active execution")

	// ErrInvalidState — операция недопустима в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")

	// ErrJobNotFound — задача не найдена в журнале.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownChannel — канал не поддерживается.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrInvalidEvent — неизвестный тип факта вовлечённости.
	ErrInvalidEvent = errors.New("invalid engagement event")
)

// ValidationError — ошибка валидации входных данных с контекстом.
type ValidationError struct {
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// IsValidation возвращает true, если err — ошибка валидации.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

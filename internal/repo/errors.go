package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shaiso/Cadence/internal/store"
)

// Общие ошибки репозиториев. Совпадают с ошибками store,
// чтобы вызывающий код не зависел от реализации хранилища.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = store.ErrNotFound

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = store.ErrAlreadyExists

	// ErrInvalidTransition — переход состояния запрещён.
	ErrInvalidTransition = store.ErrInvalidTransition
)

// Коды ошибок PostgreSQL.
const pgUniqueViolation = "23505"

// isUniqueViolation проверяет нарушение уникальности.
// constraint — имя индекса; пустое значение подходит к любому.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// fromNull возвращает пустую строку для NULL.
func fromNull(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

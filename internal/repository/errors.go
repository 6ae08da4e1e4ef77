package repository

import "github.com/Dhoini/Loyalty-microservice/internal/domain"

// Алиасы доменных ошибок, чтобы errors.Is работал сквозь слои
var (
	// ErrNotFound запись не найдена
	ErrNotFound = domain.ErrNotFound

	// ErrDuplicate дубликат записи
	ErrDuplicate = domain.ErrDuplicate

	// ErrInvalidData неверные данные
	ErrInvalidData = domain.ErrInvalidInput
)

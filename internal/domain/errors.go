package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrInternal внутренняя ошибка
	ErrInternal = errors.New("internal error")

	// ErrInsufficientBalance недостаточно баллов на счете
	ErrInsufficientBalance = errors.New("insufficient points balance")

	// ErrRewardUnavailable награда недоступна для обмена
	ErrRewardUnavailable = errors.New("reward unavailable")

	// ErrRateLimited запрос отклонен лимитером
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCustomerInactive клиент деактивирован вместе с магазином
	ErrCustomerInactive = errors.New("customer is inactive")
)

// InsufficientBalanceError несет требуемое и доступное количество баллов.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
}

// Error реализует интерфейс error
func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d points, available %d", e.Required, e.Available)
}

// Is проверяет, является ли ошибка ошибкой недостатка баллов
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// NewInsufficientBalanceError создает ошибку недостатка баллов
func NewInsufficientBalanceError(required, available int64) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		Required:  required,
		Available: available,
	}
}

// RewardUnavailableError описывает, почему награда недоступна.
type RewardUnavailableError struct {
	RewardID string
	Reason   string
}

// Error реализует интерфейс error
func (e *RewardUnavailableError) Error() string {
	return fmt.Sprintf("reward %s unavailable: %s", e.RewardID, e.Reason)
}

// Is проверяет, является ли ошибка ошибкой недоступности награды
func (e *RewardUnavailableError) Is(target error) bool {
	return target == ErrRewardUnavailable
}

// NewRewardUnavailableError создает ошибку недоступности награды
func NewRewardUnavailableError(rewardID, reason string) *RewardUnavailableError {
	return &RewardUnavailableError{
		RewardID: rewardID,
		Reason:   reason,
	}
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// DuplicateError представляет ошибку дубликата
type DuplicateError struct {
	Entity string
	Field  string
	Value  string
}

// Error реализует интерфейс error
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s with %s '%s' already exists", e.Entity, e.Field, e.Value)
}

// Is проверяет, является ли ошибка ошибкой дубликата
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// NewDuplicateError создает новую ошибку дубликата
func NewDuplicateError(entity, field, value string) *DuplicateError {
	return &DuplicateError{
		Entity: entity,
		Field:  field,
		Value:  value,
	}
}

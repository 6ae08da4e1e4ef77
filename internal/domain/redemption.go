package domain

import (
	"time"

	"github.com/google/uuid"
)

// RedemptionStatus статус обмена награды. Обмен атомарен и создается сразу
// завершенным; failed зарезервирован за ручной отменой в хранилище и
// исключается из подсчета лимита на клиента.
type RedemptionStatus string

const (
	RedemptionStatusCompleted RedemptionStatus = "completed"
	RedemptionStatusFailed    RedemptionStatus = "failed"
)

// RedemptionApply параметры атомарного обмена награды. Код одноразового
// использования генерируется внешним коллаборатором, движок только записывает
// выданное значение.
type RedemptionApply struct {
	CustomerID  uuid.UUID
	RewardID    uuid.UUID
	Code        string
	ExpiresAt   *time.Time
	Description string
}

// Redemption запись об обмене баллов на награду. После создания неизменяема,
// кроме перехода статуса pending -> completed/failed.
type Redemption struct {
	ID            uuid.UUID        `json:"id"`
	CustomerID    uuid.UUID        `json:"customer_id"`
	RewardID      uuid.UUID        `json:"reward_id"`
	TransactionID uuid.UUID        `json:"transaction_id"` // списавшая баллы транзакция леджера
	PointsSpent   int64            `json:"points_spent"`   // стоимость награды на момент обмена
	Status        RedemptionStatus `json:"status"`
	Code          string           `json:"code,omitempty"` // одноразовый код, если выдан
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

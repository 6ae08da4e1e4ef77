package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tier уровень лояльности, открываемый накопленными за все время баллами.
// Уровни преднастроены и упорядочены по RequiredPoints.
type Tier struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Level            int       `json:"level"` // порядковый номер, выше = лучше
	RequiredPoints   int64     `json:"required_points"`
	PointsMultiplier float64   `json:"points_multiplier"`
	CreatedAt        time.Time `json:"created_at"`
}

// TierChange параметры атомарного применения смены уровня: обновление клиента
// плюс нулевая Bonus-транзакция одним коммитом. Понижение уровня не применяется.
type TierChange struct {
	CustomerID  uuid.UUID
	TierID      uuid.UUID
	TierLevel   int
	Description string
}

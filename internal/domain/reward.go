package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reward награда, доступная для обмена на баллы
type Reward struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	PointsCost       int64      `json:"points_cost"`
	UsageLimit       *int64     `json:"usage_limit,omitempty"`        // глобальный лимит обменов
	PerCustomerLimit *int64     `json:"per_customer_limit,omitempty"` // лимит на одного клиента
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	Active           bool       `json:"active"`
	TotalRedemptions int64      `json:"total_redemptions"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ValidateRedemption проверяет награду в фиксированном порядке и возвращает
// первую нарушенную проверку. customerRedemptions — число обменов этой награды
// данным клиентом. Вызывается хранилищем под блокировкой строк награды и клиента.
func ValidateRedemption(reward *Reward, customer *Customer, customerRedemptions int64, now time.Time) error {
	if !reward.Active {
		return NewRewardUnavailableError(reward.ID.String(), "reward is not active")
	}

	if reward.StartDate != nil && now.Before(*reward.StartDate) {
		return NewRewardUnavailableError(reward.ID.String(), "reward is not yet available")
	}
	if reward.EndDate != nil && now.After(*reward.EndDate) {
		return NewRewardUnavailableError(reward.ID.String(), "reward has expired")
	}

	if reward.UsageLimit != nil && reward.TotalRedemptions >= *reward.UsageLimit {
		return NewRewardUnavailableError(reward.ID.String(), "reward usage limit reached")
	}

	if reward.PerCustomerLimit != nil && customerRedemptions >= *reward.PerCustomerLimit {
		return NewRewardUnavailableError(reward.ID.String(), "per-customer redemption limit reached")
	}

	if customer.PointsBalance < reward.PointsCost {
		return NewInsufficientBalanceError(reward.PointsCost, customer.PointsBalance)
	}

	return nil
}

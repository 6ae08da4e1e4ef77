package domain

import (
	"time"

	"github.com/google/uuid"
)

// Customer представляет клиента программы лояльности.
// Баланс и счетчики изменяются только через леджер, запись никогда не удаляется.
type Customer struct {
	ID             uuid.UUID  `json:"id"`
	ShopID         string     `json:"shop_id"`
	ExternalID     string     `json:"external_id"` // ID клиента во внешней коммерс-платформе
	Email          string     `json:"email,omitempty"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	PointsBalance  int64      `json:"points_balance"`  // всегда >= 0
	LifetimePoints int64      `json:"lifetime_points"` // монотонно не убывает
	CurrentTierID  *uuid.UUID `json:"current_tier_id,omitempty"`
	OrderCount     int64      `json:"order_count"`
	TotalSpent     int64      `json:"total_spent"` // в центах
	Active         bool       `json:"active"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewCustomer создает нового клиента магазина с нулевым балансом
func NewCustomer(shopID, externalID, email string) *Customer {
	now := time.Now().UTC()
	return &Customer{
		ID:             uuid.New(),
		ShopID:         shopID,
		ExternalID:     externalID,
		Email:          email,
		Active:         true,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CustomerStatus агрегированное состояние клиента для выдачи наружу
type CustomerStatus struct {
	CustomerID         uuid.UUID     `json:"customer_id"`
	PointsBalance      int64         `json:"points_balance"`
	LifetimePoints     int64         `json:"lifetime_points"`
	Tier               *Tier         `json:"tier,omitempty"`
	NextTier           *Tier         `json:"next_tier,omitempty"`
	PointsToNextTier   int64         `json:"points_to_next_tier,omitempty"`
	RecentTransactions []Transaction `json:"recent_transactions"`
}

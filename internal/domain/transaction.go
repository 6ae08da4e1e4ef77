package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType тип операции над балансом
type TransactionType string

const (
	TransactionTypeEarned   TransactionType = "earned"
	TransactionTypeRedeemed TransactionType = "redeemed"
	TransactionTypeAdjusted TransactionType = "adjusted"
	TransactionTypeBonus    TransactionType = "bonus"
)

// Transaction неизменяемая запись аудита операции над балансом.
// Инвариант: BalanceAfter = BalanceBefore + Points, и упорядоченная по CreatedAt
// последовательность транзакций клиента восстанавливает текущий баланс.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	Type          TransactionType `json:"type"`
	Points        int64           `json:"points"` // знаковая дельта
	BalanceBefore int64           `json:"balance_before"`
	BalanceAfter  int64           `json:"balance_after"`
	Source        string          `json:"source"` // произвольная метка происхождения
	Description   string          `json:"description,omitempty"`
	OrderRef      *string         `json:"order_ref,omitempty"` // внешний ID заказа для дедупликации
	CreatedAt     time.Time       `json:"created_at"`
}

// TransactionApply параметры атомарного применения транзакции к счету.
// Проверки, зависящие от текущего баланса, выполняются хранилищем под блокировкой
// строки клиента.
type TransactionApply struct {
	CustomerID  uuid.UUID
	Points      int64 // знаковая дельта до применения клампа
	Type        TransactionType
	Source      string
	Description string
	OrderRef    *string

	// AffectsLifetime увеличивает lifetime_points (только при положительной дельте)
	AffectsLifetime bool
	// RecordOrderStats учитывает заказ в статистике клиента (order_count,
	// total_spent) тем же коммитом, что и транзакция
	RecordOrderStats bool
	// OrderTotalCents сумма заказа для статистики; читается при RecordOrderStats
	OrderTotalCents int64
	// ClampToZero срезает итоговый баланс до нуля вместо ухода в минус (политика Adjust)
	ClampToZero bool
	// FailOnInsufficient возвращает InsufficientBalanceError вместо клампа (политика Redeem)
	FailOnInsufficient bool
}

// ReplayBalance сворачивает транзакции в порядке создания, начиная с нуля.
// Используется для проверки инварианта восстановления баланса.
func ReplayBalance(transactions []Transaction) int64 {
	var balance int64
	for _, t := range transactions {
		balance += t.Points
	}
	return balance
}

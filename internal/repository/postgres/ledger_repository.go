package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/internal/repository"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const transactionColumns = `
	id, customer_id, type, points, balance_before, balance_after,
	source, description, order_ref, created_at
`

// PostgresLedgerRepository атомарные операции над балансом через PostgreSQL.
// Каждая операция выполняется в одной транзакции БД с блокировкой строки
// клиента (SELECT ... FOR UPDATE) — это граница сериализации по клиенту.
type PostgresLedgerRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresLedgerRepository создает новый леджер-репозиторий через PostgreSQL
func NewPostgresLedgerRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{
		db:  db,
		log: log,
	}
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID,
		&t.CustomerID,
		&t.Type,
		&t.Points,
		&t.BalanceBefore,
		&t.BalanceAfter,
		&t.Source,
		&t.Description,
		&t.OrderRef,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// lockCustomer читает строку клиента под блокировкой записи
func lockCustomer(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1 FOR UPDATE`

	customer, err := scanCustomer(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock customer row: %w", err)
	}
	return customer, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, customer_id, type, points, balance_before, balance_after,
			source, description, order_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := tx.Exec(ctx, query,
		t.ID, t.CustomerID, t.Type, t.Points, t.BalanceBefore, t.BalanceAfter,
		t.Source, t.Description, t.OrderRef, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// ApplyTransaction применяет дельту к балансу клиента: читает баланс под
// блокировкой, пишет транзакцию и обновляет счет одним коммитом.
// Никакая мутация баланса не происходит мимо записи Transaction.
func (r *PostgresLedgerRepository) ApplyTransaction(ctx context.Context, apply domain.TransactionApply) (*domain.Transaction, *domain.Customer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	customer, err := lockCustomer(ctx, tx, apply.CustomerID)
	if err != nil {
		return nil, nil, err
	}
	if !customer.Active {
		return nil, nil, domain.ErrCustomerInactive
	}

	balanceBefore := customer.PointsBalance
	balanceAfter := balanceBefore + apply.Points
	points := apply.Points

	if balanceAfter < 0 {
		if apply.FailOnInsufficient {
			return nil, nil, domain.NewInsufficientBalanceError(-apply.Points, balanceBefore)
		}
		if !apply.ClampToZero {
			return nil, nil, fmt.Errorf("%w: transaction would produce negative balance", domain.ErrInvalidInput)
		}
		// Политика Adjust: срезаем до нуля, в транзакцию пишется
		// эффективная дельта, чтобы сохранился инвариант воспроизведения
		balanceAfter = 0
		points = -balanceBefore
	}

	now := time.Now().UTC()
	transaction := &domain.Transaction{
		ID:            uuid.New(),
		CustomerID:    customer.ID,
		Type:          apply.Type,
		Points:        points,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		Source:        apply.Source,
		Description:   apply.Description,
		OrderRef:      apply.OrderRef,
		CreatedAt:     now,
	}

	if err := insertTransaction(ctx, tx, transaction); err != nil {
		return nil, nil, err
	}

	lifetimeDelta := int64(0)
	if apply.AffectsLifetime && apply.Points > 0 {
		lifetimeDelta = apply.Points
	}

	orderCountDelta := int64(0)
	orderTotal := int64(0)
	if apply.RecordOrderStats {
		orderCountDelta = 1
		orderTotal = apply.OrderTotalCents
	}

	updateQuery := `
		UPDATE customers
		SET points_balance = $1,
			lifetime_points = lifetime_points + $2,
			order_count = order_count + $3,
			total_spent = total_spent + $4,
			last_activity_at = $5,
			updated_at = $5
		WHERE id = $6
	`
	if _, err := tx.Exec(ctx, updateQuery, balanceAfter, lifetimeDelta, orderCountDelta, orderTotal, now, customer.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to update customer balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit ledger transaction: %w", err)
	}

	customer.PointsBalance = balanceAfter
	customer.LifetimePoints += lifetimeDelta
	customer.OrderCount += orderCountDelta
	customer.TotalSpent += orderTotal
	customer.LastActivityAt = now
	customer.UpdatedAt = now

	return transaction, customer, nil
}

// ApplyTierChange переводит клиента на новый уровень и добавляет нулевую
// Bonus-транзакцию одним коммитом. Понижение уровня не применяется:
// если текущий уровень не ниже целевого, возвращается false без изменений.
func (r *PostgresLedgerRepository) ApplyTierChange(ctx context.Context, change domain.TierChange) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT c.points_balance, c.current_tier_id, COALESCE(t.level, 0)
		FROM customers c
		LEFT JOIN tiers t ON t.id = c.current_tier_id
		WHERE c.id = $1
		FOR UPDATE OF c
	`

	var balance int64
	var currentTierID *uuid.UUID
	var currentLevel int
	if err := tx.QueryRow(ctx, query, change.CustomerID).Scan(&balance, &currentTierID, &currentLevel); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, repository.ErrNotFound
		}
		return false, fmt.Errorf("failed to lock customer row: %w", err)
	}

	if currentTierID != nil && *currentTierID == change.TierID {
		return false, nil
	}
	if currentLevel >= change.TierLevel {
		// Уровни не понижаются автоматически
		return false, nil
	}

	now := time.Now().UTC()
	bonus := &domain.Transaction{
		ID:            uuid.New(),
		CustomerID:    change.CustomerID,
		Type:          domain.TransactionTypeBonus,
		Points:        0,
		BalanceBefore: balance,
		BalanceAfter:  balance,
		Source:        "TierUpgrade",
		Description:   change.Description,
		CreatedAt:     now,
	}
	if err := insertTransaction(ctx, tx, bonus); err != nil {
		return false, err
	}

	updateQuery := `UPDATE customers SET current_tier_id = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.Exec(ctx, updateQuery, change.TierID, now, change.CustomerID); err != nil {
		return false, fmt.Errorf("failed to update customer tier: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit tier change: %w", err)
	}

	return true, nil
}

// TransactionsByCustomer возвращает последние транзакции клиента
func (r *PostgresLedgerRepository) TransactionsByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// EarnedByOrderRef ищет Earned-транзакцию по внешнему ID заказа в рамках магазина.
// Используется реконсилятором для дедупликации начислений.
func (r *PostgresLedgerRepository) EarnedByOrderRef(ctx context.Context, shopID, orderRef string) (*domain.Transaction, error) {
	return r.byOrderRef(ctx, shopID, orderRef, domain.TransactionTypeEarned)
}

// AdjustedByOrderRef ищет Adjusted-транзакцию по внешнему ID заказа.
// Используется реконсилятором для дедупликации отмен заказов.
func (r *PostgresLedgerRepository) AdjustedByOrderRef(ctx context.Context, shopID, orderRef string) (*domain.Transaction, error) {
	return r.byOrderRef(ctx, shopID, orderRef, domain.TransactionTypeAdjusted)
}

func (r *PostgresLedgerRepository) byOrderRef(ctx context.Context, shopID, orderRef string, txType domain.TransactionType) (*domain.Transaction, error) {
	query := `
		SELECT t.id, t.customer_id, t.type, t.points, t.balance_before, t.balance_after,
			t.source, t.description, t.order_ref, t.created_at
		FROM transactions t
		JOIN customers c ON c.id = t.customer_id
		WHERE c.shop_id = $1 AND t.order_ref = $2 AND t.type = $3
		ORDER BY t.created_at
		LIMIT 1
	`

	transaction, err := scanTransaction(r.db.QueryRow(ctx, query, shopID, orderRef, txType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by order ref: %w", err)
	}

	return transaction, nil
}

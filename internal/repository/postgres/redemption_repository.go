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

const rewardColumns = `
	id, name, points_cost, usage_limit, per_customer_limit,
	start_date, end_date, active, total_redemptions, created_at, updated_at
`

// PostgresRedemptionRepository обмены наград через PostgreSQL.
// Обмен — один атомарный юнит: запись Redemption, транзакция леджера и
// инкремент счетчика награды сохраняются все вместе или никак.
type PostgresRedemptionRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresRedemptionRepository создает новый репозиторий обменов через PostgreSQL
func NewPostgresRedemptionRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresRedemptionRepository {
	return &PostgresRedemptionRepository{
		db:  db,
		log: log,
	}
}

func scanReward(row pgx.Row) (*domain.Reward, error) {
	var rw domain.Reward
	err := row.Scan(
		&rw.ID,
		&rw.Name,
		&rw.PointsCost,
		&rw.UsageLimit,
		&rw.PerCustomerLimit,
		&rw.StartDate,
		&rw.EndDate,
		&rw.Active,
		&rw.TotalRedemptions,
		&rw.CreatedAt,
		&rw.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rw, nil
}

// GetReward возвращает награду по ID
func (r *PostgresRedemptionRepository) GetReward(ctx context.Context, id uuid.UUID) (*domain.Reward, error) {
	query := `SELECT ` + rewardColumns + ` FROM rewards WHERE id = $1`

	reward, err := scanReward(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}

	return reward, nil
}

// RedeemReward выполняет обмен награды в одной транзакции БД:
// блокирует награду и клиента, прогоняет цепочку проверок, списывает баллы,
// создает запись Redemption и увеличивает счетчик обменов награды.
func (r *PostgresRedemptionRepository) RedeemReward(ctx context.Context, params domain.RedemptionApply) (*domain.Redemption, *domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Блокируем сначала награду, потом клиента — единый порядок захвата
	// блокировок во всех операциях обмена
	rewardQuery := `SELECT ` + rewardColumns + ` FROM rewards WHERE id = $1 FOR UPDATE`
	reward, err := scanReward(tx.QueryRow(ctx, rewardQuery, params.RewardID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, domain.NewNotFoundError("reward", params.RewardID.String())
		}
		return nil, nil, fmt.Errorf("failed to lock reward row: %w", err)
	}

	customer, err := lockCustomer(ctx, tx, params.CustomerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domain.NewNotFoundError("customer", params.CustomerID.String())
		}
		return nil, nil, err
	}
	if !customer.Active {
		return nil, nil, domain.ErrCustomerInactive
	}

	countQuery := `
		SELECT COUNT(*) FROM redemptions
		WHERE customer_id = $1 AND reward_id = $2 AND status <> $3
	`
	var customerRedemptions int64
	if err := tx.QueryRow(ctx, countQuery, params.CustomerID, params.RewardID, domain.RedemptionStatusFailed).Scan(&customerRedemptions); err != nil {
		return nil, nil, fmt.Errorf("failed to count customer redemptions: %w", err)
	}

	now := time.Now().UTC()
	if err := domain.ValidateRedemption(reward, customer, customerRedemptions, now); err != nil {
		return nil, nil, err
	}

	transaction := &domain.Transaction{
		ID:            uuid.New(),
		CustomerID:    customer.ID,
		Type:          domain.TransactionTypeRedeemed,
		Points:        -reward.PointsCost,
		BalanceBefore: customer.PointsBalance,
		BalanceAfter:  customer.PointsBalance - reward.PointsCost,
		Source:        "RewardRedemption",
		Description:   params.Description,
		CreatedAt:     now,
	}
	if err := insertTransaction(ctx, tx, transaction); err != nil {
		return nil, nil, err
	}

	updateCustomer := `
		UPDATE customers
		SET points_balance = $1, last_activity_at = $2, updated_at = $2
		WHERE id = $3
	`
	if _, err := tx.Exec(ctx, updateCustomer, transaction.BalanceAfter, now, customer.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to update customer balance: %w", err)
	}

	redemption := &domain.Redemption{
		ID:            uuid.New(),
		CustomerID:    customer.ID,
		RewardID:      reward.ID,
		TransactionID: transaction.ID,
		PointsSpent:   reward.PointsCost,
		Status:        domain.RedemptionStatusCompleted,
		Code:          params.Code,
		ExpiresAt:     params.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	insertRedemption := `
		INSERT INTO redemptions (id, customer_id, reward_id, transaction_id, points_spent,
			status, code, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.Exec(ctx, insertRedemption,
		redemption.ID, redemption.CustomerID, redemption.RewardID, redemption.TransactionID,
		redemption.PointsSpent, redemption.Status, redemption.Code, redemption.ExpiresAt,
		redemption.CreatedAt, redemption.UpdatedAt,
	); err != nil {
		return nil, nil, fmt.Errorf("failed to insert redemption: %w", err)
	}

	incrementReward := `UPDATE rewards SET total_redemptions = total_redemptions + 1, updated_at = $1 WHERE id = $2`
	if _, err := tx.Exec(ctx, incrementReward, now, reward.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to increment reward counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit redemption: %w", err)
	}

	return redemption, transaction, nil
}


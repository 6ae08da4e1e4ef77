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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const customerColumns = `
	id, shop_id, external_id, email, first_name, last_name,
	points_balance, lifetime_points, current_tier_id, order_count, total_spent,
	active, last_activity_at, created_at, updated_at
`

// PostgresCustomerRepository реализация реестра клиентов через PostgreSQL
type PostgresCustomerRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresCustomerRepository создает новый реестр клиентов через PostgreSQL
func NewPostgresCustomerRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresCustomerRepository {
	return &PostgresCustomerRepository{
		db:  db,
		log: log,
	}
}

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(
		&c.ID,
		&c.ShopID,
		&c.ExternalID,
		&c.Email,
		&c.FirstName,
		&c.LastName,
		&c.PointsBalance,
		&c.LifetimePoints,
		&c.CurrentTierID,
		&c.OrderCount,
		&c.TotalSpent,
		&c.Active,
		&c.LastActivityAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID возвращает клиента по ID
func (r *PostgresCustomerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	customer, err := scanCustomer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return customer, nil
}

// GetByExternalID возвращает клиента магазина по внешнему ID
func (r *PostgresCustomerRepository) GetByExternalID(ctx context.Context, shopID, externalID string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE shop_id = $1 AND external_id = $2`

	customer, err := scanCustomer(r.db.QueryRow(ctx, query, shopID, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get customer by external id: %w", err)
	}

	return customer, nil
}

// Create создает нового клиента
func (r *PostgresCustomerRepository) Create(ctx context.Context, customer *domain.Customer) (*domain.Customer, error) {
	query := `
		INSERT INTO customers (id, shop_id, external_id, email, first_name, last_name,
			points_balance, lifetime_points, current_tier_id, order_count, total_spent,
			active, last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx,
		query,
		customer.ID,
		customer.ShopID,
		customer.ExternalID,
		customer.Email,
		customer.FirstName,
		customer.LastName,
		customer.PointsBalance,
		customer.LifetimePoints,
		customer.CurrentTierID,
		customer.OrderCount,
		customer.TotalSpent,
		customer.Active,
		customer.LastActivityAt,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Scan(&customer.CreatedAt, &customer.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Нарушение уникальности (shop_id, external_id)
			if pgErr.Code == "23505" {
				return nil, repository.ErrDuplicate
			}
		}
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	return customer, nil
}

// Upsert создает или обновляет клиента магазина по внешнему ID.
// Баланс и счетчики заказа не трогаются — ими владеет леджер.
func (r *PostgresCustomerRepository) Upsert(ctx context.Context, customer *domain.Customer) (*domain.Customer, error) {
	query := `
		INSERT INTO customers (id, shop_id, external_id, email, first_name, last_name,
			points_balance, lifetime_points, current_tier_id, order_count, total_spent,
			active, last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, NULL, 0, 0, TRUE, $7, $7, $7)
		ON CONFLICT (shop_id, external_id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + customerColumns

	now := time.Now().UTC()
	updated, err := scanCustomer(r.db.QueryRow(
		ctx,
		query,
		customer.ID,
		customer.ShopID,
		customer.ExternalID,
		customer.Email,
		customer.FirstName,
		customer.LastName,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert customer: %w", err)
	}

	return updated, nil
}


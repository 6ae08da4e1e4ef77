package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/internal/repository"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTierRepository доступ к преднастроенным уровням лояльности
type PostgresTierRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresTierRepository создает новый репозиторий уровней через PostgreSQL
func NewPostgresTierRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresTierRepository {
	return &PostgresTierRepository{
		db:  db,
		log: log,
	}
}

// List возвращает все уровни, отсортированные по порогу по убыванию —
// порядок, который ожидает вычислитель уровней.
func (r *PostgresTierRepository) List(ctx context.Context) ([]domain.Tier, error) {
	query := `
		SELECT id, name, level, required_points, points_multiplier, created_at
		FROM tiers
		ORDER BY required_points DESC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiers: %w", err)
	}
	defer rows.Close()

	var tiers []domain.Tier
	for rows.Next() {
		var t domain.Tier
		if err := rows.Scan(&t.ID, &t.Name, &t.Level, &t.RequiredPoints, &t.PointsMultiplier, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		tiers = append(tiers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tiers: %w", err)
	}

	return tiers, nil
}

// GetByID возвращает уровень по ID
func (r *PostgresTierRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tier, error) {
	query := `
		SELECT id, name, level, required_points, points_multiplier, created_at
		FROM tiers
		WHERE id = $1
	`

	var t domain.Tier
	err := r.db.QueryRow(ctx, query, id).Scan(&t.ID, &t.Name, &t.Level, &t.RequiredPoints, &t.PointsMultiplier, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tier: %w", err)
	}

	return &t, nil
}

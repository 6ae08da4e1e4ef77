package service

import (
	"context"
	"fmt"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/google/uuid"
)

// TierService интерфейс сервиса уровней лояльности
type TierService interface {
	// List возвращает все уровни, отсортированные по требуемым баллам по убыванию
	List(ctx context.Context) ([]domain.Tier, error)

	// EvaluateAndApply пересчитывает уровень клиента по lifetime-баллам
	// и применяет повышение, если оно положено. Понижение не применяется.
	EvaluateAndApply(ctx context.Context, customer *domain.Customer) (*domain.Tier, error)

	// MultiplierFor возвращает множитель начисления для уровня клиента
	MultiplierFor(ctx context.Context, tierID *uuid.UUID) (float64, error)
}

// TierStore интерфейс хранилища уровней
type TierStore interface {
	// List возвращает уровни, отсортированные по required_points по убыванию
	List(ctx context.Context) ([]domain.Tier, error)

	// GetByID возвращает уровень по ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tier, error)
}

// TierChanger интерфейс применения смены уровня в леджере
type TierChanger interface {
	// ApplyTierChange атомарно обновляет уровень клиента и пишет нулевую
	// Bonus-транзакцию. Возвращает false, если смена не применима.
	ApplyTierChange(ctx context.Context, change domain.TierChange) (bool, error)
}

// TierCache интерфейс кэша списка уровней
type TierCache interface {
	GetTiers(ctx context.Context) ([]domain.Tier, error)
	CacheTiers(ctx context.Context, tiers []domain.Tier) error
}

// TierServiceImpl реализация сервиса уровней
type TierServiceImpl struct {
	tiers  TierStore
	ledger TierChanger
	cache  TierCache // может быть nil
	log    *logger.Logger
}

// NewTierService создает новый сервис уровней
func NewTierService(tiers TierStore, ledger TierChanger, cache TierCache, log *logger.Logger) *TierServiceImpl {
	return &TierServiceImpl{
		tiers:  tiers,
		ledger: ledger,
		cache:  cache,
		log:    log,
	}
}

// List возвращает все уровни, через кэш при его наличии
func (s *TierServiceImpl) List(ctx context.Context) ([]domain.Tier, error) {
	if s.cache != nil {
		cached, err := s.cache.GetTiers(ctx)
		if err != nil {
			s.log.Warnw("Failed to read tiers from cache", "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	tiers, err := s.tiers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.CacheTiers(ctx, tiers); err != nil {
			s.log.Warnw("Failed to cache tiers", "error", err)
		}
	}

	return tiers, nil
}

// SelectTier выбирает высший уровень, порог которого покрыт lifetime-баллами.
// tiers должны быть отсортированы по required_points по убыванию.
func SelectTier(lifetimePoints int64, tiers []domain.Tier) *domain.Tier {
	for i := range tiers {
		if lifetimePoints >= tiers[i].RequiredPoints {
			return &tiers[i]
		}
	}
	return nil
}

// EvaluateAndApply пересчитывает и при необходимости повышает уровень клиента
func (s *TierServiceImpl) EvaluateAndApply(ctx context.Context, customer *domain.Customer) (*domain.Tier, error) {
	tiers, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	target := SelectTier(customer.LifetimePoints, tiers)
	if target == nil {
		return nil, nil
	}
	if customer.CurrentTierID != nil && *customer.CurrentTierID == target.ID {
		return nil, nil
	}

	applied, err := s.ledger.ApplyTierChange(ctx, domain.TierChange{
		CustomerID:  customer.ID,
		TierID:      target.ID,
		TierLevel:   target.Level,
		Description: fmt.Sprintf("Tier upgraded to %s", target.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply tier change: %w", err)
	}
	if !applied {
		// гонка с параллельным начислением или уровень ниже текущего
		return nil, nil
	}

	s.log.Infow("Customer tier upgraded",
		"customer_id", customer.ID.String(),
		"tier", target.Name,
		"lifetime_points", customer.LifetimePoints)

	return target, nil
}

// MultiplierFor возвращает множитель начисления для уровня, 1.0 без уровня
func (s *TierServiceImpl) MultiplierFor(ctx context.Context, tierID *uuid.UUID) (float64, error) {
	if tierID == nil {
		return 1.0, nil
	}

	tiers, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	for i := range tiers {
		if tiers[i].ID == *tierID {
			return tiers[i].PointsMultiplier, nil
		}
	}

	s.log.Warnw("Customer references unknown tier, using base multiplier", "tier_id", tierID.String())
	return 1.0, nil
}

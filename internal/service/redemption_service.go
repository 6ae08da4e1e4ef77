package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/internal/metrics"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/google/uuid"
)

// срок действия выданного кода награды
const redemptionCodeTTL = 30 * 24 * time.Hour

// RedemptionService интерфейс движка обмена баллов на награды
type RedemptionService interface {
	// RedeemReward атомарно обменивает баллы клиента на награду
	RedeemReward(ctx context.Context, customerID, rewardID uuid.UUID) (*domain.Redemption, error)
}

// RedemptionStore интерфейс хранилища наград и обменов
type RedemptionStore interface {
	// GetReward возвращает награду по ID
	GetReward(ctx context.Context, id uuid.UUID) (*domain.Reward, error)

	// RedeemReward атомарно проверяет награду, списывает баллы и создает обмен
	RedeemReward(ctx context.Context, params domain.RedemptionApply) (*domain.Redemption, *domain.Transaction, error)
}

// CodeGenerator интерфейс генератора одноразовых кодов наград
type CodeGenerator interface {
	Generate() string
}

// UUIDCodeGenerator генератор кодов на базе UUID
type UUIDCodeGenerator struct{}

// Generate возвращает новый одноразовый код
func (UUIDCodeGenerator) Generate() string {
	return uuid.NewString()
}

// RedemptionServiceImpl реализация движка обмена
type RedemptionServiceImpl struct {
	store   RedemptionStore
	codes   CodeGenerator
	cache   StatusCache // может быть nil
	metrics metrics.LoyaltyMetrics
	log     *logger.Logger
}

// NewRedemptionService создает новый движок обмена
func NewRedemptionService(store RedemptionStore, codes CodeGenerator, cache StatusCache, m metrics.LoyaltyMetrics, log *logger.Logger) *RedemptionServiceImpl {
	if codes == nil {
		codes = UUIDCodeGenerator{}
	}
	return &RedemptionServiceImpl{
		store:   store,
		codes:   codes,
		cache:   cache,
		metrics: m,
		log:     log,
	}
}

// RedeemReward обменивает баллы клиента на награду. Проверки лимитов и
// баланса выполняются хранилищем под блокировкой, порядок проверок фиксирован.
func (s *RedemptionServiceImpl) RedeemReward(ctx context.Context, customerID, rewardID uuid.UUID) (*domain.Redemption, error) {
	reward, err := s.store.GetReward(ctx, rewardID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewNotFoundError("reward", rewardID.String())
		}
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(redemptionCodeTTL)

	redemption, txn, err := s.store.RedeemReward(ctx, domain.RedemptionApply{
		CustomerID:  customerID,
		RewardID:    rewardID,
		Code:        s.codes.Generate(),
		ExpiresAt:   &expiresAt,
		Description: fmt.Sprintf("Redeemed reward %s", reward.Name),
	})
	if err != nil {
		if s.metrics != nil && (errors.Is(err, domain.ErrRewardUnavailable) || errors.Is(err, domain.ErrInsufficientBalance)) {
			s.metrics.IncRedemption("rejected")
		}
		return nil, err
	}

	s.log.Infow("Reward redeemed",
		"redemption_id", redemption.ID.String(),
		"customer_id", customerID.String(),
		"reward_id", rewardID.String(),
		"points_spent", redemption.PointsSpent,
		"transaction_id", txn.ID.String())

	if s.metrics != nil {
		s.metrics.IncRedemption("completed")
		s.metrics.IncPointsRedeemed(redemption.PointsSpent)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateCustomerStatus(ctx, customerID); err != nil {
			s.log.Warnw("Failed to invalidate customer status cache", "customer_id", customerID.String(), "error", err)
		}
	}

	return redemption, nil
}

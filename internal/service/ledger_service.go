package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/internal/metrics"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/google/uuid"
)

const recentTransactionsLimit = 10

// LedgerService интерфейс сервиса баллов. Единственная точка изменения балансов.
type LedgerService interface {
	// Earn начисляет баллы клиенту
	Earn(ctx context.Context, input EarnInput) (*domain.Transaction, error)

	// Redeem списывает баллы клиента
	Redeem(ctx context.Context, input RedeemInput) (*domain.Transaction, error)

	// Adjust применяет ручную корректировку баланса со срезкой до нуля
	Adjust(ctx context.Context, input AdjustInput) (*domain.Transaction, error)

	// GetStatus возвращает агрегированное состояние счета клиента
	GetStatus(ctx context.Context, customerID uuid.UUID) (*domain.CustomerStatus, error)

	// EarnedByOrderRef возвращает транзакцию начисления по внешнему ID заказа
	EarnedByOrderRef(ctx context.Context, shopID, orderRef string) (*domain.Transaction, error)

	// AdjustedByOrderRef возвращает корректировку по внешнему ID заказа
	AdjustedByOrderRef(ctx context.Context, shopID, orderRef string) (*domain.Transaction, error)
}

// LedgerStore интерфейс хранилища леджера
type LedgerStore interface {
	// ApplyTransaction атомарно применяет транзакцию под блокировкой строки клиента
	ApplyTransaction(ctx context.Context, apply domain.TransactionApply) (*domain.Transaction, *domain.Customer, error)

	// ApplyTierChange атомарно применяет смену уровня
	ApplyTierChange(ctx context.Context, change domain.TierChange) (bool, error)

	// TransactionsByCustomer возвращает последние транзакции клиента
	TransactionsByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]domain.Transaction, error)

	// EarnedByOrderRef возвращает транзакцию начисления по внешнему ID заказа
	EarnedByOrderRef(ctx context.Context, shopID, orderRef string) (*domain.Transaction, error)

	// AdjustedByOrderRef возвращает корректировку по внешнему ID заказа
	AdjustedByOrderRef(ctx context.Context, shopID, orderRef string) (*domain.Transaction, error)
}

// CustomerReader интерфейс чтения клиентов
type CustomerReader interface {
	// GetByID возвращает клиента по ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
}

// StatusCache интерфейс кэша статусов клиентов
type StatusCache interface {
	GetCustomerStatus(ctx context.Context, customerID uuid.UUID) (*domain.CustomerStatus, error)
	CacheCustomerStatus(ctx context.Context, status *domain.CustomerStatus) error
	InvalidateCustomerStatus(ctx context.Context, customerID uuid.UUID) error
}

// EventPublisher интерфейс публикации событий леджера во внешнюю шину
type EventPublisher interface {
	// PublishTransaction отправляет событие изменения баланса
	PublishTransaction(ctx context.Context, customer *domain.Customer, txn *domain.Transaction) error

	// PublishTierChange отправляет событие повышения уровня
	PublishTierChange(ctx context.Context, customerID uuid.UUID, tier *domain.Tier) error
}

// EarnInput входные данные начисления баллов. OrderTotalCents заполняется
// реконсилятором при начислении за заказ: статистика заказов тогда
// обновляется тем же коммитом, что и транзакция, и начисление допускает
// нулевую дельту (заказ учитывается даже без баллов).
type EarnInput struct {
	CustomerID      uuid.UUID
	Points          int64
	Source          string
	Description     string
	OrderRef        *string
	OrderTotalCents *int64
}

// RedeemInput входные данные списания баллов
type RedeemInput struct {
	CustomerID  uuid.UUID
	Points      int64
	Source      string
	Description string
}

// AdjustInput входные данные корректировки. Delta знаковая. OrderRef
// заполняется реконсилятором при откате начисления за отмененный заказ.
type AdjustInput struct {
	CustomerID uuid.UUID
	Delta      int64
	Actor      string
	Reason     string
	Source     string // по умолчанию "ManualAdjustment"
	OrderRef   *string
}

// LedgerServiceImpl реализация сервиса баллов
type LedgerServiceImpl struct {
	ledger    LedgerStore
	customers CustomerReader
	tiers     TierService
	cache     StatusCache    // может быть nil
	producer  EventPublisher // может быть nil
	metrics   metrics.LoyaltyMetrics
	log       *logger.Logger
}

// NewLedgerService создает новый сервис баллов
func NewLedgerService(
	ledger LedgerStore,
	customers CustomerReader,
	tiers TierService,
	cache StatusCache,
	producer EventPublisher,
	m metrics.LoyaltyMetrics,
	log *logger.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		ledger:    ledger,
		customers: customers,
		tiers:     tiers,
		cache:     cache,
		producer:  producer,
		metrics:   m,
		log:       log,
	}
}

// OrderPoints вычисляет начисление за заказ: целая часть от
// (сумма в долларах × базовая ставка × множитель уровня).
func OrderPoints(totalCents int64, pointsPerDollar float64, tierMultiplier float64) int64 {
	if totalCents <= 0 {
		return 0
	}
	dollars := float64(totalCents) / 100.0
	return int64(math.Floor(dollars * pointsPerDollar * tierMultiplier))
}

// Earn начисляет баллы и запускает пересчет уровня
func (s *LedgerServiceImpl) Earn(ctx context.Context, input EarnInput) (*domain.Transaction, error) {
	if input.Points < 0 || (input.Points == 0 && input.OrderTotalCents == nil) {
		return nil, fmt.Errorf("%w: earn points must be positive, got %d", domain.ErrInvalidInput, input.Points)
	}

	apply := domain.TransactionApply{
		CustomerID:      input.CustomerID,
		Points:          input.Points,
		Type:            domain.TransactionTypeEarned,
		Source:          input.Source,
		Description:     input.Description,
		OrderRef:        input.OrderRef,
		AffectsLifetime: true,
	}
	if input.OrderTotalCents != nil {
		apply.RecordOrderStats = true
		apply.OrderTotalCents = *input.OrderTotalCents
	}

	txn, customer, err := s.ledger.ApplyTransaction(ctx, apply)
	if err != nil {
		return nil, err
	}

	s.log.Infow("Points earned",
		"customer_id", customer.ID.String(),
		"points", input.Points,
		"balance", customer.PointsBalance,
		"source", input.Source)

	if s.metrics != nil {
		s.metrics.IncPointsEarned(input.Source, input.Points)
	}

	s.afterBalanceChange(ctx, customer, txn, true)
	return txn, nil
}

// Redeem списывает баллы, при нехватке возвращает InsufficientBalanceError
func (s *LedgerServiceImpl) Redeem(ctx context.Context, input RedeemInput) (*domain.Transaction, error) {
	if input.Points <= 0 {
		return nil, fmt.Errorf("%w: redeem points must be positive, got %d", domain.ErrInvalidInput, input.Points)
	}

	txn, customer, err := s.ledger.ApplyTransaction(ctx, domain.TransactionApply{
		CustomerID:         input.CustomerID,
		Points:             -input.Points,
		Type:               domain.TransactionTypeRedeemed,
		Source:             input.Source,
		Description:        input.Description,
		FailOnInsufficient: true,
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("Points redeemed",
		"customer_id", customer.ID.String(),
		"points", input.Points,
		"balance", customer.PointsBalance)

	if s.metrics != nil {
		s.metrics.IncPointsRedeemed(input.Points)
	}

	s.afterBalanceChange(ctx, customer, txn, false)
	return txn, nil
}

// Adjust применяет ручную корректировку. Отрицательная дельта срезается до нуля,
// в леджер записывается фактически примененная дельта. Положительная дельта
// увеличивает lifetime-баллы и может поднять уровень.
func (s *LedgerServiceImpl) Adjust(ctx context.Context, input AdjustInput) (*domain.Transaction, error) {
	if input.Delta == 0 {
		return nil, fmt.Errorf("%w: adjustment delta must be non-zero", domain.ErrInvalidInput)
	}

	description := input.Reason
	if input.Actor != "" {
		description = fmt.Sprintf("%s (by %s)", input.Reason, input.Actor)
	}
	source := input.Source
	if source == "" {
		source = "ManualAdjustment"
	}

	txn, customer, err := s.ledger.ApplyTransaction(ctx, domain.TransactionApply{
		CustomerID:      input.CustomerID,
		Points:          input.Delta,
		Type:            domain.TransactionTypeAdjusted,
		Source:          source,
		Description:     description,
		OrderRef:        input.OrderRef,
		AffectsLifetime: true,
		ClampToZero:     true,
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("Balance adjusted",
		"customer_id", customer.ID.String(),
		"requested_delta", input.Delta,
		"applied_delta", txn.Points,
		"balance", customer.PointsBalance,
		"actor", input.Actor)

	if s.metrics != nil {
		s.metrics.IncPointsAdjusted()
	}

	s.afterBalanceChange(ctx, customer, txn, input.Delta > 0)
	return txn, nil
}

// GetStatus возвращает состояние счета, через кэш при его наличии.
// Ошибки кэша не прерывают выдачу.
func (s *LedgerServiceImpl) GetStatus(ctx context.Context, customerID uuid.UUID) (*domain.CustomerStatus, error) {
	if s.cache != nil {
		cached, err := s.cache.GetCustomerStatus(ctx, customerID)
		if err != nil {
			s.log.Warnw("Failed to read customer status from cache", "customer_id", customerID.String(), "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	customer, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	transactions, err := s.ledger.TransactionsByCustomer(ctx, customerID, recentTransactionsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent transactions: %w", err)
	}

	status := &domain.CustomerStatus{
		CustomerID:         customer.ID,
		PointsBalance:      customer.PointsBalance,
		LifetimePoints:     customer.LifetimePoints,
		RecentTransactions: transactions,
	}

	tiers, err := s.tiers.List(ctx)
	if err != nil {
		return nil, err
	}
	s.fillTierInfo(status, customer, tiers)

	if s.cache != nil {
		if err := s.cache.CacheCustomerStatus(ctx, status); err != nil {
			s.log.Warnw("Failed to cache customer status", "customer_id", customerID.String(), "error", err)
		}
	}

	return status, nil
}

// fillTierInfo заполняет текущий и следующий уровни по отсортированному
// по убыванию required_points списку
func (s *LedgerServiceImpl) fillTierInfo(status *domain.CustomerStatus, customer *domain.Customer, tiers []domain.Tier) {
	for i := range tiers {
		if customer.CurrentTierID != nil && tiers[i].ID == *customer.CurrentTierID {
			status.Tier = &tiers[i]
		}
	}

	// следующий уровень — ближайший порог выше lifetime-баллов
	for i := len(tiers) - 1; i >= 0; i-- {
		if tiers[i].RequiredPoints > customer.LifetimePoints {
			status.NextTier = &tiers[i]
			status.PointsToNextTier = tiers[i].RequiredPoints - customer.LifetimePoints
			break
		}
	}
}

// EarnedByOrderRef возвращает начисление по внешнему ID заказа
func (s *LedgerServiceImpl) EarnedByOrderRef(ctx context.Context, shopID, orderRef string) (*domain.Transaction, error) {
	return s.ledger.EarnedByOrderRef(ctx, shopID, orderRef)
}

// AdjustedByOrderRef возвращает корректировку по внешнему ID заказа
func (s *LedgerServiceImpl) AdjustedByOrderRef(ctx context.Context, shopID, orderRef string) (*domain.Transaction, error) {
	return s.ledger.AdjustedByOrderRef(ctx, shopID, orderRef)
}

// afterBalanceChange выполняет действия после изменения баланса: пересчет
// уровня, сброс кэша, публикация событий. Ошибки логируются и не прерывают
// основной поток.
func (s *LedgerServiceImpl) afterBalanceChange(ctx context.Context, customer *domain.Customer, txn *domain.Transaction, evaluateTier bool) {
	var upgraded *domain.Tier
	if evaluateTier && s.tiers != nil {
		tier, err := s.tiers.EvaluateAndApply(ctx, customer)
		if err != nil {
			s.log.Errorw("Failed to evaluate customer tier", "customer_id", customer.ID.String(), "error", err)
		} else {
			upgraded = tier
		}
	}

	if s.cache != nil {
		if err := s.cache.InvalidateCustomerStatus(ctx, customer.ID); err != nil {
			s.log.Warnw("Failed to invalidate customer status cache", "customer_id", customer.ID.String(), "error", err)
		}
	}

	s.publishTransaction(ctx, customer, txn)
	if upgraded != nil {
		s.publishTierChange(ctx, customer.ID, upgraded)
	}
}

// publishTransaction отправляет событие изменения баланса в Kafka
func (s *LedgerServiceImpl) publishTransaction(ctx context.Context, customer *domain.Customer, txn *domain.Transaction) {
	if s.producer == nil {
		return
	}

	kafkaCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.producer.PublishTransaction(kafkaCtx, customer, txn); err != nil {
		s.log.Errorw("Failed to publish transaction event",
			"transaction_id", txn.ID.String(),
			"customer_id", customer.ID.String(),
			"error", err)
	}
}

// publishTierChange отправляет событие повышения уровня в Kafka
func (s *LedgerServiceImpl) publishTierChange(ctx context.Context, customerID uuid.UUID, tier *domain.Tier) {
	if s.producer == nil {
		return
	}

	kafkaCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.producer.PublishTierChange(kafkaCtx, customerID, tier); err != nil {
		s.log.Errorw("Failed to publish tier change event",
			"customer_id", customerID.String(),
			"tier", tier.Name,
			"error", err)
	}
}

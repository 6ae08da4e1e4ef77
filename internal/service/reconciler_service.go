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

// InboxStore интерфейс хранилища входящей очереди для реконсилятора
type InboxStore interface {
	// UnprocessedBatch возвращает необработанные события без ошибок в порядке поступления
	UnprocessedBatch(ctx context.Context, limit int) ([]domain.InboxEvent, error)

	// RetryableBatch возвращает завершившиеся ошибкой события, пригодные для повтора
	RetryableBatch(ctx context.Context, window time.Duration, maxRetries, limit int) ([]domain.InboxEvent, error)

	// MarkProcessed помечает событие обработанным
	MarkProcessed(ctx context.Context, id uuid.UUID) error

	// MarkFailed записывает ошибку обработки и увеличивает счетчик попыток
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error

	// ClearError сбрасывает ошибку перед повторной попыткой
	ClearError(ctx context.Context, id uuid.UUID) error

	// AcquireShopLock берет межпроцессную блокировку магазина без ожидания
	AcquireShopLock(ctx context.Context, shopID string) (release func(), acquired bool, err error)
}

// ReconcilerConfig настройки пакетного реконсилятора
type ReconcilerConfig struct {
	PollInterval    time.Duration
	RetryInterval   time.Duration
	BatchSize       int
	MaxRetries      int
	RetryWindow     time.Duration
	EventTimeout    time.Duration
	PointsPerDollar float64
}

// ReconcilerService пакетный реконсилятор: вычитывает входящую очередь,
// превращает события заказов в операции леджера и ведет бюджет повторов.
type ReconcilerService struct {
	inbox     InboxStore
	ledger    LedgerService
	customers CustomerService
	tiers     TierService
	cfg       ReconcilerConfig
	metrics   metrics.LoyaltyMetrics
	log       *logger.Logger
}

// NewReconcilerService создает новый реконсилятор
func NewReconcilerService(
	inbox InboxStore,
	ledger LedgerService,
	customers CustomerService,
	tiers TierService,
	cfg ReconcilerConfig,
	m metrics.LoyaltyMetrics,
	log *logger.Logger,
) *ReconcilerService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Minute
	}
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = 24 * time.Hour
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 10 * time.Second
	}
	if cfg.PointsPerDollar <= 0 {
		cfg.PointsPerDollar = 1.0
	}

	return &ReconcilerService{
		inbox:     inbox,
		ledger:    ledger,
		customers: customers,
		tiers:     tiers,
		cfg:       cfg,
		metrics:   m,
		log:       log,
	}
}

// Run запускает циклы обработки и повторов до отмены контекста
func (s *ReconcilerService) Run(ctx context.Context) {
	s.log.Infow("Reconciler started",
		"poll_interval", s.cfg.PollInterval.String(),
		"batch_size", s.cfg.BatchSize,
		"max_retries", s.cfg.MaxRetries)

	pollTicker := time.NewTicker(s.cfg.PollInterval)
	retryTicker := time.NewTicker(s.cfg.RetryInterval)
	defer pollTicker.Stop()
	defer retryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Reconciler stopped")
			return
		case <-pollTicker.C:
			if err := s.ProcessBatch(ctx); err != nil {
				s.log.Errorw("Batch processing failed", "error", err)
			}
		case <-retryTicker.C:
			if err := s.RetrySweep(ctx); err != nil {
				s.log.Errorw("Retry sweep failed", "error", err)
			}
		}
	}
}

// ProcessBatch вычитывает пачку необработанных событий и применяет их.
// События группируются по магазину с сохранением порядка поступления,
// магазин под чужой блокировкой пропускается до следующего прохода.
func (s *ReconcilerService) ProcessBatch(ctx context.Context) error {
	started := time.Now()

	events, err := s.inbox.UnprocessedBatch(ctx, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to load unprocessed events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	shopOrder, byShop := groupByShop(events)
	for _, shopID := range shopOrder {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.processShopEvents(ctx, shopID, byShop[shopID])
	}

	if s.metrics != nil {
		s.metrics.ObserveBatchDuration(time.Since(started).Seconds())
	}

	s.log.Debugw("Batch processed", "events", len(events), "shops", len(shopOrder), "duration", time.Since(started).String())
	return nil
}

// groupByShop группирует события по магазину, сохраняя порядок поступления
// и внутри группы, и между магазинами
func groupByShop(events []domain.InboxEvent) ([]string, map[string][]domain.InboxEvent) {
	var order []string
	byShop := make(map[string][]domain.InboxEvent)
	for _, e := range events {
		if _, seen := byShop[e.ShopID]; !seen {
			order = append(order, e.ShopID)
		}
		byShop[e.ShopID] = append(byShop[e.ShopID], e)
	}
	return order, byShop
}

// processShopEvents обрабатывает события одного магазина под его блокировкой
func (s *ReconcilerService) processShopEvents(ctx context.Context, shopID string, events []domain.InboxEvent) {
	release, acquired, err := s.inbox.AcquireShopLock(ctx, shopID)
	if err != nil {
		s.log.Errorw("Failed to acquire shop lock", "shop_id", shopID, "error", err)
		return
	}
	if !acquired {
		// магазин обрабатывается другим инстансом
		s.log.Debugw("Shop is locked by another worker, skipping", "shop_id", shopID)
		return
	}
	defer release()

	for i := range events {
		if ctx.Err() != nil {
			return
		}
		s.processEvent(ctx, &events[i])
	}
}

// processEvent применяет одно событие и записывает исход
func (s *ReconcilerService) processEvent(ctx context.Context, event *domain.InboxEvent) {
	eventCtx, cancel := context.WithTimeout(ctx, s.cfg.EventTimeout)
	defer cancel()

	err := s.dispatch(eventCtx, event)
	s.recordOutcome(ctx, event, err)
}

// dispatch выбирает обработчик по типу события. Тип хранится как получен,
// поэтому сопоставление выполняется здесь; неизвестные типы помечаются
// обработанными, чтобы не застревать в очереди.
func (s *ReconcilerService) dispatch(ctx context.Context, event *domain.InboxEvent) error {
	switch domain.ParseEventKind(string(event.Kind)) {
	case domain.EventKindOrderCreated:
		return s.handleOrderCreated(ctx, event)
	case domain.EventKindOrderUpdated:
		return s.handleOrderUpdated(ctx, event)
	case domain.EventKindOrderCancelled:
		return s.handleOrderCancelled(ctx, event)
	case domain.EventKindCustomerCreated, domain.EventKindCustomerUpdated:
		return s.handleCustomerEvent(ctx, event)
	default:
		s.log.Warnw("Skipping event of unknown kind",
			"event_id", event.ID.String(),
			"kind", string(event.Kind))
		return nil
	}
}

// handleOrderCreated начисляет баллы за оплаченный заказ
func (s *ReconcilerService) handleOrderCreated(ctx context.Context, event *domain.InboxEvent) error {
	payload, err := domain.DecodeOrderPayload(event.Payload)
	if err != nil {
		return err
	}

	if !payload.PaymentConfirmed() {
		s.log.Debugw("Order payment not confirmed, skipping accrual",
			"event_id", event.ID.String(),
			"order_id", payload.OrderID,
			"financial_status", payload.FinancialStatus)
		return nil
	}
	if !payload.HasCustomer() {
		s.log.Debugw("Order has no customer attached, skipping accrual",
			"event_id", event.ID.String(),
			"order_id", payload.OrderID)
		return nil
	}

	return s.accrueForOrder(ctx, event.ShopID, payload)
}

// accrueForOrder выполняет идемпотентное начисление за заказ
func (s *ReconcilerService) accrueForOrder(ctx context.Context, shopID string, payload *domain.OrderPayload) error {
	// дедупликация: за заказ начисляем ровно один раз
	if _, err := s.ledger.EarnedByOrderRef(ctx, shopID, payload.OrderID); err == nil {
		s.log.Debugw("Order already accrued, skipping", "shop_id", shopID, "order_id", payload.OrderID)
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to check order accrual: %w", err)
	}

	customer, err := s.customers.FindOrCreate(ctx, shopID, payload.CustomerExternalID, payload.CustomerEmail)
	if err != nil {
		return fmt.Errorf("failed to resolve customer: %w", err)
	}
	if !customer.Active {
		s.log.Infow("Customer is inactive, order skipped",
			"customer_id", customer.ID.String(),
			"order_id", payload.OrderID)
		return nil
	}

	multiplier, err := s.tiers.MultiplierFor(ctx, customer.CurrentTierID)
	if err != nil {
		return fmt.Errorf("failed to resolve tier multiplier: %w", err)
	}

	points := OrderPoints(payload.TotalCents, s.cfg.PointsPerDollar, multiplier)

	// Статистика заказов пишется тем же коммитом, что и транзакция
	// начисления; заказ без баллов оставляет нулевую транзакцию, чтобы
	// дедупликация по order_ref покрывала и его
	orderRef := payload.OrderID
	orderTotal := payload.TotalCents
	if _, err := s.ledger.Earn(ctx, EarnInput{
		CustomerID:      customer.ID,
		Points:          points,
		Source:          "Order",
		Description:     fmt.Sprintf("Points for order %s", payload.OrderID),
		OrderRef:        &orderRef,
		OrderTotalCents: &orderTotal,
	}); err != nil {
		return fmt.Errorf("failed to accrue points for order %s: %w", payload.OrderID, err)
	}

	return nil
}

// handleOrderUpdated обрабатывает смену статуса заказа: отмену либо
// позднее подтверждение оплаты
func (s *ReconcilerService) handleOrderUpdated(ctx context.Context, event *domain.InboxEvent) error {
	payload, err := domain.DecodeOrderPayload(event.Payload)
	if err != nil {
		return err
	}

	if payload.Cancelled {
		return s.revertForOrder(ctx, event.ShopID, payload.OrderID)
	}

	if payload.PaymentConfirmed() && payload.HasCustomer() {
		return s.accrueForOrder(ctx, event.ShopID, payload)
	}

	s.log.Debugw("Order update requires no ledger action",
		"event_id", event.ID.String(),
		"order_id", payload.OrderID,
		"financial_status", payload.FinancialStatus)
	return nil
}

// handleOrderCancelled откатывает начисление за отмененный заказ
func (s *ReconcilerService) handleOrderCancelled(ctx context.Context, event *domain.InboxEvent) error {
	payload, err := domain.DecodeOrderPayload(event.Payload)
	if err != nil {
		return err
	}
	return s.revertForOrder(ctx, event.ShopID, payload.OrderID)
}

// revertForOrder идемпотентно отменяет начисление за заказ. Заказ без
// начисления и повторная отмена не порождают операций. Откат срезается
// до нуля, если баллы уже потрачены.
func (s *ReconcilerService) revertForOrder(ctx context.Context, shopID, orderID string) error {
	earned, err := s.ledger.EarnedByOrderRef(ctx, shopID, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Debugw("Cancelled order has no accrual, nothing to revert", "shop_id", shopID, "order_id", orderID)
			return nil
		}
		return fmt.Errorf("failed to look up order accrual: %w", err)
	}

	if earned.Points == 0 {
		s.log.Debugw("Order accrued no points, nothing to revert", "shop_id", shopID, "order_id", orderID)
		return nil
	}

	if _, err := s.ledger.AdjustedByOrderRef(ctx, shopID, orderID); err == nil {
		s.log.Debugw("Order accrual already reverted, skipping", "shop_id", shopID, "order_id", orderID)
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to check order revert: %w", err)
	}

	orderRef := orderID
	if _, err := s.ledger.Adjust(ctx, AdjustInput{
		CustomerID: earned.CustomerID,
		Delta:      -earned.Points,
		Reason:     fmt.Sprintf("Order %s cancelled", orderID),
		Source:     "OrderCancellation",
		OrderRef:   &orderRef,
	}); err != nil {
		return fmt.Errorf("failed to revert accrual for order %s: %w", orderID, err)
	}

	s.log.Infow("Order accrual reverted",
		"shop_id", shopID,
		"order_id", orderID,
		"customer_id", earned.CustomerID.String(),
		"points", earned.Points)
	return nil
}

// handleCustomerEvent синхронизирует профиль клиента
func (s *ReconcilerService) handleCustomerEvent(ctx context.Context, event *domain.InboxEvent) error {
	payload, err := domain.DecodeCustomerPayload(event.Payload)
	if err != nil {
		return err
	}

	if _, err := s.customers.UpsertFromPayload(ctx, event.ShopID, payload); err != nil {
		return err
	}
	return nil
}

// recordOutcome фиксирует исход обработки события. Событие, исчерпавшее
// бюджет повторов, остается в очереди как dead letter и больше не выбирается.
func (s *ReconcilerService) recordOutcome(ctx context.Context, event *domain.InboxEvent, processErr error) {
	if processErr == nil {
		if err := s.inbox.MarkProcessed(ctx, event.ID); err != nil {
			s.log.Errorw("Failed to mark event processed", "event_id", event.ID.String(), "error", err)
			return
		}
		if s.metrics != nil {
			s.metrics.IncReconciled("processed")
		}
		return
	}

	if err := s.inbox.MarkFailed(ctx, event.ID, processErr.Error()); err != nil {
		s.log.Errorw("Failed to mark event failed", "event_id", event.ID.String(), "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.IncReconciled("failed")
	}

	attempts := event.RetryCount + 1
	if attempts >= s.cfg.MaxRetries {
		s.log.Errorw("Event moved to dead letter after exhausting retries",
			"event_id", event.ID.String(),
			"shop_id", event.ShopID,
			"external_event_id", event.ExternalEventID,
			"kind", string(event.Kind),
			"attempts", attempts,
			"error", processErr)
		if s.metrics != nil {
			s.metrics.IncDeadLetter()
		}
		return
	}

	s.log.Warnw("Event processing failed, will retry",
		"event_id", event.ID.String(),
		"attempts", attempts,
		"max_retries", s.cfg.MaxRetries,
		"error", processErr)
}

// RetrySweep повторно пускает в обработку события, завершившиеся ошибкой
// и не исчерпавшие бюджет повторов
func (s *ReconcilerService) RetrySweep(ctx context.Context) error {
	events, err := s.inbox.RetryableBatch(ctx, s.cfg.RetryWindow, s.cfg.MaxRetries, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to load retryable events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	s.log.Infow("Retrying failed events", "count", len(events))

	shopOrder, byShop := groupByShop(events)
	for _, shopID := range shopOrder {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		release, acquired, err := s.inbox.AcquireShopLock(ctx, shopID)
		if err != nil {
			s.log.Errorw("Failed to acquire shop lock for retry", "shop_id", shopID, "error", err)
			continue
		}
		if !acquired {
			continue
		}

		for i := range byShop[shopID] {
			event := &byShop[shopID][i]
			if ctx.Err() != nil {
				release()
				return ctx.Err()
			}
			if err := s.inbox.ClearError(ctx, event.ID); err != nil {
				s.log.Errorw("Failed to clear event error before retry", "event_id", event.ID.String(), "error", err)
				continue
			}
			s.processEvent(ctx, event)
		}
		release()
	}

	return nil
}

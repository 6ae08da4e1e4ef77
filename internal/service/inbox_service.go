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

// InboxService интерфейс идемпотентного приема событий коммерс-платформы
type InboxService interface {
	// Ingest сохраняет событие во входящую очередь. Возвращает false без
	// ошибки, если событие с таким (shop_id, external_event_id) уже принято.
	Ingest(ctx context.Context, envelope domain.EventEnvelope) (bool, error)
}

// InboxWriter интерфейс записи во входящую очередь
type InboxWriter interface {
	// CreateEvent сохраняет событие, ErrDuplicate при повторе
	CreateEvent(ctx context.Context, event *domain.InboxEvent) (*domain.InboxEvent, error)
}

// InboxServiceImpl реализация приема событий
type InboxServiceImpl struct {
	inbox   InboxWriter
	metrics metrics.LoyaltyMetrics
	log     *logger.Logger
}

// NewInboxService создает новый сервис приема событий
func NewInboxService(inbox InboxWriter, m metrics.LoyaltyMetrics, log *logger.Logger) *InboxServiceImpl {
	return &InboxServiceImpl{
		inbox:   inbox,
		metrics: m,
		log:     log,
	}
}

// Ingest сохраняет событие во входящую очередь без побочных эффектов.
// Начисления выполняет только реконсилятор при обработке.
func (s *InboxServiceImpl) Ingest(ctx context.Context, envelope domain.EventEnvelope) (bool, error) {
	if envelope.ShopID == "" || envelope.ExternalEventID == "" {
		return false, fmt.Errorf("%w: event envelope missing shop_id or external_event_id", domain.ErrInvalidInput)
	}

	if domain.ParseEventKind(envelope.Kind) == domain.EventKindUnknown {
		s.log.Warnw("Accepted event of unknown kind",
			"shop_id", envelope.ShopID,
			"external_event_id", envelope.ExternalEventID,
			"kind", envelope.Kind)
	}

	now := time.Now().UTC()
	// тип сохраняется как получен: оператор видит исходную строку,
	// сопоставление с известными типами происходит при диспетчеризации
	event := &domain.InboxEvent{
		ID:              uuid.New(),
		ShopID:          envelope.ShopID,
		ExternalEventID: envelope.ExternalEventID,
		Kind:            domain.EventKind(envelope.Kind),
		Payload:         envelope.Payload,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if _, err := s.inbox.CreateEvent(ctx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			s.log.Debugw("Duplicate event ignored",
				"shop_id", envelope.ShopID,
				"external_event_id", envelope.ExternalEventID)
			if s.metrics != nil {
				s.metrics.IncInboxDuplicate()
			}
			return false, nil
		}
		return false, fmt.Errorf("failed to store inbox event: %w", err)
	}

	s.log.Infow("Event accepted",
		"event_id", event.ID.String(),
		"shop_id", envelope.ShopID,
		"external_event_id", envelope.ExternalEventID,
		"kind", string(event.Kind))

	if s.metrics != nil {
		s.metrics.IncInboxEvent(string(event.Kind))
	}

	return true, nil
}

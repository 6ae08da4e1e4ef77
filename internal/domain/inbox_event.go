package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind тип внешнего события коммерс-платформы (закрытое перечисление)
type EventKind string

const (
	EventKindOrderCreated    EventKind = "order.created"
	EventKindOrderUpdated    EventKind = "order.updated"
	EventKindOrderCancelled  EventKind = "order.cancelled"
	EventKindCustomerCreated EventKind = "customer.created"
	EventKindCustomerUpdated EventKind = "customer.updated"

	// EventKindUnknown необрабатываемый вид события; не ошибка, событие
	// помечается обработанным без эффекта
	EventKindUnknown EventKind = "unknown"
)

// ParseEventKind приводит строку к известному виду события; неизвестные
// строки отображаются в EventKindUnknown.
func ParseEventKind(s string) EventKind {
	switch EventKind(s) {
	case EventKindOrderCreated, EventKindOrderUpdated, EventKindOrderCancelled,
		EventKindCustomerCreated, EventKindCustomerUpdated:
		return EventKind(s)
	default:
		return EventKindUnknown
	}
}

// InboxEvent дедуплицированное внешнее событие, ожидающее обработки.
// Создается при приеме, изменяется только реконсилятором, не удаляется
// (аудиторский след). Kind хранит строку типа как получена от платформы,
// включая неизвестные значения.
type InboxEvent struct {
	ID              uuid.UUID       `json:"id"`
	ShopID          string          `json:"shop_id"`
	ExternalEventID string          `json:"external_event_id"`
	Kind            EventKind       `json:"kind"`
	Payload         json.RawMessage `json:"payload"`
	Processed       bool            `json:"processed"`
	ProcessingError string          `json:"processing_error,omitempty"`
	RetryCount      int             `json:"retry_count"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EventEnvelope входящий конверт события от коммерс-платформы
type EventEnvelope struct {
	ShopID          string          `json:"shop_id" validate:"required"`
	ExternalEventID string          `json:"external_event_id" validate:"required"`
	Kind            string          `json:"kind" validate:"required"`
	Payload         json.RawMessage `json:"payload" validate:"required"`
}

// OrderPayload типизированная нагрузка событий order.*
type OrderPayload struct {
	OrderID            string `json:"order_id"`
	CustomerExternalID string `json:"customer_external_id,omitempty"`
	CustomerEmail      string `json:"customer_email,omitempty"`
	TotalCents         int64  `json:"total_cents"`
	FinancialStatus    string `json:"financial_status"` // "paid", "pending", "refunded", ...
	Cancelled          bool   `json:"cancelled"`
}

// PaymentConfirmed проверяет, что заказ оплачен
func (p *OrderPayload) PaymentConfirmed() bool {
	return p.FinancialStatus == "paid"
}

// HasCustomer проверяет, что к заказу привязан клиент
func (p *OrderPayload) HasCustomer() bool {
	return p.CustomerExternalID != ""
}

// CustomerPayload типизированная нагрузка событий customer.*
type CustomerPayload struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
}

// DecodeOrderPayload разбирает и проверяет нагрузку заказа
func DecodeOrderPayload(raw json.RawMessage) (*OrderPayload, error) {
	var p OrderPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed order payload: %v", ErrInvalidInput, err)
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("%w: order payload missing order_id", ErrInvalidInput)
	}
	if p.TotalCents < 0 {
		return nil, fmt.Errorf("%w: order payload has negative total", ErrInvalidInput)
	}
	return &p, nil
}

// DecodeCustomerPayload разбирает и проверяет нагрузку клиента
func DecodeCustomerPayload(raw json.RawMessage) (*CustomerPayload, error) {
	var p CustomerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed customer payload: %v", ErrInvalidInput, err)
	}
	if p.ExternalID == "" {
		return nil, fmt.Errorf("%w: customer payload missing external_id", ErrInvalidInput)
	}
	return &p, nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/google/uuid"
)

// CustomerService интерфейс сервиса клиентов
type CustomerService interface {
	// GetByID возвращает клиента по ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)

	// FindOrCreate возвращает клиента магазина по внешнему ID, создавая при отсутствии
	FindOrCreate(ctx context.Context, shopID, externalID, email string) (*domain.Customer, error)

	// UpsertFromPayload создает либо обновляет профиль клиента из события платформы
	UpsertFromPayload(ctx context.Context, shopID string, payload *domain.CustomerPayload) (*domain.Customer, error)
}

// CustomerStore интерфейс хранилища клиентов
type CustomerStore interface {
	// GetByID возвращает клиента по ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error)

	// GetByExternalID возвращает клиента магазина по внешнему ID
	GetByExternalID(ctx context.Context, shopID, externalID string) (*domain.Customer, error)

	// Create создает нового клиента
	Create(ctx context.Context, customer *domain.Customer) (*domain.Customer, error)

	// Upsert создает клиента или обновляет его профильные поля
	Upsert(ctx context.Context, customer *domain.Customer) (*domain.Customer, error)
}

// CustomerServiceImpl реализация сервиса клиентов
type CustomerServiceImpl struct {
	customers CustomerStore
	log       *logger.Logger
}

// NewCustomerService создает новый сервис клиентов
func NewCustomerService(customers CustomerStore, log *logger.Logger) *CustomerServiceImpl {
	return &CustomerServiceImpl{
		customers: customers,
		log:       log,
	}
}

// GetByID возвращает клиента по ID
func (s *CustomerServiceImpl) GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	return s.customers.GetByID(ctx, id)
}

// FindOrCreate возвращает клиента магазина по внешнему ID, создавая при
// отсутствии. Гонка параллельного создания разрешается повторным чтением.
func (s *CustomerServiceImpl) FindOrCreate(ctx context.Context, shopID, externalID, email string) (*domain.Customer, error) {
	customer, err := s.customers.GetByExternalID(ctx, shopID, externalID)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	created, err := s.customers.Create(ctx, domain.NewCustomer(shopID, externalID, email))
	if err == nil {
		s.log.Infow("Customer created", "customer_id", created.ID.String(), "shop_id", shopID, "external_id", externalID)
		return created, nil
	}
	if !errors.Is(err, domain.ErrDuplicate) {
		return nil, err
	}

	// конкурентное создание в параллельной пачке, запись уже есть
	return s.customers.GetByExternalID(ctx, shopID, externalID)
}

// UpsertFromPayload создает либо обновляет профиль клиента из события платформы.
// Балансы и счетчики при обновлении не затрагиваются, ими владеет леджер.
func (s *CustomerServiceImpl) UpsertFromPayload(ctx context.Context, shopID string, payload *domain.CustomerPayload) (*domain.Customer, error) {
	if payload.ExternalID == "" {
		return nil, fmt.Errorf("%w: customer payload has no external id", domain.ErrInvalidInput)
	}

	customer := domain.NewCustomer(shopID, payload.ExternalID, payload.Email)
	customer.FirstName = payload.FirstName
	customer.LastName = payload.LastName

	updated, err := s.customers.Upsert(ctx, customer)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert customer: %w", err)
	}

	s.log.Debugw("Customer profile upserted",
		"customer_id", updated.ID.String(),
		"shop_id", shopID,
		"external_id", payload.ExternalID)

	return updated, nil
}


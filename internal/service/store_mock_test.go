package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/google/uuid"
)

// testLogger возвращает логгер, молчащий в тестовом выводе
func testLogger() *logger.Logger {
	log := logger.New(logger.ERROR)
	log.SetOutput(io.Discard)
	return log
}

// memoryStore хранилище в памяти, реализующее интерфейсы леджера,
// клиентов, уровней и входящей очереди с той же семантикой, что и Postgres
type memoryStore struct {
	mu           sync.Mutex
	customers    map[uuid.UUID]*domain.Customer
	transactions []domain.Transaction
	tiers        []domain.Tier
	events       map[uuid.UUID]*domain.InboxEvent
	eventOrder   []uuid.UUID
	lockedShops  map[string]bool
	lockCount    int

	// applyErr возвращается следующим вызовом ApplyTransaction и сбрасывается
	// (моделирует переходный сбой хранилища)
	applyErr error
}

func (m *memoryStore) failNextApply(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr = err
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		customers:   make(map[uuid.UUID]*domain.Customer),
		events:      make(map[uuid.UUID]*domain.InboxEvent),
		lockedShops: make(map[string]bool),
	}
}

func (m *memoryStore) addCustomer(c *domain.Customer) *domain.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *c
	m.customers[c.ID] = &copied
	return &copied
}

// setTiers сохраняет уровни, отсортированные по required_points по убыванию
func (m *memoryStore) setTiers(tiers []domain.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := make([]domain.Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RequiredPoints > sorted[j].RequiredPoints })
	m.tiers = sorted
}

// --- LedgerStore ---

func (m *memoryStore) ApplyTransaction(ctx context.Context, apply domain.TransactionApply) (*domain.Transaction, *domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applyErr != nil {
		err := m.applyErr
		m.applyErr = nil
		return nil, nil, err
	}

	customer, ok := m.customers[apply.CustomerID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	if !customer.Active {
		return nil, nil, domain.ErrCustomerInactive
	}

	points := apply.Points
	balanceBefore := customer.PointsBalance
	balanceAfter := balanceBefore + points
	if balanceAfter < 0 {
		switch {
		case apply.FailOnInsufficient:
			return nil, nil, domain.NewInsufficientBalanceError(-points, balanceBefore)
		case apply.ClampToZero:
			balanceAfter = 0
			points = -balanceBefore
		default:
			return nil, nil, domain.ErrInvalidInput
		}
	}

	txn := domain.Transaction{
		ID:            uuid.New(),
		CustomerID:    customer.ID,
		Type:          apply.Type,
		Points:        points,
		BalanceBefore: balanceBefore,
		BalanceAfter:  balanceAfter,
		Source:        apply.Source,
		Description:   apply.Description,
		OrderRef:      apply.OrderRef,
		CreatedAt:     time.Now().UTC(),
	}
	m.transactions = append(m.transactions, txn)

	customer.PointsBalance = balanceAfter
	if apply.AffectsLifetime && points > 0 {
		customer.LifetimePoints += points
	}
	if apply.RecordOrderStats {
		customer.OrderCount++
		customer.TotalSpent += apply.OrderTotalCents
	}

	updated := *customer
	return &txn, &updated, nil
}

func (m *memoryStore) ApplyTierChange(ctx context.Context, change domain.TierChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	customer, ok := m.customers[change.CustomerID]
	if !ok {
		return false, domain.ErrNotFound
	}

	if customer.CurrentTierID != nil {
		for i := range m.tiers {
			if m.tiers[i].ID == *customer.CurrentTierID && m.tiers[i].Level >= change.TierLevel {
				return false, nil
			}
		}
	}

	tierID := change.TierID
	customer.CurrentTierID = &tierID
	m.transactions = append(m.transactions, domain.Transaction{
		ID:            uuid.New(),
		CustomerID:    customer.ID,
		Type:          domain.TransactionTypeBonus,
		BalanceBefore: customer.PointsBalance,
		BalanceAfter:  customer.PointsBalance,
		Source:        "TierUpgrade",
		Description:   change.Description,
		CreatedAt:     time.Now().UTC(),
	})
	return true, nil
}

func (m *memoryStore) TransactionsByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []domain.Transaction
	for i := len(m.transactions) - 1; i >= 0 && len(result) < limit; i-- {
		if m.transactions[i].CustomerID == customerID {
			result = append(result, m.transactions[i])
		}
	}
	return result, nil
}

func (m *memoryStore) EarnedByOrderRef(ctx context.Context, shopID, orderRef string) (*domain.Transaction, error) {
	return m.byOrderRef(shopID, orderRef, domain.TransactionTypeEarned)
}

func (m *memoryStore) AdjustedByOrderRef(ctx context.Context, shopID, orderRef string) (*domain.Transaction, error) {
	return m.byOrderRef(shopID, orderRef, domain.TransactionTypeAdjusted)
}

func (m *memoryStore) byOrderRef(shopID, orderRef string, txType domain.TransactionType) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.transactions {
		t := &m.transactions[i]
		if t.Type != txType || t.OrderRef == nil || *t.OrderRef != orderRef {
			continue
		}
		if c, ok := m.customers[t.CustomerID]; ok && c.ShopID == shopID {
			copied := *t
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

// allTransactions возвращает копию всех транзакций клиента в порядке создания
func (m *memoryStore) allTransactions(customerID uuid.UUID) []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []domain.Transaction
	for _, t := range m.transactions {
		if t.CustomerID == customerID {
			result = append(result, t)
		}
	}
	return result
}

// --- CustomerStore ---

func (m *memoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	customer, ok := m.customers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *customer
	return &copied, nil
}

func (m *memoryStore) GetByExternalID(ctx context.Context, shopID, externalID string) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.customers {
		if c.ShopID == shopID && c.ExternalID == externalID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memoryStore) Create(ctx context.Context, customer *domain.Customer) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.customers {
		if c.ShopID == customer.ShopID && c.ExternalID == customer.ExternalID {
			return nil, domain.ErrDuplicate
		}
	}
	copied := *customer
	m.customers[customer.ID] = &copied
	result := copied
	return &result, nil
}

func (m *memoryStore) Upsert(ctx context.Context, customer *domain.Customer) (*domain.Customer, error) {
	m.mu.Lock()

	for _, c := range m.customers {
		if c.ShopID == customer.ShopID && c.ExternalID == customer.ExternalID {
			c.Email = customer.Email
			c.FirstName = customer.FirstName
			c.LastName = customer.LastName
			copied := *c
			m.mu.Unlock()
			return &copied, nil
		}
	}
	m.mu.Unlock()
	return m.Create(ctx, customer)
}

// --- TierStore ---

func (m *memoryStore) List(ctx context.Context) ([]domain.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]domain.Tier, len(m.tiers))
	copy(result, m.tiers)
	return result, nil
}

func (m *memoryStore) GetTierByID(ctx context.Context, id uuid.UUID) (*domain.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.tiers {
		if m.tiers[i].ID == id {
			copied := m.tiers[i]
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

// memoryTierStore адаптер memoryStore под интерфейс TierStore:
// GetByID у memoryStore занят клиентами
type memoryTierStore struct {
	store *memoryStore
}

func (m memoryTierStore) List(ctx context.Context) ([]domain.Tier, error) {
	return m.store.List(ctx)
}

func (m memoryTierStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tier, error) {
	return m.store.GetTierByID(ctx, id)
}

// --- InboxStore / InboxWriter ---

func (m *memoryStore) CreateEvent(ctx context.Context, event *domain.InboxEvent) (*domain.InboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.events {
		if e.ShopID == event.ShopID && e.ExternalEventID == event.ExternalEventID {
			return nil, domain.ErrDuplicate
		}
	}
	copied := *event
	m.events[event.ID] = &copied
	m.eventOrder = append(m.eventOrder, event.ID)
	result := copied
	return &result, nil
}

func (m *memoryStore) UnprocessedBatch(ctx context.Context, limit int) ([]domain.InboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []domain.InboxEvent
	for _, id := range m.eventOrder {
		if len(result) >= limit {
			break
		}
		e := m.events[id]
		if !e.Processed && e.ProcessingError == "" {
			result = append(result, *e)
		}
	}
	return result, nil
}

func (m *memoryStore) RetryableBatch(ctx context.Context, window time.Duration, maxRetries, limit int) ([]domain.InboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-window)
	var result []domain.InboxEvent
	for _, id := range m.eventOrder {
		if len(result) >= limit {
			break
		}
		e := m.events[id]
		if !e.Processed && e.ProcessingError != "" && e.RetryCount < maxRetries && e.CreatedAt.After(cutoff) {
			result = append(result, *e)
		}
	}
	return result, nil
}

func (m *memoryStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Processed = true
	e.ProcessingError = ""
	return nil
}

func (m *memoryStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.ProcessingError = message
	e.RetryCount++
	return nil
}

func (m *memoryStore) ClearError(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.ProcessingError = ""
	return nil
}

func (m *memoryStore) AcquireShopLock(ctx context.Context, shopID string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lockedShops[shopID] {
		return nil, false, nil
	}
	m.lockedShops[shopID] = true
	m.lockCount++
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.lockedShops, shopID)
	}, true, nil
}

// --- RedemptionStore ---

// memoryRedemptionStore хранилище наград в памяти поверх memoryStore
type memoryRedemptionStore struct {
	store       *memoryStore
	rewards     map[uuid.UUID]*domain.Reward
	redemptions []domain.Redemption
}

func newMemoryRedemptionStore(store *memoryStore) *memoryRedemptionStore {
	return &memoryRedemptionStore{
		store:   store,
		rewards: make(map[uuid.UUID]*domain.Reward),
	}
}

func (m *memoryRedemptionStore) addReward(r *domain.Reward) {
	copied := *r
	m.rewards[r.ID] = &copied
}

func (m *memoryRedemptionStore) GetReward(ctx context.Context, id uuid.UUID) (*domain.Reward, error) {
	reward, ok := m.rewards[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *reward
	return &copied, nil
}

func (m *memoryRedemptionStore) RedeemReward(ctx context.Context, params domain.RedemptionApply) (*domain.Redemption, *domain.Transaction, error) {
	reward, ok := m.rewards[params.RewardID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}

	customer, err := m.store.GetByID(ctx, params.CustomerID)
	if err != nil {
		return nil, nil, err
	}

	var customerRedemptions int64
	for _, r := range m.redemptions {
		if r.CustomerID == params.CustomerID && r.RewardID == params.RewardID && r.Status != domain.RedemptionStatusFailed {
			customerRedemptions++
		}
	}

	if err := domain.ValidateRedemption(reward, customer, customerRedemptions, time.Now().UTC()); err != nil {
		return nil, nil, err
	}

	txn, _, err := m.store.ApplyTransaction(ctx, domain.TransactionApply{
		CustomerID:         params.CustomerID,
		Points:             -reward.PointsCost,
		Type:               domain.TransactionTypeRedeemed,
		Source:             "RewardRedemption",
		Description:        params.Description,
		FailOnInsufficient: true,
	})
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	redemption := domain.Redemption{
		ID:            uuid.New(),
		CustomerID:    params.CustomerID,
		RewardID:      params.RewardID,
		TransactionID: txn.ID,
		PointsSpent:   reward.PointsCost,
		Status:        domain.RedemptionStatusCompleted,
		Code:          params.Code,
		ExpiresAt:     params.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.redemptions = append(m.redemptions, redemption)
	reward.TotalRedemptions++

	result := redemption
	return &result, txn, nil
}

// --- вспомогательные конструкторы ---

func makeTier(name string, level int, required int64, multiplier float64) domain.Tier {
	return domain.Tier{
		ID:               uuid.New(),
		Name:             name,
		Level:            level,
		RequiredPoints:   required,
		PointsMultiplier: multiplier,
	}
}

func makeOrderEvent(shopID, eventID, orderID, customerExtID string, totalCents int64, kind domain.EventKind, status string, cancelled bool) domain.EventEnvelope {
	payload := fmt.Sprintf(
		`{"order_id":%q,"customer_external_id":%q,"customer_email":"c@example.com","total_cents":%d,"financial_status":%q,"cancelled":%t}`,
		orderID, customerExtID, totalCents, status, cancelled)
	return domain.EventEnvelope{
		ShopID:          shopID,
		ExternalEventID: eventID,
		Kind:            string(kind),
		Payload:         []byte(payload),
	}
}

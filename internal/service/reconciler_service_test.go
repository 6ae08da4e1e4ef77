package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
)

type reconcilerFixture struct {
	store      *memoryStore
	inboxSvc   *InboxServiceImpl
	reconciler *ReconcilerService
}

func newReconcilerFixture(t *testing.T, tiers ...domain.Tier) *reconcilerFixture {
	t.Helper()
	store := newMemoryStore()
	store.setTiers(tiers)
	log := testLogger()

	tierSvc := NewTierService(memoryTierStore{store}, store, nil, log)
	ledgerSvc := NewLedgerService(store, store, tierSvc, nil, nil, nil, log)
	customerSvc := NewCustomerService(store, log)
	inboxSvc := NewInboxService(store, nil, log)

	reconciler := NewReconcilerService(store, ledgerSvc, customerSvc, tierSvc, ReconcilerConfig{
		BatchSize:       50,
		MaxRetries:      3,
		PointsPerDollar: 1.0,
	}, nil, log)

	return &reconcilerFixture{store: store, inboxSvc: inboxSvc, reconciler: reconciler}
}

func (f *reconcilerFixture) ingest(t *testing.T, envelope domain.EventEnvelope) {
	t.Helper()
	if _, err := f.inboxSvc.Ingest(context.Background(), envelope); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
}

func (f *reconcilerFixture) process(t *testing.T) {
	t.Helper()
	if err := f.reconciler.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
}

func TestReconcilerOrderCreated(t *testing.T) {
	ctx := context.Background()

	t.Run("paid order creates customer and accrues points", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "paid", false))
		f.process(t)

		customer, err := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if err != nil {
			t.Fatalf("customer not created: %v", err)
		}
		if customer.PointsBalance != 25 {
			t.Errorf("balance = %d, want 25", customer.PointsBalance)
		}
		if customer.OrderCount != 1 || customer.TotalSpent != 2500 {
			t.Errorf("order stats = %d/%d, want 1/2500", customer.OrderCount, customer.TotalSpent)
		}

		events, _ := f.store.UnprocessedBatch(ctx, 10)
		if len(events) != 0 {
			t.Errorf("unprocessed events = %d, want 0", len(events))
		}
	})

	t.Run("unpaid order is processed without accrual", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "pending", false))
		f.process(t)

		if _, err := f.store.GetByExternalID(ctx, "shop-1", "ext-1"); err == nil {
			t.Error("customer created for unpaid order")
		}
		events, _ := f.store.UnprocessedBatch(ctx, 10)
		if len(events) != 0 {
			t.Errorf("unprocessed events = %d, want 0", len(events))
		}
	})

	t.Run("order without customer is processed without accrual", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "", 2500, domain.EventKindOrderCreated, "paid", false))
		f.process(t)

		events, _ := f.store.UnprocessedBatch(ctx, 10)
		if len(events) != 0 {
			t.Errorf("unprocessed events = %d, want 0", len(events))
		}
	})

	t.Run("two orders for one order id accrue once", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "paid", false))
		f.ingest(t, makeOrderEvent("shop-1", "evt-2", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "paid", false))
		f.process(t)

		customer, _ := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if customer.PointsBalance != 25 {
			t.Errorf("balance = %d, want 25 (single accrual per order)", customer.PointsBalance)
		}
	})

	t.Run("tier multiplier raises accrual", func(t *testing.T) {
		silver := makeTier("Silver", 2, 100, 2.0)
		f := newReconcilerFixture(t, silver)

		customer := domain.NewCustomer("shop-1", "ext-1", "a@example.com")
		customer.LifetimePoints = 150
		customer.CurrentTierID = &silver.ID
		f.store.addCustomer(customer)

		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 1000, domain.EventKindOrderCreated, "paid", false))
		f.process(t)

		stored, _ := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if stored.PointsBalance != 20 {
			t.Errorf("balance = %d, want 20 (10 dollars x2)", stored.PointsBalance)
		}
	})

	t.Run("inactive customer gets no accrual", func(t *testing.T) {
		f := newReconcilerFixture(t)
		customer := domain.NewCustomer("shop-1", "ext-1", "")
		customer.Active = false
		f.store.addCustomer(customer)

		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "paid", false))
		f.process(t)

		stored, _ := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if stored.PointsBalance != 0 {
			t.Errorf("balance = %d, want 0 for inactive customer", stored.PointsBalance)
		}
		events, _ := f.store.UnprocessedBatch(ctx, 10)
		if len(events) != 0 {
			t.Errorf("unprocessed events = %d, want 0", len(events))
		}
	})

	t.Run("zero total still records order stats", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 0, domain.EventKindOrderCreated, "paid", false))
		f.process(t)

		customer, err := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if err != nil {
			t.Fatalf("customer not created: %v", err)
		}
		if customer.PointsBalance != 0 || customer.OrderCount != 1 {
			t.Errorf("balance/orders = %d/%d, want 0/1", customer.PointsBalance, customer.OrderCount)
		}

		// повторная доставка того же заказа дедуплицируется и при нулевом начислении
		f.ingest(t, makeOrderEvent("shop-1", "evt-2", "order-1", "ext-1", 0, domain.EventKindOrderCreated, "paid", false))
		f.process(t)

		customer, _ = f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if customer.OrderCount != 1 {
			t.Errorf("order count = %d, want 1 after duplicate delivery", customer.OrderCount)
		}
	})

	t.Run("transient store failure is retried without losing order stats", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "paid", false))

		f.store.failNextApply(errors.New("connection reset"))
		f.process(t)

		retryable, _ := f.store.RetryableBatch(ctx, time.Hour, 3, 10)
		if len(retryable) != 1 {
			t.Fatalf("retryable events = %d, want 1", len(retryable))
		}

		if err := f.reconciler.RetrySweep(ctx); err != nil {
			t.Fatalf("RetrySweep() error = %v", err)
		}

		customer, err := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if err != nil {
			t.Fatalf("customer not created: %v", err)
		}
		if customer.PointsBalance != 25 {
			t.Errorf("balance = %d, want 25 after retry", customer.PointsBalance)
		}
		if customer.OrderCount != 1 || customer.TotalSpent != 2500 {
			t.Errorf("order stats = %d/%d, want 1/2500 after retry", customer.OrderCount, customer.TotalSpent)
		}

		retryable, _ = f.store.RetryableBatch(ctx, time.Hour, 3, 10)
		unprocessed, _ := f.store.UnprocessedBatch(ctx, 10)
		if len(retryable) != 0 || len(unprocessed) != 0 {
			t.Errorf("retryable/unprocessed = %d/%d, want 0/0", len(retryable), len(unprocessed))
		}
	})
}

func TestReconcilerOrderCancellation(t *testing.T) {
	ctx := context.Background()

	t.Run("cancellation reverts earlier accrual", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "paid", false))
		f.process(t)

		f.ingest(t, makeOrderEvent("shop-1", "evt-2", "order-1", "ext-1", 2500, domain.EventKindOrderCancelled, "refunded", true))
		f.process(t)

		customer, _ := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if customer.PointsBalance != 0 {
			t.Errorf("balance = %d, want 0 after cancellation", customer.PointsBalance)
		}
		// lifetime сохраняет историю начислений
		if customer.LifetimePoints != 25 {
			t.Errorf("lifetime = %d, want 25", customer.LifetimePoints)
		}
	})

	t.Run("cancellation for unknown order is a clean no-op", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-404", "ext-1", 2500, domain.EventKindOrderCancelled, "refunded", true))
		f.process(t)

		events, _ := f.store.UnprocessedBatch(ctx, 10)
		if len(events) != 0 {
			t.Errorf("unprocessed events = %d, want 0", len(events))
		}
	})

	t.Run("cancellation of a zero-point order changes nothing", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 0, domain.EventKindOrderCreated, "paid", false))
		f.ingest(t, makeOrderEvent("shop-1", "evt-2", "order-1", "ext-1", 0, domain.EventKindOrderCancelled, "refunded", true))
		f.process(t)

		customer, _ := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if customer.PointsBalance != 0 || customer.OrderCount != 1 {
			t.Errorf("balance/orders = %d/%d, want 0/1", customer.PointsBalance, customer.OrderCount)
		}
		events, _ := f.store.UnprocessedBatch(ctx, 10)
		if len(events) != 0 {
			t.Errorf("unprocessed events = %d, want 0", len(events))
		}
	})

	t.Run("double cancellation deducts once", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "paid", false))
		f.process(t)

		f.ingest(t, makeOrderEvent("shop-1", "evt-2", "order-1", "ext-1", 2500, domain.EventKindOrderUpdated, "refunded", true))
		f.ingest(t, makeOrderEvent("shop-1", "evt-3", "order-1", "ext-1", 2500, domain.EventKindOrderCancelled, "refunded", true))
		f.process(t)

		customer, _ := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if customer.PointsBalance != 0 {
			t.Errorf("balance = %d, want 0 after double cancellation", customer.PointsBalance)
		}
	})

	t.Run("revert clamps when points were already spent", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 10000, domain.EventKindOrderCreated, "paid", false))
		f.process(t)

		customer, _ := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		// клиент тратит почти все до отмены
		if _, _, err := f.store.ApplyTransaction(ctx, domain.TransactionApply{
			CustomerID:         customer.ID,
			Points:             -90,
			Type:               domain.TransactionTypeRedeemed,
			Source:             "RewardRedemption",
			FailOnInsufficient: true,
		}); err != nil {
			t.Fatalf("spend error = %v", err)
		}

		f.ingest(t, makeOrderEvent("shop-1", "evt-2", "order-1", "ext-1", 10000, domain.EventKindOrderCancelled, "refunded", true))
		f.process(t)

		after, _ := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if after.PointsBalance != 0 {
			t.Errorf("balance = %d, want 0 (clamped revert)", after.PointsBalance)
		}
	})
}

func TestReconcilerOrderUpdated(t *testing.T) {
	ctx := context.Background()

	t.Run("late payment confirmation accrues points", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "pending", false))
		f.process(t)

		f.ingest(t, makeOrderEvent("shop-1", "evt-2", "order-1", "ext-1", 2500, domain.EventKindOrderUpdated, "paid", false))
		f.process(t)

		customer, err := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if err != nil {
			t.Fatalf("customer not created: %v", err)
		}
		if customer.PointsBalance != 25 {
			t.Errorf("balance = %d, want 25", customer.PointsBalance)
		}
	})

	t.Run("update after accrual does not accrue again", func(t *testing.T) {
		f := newReconcilerFixture(t)
		f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "paid", false))
		f.process(t)

		f.ingest(t, makeOrderEvent("shop-1", "evt-2", "order-1", "ext-1", 2500, domain.EventKindOrderUpdated, "paid", false))
		f.process(t)

		customer, _ := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
		if customer.PointsBalance != 25 {
			t.Errorf("balance = %d, want 25", customer.PointsBalance)
		}
	})
}

func TestReconcilerCustomerEvents(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	f.ingest(t, domain.EventEnvelope{
		ShopID:          "shop-1",
		ExternalEventID: "evt-1",
		Kind:            string(domain.EventKindCustomerCreated),
		Payload:         []byte(`{"external_id":"ext-1","email":"a@example.com","first_name":"Anna"}`),
	})
	f.process(t)

	customer, err := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
	if err != nil {
		t.Fatalf("customer not created: %v", err)
	}
	if customer.FirstName != "Anna" {
		t.Errorf("first name = %q, want Anna", customer.FirstName)
	}

	// обновление профиля не затрагивает баланс
	customer.PointsBalance = 100
	f.store.addCustomer(customer)

	f.ingest(t, domain.EventEnvelope{
		ShopID:          "shop-1",
		ExternalEventID: "evt-2",
		Kind:            string(domain.EventKindCustomerUpdated),
		Payload:         []byte(`{"external_id":"ext-1","email":"new@example.com","first_name":"Anna"}`),
	})
	f.process(t)

	updated, _ := f.store.GetByExternalID(ctx, "shop-1", "ext-1")
	if updated.Email != "new@example.com" {
		t.Errorf("email = %q, want new@example.com", updated.Email)
	}
	if updated.PointsBalance != 100 {
		t.Errorf("balance = %d, want 100 (profile update must not touch balances)", updated.PointsBalance)
	}
}

func TestReconcilerUnknownKind(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	f.ingest(t, domain.EventEnvelope{
		ShopID:          "shop-1",
		ExternalEventID: "evt-1",
		Kind:            "inventory.low",
		Payload:         []byte(`{}`),
	})
	f.process(t)

	// событие неизвестного типа помечается обработанным без эффектов
	unprocessed, _ := f.store.UnprocessedBatch(ctx, 10)
	retryable, _ := f.store.RetryableBatch(ctx, time.Hour, 3, 10)
	if len(unprocessed) != 0 || len(retryable) != 0 {
		t.Errorf("unprocessed/retryable = %d/%d, want 0/0", len(unprocessed), len(retryable))
	}
}

func TestReconcilerRetryAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	// нечитаемая нагрузка заказа проваливает обработку
	f.ingest(t, domain.EventEnvelope{
		ShopID:          "shop-1",
		ExternalEventID: "evt-bad",
		Kind:            string(domain.EventKindOrderCreated),
		Payload:         []byte(`{"total_cents": -5}`),
	})

	f.process(t)

	t.Run("failed event leaves the main queue", func(t *testing.T) {
		events, _ := f.store.UnprocessedBatch(ctx, 10)
		if len(events) != 0 {
			t.Fatalf("unprocessed events = %d, want 0 (failed event must not block the queue)", len(events))
		}

		retryable, _ := f.store.RetryableBatch(ctx, time.Hour, 3, 10)
		if len(retryable) != 1 {
			t.Fatalf("retryable events = %d, want 1", len(retryable))
		}
		if retryable[0].RetryCount != 1 {
			t.Errorf("retry count = %d, want 1", retryable[0].RetryCount)
		}
	})

	t.Run("retry sweep consumes the retry budget", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if err := f.reconciler.RetrySweep(ctx); err != nil {
				t.Fatalf("RetrySweep() error = %v", err)
			}
		}

		retryable, _ := f.store.RetryableBatch(ctx, time.Hour, 3, 10)
		if len(retryable) != 0 {
			t.Errorf("retryable events = %d, want 0 after budget exhausted", len(retryable))
		}
	})

	t.Run("dead letter is never picked up again", func(t *testing.T) {
		if err := f.reconciler.RetrySweep(ctx); err != nil {
			t.Fatalf("RetrySweep() error = %v", err)
		}

		events, _ := f.store.UnprocessedBatch(ctx, 10)
		retryable, _ := f.store.RetryableBatch(ctx, time.Hour, 3, 10)
		if len(events) != 0 || len(retryable) != 0 {
			t.Errorf("dead letter reappeared: unprocessed=%d retryable=%d", len(events), len(retryable))
		}
	})
}

func TestReconcilerShopLock(t *testing.T) {
	ctx := context.Background()
	f := newReconcilerFixture(t)

	f.ingest(t, makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "paid", false))

	// магазин занят другим инстансом
	release, acquired, err := f.store.AcquireShopLock(ctx, "shop-1")
	if err != nil || !acquired {
		t.Fatalf("AcquireShopLock() = %v/%v", acquired, err)
	}

	f.process(t)

	events, _ := f.store.UnprocessedBatch(ctx, 10)
	if len(events) != 1 {
		t.Fatalf("locked shop events processed: %d left, want 1", len(events))
	}

	release()
	f.process(t)

	events, _ = f.store.UnprocessedBatch(ctx, 10)
	if len(events) != 0 {
		t.Errorf("events after release = %d, want 0", len(events))
	}
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
)

func TestCustomerServiceFindOrCreate(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := NewCustomerService(store, testLogger())

	created, err := svc.FindOrCreate(ctx, "shop-1", "ext-1", "a@example.com")
	if err != nil {
		t.Fatalf("FindOrCreate() error = %v", err)
	}
	if created.ShopID != "shop-1" || created.ExternalID != "ext-1" {
		t.Errorf("customer = %s/%s, want shop-1/ext-1", created.ShopID, created.ExternalID)
	}
	if !created.Active || created.PointsBalance != 0 {
		t.Errorf("new customer active/balance = %v/%d, want true/0", created.Active, created.PointsBalance)
	}

	again, err := svc.FindOrCreate(ctx, "shop-1", "ext-1", "other@example.com")
	if err != nil {
		t.Fatalf("FindOrCreate() second call error = %v", err)
	}
	if again.ID != created.ID {
		t.Errorf("second FindOrCreate returned a different customer")
	}

	other, err := svc.FindOrCreate(ctx, "shop-2", "ext-1", "a@example.com")
	if err != nil {
		t.Fatalf("FindOrCreate() other shop error = %v", err)
	}
	if other.ID == created.ID {
		t.Error("customers of different shops share an identity")
	}
}

func TestCustomerServiceUpsertFromPayload(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := NewCustomerService(store, testLogger())

	payload := &domain.CustomerPayload{ExternalID: "ext-1", Email: "a@example.com", FirstName: "Anna"}
	created, err := svc.UpsertFromPayload(ctx, "shop-1", payload)
	if err != nil {
		t.Fatalf("UpsertFromPayload() error = %v", err)
	}

	// начислим баллы и обновим профиль: балансы должны уцелеть
	created.PointsBalance = 500
	created.LifetimePoints = 500
	store.addCustomer(created)

	update := &domain.CustomerPayload{ExternalID: "ext-1", Email: "new@example.com", FirstName: "Anna", LastName: "Smith"}
	updated, err := svc.UpsertFromPayload(ctx, "shop-1", update)
	if err != nil {
		t.Fatalf("UpsertFromPayload() update error = %v", err)
	}

	if updated.Email != "new@example.com" || updated.LastName != "Smith" {
		t.Errorf("profile = %s/%s, want new@example.com/Smith", updated.Email, updated.LastName)
	}
	if updated.PointsBalance != 500 || updated.LifetimePoints != 500 {
		t.Errorf("balances = %d/%d, want 500/500 untouched", updated.PointsBalance, updated.LifetimePoints)
	}

	t.Run("payload without external id rejected", func(t *testing.T) {
		if _, err := svc.UpsertFromPayload(ctx, "shop-1", &domain.CustomerPayload{Email: "x@example.com"}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("UpsertFromPayload() error = %v, want ErrInvalidInput", err)
		}
	})
}

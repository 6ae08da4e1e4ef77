package service

import (
	"context"
	"testing"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
)

func TestSelectTier(t *testing.T) {
	gold := makeTier("Gold", 3, 5000, 2.0)
	silver := makeTier("Silver", 2, 1000, 1.5)
	bronze := makeTier("Bronze", 1, 0, 1.0)
	tiers := []domain.Tier{gold, silver, bronze} // required_points по убыванию

	tests := []struct {
		name     string
		lifetime int64
		want     string
	}{
		{"zero points lands on base tier", 0, "Bronze"},
		{"just below threshold stays on lower tier", 999, "Bronze"},
		{"exact threshold unlocks tier", 1000, "Silver"},
		{"far above top threshold", 100000, "Gold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectTier(tt.lifetime, tiers)
			if got == nil {
				t.Fatalf("SelectTier(%d) = nil, want %s", tt.lifetime, tt.want)
			}
			if got.Name != tt.want {
				t.Errorf("SelectTier(%d) = %s, want %s", tt.lifetime, got.Name, tt.want)
			}
		})
	}

	t.Run("no tier configured below all thresholds", func(t *testing.T) {
		noBase := []domain.Tier{gold, silver}
		if got := SelectTier(500, noBase); got != nil {
			t.Errorf("SelectTier(500) = %s, want nil", got.Name)
		}
	})
}

func TestTierServiceEvaluateAndApply(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	gold := makeTier("Gold", 3, 5000, 2.0)
	silver := makeTier("Silver", 2, 1000, 1.5)
	store.setTiers([]domain.Tier{silver, gold})

	svc := NewTierService(memoryTierStore{store}, store, nil, testLogger())

	customer := store.addCustomer(domain.NewCustomer("shop-1", "ext-1", "a@example.com"))

	t.Run("below all thresholds keeps customer without tier", func(t *testing.T) {
		customer.LifetimePoints = 500
		tier, err := svc.EvaluateAndApply(ctx, customer)
		if err != nil {
			t.Fatalf("EvaluateAndApply() error = %v", err)
		}
		if tier != nil {
			t.Errorf("EvaluateAndApply() = %s, want no change", tier.Name)
		}
	})

	t.Run("crossing threshold upgrades tier", func(t *testing.T) {
		customer.LifetimePoints = 1500
		tier, err := svc.EvaluateAndApply(ctx, customer)
		if err != nil {
			t.Fatalf("EvaluateAndApply() error = %v", err)
		}
		if tier == nil || tier.Name != "Silver" {
			t.Fatalf("EvaluateAndApply() = %v, want Silver", tier)
		}

		stored, err := store.GetByID(ctx, customer.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if stored.CurrentTierID == nil || *stored.CurrentTierID != silver.ID {
			t.Errorf("customer tier = %v, want %s", stored.CurrentTierID, silver.ID)
		}
	})

	t.Run("tier upgrade writes zero-point bonus transaction", func(t *testing.T) {
		transactions := store.allTransactions(customer.ID)
		if len(transactions) != 1 {
			t.Fatalf("transaction count = %d, want 1", len(transactions))
		}
		txn := transactions[0]
		if txn.Type != domain.TransactionTypeBonus || txn.Points != 0 {
			t.Errorf("tier transaction = %s/%d, want bonus/0", txn.Type, txn.Points)
		}
	})

	t.Run("same tier is a no-op", func(t *testing.T) {
		fresh, _ := store.GetByID(ctx, customer.ID)
		fresh.LifetimePoints = 1500
		tier, err := svc.EvaluateAndApply(ctx, fresh)
		if err != nil {
			t.Fatalf("EvaluateAndApply() error = %v", err)
		}
		if tier != nil {
			t.Errorf("EvaluateAndApply() = %s, want no change", tier.Name)
		}
	})

	t.Run("lifetime drop never downgrades", func(t *testing.T) {
		fresh, _ := store.GetByID(ctx, customer.ID)
		fresh.LifetimePoints = 0
		tier, err := svc.EvaluateAndApply(ctx, fresh)
		if err != nil {
			t.Fatalf("EvaluateAndApply() error = %v", err)
		}
		if tier != nil {
			t.Errorf("EvaluateAndApply() = %s, want no downgrade", tier.Name)
		}

		stored, _ := store.GetByID(ctx, customer.ID)
		if stored.CurrentTierID == nil || *stored.CurrentTierID != silver.ID {
			t.Errorf("customer tier changed on downgrade attempt")
		}
	})
}

func TestTierServiceMultiplierFor(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	gold := makeTier("Gold", 3, 5000, 2.0)
	store.setTiers([]domain.Tier{gold})

	svc := NewTierService(memoryTierStore{store}, store, nil, testLogger())

	t.Run("nil tier uses base multiplier", func(t *testing.T) {
		got, err := svc.MultiplierFor(ctx, nil)
		if err != nil {
			t.Fatalf("MultiplierFor(nil) error = %v", err)
		}
		if got != 1.0 {
			t.Errorf("MultiplierFor(nil) = %v, want 1.0", got)
		}
	})

	t.Run("known tier uses its multiplier", func(t *testing.T) {
		got, err := svc.MultiplierFor(ctx, &gold.ID)
		if err != nil {
			t.Fatalf("MultiplierFor() error = %v", err)
		}
		if got != 2.0 {
			t.Errorf("MultiplierFor() = %v, want 2.0", got)
		}
	})
}

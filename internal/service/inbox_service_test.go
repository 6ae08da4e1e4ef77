package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
)

func TestInboxServiceIngest(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	svc := NewInboxService(store, nil, testLogger())

	envelope := makeOrderEvent("shop-1", "evt-1", "order-1", "ext-1", 2500, domain.EventKindOrderCreated, "paid", false)

	t.Run("first delivery accepted", func(t *testing.T) {
		accepted, err := svc.Ingest(ctx, envelope)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if !accepted {
			t.Error("Ingest() = false, want accepted")
		}

		events, _ := store.UnprocessedBatch(ctx, 10)
		if len(events) != 1 {
			t.Fatalf("stored events = %d, want 1", len(events))
		}
		if events[0].Kind != domain.EventKindOrderCreated {
			t.Errorf("stored kind = %s, want order.created", events[0].Kind)
		}
	})

	t.Run("redelivery of same event acknowledged without a second record", func(t *testing.T) {
		accepted, err := svc.Ingest(ctx, envelope)
		if err != nil {
			t.Fatalf("Ingest() duplicate error = %v", err)
		}
		if accepted {
			t.Error("Ingest() duplicate = true, want false")
		}

		events, _ := store.UnprocessedBatch(ctx, 10)
		if len(events) != 1 {
			t.Errorf("stored events = %d, want 1 after redelivery", len(events))
		}
	})

	t.Run("same external id in another shop is a distinct event", func(t *testing.T) {
		other := makeOrderEvent("shop-2", "evt-1", "order-9", "ext-1", 1000, domain.EventKindOrderCreated, "paid", false)
		accepted, err := svc.Ingest(ctx, other)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if !accepted {
			t.Error("Ingest() = false, want accepted for another shop")
		}
	})

	t.Run("unknown kind accepted for audit trail", func(t *testing.T) {
		unknown := domain.EventEnvelope{
			ShopID:          "shop-1",
			ExternalEventID: "evt-weird",
			Kind:            "inventory.low",
			Payload:         []byte(`{}`),
		}
		accepted, err := svc.Ingest(ctx, unknown)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if !accepted {
			t.Error("Ingest() = false, want accepted")
		}

		// в очереди остается исходная строка типа, а не "unknown"
		events, _ := store.UnprocessedBatch(ctx, 10)
		found := false
		for _, e := range events {
			if e.ExternalEventID == "evt-weird" {
				found = true
				if string(e.Kind) != "inventory.low" {
					t.Errorf("stored kind = %q, want inventory.low", e.Kind)
				}
			}
		}
		if !found {
			t.Fatal("unknown-kind event not stored")
		}
	})

	t.Run("missing identifiers rejected", func(t *testing.T) {
		bad := domain.EventEnvelope{Kind: "order.created", Payload: []byte(`{}`)}
		if _, err := svc.Ingest(ctx, bad); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("Ingest() error = %v, want ErrInvalidInput", err)
		}
	})
}

package journal

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestMemoryStoreSaveAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := Record{
		IntentID:  "intent-1",
		Currency:  "USDC",
		Recipient: "0x1111111111111111111111111111111111111111",
		Amount:    "100000000",
		TxHash:    "0xaaa",
		ChainID:   84532,
		Status:    "pending",
	}
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Get(ctx, "intent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != "pending" || loaded.Amount != "100000000" {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.CreatedAt == 0 || loaded.UpdatedAt == 0 {
		t.Fatal("timestamps not populated")
	}
}

func TestMemoryStoreUpsertKeepsCreatedAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := Record{IntentID: "intent-1", Status: "pending", CreatedAt: 100}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	update := Record{IntentID: "intent-1", Status: "confirmed", TxHash: "0xaaa"}
	if err := store.Save(ctx, update); err != nil {
		t.Fatalf("save update: %v", err)
	}

	loaded, err := store.Get(ctx, "intent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != "confirmed" || loaded.TxHash != "0xaaa" {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.CreatedAt != 100 {
		t.Fatalf("created at = %d, upsert must keep the original", loaded.CreatedAt)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	if !stdErrors.Is(err, ErrRecordNotFound) {
		t.Fatalf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestMemoryStoreRejectsEmptyIntentID(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Save(context.Background(), Record{}); err == nil {
		t.Fatal("expected error for empty intent id")
	}
}

func TestMemoryStoreListLatest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		record := Record{IntentID: fmt.Sprintf("intent-%d", i), Status: "confirmed"}
		if err := store.Save(ctx, record); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	latest, err := store.ListLatest(ctx, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(latest) != 3 {
		t.Fatalf("latest = %d, want 3", len(latest))
	}
	if latest[0].IntentID != "intent-4" {
		t.Fatalf("first = %q, want newest", latest[0].IntentID)
	}

	all, err := store.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("all = %d", len(all))
	}
}

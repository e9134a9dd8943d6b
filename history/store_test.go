package history

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"granary/core/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndListByAccount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, "grn1alice", "emission", "100", 1000); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(ctx, "grn1alice", "harvest", "55", 1010); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(ctx, "grn1bob", "emission", "7", 1020); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := store.ListByAccount(ctx, "grn1alice", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Most recent first.
	if entries[0].Stream != "harvest" || entries[0].Amount != "55" {
		t.Fatalf("unexpected newest entry %+v", entries[0])
	}

	emissionOnly, err := store.ListByAccount(ctx, "grn1alice", "emission", 10)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(emissionOnly) != 1 || emissionOnly[0].Amount != "100" {
		t.Fatalf("unexpected filtered entries %+v", emissionOnly)
	}
}

func TestRecordRequiresAccount(t *testing.T) {
	store := openTestStore(t)
	if err := store.Record(context.Background(), "  ", "emission", "1", 0); err == nil {
		t.Fatal("expected missing-account error")
	}
}

func TestSinkArchivesSettlements(t *testing.T) {
	store := openTestStore(t)
	var emitter events.Emitter = NewSink(store, nil)

	var account [20]byte
	account[19] = 1
	emitter.Emit(events.YieldRewardsSettled{
		Account: account,
		Stream:  events.StreamHarvest,
		Amount:  big.NewInt(250),
		Unix:    2000,
	})
	// Non-settlement events pass through without writes.
	emitter.Emit(events.YieldPaused{Caller: account})

	entries, err := store.ListByAccount(context.Background(), addressString(account), "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Amount != "250" || entries[0].Stream != events.StreamHarvest {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if entries[0].SettledAt != 2000 {
		t.Fatalf("settledAt = %d, want 2000", entries[0].SettledAt)
	}
}

func addressString(raw [20]byte) string {
	evt := events.YieldRewardsSettled{Account: raw, Amount: big.NewInt(0)}
	return evt.Event().Attribute("account")
}

package journal

import (
	"path/filepath"
	"testing"
	"time"

	"granary/core/events"
	"granary/core/types"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	j.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return j
}

func TestAppendChainsRecords(t *testing.T) {
	j := openTestJournal(t)

	first, err := j.Append(&types.Event{Type: "yield.staked", Attributes: map[string]string{"amount": "100"}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Seq != 1 {
		t.Fatalf("first seq = %d, want 1", first.Seq)
	}
	if first.PrevHash != "" {
		t.Fatalf("first record should not link backwards, got %q", first.PrevHash)
	}

	second, err := j.Append(&types.Event{Type: "yield.claimed"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("second seq = %d, want 2", second.Seq)
	}
	if second.PrevHash != first.Hash {
		t.Fatalf("second record links to %q, want %q", second.PrevHash, first.Hash)
	}
	if err := j.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestListCursor(t *testing.T) {
	j := openTestJournal(t)
	for i := 0; i < 5; i++ {
		if _, err := j.Append(&types.Event{Type: "yield.poolSynced"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	records, err := j.List(2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Seq != 3 || records[1].Seq != 4 {
		t.Fatalf("got seqs %d,%d, want 3,4", records[0].Seq, records[1].Seq)
	}

	head, err := j.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 5 {
		t.Fatalf("head = %d, want 5", head)
	}
}

func TestSubscribeReceivesAppends(t *testing.T) {
	j := openTestJournal(t)
	ch, cancel, err := j.Subscribe(4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	appended, err := j.Append(&types.Event{Type: "yield.withdrawn"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case got := <-ch:
		if got.Seq != appended.Seq || got.Type != "yield.withdrawn" {
			t.Fatalf("unexpected record %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive record")
	}
}

type journalTestEvent struct{ amount string }

func (journalTestEvent) EventType() string { return "yield.staked" }
func (e journalTestEvent) Event() *types.Event {
	return &types.Event{Type: "yield.staked", Attributes: map[string]string{"amount": e.amount}}
}

func TestSinkAppendsEmittedEvents(t *testing.T) {
	j := openTestJournal(t)
	var emitter events.Emitter = NewSink(j, nil)

	emitter.Emit(journalTestEvent{amount: "42"})
	records, err := j.List(0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Attributes["amount"] != "42" {
		t.Fatalf("attribute not journaled: %+v", records[0].Attributes)
	}
}

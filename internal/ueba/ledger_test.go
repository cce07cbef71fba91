package ueba

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
)

func eventAt(entity, action string, at time.Time) models.ActivityEvent {
	return models.ActivityEvent{
		ID:         fmt.Sprintf("%s-%s-%d", entity, action, at.UnixNano()),
		Entity:     entity,
		Action:     action,
		OccurredAt: at,
	}
}

func TestLedgerRejectsBadCapacity(t *testing.T) {
	if _, err := NewLedger(0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := NewLedger(-5); err == nil {
		t.Fatal("expected error for negative capacity")
	}
}

func TestLedgerEvictsOldestFirst(t *testing.T) {
	ledger, err := NewLedger(3)
	if err != nil {
		t.Fatalf("NewLedger returned error: %v", err)
	}

	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ledger.Append(eventAt("agent", fmt.Sprintf("op-%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	if got := ledger.Len(); got != 3 {
		t.Fatalf("expected 3 retained events, got %d", got)
	}
	tail := ledger.Tail(3)
	if len(tail) != 3 {
		t.Fatalf("expected tail of 3, got %d", len(tail))
	}
	for i, want := range []string{"op-2", "op-3", "op-4"} {
		if tail[i].Action != want {
			t.Fatalf("tail[%d] = %s, want %s", i, tail[i].Action, want)
		}
	}
}

func TestLedgerConcurrentAppendsNeverExceedCapacity(t *testing.T) {
	const capacity = 100
	ledger, err := NewLedger(capacity)
	if err != nil {
		t.Fatalf("NewLedger returned error: %v", err)
	}

	var wg sync.WaitGroup
	base := time.Now().UTC()
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ledger.Append(eventAt(fmt.Sprintf("agent-%d", g), "op", base))
			}
		}(g)
	}
	wg.Wait()

	if got := ledger.Len(); got != capacity {
		t.Fatalf("expected ledger to settle at capacity %d, got %d", capacity, got)
	}
}

func TestLedgerCountInWindow(t *testing.T) {
	ledger, err := NewLedger(10)
	if err != nil {
		t.Fatalf("NewLedger returned error: %v", err)
	}

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ledger.Append(eventAt("agent", "old", now.Add(-90*time.Second)))
	ledger.Append(eventAt("agent", "edge", now.Add(-60*time.Second))) // exactly at cutoff, excluded
	ledger.Append(eventAt("agent", "recent", now.Add(-30*time.Second)))
	ledger.Append(eventAt("other", "recent", now.Add(-10*time.Second)))
	ledger.Append(eventAt("agent", "now", now))

	if got := ledger.CountInWindow("agent", time.Minute, now); got != 2 {
		t.Fatalf("expected 2 events in window, got %d", got)
	}
	if got := len(ledger.RecentWindow("agent", time.Minute, now)); got != 2 {
		t.Fatalf("expected 2 events from RecentWindow, got %d", got)
	}
}

func TestLedgerTailFor(t *testing.T) {
	ledger, err := NewLedger(10)
	if err != nil {
		t.Fatalf("NewLedger returned error: %v", err)
	}

	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ledger.Append(eventAt("a", fmt.Sprintf("a-%d", i), base.Add(time.Duration(i)*time.Second)))
		ledger.Append(eventAt("b", fmt.Sprintf("b-%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	tail := ledger.TailFor("a", 3)
	if len(tail) != 3 {
		t.Fatalf("expected 3 events, got %d", len(tail))
	}
	for i, want := range []string{"a-1", "a-2", "a-3"} {
		if tail[i].Action != want {
			t.Fatalf("tail[%d] = %s, want %s", i, tail[i].Action, want)
		}
	}
	if got := ledger.CountFor("b"); got != 4 {
		t.Fatalf("expected 4 events for b, got %d", got)
	}
}

func TestLedgerSummarize(t *testing.T) {
	ledger, err := NewLedger(50)
	if err != nil {
		t.Fatalf("NewLedger returned error: %v", err)
	}

	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		ledger.Append(eventAt("master_agent", "process_telematics_data", base.Add(time.Duration(i)*time.Second)))
	}
	ledger.Append(eventAt("customer_agent", "send_alert", base.Add(13*time.Second)))

	summary := ledger.Summarize("")
	if summary.TotalEvents != 13 {
		t.Fatalf("expected 13 total events, got %d", summary.TotalEvents)
	}
	if summary.ByEntity["master_agent"] != 12 || summary.ByEntity["customer_agent"] != 1 {
		t.Fatalf("unexpected entity counts: %v", summary.ByEntity)
	}
	if summary.ByAction["master_agent:process_telematics_data"] != 12 {
		t.Fatalf("unexpected action counts: %v", summary.ByAction)
	}
	if len(summary.Recent) != 10 {
		t.Fatalf("expected 10 recent events, got %d", len(summary.Recent))
	}
	if summary.Recent[9].Entity != "customer_agent" {
		t.Fatalf("expected newest event last, got %s", summary.Recent[9].Entity)
	}
	if !summary.Recent[0].OccurredAt.Before(summary.Recent[9].OccurredAt) {
		t.Fatal("expected recent events ordered oldest first")
	}

	filtered := ledger.Summarize("customer_agent")
	if filtered.TotalEvents != 1 {
		t.Fatalf("expected 1 event for customer_agent, got %d", filtered.TotalEvents)
	}
	if len(filtered.ByEntity) != 1 || filtered.ByEntity["customer_agent"] != 1 {
		t.Fatalf("filtered entity counts should cover only customer_agent: %v", filtered.ByEntity)
	}
	if filtered.ByAction["customer_agent:send_alert"] != 1 {
		t.Fatalf("unexpected filtered action counts: %v", filtered.ByAction)
	}
	if len(filtered.Recent) != 1 || filtered.Recent[0].Entity != "customer_agent" {
		t.Fatalf("filtered recent events should carry only customer_agent: %v", filtered.Recent)
	}

	empty := ledger.Summarize("no_such_agent")
	if empty.TotalEvents != 0 || len(empty.Recent) != 0 {
		t.Fatalf("unknown entity should summarize to nothing, got %+v", empty)
	}
}

package memory

import (
	"testing"

	"courtbot/internal/domain"
)

func TestCredentialsRoundTrip(t *testing.T) {
	store := NewStore()
	if _, ok := store.LoadCredentials(); ok {
		t.Fatal("expected empty store to have no credentials")
	}
	if err := store.SaveCredentials(domain.Credentials{Username: "u1", Password: "__RSA__abc", DeviceID: "d1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	creds, ok := store.LoadCredentials()
	if !ok || creds.Username != "u1" || creds.DeviceID != "d1" {
		t.Fatalf("unexpected credentials %+v ok=%v", creds, ok)
	}
	if err := store.ClearCredentials(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := store.LoadCredentials(); ok {
		t.Fatal("expected credentials cleared")
	}
}

func TestOutcomeLedger(t *testing.T) {
	store := NewStore()
	store.RecordOutcome("23/2026-09-01/monitor", domain.Outcome{State: domain.OutcomeSuccess, OrderID: "ORD-1"})
	outcomes := store.Outcomes()
	if outcomes["23/2026-09-01/monitor"].OrderID != "ORD-1" {
		t.Fatalf("unexpected ledger %+v", outcomes)
	}
	store.DeleteOutcome("23/2026-09-01/monitor")
	if len(store.Outcomes()) != 0 {
		t.Fatal("expected ledger entry removed")
	}
}

func TestListEventsNewestFirst(t *testing.T) {
	store := NewStore()
	store.AppendEvent(domain.EventJobScheduled, map[string]interface{}{"n": 1})
	store.AppendEvent(domain.EventBookingSucceeded, map[string]interface{}{"n": 2})
	events := store.ListEvents(10)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != domain.EventBookingSucceeded {
		t.Fatalf("expected newest first, got %s", events[0].Type)
	}
}

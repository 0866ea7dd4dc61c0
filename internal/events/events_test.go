package events

import (
	"encoding/json"
	"testing"

	"salesync/internal/models"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe("test_event", handler)

	payload := map[string]string{"foo": "bar"}
	err := bus.PublishJSON("test_event", payload)
	if err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Type != "test_event" {
		t.Errorf("expected type test_event, got %s", received.Type)
	}

	var decoded map[string]string
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}

	if decoded["foo"] != "bar" {
		t.Errorf("expected foo=bar, got %s", decoded["foo"])
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	if err := bus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}

	var nilBus *EventBus
	if err := nilBus.PublishStatus(models.StatusWarn, "offline", 1); err != nil {
		t.Errorf("nil bus should be a no-op, got %v", err)
	}
}

func TestStatusRecorder(t *testing.T) {
	bus := NewEventBus()
	rec := &StatusRecorder{}
	rec.Attach(bus)

	if _, ok := rec.Last(); ok {
		t.Fatal("expected no status before publish")
	}

	if err := bus.PublishStatus(models.StatusWarn, "offline", 2); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}
	if err := bus.PublishStatus(models.StatusSuccess, "in sync", 0); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}

	last, ok := rec.Last()
	if !ok {
		t.Fatal("expected status after publish")
	}
	if last.Type != models.StatusSuccess || last.Message != "in sync" || last.Pending != 0 {
		t.Errorf("unexpected last status: %+v", last)
	}
	if last.At.IsZero() {
		t.Error("expected timestamp on status")
	}
}

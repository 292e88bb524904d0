package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(func(event *Event) error {
		received = event
		callCount++
		return nil
	}, "test_event")

	payload := map[string]string{"foo": "bar"}
	if err := bus.PublishJSON("test_event", payload); err != nil {
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

	bus.Subscribe(func(_ *Event) error { count1++; return errors.New("first failed") }, "event")
	bus.Subscribe(func(_ *Event) error { count2++; return nil }, "event", "other")

	err := bus.Publish(&Event{Type: "event"})
	if err == nil {
		t.Errorf("expected handler error to be returned")
	}
	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}

	_ = bus.Publish(&Event{Type: "other"})
	if count2 != 2 {
		t.Errorf("expected second handler on other event, got %d", count2)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	if err := bus.Publish(&Event{Type: "unknown"}); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
	if err := bus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}

	var nilBus *EventBus
	if err := nilBus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("nil bus should be a no-op: %v", err)
	}
}

func TestNewJSONEvent(t *testing.T) {
	payload := AppointmentEventPayload{AppointmentID: "appt-1", Status: "accepted"}
	event, err := NewJSONEvent(EventAppointmentCreated, payload)
	if err != nil {
		t.Fatalf("NewJSONEvent failed: %v", err)
	}

	if event.Key != "appt-1" {
		t.Errorf("expected key appt-1, got %q", event.Key)
	}
	if event.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded AppointmentEventPayload
	if err := json.Unmarshal(event.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if decoded.Status != "accepted" {
		t.Errorf("expected status accepted, got %s", decoded.Status)
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaForwarder(t *testing.T) {
	w := &fakeWriter{}
	fwd := NewKafkaForwarder(w, 8, nil)
	bus := NewEventBus()
	fwd.Attach(bus)
	fwd.Start()

	start := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	for _, typ := range []string{EventAppointmentCreated, EventAppointmentCancelled} {
		if err := bus.PublishJSON(typ, AppointmentEventPayload{AppointmentID: "appt-7", Start: start}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := bus.PublishJSON("unrelated", map[string]int{"x": 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	fwd.Stop()

	if !w.closed {
		t.Errorf("writer not closed")
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "appt-7" {
		t.Errorf("unexpected key %q", w.msgs[0].Key)
	}
	if string(w.msgs[1].Headers[0].Value) != EventAppointmentCancelled {
		t.Errorf("unexpected event_type header %q", w.msgs[1].Headers[0].Value)
	}

	// после остановки события игнорируются
	if err := fwd.Handle(&Event{Type: EventAppointmentCreated}); err != nil {
		t.Errorf("Handle after stop: %v", err)
	}
}

func TestKafkaForwarderWriteFailureIsLogged(t *testing.T) {
	w := &fakeWriter{fail: true}
	fwd := NewKafkaForwarder(w, 1, nil)
	fwd.Start()

	if err := fwd.Handle(&Event{Type: EventAppointmentCreated, Key: "a"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	fwd.Stop()

	if len(w.msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(w.msgs))
	}
}

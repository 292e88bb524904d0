// Package events fans appointment changes out to in-process subscribers
// and, when configured, to Kafka.
package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const (
	EventAppointmentCreated       = "appointment_created"
	EventAppointmentRescheduled   = "appointment_rescheduled"
	EventAppointmentStatusChanged = "appointment_status_changed"
	EventAppointmentUpdated       = "appointment_updated"
	EventAppointmentCancelled     = "appointment_cancelled"
)

// AppointmentEventTypes lists every event type the booking flow emits.
var AppointmentEventTypes = []string{
	EventAppointmentCreated,
	EventAppointmentRescheduled,
	EventAppointmentStatusChanged,
	EventAppointmentUpdated,
	EventAppointmentCancelled,
}

// AppointmentEventPayload is the appointment snapshot sent to consumers.
type AppointmentEventPayload struct {
	AppointmentID  string    `json:"appointment_id"`
	ClientID       string    `json:"client_id"`
	StylistID      string    `json:"stylist_id"`
	ServiceID      string    `json:"service_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	ChangedBy      string    `json:"changed_by,omitempty"`
	ChangedByRole  string    `json:"changed_by_role,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for the given event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// Publish runs every handler of the event type synchronously and returns
// their joined errors. A failing handler does not stop the others.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event. Appointment
// payloads are keyed by appointment id.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}
	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	event := Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}
	switch p := payload.(type) {
	case AppointmentEventPayload:
		event.Key = p.AppointmentID
	case *AppointmentEventPayload:
		if p != nil {
			event.Key = p.AppointmentID
		}
	}
	return event, nil
}

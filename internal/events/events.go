package events

import (
	"encoding/json"
	"sync"
	"time"

	"salesync/internal/models"
)

const (
	EventSyncStatus   = "sync_status"
	EventSaleEnqueued = "sale_enqueued"
	EventSaleSynced   = "sale_synced"
)

// Event represents a lightweight in-process notification.
type Event struct {
	Type      string
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

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// PublishStatus emits a sync status notification for UI consumers.
func (b *EventBus) PublishStatus(statusType, message string, pending int) error {
	return b.PublishJSON(EventSyncStatus, models.StatusEvent{
		Type:    statusType,
		Message: message,
		Pending: pending,
		At:      time.Now().UTC(),
	})
}

// DecodeStatus extracts the StatusEvent carried by a sync_status event.
func DecodeStatus(event *Event) (models.StatusEvent, error) {
	var st models.StatusEvent
	err := json.Unmarshal(event.Payload, &st)
	return st, err
}

// StatusRecorder keeps the most recent status for polling clients.
type StatusRecorder struct {
	mu   sync.RWMutex
	last models.StatusEvent
	seen bool
}

// Attach subscribes the recorder to status events on bus.
func (r *StatusRecorder) Attach(bus *EventBus) {
	bus.Subscribe(EventSyncStatus, r.handle)
}

func (r *StatusRecorder) handle(event *Event) error {
	st, err := DecodeStatus(event)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.last = st
	r.seen = true
	r.mu.Unlock()
	return nil
}

// Last returns the latest status and whether any was recorded.
func (r *StatusRecorder) Last() (models.StatusEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.seen
}

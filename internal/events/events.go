package events

import (
	"context"
	"log"
	"sync"
	"time"

	"merchant-checkout-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventSessionCreated is emitted when a checkout session is created
	EventSessionCreated EventType = "session.created"
	// EventSessionUpdated is emitted when a checkout session is updated
	EventSessionUpdated EventType = "session.updated"
	// EventPaymentCompleted is emitted when a payment settles successfully
	EventPaymentCompleted EventType = "payment.completed"
	// EventPaymentFailed is emitted when payment processing ends in error or decline
	EventPaymentFailed EventType = "payment.failed"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// SessionCreatedData contains data for session created events.
type SessionCreatedData struct {
	Session models.CheckoutSession
}

// SessionUpdatedData contains data for session updated events.
type SessionUpdatedData struct {
	Session models.CheckoutSession
}

// PaymentCompletedData contains data for successful payment events.
type PaymentCompletedData struct {
	SessionID  string
	BuyerEmail string
	Amount     float64
	Currency   string
	PaymentID  string
}

// PaymentFailedData contains data for failed payment events.
type PaymentFailedData struct {
	SessionID string
	MandateID string
	Message   string
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Execute handlers asynchronously to avoid blocking. Handlers outlive
	// the publishing request, so its cancellation must not abort them.
	hctx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(hctx, event); err != nil {
				log.Printf("event handler for %s failed: %v", event.Type, err)
			}
		}(handler)
	}
}

// PublishSessionCreated publishes a session created event.
func (m *Manager) PublishSessionCreated(ctx context.Context, session models.CheckoutSession) {
	m.Publish(ctx, EventSessionCreated, SessionCreatedData{Session: session})
}

// PublishSessionUpdated publishes a session updated event.
func (m *Manager) PublishSessionUpdated(ctx context.Context, session models.CheckoutSession) {
	m.Publish(ctx, EventSessionUpdated, SessionUpdatedData{Session: session})
}

// PublishPaymentCompleted publishes a successful payment event.
func (m *Manager) PublishPaymentCompleted(ctx context.Context, data PaymentCompletedData) {
	m.Publish(ctx, EventPaymentCompleted, data)
}

// PublishPaymentFailed publishes a failed payment event.
func (m *Manager) PublishPaymentFailed(ctx context.Context, data PaymentFailedData) {
	m.Publish(ctx, EventPaymentFailed, data)
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}

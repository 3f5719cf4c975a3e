// Package events provides the fire-and-forget event sink used by dashboards.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	Condition     EventType = "condition"
	Market        EventType = "market"
	News          EventType = "news"
	Report        EventType = "report"
	ErrorOccurred EventType = "error"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Handler receives emitted events. Handlers run on the emitting goroutine and must not block.
type Handler func(*Event)

// Manager handles event emission, logging and fan-out to subscribers
type Manager struct {
	log      zerolog.Logger
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:      log.With().Str("service", "events").Logger(),
		handlers: make(map[int]Handler),
	}
}

// Emit publishes an event. Delivery is best effort.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		m.log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Event payload is not serializable")
	} else {
		m.log.Debug().
			Str("event_type", string(eventType)).
			Str("module", module).
			RawJSON("event", eventJSON).
			Msg("Event emitted")
	}

	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// EmitData publishes a typed payload
func (m *Manager) EmitData(module string, data EventData) {
	m.Emit(data.EventType(), module, ToMap(data))
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	m.Emit(ErrorOccurred, module, map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	})
}

// Subscribe registers a handler for all events and returns a function that removes it
func (m *Manager) Subscribe(h Handler) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = h
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

// SubscriberCount returns the number of active subscribers
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers)
}

package events

import (
	"sync"
	"time"
)

// EventType identifies a system event
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventProposalCreated EventType = "PROPOSAL_CREATED"
	EventProposalExpired EventType = "PROPOSAL_EXPIRED"
	EventPositionOpened  EventType = "POSITION_OPENED"
	EventPositionClosed  EventType = "POSITION_CLOSED"
	EventLevelTouched    EventType = "LEVEL_TOUCHED"
	EventTrendUpdated    EventType = "TREND_UPDATED"
	EventMonitorStarted  EventType = "MONITOR_STARTED"
	EventMonitorStopped  EventType = "MONITOR_STOPPED"
)

// Event is one published system event
type Event struct {
	Type      EventType `json:"type"`
	Symbol    string    `json:"symbol,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Subscriber handles events
type Subscriber func(Event)

// Bus fans events out to subscribers. Delivery is asynchronous so publishers
// never block on subscriber I/O.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for one event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish delivers an event to all matching subscribers, each on its own
// goroutine.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers[event.Type])+len(b.allSubs))
	subs = append(subs, b.subscribers[event.Type]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		go sub(event)
	}
}

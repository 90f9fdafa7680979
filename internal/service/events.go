package service

import (
	"sync"
	"time"
)

// EventType defines the type of event
type EventType string

const (
	EventTopologyInitialized      EventType = "topology_initialized"
	EventTopologyActivated        EventType = "topology_activated"
	EventTopologyDeactivated      EventType = "topology_deactivated"
	EventTopologyTransitionFailed EventType = "topology_transition_failed"
	EventTopologyReloaded         EventType = "topology_reloaded"
)

// Event represents an event that occurred in the system
type Event struct {
	Type    EventType   `json:"type"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Unsubscribe removes a subscriber. The channel is not closed.
func (eb *EventBus) Unsubscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers without blocking
func (eb *EventBus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

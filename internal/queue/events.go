package queue

import (
	"sync"

	"github.com/ahrdadan/seekr/internal/resolver"
)

// Event kinds
const (
	EventKindStatus  = "status"
	EventKindAttempt = "attempt"
)

// Event represents a job event. Status events carry job progress; attempt
// events carry one element lookup attempt as it happens.
type Event struct {
	JobID    string            `json:"job_id"`
	Kind     string            `json:"kind"`
	Status   JobStatus         `json:"status"`
	Progress int               `json:"progress,omitempty"`
	Message  string            `json:"message,omitempty"`
	Attempt  *resolver.Attempt `json:"attempt,omitempty"`
}

// EventHub manages event subscriptions
type EventHub struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe creates a subscription for job events
func (h *EventHub) Subscribe(jobID string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 32)
	h.subscribers[jobID] = append(h.subscribers[jobID], ch)
	return ch
}

// Unsubscribe removes a subscription
func (h *EventHub) Unsubscribe(jobID string, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			h.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(h.subscribers[jobID]) == 0 {
		delete(h.subscribers, jobID)
	}
}

// Emit sends an event to all subscribers of a job. Slow subscribers miss
// events rather than block the worker.
func (h *EventHub) Emit(jobID string, event Event) {
	if event.Kind == "" {
		event.Kind = EventKindStatus
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[jobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriptions
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for jobID, subs := range h.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subscribers, jobID)
	}
}

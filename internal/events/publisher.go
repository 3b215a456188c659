// Package events provides in-process publishing of renderer notifications.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/workbench/internal/models"
)

// EventHandler is a callback function invoked when an event matches a subscription.
type EventHandler func(event *models.Event)

// Filter defines criteria for matching events.
type Filter struct {
	// EventTypes filters by event type (nil = all types).
	EventTypes []models.EventType

	// RunID filters to a single model run (empty = all).
	RunID string
}

// Matches returns true if the event matches the filter criteria.
func (f *Filter) Matches(event *models.Event) bool {
	if event == nil {
		return false
	}

	if len(f.EventTypes) > 0 {
		matched := false
		for _, t := range f.EventTypes {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.RunID != "" && event.RunID != f.RunID {
		return false
	}

	return true
}

type subscription struct {
	filter  Filter
	handler EventHandler
}

// Publisher defines the interface for event publishing and subscription.
type Publisher interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event *models.Event)

	// Subscribe registers a handler to receive events matching the filter.
	Subscribe(id string, filter Filter, handler EventHandler) error

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(id string) error
}

// InMemoryPublisher implements Publisher using in-process pub/sub.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	chanSubs      map[string]*chanSubscriber
}

// NewInMemoryPublisher creates a new in-memory event publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
		chanSubs:      make(map[string]*chanSubscriber),
	}
}

// New builds an event with a fresh ID and the current time.
func New(eventType models.EventType, runID string, payload map[string]any) *models.Event {
	return &models.Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		RunID:     runID,
		Payload:   payload,
	}
}

// Publish sends an event to all matching subscribers. Handlers run on the
// caller's goroutine, outside the lock.
func (p *InMemoryPublisher) Publish(ctx context.Context, event *models.Event) {
	if event == nil {
		return
	}

	p.mu.RLock()
	var handlers []EventHandler
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe registers a handler to receive events matching the filter.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler EventHandler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}
	p.subscriptions[id] = &subscription{filter: filter, handler: handler}
	return nil
}

// SubscribeChan delivers matching events on a buffered channel. Events are
// dropped when the buffer is full so a slow reader never blocks publishers.
// The channel is closed by Unsubscribe or Close.
func (p *InMemoryPublisher) SubscribeChan(id string, filter Filter, buffer int) (<-chan *models.Event, error) {
	if id == "" {
		return nil, ErrInvalidSubscriptionID
	}
	if buffer <= 0 {
		buffer = 64
	}
	cs := &chanSubscriber{ch: make(chan *models.Event, buffer)}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; exists {
		return nil, ErrSubscriptionExists
	}
	p.subscriptions[id] = &subscription{filter: filter, handler: cs.send}
	p.chanSubs[id] = cs
	return cs.ch, nil
}

type chanSubscriber struct {
	mu     sync.Mutex
	ch     chan *models.Event
	closed bool
}

func (c *chanSubscriber) send(event *models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- event:
	default:
	}
}

func (c *chanSubscriber) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Unsubscribe removes a subscription by ID.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	if _, exists := p.subscriptions[id]; !exists {
		p.mu.Unlock()
		return ErrSubscriptionNotFound
	}
	delete(p.subscriptions, id)
	cs := p.chanSubs[id]
	delete(p.chanSubs, id)
	p.mu.Unlock()

	if cs != nil {
		cs.close()
	}
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// Close removes all subscriptions.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	subs := p.chanSubs
	p.subscriptions = make(map[string]*subscription)
	p.chanSubs = make(map[string]*chanSubscriber)
	p.mu.Unlock()

	for _, cs := range subs {
		cs.close()
	}
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from publisher operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}

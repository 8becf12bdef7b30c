package events

import (
	"sync"
	"time"

	"github.com/cuemby/warren-sched/pkg/types"
)

// EventType identifies the kind of lifecycle event a chain or its
// controller can emit.
type EventType string

const (
	EventChainStarted       EventType = "chain.started"
	EventChainFinished      EventType = "chain.finished"
	EventChainInterrupted   EventType = "chain.interrupted"
	EventTimetablePublished EventType = "chain.timetable_published"
	EventExchangeSucceeded  EventType = "chain.exchange_succeeded"
	EventExchangeFailed     EventType = "chain.exchange_failed"
)

// Event is a single occurrence published by a running chain.
type Event struct {
	ID        string
	Type      EventType
	ChainID   string
	Timestamp time.Time
	Timetable types.Timetable
	Message   string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans out published events to every current subscriber,
// mirroring original_source's observer-style timetable notification
// without the processor's dispatch loop itself depending on any
// listener being present.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker returns a Broker with its distribution loop not yet
// started; call Start before Publish.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker's distribution loop. Subscriber channels are
// left open; callers still holding one should Unsubscribe.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish queues event for broadcast. It does not block on any
// subscriber; a full subscriber buffer drops the event for that
// subscriber rather than stalling the publisher.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

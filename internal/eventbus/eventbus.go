// Package eventbus is the flat-topic publish/subscribe broadcaster shared
// by the engine, queue manager, and ingestion endpoint — grounded on the
// teacher's ProgressMonitor (a single listener-map broadcast loop),
// generalized from one fixed event type to arbitrary named topics.
package eventbus

import (
	"sync"

	"github.com/nshaw/qdm/internal/logger"
)

// Event is one published occurrence. Topic follows the "domain:verb"
// convention (e.g. "download:progress", "queue:updated").
type Event struct {
	Topic   string
	Payload interface{}
}

// Bus fans a published Event out to every subscriber of its topic.
// Subscribers that aren't keeping up have events dropped for them rather
// than blocking the publisher — matching the teacher's non-blocking
// broadcast send.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Event
	next int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[int]chan Event)}
}

// Subscription is a live subscription to one topic; call Close to stop
// receiving and release the channel.
type Subscription struct {
	C     <-chan Event
	topic string
	id    int
	bus   *Bus
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs, ok := s.bus.subs[s.topic]; ok {
		if ch, ok := subs[s.id]; ok {
			close(ch)
			delete(subs, s.id)
		}
	}
}

// Subscribe registers a buffered listener for topic. buffer sizes the
// channel; a slow subscriber drops events once it's full rather than
// stalling Publish.
func (b *Bus) Subscribe(topic string, buffer int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}

	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subs[topic][id] = ch

	return &Subscription{C: ch, topic: topic, id: id, bus: b}
}

// Publish broadcasts an event to every current subscriber of topic.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs, ok := b.subs[topic]
	if !ok {
		return
	}

	event := Event{Topic: topic, Payload: payload}
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			logger.Warnf("eventbus: dropping event on topic %s, subscriber not keeping up", topic)
		}
	}
}

// Close unregisters every subscriber of every topic.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subs = make(map[string]map[int]chan Event)
}

// Package eventbus is a bounded in-process broadcast: subscribers
// register for an event name and receive a copy of every event
// published under it, with configurable backpressure (spec §9 "Event
// emitter for notifications" — "an in-process broadcast with
// backpressure (drop-oldest or block, configurable)").
//
// Grounded on the teacher's internal/api.WSHub.Broadcast: a
// mutex-guarded client set, json-ish payloads, and a non-blocking send
// via select/default so one slow reader cannot stall a broadcast. The
// teacher's transport (nhooyr.io/websocket) is out of scope here (see
// DESIGN.md); this package stops at the in-process fan-out, one layer
// below where a websocket/SSE handler would sit.
package eventbus

import (
	"sync"
	"time"
)

// Event is one published occurrence. Progress reporting (spec §4.L)
// publishes under "job:progress"; other components publish under
// their own event names (e.g. "media:enriched", "publish:complete").
type Event struct {
	Name      string      `json:"event"`
	Data      interface{} `json:"data"`
	Published time.Time   `json:"published_at"`
}

// Backpressure selects what happens when a subscriber's channel is
// full.
type Backpressure int

const (
	// DropOldest discards the subscriber's oldest buffered event to
	// make room for the new one, favoring freshness over completeness.
	DropOldest Backpressure = iota
	// Block waits for the subscriber to drain, favoring completeness
	// over publisher latency. Use only for subscribers known to drain
	// promptly; a stuck one stalls every Publish call.
	Block
)

// DefaultBufferSize is the per-subscriber channel capacity when none
// is given to Subscribe.
const DefaultBufferSize = 64

// Bus is a named-topic in-process broadcaster. The zero value is not
// usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscription]struct{}
	backpressure Backpressure
}

type subscription struct {
	ch chan Event
}

// New returns a Bus using the given backpressure policy for every
// subscriber's channel.
func New(bp Backpressure) *Bus {
	return &Bus{
		subscribers:  make(map[string]map[*subscription]struct{}),
		backpressure: bp,
	}
}

// Subscription is returned by Subscribe; call Unsubscribe when done
// listening.
type Subscription struct {
	bus   *Bus
	name  string
	sub   *subscription
	C     <-chan Event
}

// Subscribe registers for every event published under name, returning
// a Subscription whose C channel delivers them. bufferSize overrides
// DefaultBufferSize if positive.
func (b *Bus) Subscribe(name string, bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	sub := &subscription{ch: make(chan Event, bufferSize)}

	b.mu.Lock()
	if b.subscribers[name] == nil {
		b.subscribers[name] = make(map[*subscription]struct{})
	}
	b.subscribers[name][sub] = struct{}{}
	b.mu.Unlock()

	return &Subscription{bus: b, name: name, sub: sub, C: sub.ch}
}

// Unsubscribe removes the subscription and closes its channel. Safe
// to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs, ok := s.bus.subscribers[s.name]; ok {
		if _, ok := subs[s.sub]; ok {
			delete(subs, s.sub)
			close(s.sub.ch)
		}
		if len(subs) == 0 {
			delete(s.bus.subscribers, s.name)
		}
	}
}

// Publish fans data out to every current subscriber of name. It never
// blocks under DropOldest; under Block it waits for the slowest
// subscriber.
func (b *Bus) Publish(name string, data interface{}) {
	evt := Event{Name: name, Data: data, Published: time.Now()}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscribers[name]))
	for sub := range b.subscribers[name] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, evt)
	}
}

func (b *Bus) deliver(sub *subscription, evt Event) {
	switch b.backpressure {
	case Block:
		sub.ch <- evt
	default: // DropOldest
		select {
		case sub.ch <- evt:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// SubscriberCount reports how many subscriptions are currently
// registered for name, for diagnostics and tests.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[name])
}

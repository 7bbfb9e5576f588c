package client

import (
	"sync"
	"time"
)

// EventType enumerates the monitor's cross-component signals. Typed events
// with explicit subscriber lifecycles replace a stringly-named global bus:
// a subscriber that forgets to unsubscribe is visible in code review, and a
// typo in an event name is a compile error.
type EventType int

const (
	// EventActive fires when the machine (re)enters ACTIVE, including the
	// initial Start and every recovery from WARNING.
	EventActive EventType = iota
	// EventWarning fires on entry to WARNING; Countdown carries the time
	// left before expiry.
	EventWarning
	// EventExpired fires once on entry to EXPIRED; Reason carries a
	// human-readable explanation for the login redirect.
	EventExpired
)

type Event struct {
	Type      EventType
	Reason    string
	Countdown time.Duration
}

// Bus is a minimal synchronous publish/subscribe fan-out. Publish order per
// subscriber matches event order; handlers run on the publisher's goroutine
// and must not block.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers a handler and returns its unsubscribe function.
func (b *Bus) Subscribe(handler func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, handler := range b.subs {
		handlers = append(handlers, handler)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

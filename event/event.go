// event/event.go

// Package event provides a one-shot wait/broadcast primitive for cooperating
// goroutines. An Event has no signalled state: Broadcast releases exactly the
// goroutines registered in Wait at that moment, and a Wait that registers later
// blocks until the next Broadcast.
//
// Each waiter parks on its own single-capacity rendezvous slot. Slots come from
// a per-event arena and are recycled once the woken waiter has received, so the
// steady-state Wait path does not allocate.
package event

import (
	"errors"
	"sync"
)

var (
	// ErrOutOfMemory is returned by Wait when the slot arena is exhausted.
	// No waiter is registered in that case.
	ErrOutOfMemory = errors.New("event: not enough memory")

	// ErrDestroyed is returned by operations on a destroyed Event.
	ErrDestroyed = errors.New("event: destroyed")
)

// Event is a reusable wait/broadcast object. The zero value is not usable; see New.
type Event struct {
	mu sync.Mutex

	// waiters is in registration order. A slot is removed by Broadcast or
	// Destroy, never by the waiter that owns it.
	waiters []slot
	free    []chan struct{}

	nextID    uint32
	limit     int // max outstanding slots, 0 = unbounded
	inUse     int // registered, or woken but not yet recycled
	destroyed bool
}

type slot struct {
	id uint32
	ch chan struct{}
}

// Option configures an Event.
type Option func(*Event)

// WithCapacity bounds the number of slots the event may hand out at once.
// A Wait beyond the bound fails with ErrOutOfMemory. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(e *Event) {
		if n > 0 {
			e.limit = n
			e.free = make([]chan struct{}, 0, n)
		}
	}
}

// New creates an Event with an empty waiter collection.
func New(opts ...Option) *Event {
	e := &Event{}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// Wait registers the caller and blocks until the next Broadcast.
// The event lock is released before blocking.
func (e *Event) Wait() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	ch, ok := e.takeLocked()
	if !ok {
		e.mu.Unlock()
		return ErrOutOfMemory
	}
	e.nextID++
	e.waiters = append(e.waiters, slot{id: e.nextID, ch: ch})
	e.mu.Unlock()

	<-ch

	e.recycle(ch)
	return nil
}

// Broadcast wakes every waiter registered at the time of the call, in
// registration order, and empties the waiter collection. With no waiters it is
// a no-op.
func (e *Event) Broadcast() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}
	for i := range e.waiters {
		// Capacity 1 and freshly drained, so the post never blocks.
		e.waiters[i].ch <- struct{}{}
		e.waiters[i] = slot{}
	}
	e.waiters = e.waiters[:0]
	return nil
}

// Destroy abandons every registered slot without waking it and retires the
// event. Callers must ensure no goroutine is, or will be, waiting. Calling
// Destroy more than once is harmless.
func (e *Event) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	e.destroyed = true
	e.waiters = nil
	e.free = nil
	e.inUse = 0
}

// Waiting returns the number of registered waiters.
func (e *Event) Waiting() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waiters)
}

// takeLocked hands out a slot from the free list, or a new one if the arena
// has room. e.mu must be held.
func (e *Event) takeLocked() (chan struct{}, bool) {
	if e.limit > 0 && e.inUse >= e.limit {
		return nil, false
	}
	e.inUse++
	if n := len(e.free); n > 0 {
		ch := e.free[n-1]
		e.free[n-1] = nil
		e.free = e.free[:n-1]
		return ch, true
	}
	return make(chan struct{}, 1), true
}

// recycle returns a drained slot to the free list.
func (e *Event) recycle(ch chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	e.inUse--
	e.free = append(e.free, ch)
}

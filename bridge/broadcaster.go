// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"slices"
	"sync"
)

// Broadcaster is an Emitter that engines embed or hold. Emit calls
// every listener registered at the time of the call, in registration
// order, on the caller's goroutine. Listeners may add or remove
// listeners from inside a callback; the change applies from the next
// Emit.
type Broadcaster struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []broadcastListener
}

type broadcastListener struct {
	id uint64
	fn func(Event)
}

var _ Emitter = (*Broadcaster)(nil)

// AddListener registers fn. The returned function removes it and is
// safe to call more than once.
func (b *Broadcaster) AddListener(fn func(Event)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, broadcastListener{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.listeners = slices.DeleteFunc(slices.Clone(b.listeners), func(l broadcastListener) bool {
			return l.id == id
		})
	}
}

// Emit delivers event to every current listener.
func (b *Broadcaster) Emit(event Event) {
	b.mu.Lock()
	snapshot := b.listeners
	b.mu.Unlock()
	for _, listener := range snapshot {
		listener.fn(event)
	}
}

// ListenerCount returns the number of registered listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

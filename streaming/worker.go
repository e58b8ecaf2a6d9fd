// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streaming

import "sync"

// worker runs queued functions one at a time, in enqueue order, on its
// own goroutine. The queue is unbounded so enqueue never blocks a
// caller that holds a listener's callback stack.
type worker struct {
	mu       sync.Mutex
	queue    []func()
	stopping bool
	notify   chan struct{}
	done     chan struct{}
}

func newWorker() *worker {
	w := &worker{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// enqueue appends fn to the queue. It returns false once stop has been
// called.
func (w *worker) enqueue(fn func()) bool {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, fn)
	w.mu.Unlock()
	w.signal()
	return true
}

func (w *worker) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *worker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			stopping := w.stopping
			w.mu.Unlock()
			if stopping {
				return
			}
			<-w.notify
			continue
		}
		fn := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()
		fn()
	}
}

// stop refuses further work, lets already-queued functions finish, and
// waits for the goroutine to exit.
func (w *worker) stop() {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
	w.signal()
	<-w.done
}

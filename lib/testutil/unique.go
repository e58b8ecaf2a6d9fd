// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N increasing across the test binary.
//
//	body := testutil.UniqueID("gm") // "gm-1", "gm-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// Collector buffers values handed to a callback and exposes them as a
// channel. Push never blocks; values beyond the buffer are kept in an
// overflow slice and can be read with All.
type Collector[T any] struct {
	C <-chan T

	channel chan T
	mu      sync.Mutex
	all     []T
}

// NewCollector returns a Collector whose channel buffers size values.
func NewCollector[T any](size int) *Collector[T] {
	channel := make(chan T, size)
	return &Collector[T]{C: channel, channel: channel}
}

// Push records value. Use it as, or inside, a listener callback.
func (c *Collector[T]) Push(value T) {
	c.mu.Lock()
	c.all = append(c.all, value)
	c.mu.Unlock()
	select {
	case c.channel <- value:
	default:
	}
}

// All returns every value pushed so far, in order.
func (c *Collector[T]) All() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.all...)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The reference engine stamps every message with sent and inserted
// nanosecond timestamps, and pagination cursors are exact comparisons
// on those values. Tests therefore need timestamps they can predict:
// [Fake] returns a clock that stands still until advanced, or that
// steps forward by a fixed amount on every read.
//
// The CLI's polling loop uses [Clock.NewTicker]; under a Fake clock the
// ticker fires only when Advance crosses its deadline.
package clock

import "time"

// Clock abstracts the time operations parley performs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTicker returns a Ticker that delivers ticks on C every d.
	// Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks. C has capacity 1; ticks are dropped
// when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/parley/bridge"
)

var shared struct {
	mu       sync.Mutex
	managers map[bridge.Streams]*Manager
}

// Shared returns the process-wide Manager for streams, creating it on
// first use. Every client built on the same engine instance shares it,
// so the engine's emitter carries exactly one manager listener.
// Closing the shared Manager detaches it; the next Shared call creates
// a fresh one.
func Shared(streams bridge.Streams) (*Manager, error) {
	if streams == nil {
		return nil, fmt.Errorf("streaming: Shared requires a bridge")
	}
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if m, ok := shared.managers[streams]; ok {
		return m, nil
	}
	if shared.managers == nil {
		shared.managers = make(map[bridge.Streams]*Manager)
	}
	m, err := NewManager(Config{Bridge: streams})
	if err != nil {
		return nil, err
	}
	m.onClose = func() {
		shared.mu.Lock()
		defer shared.mu.Unlock()
		if shared.managers[streams] == m {
			delete(shared.managers, streams)
		}
	}
	shared.managers[streams] = m
	return m, nil
}

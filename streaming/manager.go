// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/parley/bridge"
)

// ErrManagerClosed is returned by Subscribe after Close.
var ErrManagerClosed = errors.New("streaming: manager is closed")

// Scope identifies one logical stream. ConversationID is only part of
// the identity for bridge.StreamGroupMessages; it is cleared for every
// other kind.
type Scope struct {
	InstallationID string
	Kind           bridge.StreamKind
	ConversationID string
}

func (s Scope) normalize() Scope {
	if !s.Kind.Scoped() {
		s.ConversationID = ""
	}
	return s
}

func (s Scope) validate() error {
	if s.InstallationID == "" {
		return fmt.Errorf("streaming: scope has no installation")
	}
	if s.Kind == "" {
		return fmt.Errorf("streaming: scope has no stream kind")
	}
	if s.Kind.Scoped() && s.ConversationID == "" {
		return fmt.Errorf("streaming: %s scope requires a conversation", s.Kind)
	}
	return nil
}

func scopeOf(event bridge.Event) Scope {
	return Scope{
		InstallationID: event.InstallationID,
		Kind:           event.Kind,
		ConversationID: event.ConversationID,
	}.normalize()
}

// Listener receives a subscription's events. OnEvent runs on the
// emitter's goroutine. OnClose runs exactly once: with nil after
// Cancel, or with the engine's error when the native stream ends on
// its own. Either callback may be nil.
type Listener struct {
	OnEvent func(bridge.Event)
	OnClose func(error)
}

// Config configures a Manager.
type Config struct {
	// Bridge supplies the emitter and the native subscribe calls.
	Bridge bridge.Streams

	// Metrics is optional.
	Metrics *Metrics

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Manager fans one bridge emitter out to scoped listeners.
type Manager struct {
	bridge  bridge.Streams
	metrics *Metrics
	logger  *slog.Logger
	worker  *worker

	// detach removes the manager's emitter listener.
	detach func()

	mu     sync.Mutex
	scopes map[Scope]*scopeState
	closed bool

	closeOnce sync.Once
	onClose   func()
}

// scopeState is the set of listeners sharing one native stream.
type scopeState struct {
	scope     Scope
	listeners []*Subscription

	// ready is closed when the native subscribe call returns; err
	// holds its failure.
	ready chan struct{}
	err   error
}

// NewManager attaches a Manager to config.Bridge's emitter.
func NewManager(config Config) (*Manager, error) {
	if config.Bridge == nil {
		return nil, fmt.Errorf("streaming: Config.Bridge is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Manager{
		bridge:  config.Bridge,
		metrics: config.Metrics,
		logger:  logger,
		worker:  newWorker(),
		scopes:  make(map[Scope]*scopeState),
	}
	m.detach = config.Bridge.Emitter().AddListener(m.dispatch)
	return m, nil
}

// Subscribe registers listener for scope. The first listener of a
// scope starts the native stream and Subscribe waits for it; a failure
// is returned and the listener is not registered. Later listeners
// share the running stream.
func (m *Manager) Subscribe(ctx context.Context, scope Scope, listener Listener) (*Subscription, error) {
	scope = scope.normalize()
	if err := scope.validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	state, ok := m.scopes[scope]
	if !ok {
		state = &scopeState{scope: scope, ready: make(chan struct{})}
		m.scopes[scope] = state
		m.worker.enqueue(func() { m.startNative(state) })
	}
	subscription := &Subscription{manager: m, state: state, listener: listener}
	subscription.active.Store(true)
	state.listeners = append(state.listeners, subscription)
	m.mu.Unlock()
	m.metrics.listenerAdded(scope.Kind)

	select {
	case <-state.ready:
	case <-ctx.Done():
		subscription.close(nil, false)
		return nil, ctx.Err()
	}
	if state.err != nil {
		subscription.close(nil, false)
		return nil, fmt.Errorf("streaming: subscribing to %s for installation %s: %w",
			scope.Kind, scope.InstallationID, state.err)
	}
	return subscription, nil
}

// startNative runs on the worker.
func (m *Manager) startNative(state *scopeState) {
	scope := state.scope
	err := m.bridge.Subscribe(context.Background(), scope.InstallationID, scope.Kind, scope.ConversationID)
	m.metrics.nativeCall("subscribe", err)
	if err != nil {
		m.logger.Warn("native subscribe failed",
			"installation_id", scope.InstallationID,
			"stream_kind", string(scope.Kind),
			"conversation_id", scope.ConversationID,
			"error", err,
		)
		m.mu.Lock()
		if m.scopes[scope] == state {
			delete(m.scopes, scope)
		}
		m.mu.Unlock()
	}
	state.err = err
	close(state.ready)
}

// stopNative runs on the worker.
func (m *Manager) stopNative(scope Scope) {
	err := m.bridge.Unsubscribe(context.Background(), scope.InstallationID, scope.Kind, scope.ConversationID)
	m.metrics.nativeCall("unsubscribe", err)
	if err != nil {
		m.logger.Warn("native unsubscribe failed",
			"installation_id", scope.InstallationID,
			"stream_kind", string(scope.Kind),
			"conversation_id", scope.ConversationID,
			"error", err,
		)
	}
}

// dispatch is the manager's single emitter listener.
func (m *Manager) dispatch(event bridge.Event) {
	scope := scopeOf(event)

	m.mu.Lock()
	state := m.scopes[scope]
	var listeners []*Subscription
	if state != nil {
		listeners = slices.Clone(state.listeners)
		if event.Closed {
			// The engine already ended the stream; nothing to unsubscribe.
			delete(m.scopes, scope)
		}
	}
	m.mu.Unlock()

	if len(listeners) == 0 {
		m.metrics.eventDropped(event.Kind)
		return
	}

	if event.Closed {
		m.logger.Debug("native stream closed",
			"installation_id", scope.InstallationID,
			"stream_kind", string(scope.Kind),
			"conversation_id", scope.ConversationID,
			"error", event.Err,
		)
		for _, subscription := range listeners {
			subscription.close(event.Err, true)
		}
		return
	}

	for _, subscription := range listeners {
		// Cancel can land between this check and OnEvent; the event is
		// then in flight and still delivered.
		if !subscription.active.Load() {
			continue
		}
		if subscription.listener.OnEvent != nil {
			subscription.listener.OnEvent(event)
		}
		m.metrics.eventDelivered(event.Kind)
	}
}

// remove takes subscription out of its scope and queues the native
// unsubscribe when it was the last listener of a live scope.
func (m *Manager) remove(subscription *Subscription) {
	state := subscription.state
	m.mu.Lock()
	state.listeners = slices.DeleteFunc(state.listeners, func(s *Subscription) bool {
		return s == subscription
	})
	last := len(state.listeners) == 0 && m.scopes[state.scope] == state
	if last {
		delete(m.scopes, state.scope)
	}
	m.mu.Unlock()
	m.metrics.listenerRemoved(state.scope.Kind)

	if last {
		// A failed native subscribe leaves nothing to stop. The worker
		// has already closed ready by the time it runs this.
		m.worker.enqueue(func() {
			if state.err == nil {
				m.stopNative(state.scope)
			}
		})
	}
}

// ListenerCount returns the number of active listeners for scope.
func (m *Manager) ListenerCount(scope Scope) int {
	scope = scope.normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.scopes[scope]; ok {
		return len(state.listeners)
	}
	return 0
}

// CancelScope cancels every listener of scope.
func (m *Manager) CancelScope(scope Scope) {
	scope = scope.normalize()
	m.cancelMatching(func(candidate Scope) bool { return candidate == scope })
}

// CancelInstallation cancels every listener of every scope belonging
// to installationID.
func (m *Manager) CancelInstallation(installationID string) {
	m.cancelMatching(func(candidate Scope) bool { return candidate.InstallationID == installationID })
}

func (m *Manager) cancelMatching(match func(Scope) bool) {
	m.mu.Lock()
	var cancel []*Subscription
	for scope, state := range m.scopes {
		if match(scope) {
			cancel = append(cancel, state.listeners...)
		}
	}
	m.mu.Unlock()
	for _, subscription := range cancel {
		subscription.Cancel()
	}
}

// Close cancels every listener, stops the native streams the manager
// started, and detaches from the emitter. It waits for queued native
// calls to finish. Close is idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		m.cancelMatching(func(Scope) bool { return true })
		m.detach()
		m.worker.stop()
		if m.onClose != nil {
			m.onClose()
		}
	})
}

// Subscription is one listener registered with a Manager.
type Subscription struct {
	manager  *Manager
	state    *scopeState
	listener Listener
	active   atomic.Bool
}

// Scope returns the scope the subscription listens on.
func (s *Subscription) Scope() Scope { return s.state.scope }

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool { return s.active.Load() }

// Cancel stops delivery to this listener. Events dispatched after
// Cancel returns are not delivered. An OnEvent call that had already
// passed the active check on another goroutine still runs, so a
// listener can see at most one event per concurrent dispatch racing
// with Cancel. OnClose is called with nil the first time. Cancel may
// be called from inside the listener's own OnEvent, and does not wait
// for OnEvent calls in flight.
func (s *Subscription) Cancel() { s.close(nil, true) }

func (s *Subscription) close(err error, notify bool) {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.manager.remove(s)
	if notify && s.listener.OnClose != nil {
		s.listener.OnClose(err)
	}
}

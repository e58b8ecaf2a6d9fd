// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"fmt"

	"github.com/bureau-foundation/parley/bridge"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors a Manager updates. A nil
// *Metrics disables collection.
type Metrics struct {
	listeners   *prometheus.GaugeVec   // by kind
	delivered   *prometheus.CounterVec // by kind
	dropped     *prometheus.CounterVec // by kind
	nativeCalls *prometheus.CounterVec // by op and result
}

// NewMetrics creates the streaming collectors and registers them with
// registerer. Pass prometheus.DefaultRegisterer to expose them on the
// default handler.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		listeners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "streaming",
			Name:      "listeners",
			Help:      "Active stream listeners",
		}, []string{"kind"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "streaming",
			Name:      "events_delivered_total",
			Help:      "Events delivered to stream listeners",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "streaming",
			Name:      "events_dropped_total",
			Help:      "Events with no listener in their scope",
		}, []string{"kind"}),
		nativeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "streaming",
			Name:      "native_subscriptions_total",
			Help:      "Native subscribe and unsubscribe calls made to the engine",
		}, []string{"op", "result"}), // op: subscribe, unsubscribe; result: ok, error
	}

	for _, collector := range []prometheus.Collector{m.listeners, m.delivered, m.dropped, m.nativeCalls} {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("streaming: registering metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) listenerAdded(kind bridge.StreamKind) {
	if m != nil {
		m.listeners.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) listenerRemoved(kind bridge.StreamKind) {
	if m != nil {
		m.listeners.WithLabelValues(string(kind)).Dec()
	}
}

func (m *Metrics) eventDelivered(kind bridge.StreamKind) {
	if m != nil {
		m.delivered.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) eventDropped(kind bridge.StreamKind) {
	if m != nil {
		m.dropped.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) nativeCall(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.nativeCalls.WithLabelValues(op, result).Inc()
}

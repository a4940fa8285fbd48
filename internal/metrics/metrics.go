// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides the Prometheus collectors of the A2A server.
//
// All methods are safe to call on a nil [*Metrics], which records nothing.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-a2a/a2a-core"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	transitions         *prometheus.CounterVec
	requests            *prometheus.CounterVec
	pushDeliveries      *prometheus.CounterVec
	pushRetries         prometheus.Counter
	activeSubscriptions prometheus.Gauge
	droppedEvents       *prometheus.CounterVec
}

// New creates the collectors on a new registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "a2a_task_transitions_total", Help: "Number of committed task state transitions by target state"}, []string{"state"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "a2a_requests_total", Help: "Number of protocol requests by transport, method and error kind"}, []string{"transport", "method", "kind"}),
		pushDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "a2a_push_deliveries_total", Help: "Number of webhook deliveries by outcome"}, []string{"outcome"}),
		pushRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "a2a_push_retries_total", Help: "Number of webhook delivery retries"}),
		activeSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "a2a_active_subscriptions", Help: "Number of live task subscriptions"}),
		droppedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "a2a_stream_dropped_events_total", Help: "Number of stream events dropped by overflow policy"}, []string{"policy"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Publish counts committed status changes. It lets the metrics act as a task
// store sink.
func (m *Metrics) Publish(_ context.Context, ev a2a.TaskEvent) {
	if ev.Kind != a2a.EventKindStatus || ev.Snapshot {
		return
	}
	m.ObserveTransition(string(ev.State))
}

func (m *Metrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveRequest(transport, method, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	m.requests.WithLabelValues(transport, method, kind).Inc()
}

func (m *Metrics) ObservePushDelivery(outcome string) {
	if m == nil {
		return
	}
	m.pushDeliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePushRetry() {
	if m == nil {
		return
	}
	m.pushRetries.Inc()
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.activeSubscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.activeSubscriptions.Dec()
}

func (m *Metrics) ObserveDroppedEvent(policy string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(policy).Inc()
}

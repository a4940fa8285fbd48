// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/server/task"
)

// Option represents an option for configuring the [Dispatcher].
type Option func(*Dispatcher)

// WithLogger sets the [*slog.Logger] for the [Dispatcher].
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithTracer sets the [trace.Tracer] for the [Dispatcher].
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// WithExecutor sets the agent executor started for every new task.
func WithExecutor(e AgentExecutor) Option {
	return func(d *Dispatcher) {
		d.executor = e
	}
}

// WithContentNegotiator sets the negotiator applied to incoming messages.
func WithContentNegotiator(n ContentNegotiator) Option {
	return func(d *Dispatcher) {
		d.negotiator = n
	}
}

// WithPushConfigStore enables the push notification config operations.
func WithPushConfigStore(s task.PushConfigStore) Option {
	return func(d *Dispatcher) {
		d.pushConfigs = s
	}
}

// WithAgentCard sets the agent card served to clients.
func WithAgentCard(card a2a.AgentCard) Option {
	return func(d *Dispatcher) {
		d.card = card
	}
}

// WithInitialState sets the state new tasks are created in. It must be
// queued (the default) or running.
func WithInitialState(state a2a.TaskState) Option {
	return func(d *Dispatcher) {
		d.initialState = state
	}
}

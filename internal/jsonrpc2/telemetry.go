// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc2

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Telemetry records RPC metrics through an OpenTelemetry meter.
type Telemetry struct {
	started       metric.Int64Counter
	receivedBytes metric.Int64Histogram
	latency       metric.Float64Histogram
}

// NewTelemetry creates the instruments on m. A nil meter uses the global
// meter provider. Instruments that cannot be created fall back to no-ops.
func NewTelemetry(m metric.Meter) *Telemetry {
	if m == nil {
		m = otel.GetMeterProvider().Meter("github.com/go-a2a/a2a-core/internal/jsonrpc2")
	}
	t := &Telemetry{}

	var err error
	t.started, err = m.Int64Counter("jsonrpc.started",
		metric.WithDescription("Count of started RPCs"),
	)
	if err != nil {
		otel.Handle(err)
		t.started = noop.Int64Counter{}
	}

	t.receivedBytes, err = m.Int64Histogram("jsonrpc.received_bytes",
		metric.WithDescription("Size of received requests"),
		metric.WithUnit("By"),
	)
	if err != nil {
		otel.Handle(err)
		t.receivedBytes = noop.Int64Histogram{}
	}

	t.latency, err = m.Float64Histogram("jsonrpc.latency",
		metric.WithDescription("Latency of RPCs"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		otel.Handle(err)
		t.latency = noop.Float64Histogram{}
	}

	return t
}

// Received records the size of an incoming request body.
func (t *Telemetry) Received(ctx context.Context, n int) {
	t.receivedBytes.Record(ctx, int64(n))
}

// Start records the start of an RPC. The returned function records its
// latency and final status code.
func (t *Telemetry) Start(ctx context.Context, method string) func(code int64) {
	t.started.Add(ctx, 1, metric.WithAttributes(attribute.String("rpc.method", method)))
	start := time.Now()
	return func(code int64) {
		elapsed := float64(time.Since(start)) / float64(time.Millisecond)
		t.latency.Record(ctx, elapsed, metric.WithAttributes(
			attribute.String("rpc.method", method),
			attribute.String("rpc.jsonrpc.status_code", strconv.FormatInt(code, 10)),
		))
	}
}

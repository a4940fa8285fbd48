// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package handler adapts the transport-agnostic [server.Dispatcher] to the
// JSON-RPC, REST and gRPC transports.
//
// Every adapter decodes a request, validates its shape, calls the dispatcher
// and encodes the result. Failures are translated through one shared table,
// so a client can recover the logical error kind on any transport.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/auth"
	"github.com/go-a2a/a2a-core/internal/jsonrpc2"
	"github.com/go-a2a/a2a-core/internal/metrics"
	"github.com/go-a2a/a2a-core/server"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 4 << 20

// Transport names used in logs, metrics and call contexts.
const (
	TransportJSONRPC = "jsonrpc"
	TransportREST    = "rest"
	TransportGRPC    = "grpc"
)

// config is shared by the adapters.
type config struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	telemetry     *jsonrpc2.Telemetry
	authenticator auth.Authenticator
	limiter       *rate.Limiter
	maxBodyBytes  int64
}

// Option configures an adapter.
type Option func(*config)

// WithLogger sets the [*slog.Logger] of the adapter.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithTelemetry sets the OpenTelemetry RPC instruments of the JSON-RPC
// adapter.
func WithTelemetry(t *jsonrpc2.Telemetry) Option {
	return func(c *config) {
		c.telemetry = t
	}
}

// WithAuthenticator requires every request to carry a bearer token accepted
// by a.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *config) {
		c.authenticator = a
	}
}

// WithRateLimit admits at most r requests per second with the given burst.
// Requests over the limit fail with RateLimited.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *config) {
		if r > 0 {
			c.limiter = rate.NewLimiter(r, burst)
		}
	}
}

// WithMaxBodyBytes bounds the size of request bodies. Larger bodies fail
// with PayloadTooLarge.
func WithMaxBodyBytes(n int64) Option {
	return func(c *config) {
		c.maxBodyBytes = n
	}
}

func newConfig(opts []Option) config {
	c := config{
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.telemetry == nil {
		c.telemetry = jsonrpc2.NewTelemetry(nil)
	}
	return c
}

// admit applies rate limiting and authentication. It returns the caller on
// success.
func (c *config) admit(ctx context.Context, token string) (auth.User, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, a2a.NewError(a2a.KindRateLimited, "request rate limit exceeded")
	}
	if c.authenticator == nil {
		return auth.UnauthenticatedUser{}, nil
	}
	return c.authenticator.Authenticate(ctx, token)
}

// errorWriter writes err in the error format of a transport.
type errorWriter func(w http.ResponseWriter, r *http.Request, err error)

// guard wraps next with rate limiting, authentication and the body size
// limit, and stores the resolved caller on the request context.
func (c *config) guard(transport string, next http.Handler, writeErr errorWriter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := c.admit(r.Context(), auth.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			c.metrics.ObserveRequest(transport, r.URL.Path, string(a2a.KindOf(err)))
			writeErr(w, r, err)
			return
		}
		if c.maxBodyBytes > 0 {
			if r.ContentLength > c.maxBodyBytes {
				writeErr(w, r, payloadTooLarge(c.maxBodyBytes))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, c.maxBodyBytes)
		}

		ctx := auth.WithUser(r.Context(), user)
		ctx = server.WithCallContext(ctx, server.NewServerCallContext(user, transport))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func payloadTooLarge(limit int64) error {
	return a2a.Errorf(a2a.KindPayloadTooLarge, "request body exceeds %d bytes", limit)
}

// checkContentType requires a JSON request body.
func checkContentType(r *http.Request) error {
	ct := r.Header.Get("Content-Type")
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil || mt != "application/json" {
		return a2a.Errorf(a2a.KindUnsupportedContentType, "content type %q is not supported, use application/json", ct)
	}
	return nil
}

// readBody reads the request body within the configured limit.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, payloadTooLarge(tooLarge.Limit)
		}
		return nil, &a2a.Error{Kind: a2a.KindInvalidRequest, Message: "reading request body", Err: err}
	}
	return body, nil
}

// logError logs failures that are not caused by the caller.
func (c *config) logError(ctx context.Context, transport, method string, err error) {
	if a2a.KindOf(err) != a2a.KindInternal {
		return
	}
	c.logger.ErrorContext(ctx, "request failed", "transport", transport, "method", method, "error", err)
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/go-a2a/a2a-core/auth"
)

// ServerCallContext carries per-call information resolved by a transport
// adapter: the authenticated user, the transport name and free-form state.
// It is safe for concurrent use.
type ServerCallContext struct {
	user      auth.User
	transport string

	mu    sync.RWMutex
	state map[string]any
}

// NewServerCallContext creates a call context for user arriving over
// transport. A nil user is replaced with [auth.UnauthenticatedUser].
func NewServerCallContext(user auth.User, transport string) *ServerCallContext {
	if user == nil {
		user = auth.UnauthenticatedUser{}
	}
	return &ServerCallContext{
		user:      user,
		transport: transport,
		state:     make(map[string]any),
	}
}

// User returns the caller.
func (scc *ServerCallContext) User() auth.User { return scc.user }

// Transport returns the name of the transport the call arrived on.
func (scc *ServerCallContext) Transport() string { return scc.transport }

// State returns a copy of the call state.
func (scc *ServerCallContext) State() map[string]any {
	scc.mu.RLock()
	defer scc.mu.RUnlock()
	return maps.Clone(scc.state)
}

// SetState sets a value in the call state.
func (scc *ServerCallContext) SetState(key string, value any) {
	scc.mu.Lock()
	defer scc.mu.Unlock()
	scc.state[key] = value
}

// GetState retrieves a value from the call state.
func (scc *ServerCallContext) GetState(key string) (any, bool) {
	scc.mu.RLock()
	defer scc.mu.RUnlock()
	value, ok := scc.state[key]
	return value, ok
}

// String returns a representation of the call context for debugging.
func (scc *ServerCallContext) String() string {
	scc.mu.RLock()
	defer scc.mu.RUnlock()
	return fmt.Sprintf("ServerCallContext{user: %q, authenticated: %t, transport: %s, state_keys: %d}",
		scc.user.UserName(), scc.user.IsAuthenticated(), scc.transport, len(scc.state))
}

type callContextKey struct{}

// WithCallContext returns a copy of ctx carrying scc.
func WithCallContext(ctx context.Context, scc *ServerCallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, scc)
}

// CallContextFrom returns the call context stored in ctx. When there is none
// it builds one from the user on ctx.
func CallContextFrom(ctx context.Context) *ServerCallContext {
	if scc, ok := ctx.Value(callContextKey{}).(*ServerCallContext); ok {
		return scc
	}
	return NewServerCallContext(auth.UserFromContext(ctx), "")
}

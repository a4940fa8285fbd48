// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth resolves the identity of A2A callers.
//
// The task core trusts the identity placed on the request context by this
// package and never re-checks credentials itself.
package auth

import (
	"context"
	"slices"
)

// User represents an authenticated or unauthenticated caller.
type User interface {
	// IsAuthenticated returns true if the user is authenticated, false otherwise.
	IsAuthenticated() bool

	// UserName returns the username of the user. For unauthenticated users,
	// this returns an empty string.
	UserName() string
}

// UnauthenticatedUser is the anonymous caller. The zero value is ready to use.
type UnauthenticatedUser struct{}

// IsAuthenticated always returns false for unauthenticated users.
func (UnauthenticatedUser) IsAuthenticated() bool { return false }

// UserName always returns an empty string for unauthenticated users.
func (UnauthenticatedUser) UserName() string { return "" }

// AuthenticatedUser is a caller whose credentials were verified.
type AuthenticatedUser struct {
	Name   string
	Scopes []string
}

// IsAuthenticated implements [User].
func (u *AuthenticatedUser) IsAuthenticated() bool { return true }

// UserName implements [User].
func (u *AuthenticatedUser) UserName() string { return u.Name }

// HasScope reports whether the user was granted scope.
func (u *AuthenticatedUser) HasScope(scope string) bool {
	return slices.Contains(u.Scopes, scope)
}

type userKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored in ctx, or [UnauthenticatedUser].
func UserFromContext(ctx context.Context) User {
	if u, ok := ctx.Value(userKey{}).(User); ok && u != nil {
		return u
	}
	return UnauthenticatedUser{}
}

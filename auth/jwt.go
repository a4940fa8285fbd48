// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/go-a2a/a2a-core"
)

// Authenticator verifies a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (User, error)
}

// JWTAuthenticator verifies HS256 signed JWT bearer tokens.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	skew   time.Duration
}

var _ Authenticator = (*JWTAuthenticator)(nil)

// NewJWTAuthenticator returns an authenticator for tokens signed with secret.
// When issuer is not empty the iss claim must match it.
func NewJWTAuthenticator(secret []byte, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret: secret,
		issuer: issuer,
		skew:   30 * time.Second,
	}
}

// Authenticate implements [Authenticator]. The sub claim becomes the user
// name and the space separated scope claim the user's scopes.
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (User, error) {
	if token == "" {
		return nil, a2a.NewError(a2a.KindAuthRequired, "bearer token is required")
	}

	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256(), a.secret),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(a.skew),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	tok, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, &a2a.Error{Kind: a2a.KindAuthFailed, Message: "invalid bearer token", Err: err}
	}

	sub, ok := tok.Subject()
	if !ok || sub == "" {
		return nil, a2a.NewError(a2a.KindAuthFailed, "token has no subject")
	}
	user := &AuthenticatedUser{Name: sub}
	var scope string
	if err := tok.Get("scope", &scope); err == nil {
		user.Scopes = strings.Fields(scope)
	}
	return user, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/go-a2a/a2a-core"
)

// ContentNegotiator validates and normalizes the parts of incoming messages
// before a task is created from them.
type ContentNegotiator interface {
	Negotiate(ctx context.Context, msgs []a2a.Message) ([]a2a.Message, error)
}

// MIMEAllowlist accepts parts whose media type matches one of its entries.
// An entry may be a full type ("application/pdf") or a wildcard subtype
// ("image/*").
type MIMEAllowlist struct {
	allowed []string
}

var _ ContentNegotiator = (*MIMEAllowlist)(nil)

// NewMIMEAllowlist returns an allowlist of the given media types.
func NewMIMEAllowlist(types ...string) *MIMEAllowlist {
	l := &MIMEAllowlist{}
	for _, t := range types {
		l.allowed = append(l.allowed, strings.ToLower(strings.TrimSpace(t)))
	}
	return l
}

// Negotiate implements [ContentNegotiator]. It lowercases declared media
// types and strips their parameters.
func (l *MIMEAllowlist) Negotiate(_ context.Context, msgs []a2a.Message) ([]a2a.Message, error) {
	out := make([]a2a.Message, len(msgs))
	for i, m := range msgs {
		m = m.Clone()
		for j := range m.Parts {
			p := &m.Parts[j]
			declared := p.MIME()
			if declared == "" {
				declared = "application/octet-stream"
			}
			mt, _, err := mime.ParseMediaType(declared)
			if err != nil {
				return nil, &a2a.Error{
					Kind:    a2a.KindUnsupportedContentType,
					Message: fmt.Sprintf("messages[%d]: parts[%d]: malformed media type %q", i, j, declared),
					Err:     err,
				}
			}
			if !l.allows(mt) {
				return nil, a2a.Errorf(a2a.KindUnsupportedContentType,
					"messages[%d]: parts[%d]: media type %s is not accepted", i, j, mt)
			}
			if p.Kind == a2a.PartKindFile {
				p.File.MIMEType = mt
			} else if p.MIMEType != "" {
				p.MIMEType = mt
			}
		}
		out[i] = m
	}
	return out, nil
}

func (l *MIMEAllowlist) allows(mt string) bool {
	for _, a := range l.allowed {
		if a == mt || a == "*/*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(a, "/*"); ok && strings.HasPrefix(mt, prefix+"/") {
			return true
		}
	}
	return false
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"testing"

	"github.com/go-a2a/a2a-core"
)

func TestMIMEAllowlist(t *testing.T) {
	l := NewMIMEAllowlist("text/*", "application/json", "application/pdf")

	tests := map[string]struct {
		part     a2a.Part
		want     a2a.ErrorKind
		wantMIME string
	}{
		"plain text": {
			part:    a2a.NewTextPart("hi"),
			wantMIME: "text/plain",
		},
		"data": {
			part:    a2a.NewDataPart(map[string]any{"k": 1}, ""),
			wantMIME: "application/json",
		},
		"pdf with parameters": {
			part:    a2a.NewFileURIPart("a.pdf", "Application/PDF; charset=binary", "https://example.com/a.pdf", nil),
			wantMIME: "application/pdf",
		},
		"image": {
			part: a2a.NewFileBytesPart("a.png", "image/png", []byte{1}),
			want: a2a.KindUnsupportedContentType,
		},
		"file without type": {
			part: a2a.NewFileBytesPart("blob", "", []byte{1}),
			want: a2a.KindUnsupportedContentType,
		},
		"malformed": {
			part: a2a.NewFileBytesPart("blob", "not a type", []byte{1}),
			want: a2a.KindUnsupportedContentType,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			in := []a2a.Message{{Role: a2a.RoleUser, Parts: []a2a.Part{tt.part}}}
			out, err := l.Negotiate(t.Context(), in)
			if got := a2a.KindOf(err); got != tt.want {
				t.Fatalf("Negotiate() kind = %q, want %q (err = %v)", got, tt.want, err)
			}
			if err != nil {
				return
			}
			if got := out[0].Parts[0].MIME(); got != tt.wantMIME {
				t.Errorf("MIME() = %q, want %q", got, tt.wantMIME)
			}
		})
	}
}

func TestMIMEAllowlist_Wildcard(t *testing.T) {
	l := NewMIMEAllowlist("*/*")
	in := []a2a.Message{{Role: a2a.RoleUser, Parts: []a2a.Part{a2a.NewFileBytesPart("a.png", "image/png", []byte{1})}}}
	if _, err := l.Negotiate(t.Context(), in); err != nil {
		t.Errorf("Negotiate() error = %v", err)
	}
}

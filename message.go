// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Role identifies the sender of a [Message].
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// PartKind is the discriminator of a [Part].
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// Part is a tagged content unit inside a [Message] or an [Artifact].
//
// Exactly one variant is active, selected by Kind:
//   - text: Text and an optional MIMEType
//   - file: File, holding either inline bytes or a URI
//   - data: Data and an optional Schema reference
type Part struct {
	Kind     PartKind       `json:"type"`
	Text     string         `json:"text,omitempty"`
	MIMEType string         `json:"mimeType,omitempty"`
	File     *FileContent   `json:"file,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Schema   string         `json:"schema,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FileContent is the payload of a file [Part].
type FileContent struct {
	Name     string            `json:"name,omitempty"`
	MIMEType string            `json:"mimeType,omitempty"`
	Bytes    []byte            `json:"bytes,omitempty"`
	URI      string            `json:"uri,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// NewTextPart returns a text [Part].
func NewTextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// NewFileBytesPart returns a file [Part] carrying inline bytes.
func NewFileBytesPart(name, mimeType string, b []byte) Part {
	return Part{Kind: PartKindFile, File: &FileContent{Name: name, MIMEType: mimeType, Bytes: b}}
}

// NewFileURIPart returns a file [Part] referencing a URI.
func NewFileURIPart(name, mimeType, uri string, headers map[string]string) Part {
	return Part{Kind: PartKindFile, File: &FileContent{Name: name, MIMEType: mimeType, URI: uri, Headers: headers}}
}

// NewDataPart returns a structured data [Part].
func NewDataPart(data map[string]any, schema string) Part {
	return Part{Kind: PartKindData, Data: data, Schema: schema}
}

// Validate checks that exactly one variant of the part is populated.
func (p Part) Validate() error {
	switch p.Kind {
	case PartKindText:
		if p.File != nil || p.Data != nil {
			return NewInvalidMessageFormatError("text part must not carry file or data content")
		}
	case PartKindFile:
		if p.File == nil {
			return NewInvalidMessageFormatError("file part is missing file content")
		}
		if p.Text != "" || p.Data != nil {
			return NewInvalidMessageFormatError("file part must not carry text or data content")
		}
		hasBytes, hasURI := len(p.File.Bytes) > 0, p.File.URI != ""
		switch {
		case hasBytes && hasURI:
			return NewInvalidMessageFormatError("file part must have either bytes or uri, not both")
		case !hasBytes && !hasURI:
			return NewInvalidMessageFormatError("file part must have either bytes or uri")
		}
		if hasBytes && len(p.File.Headers) > 0 {
			return NewInvalidMessageFormatError("file part headers are only valid with a uri")
		}
	case PartKindData:
		if p.Data == nil {
			return NewInvalidMessageFormatError("data part is missing data")
		}
		if p.Text != "" || p.File != nil {
			return NewInvalidMessageFormatError("data part must not carry text or file content")
		}
	case "":
		return NewInvalidMessageFormatError("part type is required")
	default:
		return NewInvalidMessageFormatError(fmt.Sprintf("unknown part type %q", p.Kind))
	}
	return nil
}

// MIME returns the declared MIME type of the part, if any.
func (p Part) MIME() string {
	if p.Kind == PartKindFile && p.File != nil {
		return p.File.MIMEType
	}
	if p.Kind == PartKindData && p.MIMEType == "" {
		return "application/json"
	}
	if p.Kind == PartKindText && p.MIMEType == "" {
		return "text/plain"
	}
	return p.MIMEType
}

func (p Part) clone() Part {
	out := p
	if p.File != nil {
		f := *p.File
		f.Bytes = slices.Clone(p.File.Bytes)
		f.Headers = maps.Clone(p.File.Headers)
		out.File = &f
	}
	out.Data = maps.Clone(p.Data)
	out.Metadata = maps.Clone(p.Metadata)
	return out
}

func validateParts(parts []Part) error {
	if len(parts) == 0 {
		return NewInvalidMessageFormatError("parts must not be empty")
	}
	for i, p := range parts {
		if err := p.Validate(); err != nil {
			e := err.(*Error)
			e.Message = fmt.Sprintf("parts[%d]: %s", i, e.Message)
			return e
		}
	}
	return nil
}

func cloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = p.clone()
	}
	return out
}

// Message is one communication turn between a user and an agent.
type Message struct {
	MessageID string         `json:"messageId,omitempty"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	Timestamp time.Time      `json:"timestamp,omitzero"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds and validates a [Message].
func NewMessage(role Role, parts ...Part) (Message, error) {
	m := Message{Role: role, Parts: parts, Timestamp: time.Now().UTC()}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the role and parts of the message.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAgent:
	case "":
		return NewInvalidMessageFormatError("message role is required")
	default:
		return NewInvalidMessageFormatError(fmt.Sprintf("unknown message role %q", m.Role))
	}
	return validateParts(m.Parts)
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	out.Parts = cloneParts(m.Parts)
	out.Metadata = maps.Clone(m.Metadata)
	return out
}

// ValidateMessages checks a batch of input messages.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return NewInvalidMessageFormatError("at least one message is required")
	}
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			e := err.(*Error)
			e.Message = fmt.Sprintf("messages[%d]: %s", i, e.Message)
			return e
		}
	}
	return nil
}

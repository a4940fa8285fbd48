// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"maps"
	"time"
)

// Task is the unit of asynchronous agent work.
//
// State only changes through a validated transition in the task store.
// Error is set only while State is failed or rejected.
type Task struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId,omitempty"`
	State     TaskState      `json:"state"`
	Messages  []Message      `json:"messages,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Error     *TaskError     `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`

	// Version increases by one on every committed mutation.
	Version uint64 `json:"version"`
}

// TaskError describes why a task failed or was rejected.
type TaskError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Error implements error.
func (e *TaskError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.Messages != nil {
		out.Messages = make([]Message, len(t.Messages))
		for i, m := range t.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	if t.Artifacts != nil {
		out.Artifacts = make([]Artifact, len(t.Artifacts))
		for i, a := range t.Artifacts {
			out.Artifacts[i] = a.Clone()
		}
	}
	if t.Error != nil {
		e := *t.Error
		out.Error = &e
	}
	out.Metadata = maps.Clone(t.Metadata)
	return &out
}

// Artifact returns the artifact with the given ID.
func (t *Task) Artifact(id string) (Artifact, bool) {
	for _, a := range t.Artifacts {
		if a.ArtifactID == id {
			return a, true
		}
	}
	return Artifact{}, false
}

// ListFilter selects tasks for listing.
type ListFilter struct {
	SessionID string    `json:"sessionId,omitempty"`
	State     TaskState `json:"state,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`

	// TerminalOnly and UpdatedBefore are used by retention sweeps.
	TerminalOnly  bool      `json:"-"`
	UpdatedBefore time.Time `json:"-"`
}

// DefaultListLimit is applied when a [ListFilter] has no limit.
const DefaultListLimit = 50

// MaxListLimit bounds [ListFilter.Limit].
const MaxListLimit = 1000

// Normalize clamps Limit and Offset into range.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Validate checks the filter fields.
func (f ListFilter) Validate() error {
	if f.State != "" && !f.State.Valid() {
		return NewInvalidRequestError("unknown state filter " + string(f.State))
	}
	if f.Limit < 0 || f.Offset < 0 {
		return NewInvalidRequestError("limit and offset must not be negative")
	}
	return nil
}

// Match reports whether t satisfies the filter. Paging is not applied.
func (f ListFilter) Match(t *Task) bool {
	if f.SessionID != "" && t.SessionID != f.SessionID {
		return false
	}
	if f.State != "" && t.State != f.State {
		return false
	}
	if f.TerminalOnly && !t.State.IsTerminal() {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !t.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

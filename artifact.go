// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"maps"
	"time"
)

// Artifact is an output produced by an agent for a task.
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	CreatedAt   time.Time      `json:"createdAt,omitzero"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewArtifact returns an [Artifact] with the given parts. The ID is assigned
// by the task store if left empty.
func NewArtifact(parts ...Part) Artifact {
	return Artifact{Parts: parts}
}

// Validate checks that the artifact carries at least one valid part.
func (a Artifact) Validate() error {
	return validateParts(a.Parts)
}

// Clone returns a deep copy of a.
func (a Artifact) Clone() Artifact {
	out := a
	out.Parts = cloneParts(a.Parts)
	out.Metadata = maps.Clone(a.Metadata)
	return out
}

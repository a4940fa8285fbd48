// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"time"

	"github.com/go-a2a/a2a-core"
)

// PayloadType is the discriminator of a webhook [Payload].
type PayloadType string

const (
	TypeTaskStatusUpdate   PayloadType = "taskStatusUpdate"
	TypeTaskArtifactUpdate PayloadType = "taskArtifactUpdate"
	TypeTaskError          PayloadType = "taskError"
)

// Payload is the JSON body POSTed to a webhook.
type Payload struct {
	Type      PayloadType    `json:"type"`
	Task      *a2a.Task      `json:"task,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Artifact  *a2a.Artifact  `json:"artifact,omitempty"`
	Error     *a2a.TaskError `json:"error,omitempty"`
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewPayload converts a task event into a webhook payload and reports which
// event category it belongs to. Heartbeats have no payload.
func NewPayload(ev a2a.TaskEvent) (Payload, a2a.PushEvent, bool) {
	p := Payload{
		TaskID:    ev.TaskID,
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}

	switch ev.Kind {
	case a2a.EventKindStatus:
		p.Task = ev.Task
		if ev.State.CarriesError() {
			p.Type = TypeTaskError
			if ev.Task != nil {
				p.Error = ev.Task.Error
			}
			return p, a2a.PushEventError, true
		}
		p.Type = TypeTaskStatusUpdate
		return p, a2a.PushEventStatus, true
	case a2a.EventKindArtifact:
		p.Type = TypeTaskArtifactUpdate
		p.Artifact = ev.Artifact
		return p, a2a.PushEventArtifact, true
	}
	return Payload{}, "", false
}

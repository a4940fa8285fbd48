// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import "time"

// EventKind distinguishes the kinds of [TaskEvent].
type EventKind string

const (
	// EventKindStatus reports a committed task state change. It is also used for
	// the synthetic snapshot delivered at the start of a stream.
	EventKindStatus EventKind = "status-update"
	// EventKindArtifact reports an artifact appended to a task.
	EventKindArtifact EventKind = "artifact-update"
	// EventKindHeartbeat keeps a stream alive and carries no task data.
	EventKindHeartbeat EventKind = "heartbeat"
)

// TaskEvent is a single entry of a task's update stream.
type TaskEvent struct {
	Kind      EventKind `json:"kind"`
	TaskID    string    `json:"taskId,omitempty"`
	Seq       uint64    `json:"seq,omitempty"`
	State     TaskState `json:"state,omitempty"`
	Task      *Task     `json:"task,omitempty"`
	Artifact  *Artifact `json:"artifact,omitempty"`
	Final     bool      `json:"final,omitempty"`
	Snapshot  bool      `json:"snapshot,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatusEvent returns a status-update event for the committed task t.
func NewStatusEvent(t *Task) TaskEvent {
	return TaskEvent{
		Kind:      EventKindStatus,
		TaskID:    t.ID,
		Seq:       t.Version,
		State:     t.State,
		Task:      t.Clone(),
		Final:     t.State.IsTerminal(),
		Timestamp: t.UpdatedAt,
	}
}

// NewArtifactEvent returns an artifact-update event for artifact a of the
// committed task t.
func NewArtifactEvent(t *Task, a Artifact) TaskEvent {
	ac := a.Clone()
	return TaskEvent{
		Kind:      EventKindArtifact,
		TaskID:    t.ID,
		Seq:       t.Version,
		State:     t.State,
		Artifact:  &ac,
		Timestamp: t.UpdatedAt,
	}
}

// NewSnapshotEvent returns the synthetic current-state event sent first on a
// new or resumed stream.
func NewSnapshotEvent(t *Task) TaskEvent {
	ev := NewStatusEvent(t)
	ev.Snapshot = true
	return ev
}

// NewHeartbeatEvent returns a heartbeat for the given task stream.
func NewHeartbeatEvent(taskID string, now time.Time) TaskEvent {
	return TaskEvent{Kind: EventKindHeartbeat, TaskID: taskID, Timestamp: now}
}

// IsHeartbeat reports whether e is a heartbeat.
func (e TaskEvent) IsHeartbeat() bool { return e.Kind == EventKindHeartbeat }

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package task provides storage for A2A tasks and their push notification
// configurations.
//
// Every [Store] implementation funnels state changes through
// CompareAndTransition, which guarantees that at most one of several
// concurrent callers targeting the same task wins.
package task

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/go-a2a/a2a-core"
)

// Mutator edits a copy of a task inside a compare-and-transition. Changes to
// ID, SessionID, State, Version and CreatedAt are discarded.
type Mutator func(t *a2a.Task) error

// Store is durable keyed storage for tasks.
type Store interface {
	// Create stores a new task in the queued or running state and returns it
	// with a freshly generated ID.
	Create(ctx context.Context, task *a2a.Task) (*a2a.Task, error)

	// Get returns the task or an error of kind TaskNotFound.
	Get(ctx context.Context, taskID string) (*a2a.Task, error)

	// CompareAndTransition moves the task from expected to target if and only
	// if its current state is expected. It returns a Conflict error when the
	// current state differs and an InvalidTransition error when the state
	// graph forbids the move.
	CompareAndTransition(ctx context.Context, taskID string, expected, target a2a.TaskState, mutate Mutator) (*a2a.Task, error)

	// AppendArtifact adds an artifact to a non-terminal task.
	AppendArtifact(ctx context.Context, taskID string, artifact a2a.Artifact) (*a2a.Task, error)

	// List returns one page of tasks matching filter, oldest first, and the
	// total number of matches.
	List(ctx context.Context, filter a2a.ListFilter) ([]*a2a.Task, int, error)

	// Delete removes the task.
	Delete(ctx context.Context, taskID string) error
}

// clock returns a UTC timestamp that is never before prev.
func clock(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) && !prev.IsZero() {
		return prev.Add(time.Microsecond)
	}
	return now
}

// prepareCreate fills in the store-owned fields of a new task.
func prepareCreate(in *a2a.Task) (*a2a.Task, error) {
	if in == nil {
		return nil, a2a.NewInvalidRequestError("task cannot be nil")
	}
	t := in.Clone()
	if t.State == "" {
		t.State = a2a.TaskStateQueued
	}
	if t.State != a2a.TaskStateQueued && t.State != a2a.TaskStateRunning {
		return nil, a2a.Errorf(a2a.KindInvalidTransition, "tasks must be created queued or running, not %s", t.State)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, a2a.NewInternalError(err)
	}
	now := clock(time.Time{})
	t.ID = id.String()
	t.Error = nil
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1
	for i := range t.Artifacts {
		if t.Artifacts[i].ArtifactID == "" {
			t.Artifacts[i].ArtifactID = uuid.NewString()
		}
		if t.Artifacts[i].CreatedAt.IsZero() {
			t.Artifacts[i].CreatedAt = now
		}
	}
	return t, nil
}

// applyTransition returns the successor of cur, or the reason it may not
// be produced. cur is never modified.
func applyTransition(cur *a2a.Task, expected, target a2a.TaskState, mutate Mutator) (*a2a.Task, error) {
	if cur.State != expected {
		return nil, a2a.NewConflictError(cur.ID, expected, cur.State)
	}
	if err := a2a.ValidateTransition(expected, target); err != nil {
		e := err.(*a2a.Error)
		e.TaskID = cur.ID
		return nil, e
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.ID = cur.ID
	next.SessionID = cur.SessionID
	next.CreatedAt = cur.CreatedAt
	next.State = target
	if !target.CarriesError() {
		next.Error = nil
	}
	next.UpdatedAt = clock(cur.UpdatedAt)
	next.Version = cur.Version + 1
	return next, nil
}

// applyArtifact returns cur with artifact appended.
func applyArtifact(cur *a2a.Task, artifact a2a.Artifact) (*a2a.Task, error) {
	if cur.State.IsTerminal() {
		return nil, &a2a.Error{
			Kind:    a2a.KindInvalidTransition,
			Message: "cannot append an artifact to a task in a terminal state",
			TaskID:  cur.ID,
			State:   cur.State,
		}
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}

	a := artifact.Clone()
	if a.ArtifactID == "" {
		a.ArtifactID = uuid.NewString()
	} else if _, dup := cur.Artifact(a.ArtifactID); dup {
		e := a2a.NewInvalidMessageFormatError("duplicate artifact id " + a.ArtifactID)
		e.TaskID = cur.ID
		return nil, e
	}

	next := cur.Clone()
	next.UpdatedAt = clock(cur.UpdatedAt)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = next.UpdatedAt
	}
	next.Artifacts = append(next.Artifacts, a)
	next.Version = cur.Version + 1
	return next, nil
}

func page(tasks []*a2a.Task, f a2a.ListFilter) []*a2a.Task {
	if f.Offset >= len(tasks) {
		return []*a2a.Task{}
	}
	end := min(f.Offset+f.Limit, len(tasks))
	return tasks[f.Offset:end]
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-a2a/a2a-core"
)

// TaskUpdater lets an agent drive the lifecycle of one task.
// Every call is committed through the store's compare-and-transition and
// therefore loses cleanly against a concurrent cancel.
type TaskUpdater interface {
	// UpdateStatus moves the task from its last known state to state. On
	// Conflict the updater refreshes its view of the task before returning.
	UpdateStatus(ctx context.Context, state a2a.TaskState, mutate Mutator) (*a2a.Task, error)

	// AddArtifact appends an artifact to the task.
	AddArtifact(ctx context.Context, artifact a2a.Artifact) (*a2a.Task, error)

	// Convenience methods for common status transitions
	StartWork(ctx context.Context) error
	StreamResponse(ctx context.Context) error
	RequiresInput(ctx context.Context) error
	RequiresAuth(ctx context.Context) error
	Wait(ctx context.Context) error
	Complete(ctx context.Context, artifacts ...a2a.Artifact) error
	Failed(ctx context.Context, cause error) error
	Reject(ctx context.Context, reason string) error

	// GetTaskID returns the task ID this updater is associated with.
	GetTaskID() string

	// GetSessionID returns the session ID of the task.
	GetSessionID() string

	// Input returns the messages the task was created from.
	Input() []a2a.Message

	// State returns the last state observed by the updater.
	State() a2a.TaskState

	// IsTerminal returns true if the task is in a terminal state.
	IsTerminal() bool

	// Close shuts down the updater. Further updates fail.
	Close() error
}

// TaskUpdaterConfig holds configuration for creating a TaskUpdater.
type TaskUpdaterConfig struct {
	Store Store
	Task  *a2a.Task
}

type defaultTaskUpdater struct {
	store     Store
	taskID    string
	sessionID string
	input     []a2a.Message

	mu     sync.Mutex
	state  a2a.TaskState
	closed bool
}

var _ TaskUpdater = (*defaultTaskUpdater)(nil)

// NewTaskUpdater creates a new TaskUpdater with the given configuration.
func NewTaskUpdater(config TaskUpdaterConfig) (TaskUpdater, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("task store cannot be nil")
	}
	if config.Task == nil || config.Task.ID == "" {
		return nil, fmt.Errorf("task cannot be empty")
	}

	return &defaultTaskUpdater{
		store:     config.Store,
		taskID:    config.Task.ID,
		sessionID: config.Task.SessionID,
		input:     config.Task.Clone().Messages,
		state:     config.Task.State,
	}, nil
}

// UpdateStatus implements [TaskUpdater].
func (u *defaultTaskUpdater) UpdateStatus(ctx context.Context, state a2a.TaskState, mutate Mutator) (*a2a.Task, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil, UpdaterError{Operation: "update_status", TaskID: u.taskID, Err: fmt.Errorf("task updater is closed")}
	}

	t, err := u.store.CompareAndTransition(ctx, u.taskID, u.state, state, mutate)
	if err != nil {
		if a2a.KindOf(err) == a2a.KindConflict {
			if cur, gerr := u.store.Get(ctx, u.taskID); gerr == nil {
				u.state = cur.State
			}
		}
		return nil, UpdaterError{Operation: "update_status", TaskID: u.taskID, Err: err}
	}
	u.state = t.State

	return t, nil
}

// AddArtifact implements [TaskUpdater].
func (u *defaultTaskUpdater) AddArtifact(ctx context.Context, artifact a2a.Artifact) (*a2a.Task, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil, UpdaterError{Operation: "add_artifact", TaskID: u.taskID, Err: fmt.Errorf("task updater is closed")}
	}

	t, err := u.store.AppendArtifact(ctx, u.taskID, artifact)
	if err != nil {
		return nil, UpdaterError{Operation: "add_artifact", TaskID: u.taskID, Err: err}
	}
	u.state = t.State

	return t, nil
}

func (u *defaultTaskUpdater) to(ctx context.Context, state a2a.TaskState) error {
	_, err := u.UpdateStatus(ctx, state, nil)
	return err
}

// StartWork implements [TaskUpdater].
func (u *defaultTaskUpdater) StartWork(ctx context.Context) error {
	return u.to(ctx, a2a.TaskStateRunning)
}

// StreamResponse implements [TaskUpdater].
func (u *defaultTaskUpdater) StreamResponse(ctx context.Context) error {
	return u.to(ctx, a2a.TaskStateStreamingResponse)
}

// RequiresInput implements [TaskUpdater].
func (u *defaultTaskUpdater) RequiresInput(ctx context.Context) error {
	return u.to(ctx, a2a.TaskStateInputRequired)
}

// RequiresAuth implements [TaskUpdater].
func (u *defaultTaskUpdater) RequiresAuth(ctx context.Context) error {
	return u.to(ctx, a2a.TaskStateAuthRequired)
}

// Wait implements [TaskUpdater].
func (u *defaultTaskUpdater) Wait(ctx context.Context) error {
	return u.to(ctx, a2a.TaskStateWaiting)
}

// Complete implements [TaskUpdater]. Artifacts are appended before the
// task is marked completed.
func (u *defaultTaskUpdater) Complete(ctx context.Context, artifacts ...a2a.Artifact) error {
	for _, a := range artifacts {
		if _, err := u.AddArtifact(ctx, a); err != nil {
			return err
		}
	}
	return u.to(ctx, a2a.TaskStateCompleted)
}

// Failed implements [TaskUpdater].
func (u *defaultTaskUpdater) Failed(ctx context.Context, cause error) error {
	msg := "task failed"
	if cause != nil {
		msg = cause.Error()
	}
	_, err := u.UpdateStatus(ctx, a2a.TaskStateFailed, func(t *a2a.Task) error {
		t.Error = &a2a.TaskError{Code: "agent_error", Message: msg}
		return nil
	})
	return err
}

// Reject implements [TaskUpdater].
func (u *defaultTaskUpdater) Reject(ctx context.Context, reason string) error {
	_, err := u.UpdateStatus(ctx, a2a.TaskStateRejected, func(t *a2a.Task) error {
		t.Error = &a2a.TaskError{Code: "rejected", Message: reason}
		return nil
	})
	return err
}

// GetTaskID implements [TaskUpdater].
func (u *defaultTaskUpdater) GetTaskID() string {
	return u.taskID
}

// GetSessionID implements [TaskUpdater].
func (u *defaultTaskUpdater) GetSessionID() string {
	return u.sessionID
}

// Input implements [TaskUpdater].
func (u *defaultTaskUpdater) Input() []a2a.Message {
	return u.input
}

// State implements [TaskUpdater].
func (u *defaultTaskUpdater) State() a2a.TaskState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// IsTerminal implements [TaskUpdater].
func (u *defaultTaskUpdater) IsTerminal() bool {
	return u.State().IsTerminal()
}

// Close implements [TaskUpdater].
func (u *defaultTaskUpdater) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return nil
}

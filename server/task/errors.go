// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"fmt"
)

// TaskStoreError represents an unexpected failure of the storage backend.
type TaskStoreError struct {
	Operation string
	TaskID    string
	Err       error
}

// Error returns the error message.
func (e TaskStoreError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("task store %s operation failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("task store %s operation failed for task %s: %v", e.Operation, e.TaskID, e.Err)
}

// Unwrap returns the underlying error.
func (e TaskStoreError) Unwrap() error {
	return e.Err
}

// NewTaskStoreError creates a new TaskStoreError.
func NewTaskStoreError(operation, taskID string, err error) TaskStoreError {
	return TaskStoreError{
		Operation: operation,
		TaskID:    taskID,
		Err:       err,
	}
}

// UpdaterError reports a failed [Updater] operation.
type UpdaterError struct {
	Operation string
	TaskID    string
	Err       error
}

// Error returns the error message.
func (e UpdaterError) Error() string {
	return fmt.Sprintf("task updater %s operation failed for task %s: %v", e.Operation, e.TaskID, e.Err)
}

// Unwrap returns the underlying error.
func (e UpdaterError) Unwrap() error {
	return e.Err
}

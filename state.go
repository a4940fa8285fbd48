// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

// TaskState represents the lifecycle state of a [Task].
type TaskState string

const (
	TaskStateQueued            TaskState = "queued"
	TaskStateRunning           TaskState = "running"
	TaskStateStreamingResponse TaskState = "streaming-response"
	TaskStateInputRequired     TaskState = "input-required"
	TaskStateAuthRequired      TaskState = "auth-required"
	TaskStateWaiting           TaskState = "waiting"
	TaskStateCompleted         TaskState = "completed"
	TaskStateCanceled          TaskState = "canceled"
	TaskStateRejected          TaskState = "rejected"
	TaskStateFailed            TaskState = "failed"
)

// AllTaskStates lists every known state, non-terminal states first.
var AllTaskStates = []TaskState{
	TaskStateQueued,
	TaskStateRunning,
	TaskStateStreamingResponse,
	TaskStateInputRequired,
	TaskStateAuthRequired,
	TaskStateWaiting,
	TaskStateCompleted,
	TaskStateCanceled,
	TaskStateRejected,
	TaskStateFailed,
}

// transitions is the task state graph. Terminal states have no entry.
var transitions = map[TaskState][]TaskState{
	TaskStateQueued: {
		TaskStateRunning, TaskStateCanceled, TaskStateRejected,
	},
	TaskStateRunning: {
		TaskStateStreamingResponse, TaskStateInputRequired, TaskStateAuthRequired,
		TaskStateWaiting, TaskStateCompleted, TaskStateFailed, TaskStateCanceled,
	},
	TaskStateStreamingResponse: {
		TaskStateCompleted, TaskStateFailed, TaskStateCanceled,
	},
	TaskStateInputRequired: {
		TaskStateRunning, TaskStateCanceled, TaskStateRejected,
	},
	TaskStateAuthRequired: {
		TaskStateRunning, TaskStateCanceled, TaskStateRejected,
	},
	TaskStateWaiting: {
		TaskStateRunning, TaskStateCanceled, TaskStateFailed,
	},
}

// Valid reports whether s is one of the known task states.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStateQueued, TaskStateRunning, TaskStateStreamingResponse,
		TaskStateInputRequired, TaskStateAuthRequired, TaskStateWaiting,
		TaskStateCompleted, TaskStateCanceled, TaskStateRejected, TaskStateFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateRejected, TaskStateFailed:
		return true
	}
	return false
}

// CarriesError reports whether a task in state s may hold a [TaskError].
func (s TaskState) CarriesError() bool {
	return s == TaskStateFailed || s == TaskStateRejected
}

// String implements [fmt.Stringer].
func (s TaskState) String() string { return string(s) }

// ValidateTransition reports whether moving a task from one state to another
// is allowed by the state graph. It returns an [*Error] of kind
// [KindInvalidTransition] otherwise.
//
// ValidateTransition holds no state and performs no I/O.
func ValidateTransition(from, to TaskState) error {
	if !from.Valid() || !to.Valid() {
		return &Error{
			Kind:    KindInvalidTransition,
			Message: "unknown task state " + string(from) + " -> " + string(to),
			State:   from,
		}
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	msg := "transition " + string(from) + " -> " + string(to) + " is not allowed"
	if from.IsTerminal() {
		msg = "task is already in terminal state " + string(from)
	}
	return &Error{Kind: KindInvalidTransition, Message: msg, State: from}
}

// NextStates returns the states reachable from s in one transition.
func NextStates(s TaskState) []TaskState {
	next := transitions[s]
	out := make([]TaskState, len(next))
	copy(out, next)
	return out
}

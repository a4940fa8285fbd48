// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the logical, transport independent category of an [Error].
type ErrorKind string

const (
	KindTaskNotFound                   ErrorKind = "TaskNotFound"
	KindInvalidTransition              ErrorKind = "InvalidTransition"
	KindConflict                       ErrorKind = "Conflict"
	KindInvalidMessageFormat           ErrorKind = "InvalidMessageFormat"
	KindAuthRequired                   ErrorKind = "AuthRequired"
	KindAuthFailed                     ErrorKind = "AuthFailed"
	KindInsufficientPermissions        ErrorKind = "InsufficientPermissions"
	KindRateLimited                    ErrorKind = "RateLimited"
	KindUnsupportedContentType         ErrorKind = "UnsupportedContentType"
	KindPayloadTooLarge                ErrorKind = "PayloadTooLarge"
	KindPushNotificationConfigNotFound ErrorKind = "PushNotificationConfigNotFound"
	KindUnsupportedOperation           ErrorKind = "UnsupportedOperation"
	KindInvalidRequest                 ErrorKind = "InvalidRequest"
	KindMethodNotFound                 ErrorKind = "MethodNotFound"
	KindInternal                       ErrorKind = "Internal"
)

// Error is the error type returned by every core operation.
type Error struct {
	Kind    ErrorKind
	Message string

	// TaskID and State identify the offending task and its current state,
	// when applicable.
	TaskID string
	State  TaskState

	Err error
}

// Error implements error.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.TaskID != "" {
		sb.WriteString(" (task ")
		sb.WriteString(e.TaskID)
		if e.State != "" {
			sb.WriteString(", state ")
			sb.WriteString(string(e.State))
		}
		sb.WriteString(")")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an [*Error] of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for use with [errors.Is].
var (
	ErrTaskNotFound                   = &Error{Kind: KindTaskNotFound}
	ErrInvalidTransition              = &Error{Kind: KindInvalidTransition}
	ErrConflict                       = &Error{Kind: KindConflict}
	ErrInvalidMessageFormat           = &Error{Kind: KindInvalidMessageFormat}
	ErrAuthRequired                   = &Error{Kind: KindAuthRequired}
	ErrAuthFailed                     = &Error{Kind: KindAuthFailed}
	ErrInsufficientPermissions        = &Error{Kind: KindInsufficientPermissions}
	ErrRateLimited                    = &Error{Kind: KindRateLimited}
	ErrUnsupportedContentType         = &Error{Kind: KindUnsupportedContentType}
	ErrPayloadTooLarge                = &Error{Kind: KindPayloadTooLarge}
	ErrPushNotificationConfigNotFound = &Error{Kind: KindPushNotificationConfigNotFound}
	ErrUnsupportedOperation           = &Error{Kind: KindUnsupportedOperation}
	ErrInvalidRequest                 = &Error{Kind: KindInvalidRequest}
	ErrMethodNotFound                 = &Error{Kind: KindMethodNotFound}
	ErrInternal                       = &Error{Kind: KindInternal}
)

// NewError returns an [*Error] of the given kind.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf returns an [*Error] of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewTaskNotFoundError reports that taskID does not exist.
func NewTaskNotFoundError(taskID string) *Error {
	return &Error{Kind: KindTaskNotFound, Message: "task not found", TaskID: taskID}
}

// NewInvalidTransitionError reports a transition outside the state graph.
func NewInvalidTransitionError(taskID string, from, to TaskState) *Error {
	err := ValidateTransition(from, to)
	e, ok := err.(*Error)
	if !ok {
		e = &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf("transition %s -> %s is not allowed", from, to), State: from}
	}
	e.TaskID = taskID
	return e
}

// NewConflictError reports a lost compare-and-transition race.
func NewConflictError(taskID string, expected, actual TaskState) *Error {
	return &Error{
		Kind:    KindConflict,
		Message: fmt.Sprintf("expected state %s but task is %s", expected, actual),
		TaskID:  taskID,
		State:   actual,
	}
}

// NewInvalidMessageFormatError reports a malformed message, part or artifact.
func NewInvalidMessageFormatError(msg string) *Error {
	return &Error{Kind: KindInvalidMessageFormat, Message: msg}
}

// NewInvalidRequestError reports malformed request parameters.
func NewInvalidRequestError(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

// NewPushConfigNotFoundError reports that taskID has no push notification config.
func NewPushConfigNotFoundError(taskID string) *Error {
	return &Error{Kind: KindPushNotificationConfigNotFound, Message: "push notification config not found", TaskID: taskID}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// AsError converts any error into an [*Error]. Context errors are reported as
// [KindInternal] unless err already carries a kind.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
	}
	return NewInternalError(err)
}

// KindOf returns the [ErrorKind] of err, or the empty kind when err is nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

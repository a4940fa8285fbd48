// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import "strings"

// SendMessageParams are the parameters of message/send and message/stream.
type SendMessageParams struct {
	SessionID string         `json:"sessionId,omitempty"`
	Messages  []Message      `json:"messages"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks the message list. Malformed messages are reported as
// InvalidMessageFormat.
func (p *SendMessageParams) Validate() error {
	if len(p.Messages) == 0 {
		return NewInvalidMessageFormatError("messages must not be empty")
	}
	return ValidateMessages(p.Messages)
}

// TaskIDParams identify a task.
type TaskIDParams struct {
	ID string `json:"id"`
}

// Validate checks that the task ID is present.
func (p *TaskIDParams) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return NewInvalidRequestError("task id is required")
	}
	return nil
}

// ResubscribeParams are the parameters of tasks/resubscribe.
type ResubscribeParams struct {
	ID string `json:"id"`

	// ResumeToken continues a detached stream. It has the form
	// "<subscription id>:<last seen seq>".
	ResumeToken string `json:"resumeToken,omitempty"`
}

// Validate checks that the task ID is present.
func (p *ResubscribeParams) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return NewInvalidRequestError("task id is required")
	}
	return nil
}

// ListTasksResult is the result of tasks/list.
type ListTasksResult struct {
	Tasks []*Task `json:"tasks"`
	Total int     `json:"total"`
}

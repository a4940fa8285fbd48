// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
)

// PushEvent is a category of webhook notification.
type PushEvent string

const (
	PushEventStatus   PushEvent = "status"
	PushEventArtifact PushEvent = "artifact"
	PushEventError    PushEvent = "error"
)

// PushNotificationConfig registers a webhook for a task.
type PushNotificationConfig struct {
	URL     string            `json:"url"`
	Events  []PushEvent       `json:"events,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Token is sent as a bearer token with every delivery.
	Token string `json:"token,omitempty"`
}

// Validate checks the URL and event filter.
func (c *PushNotificationConfig) Validate() error {
	if c == nil {
		return NewInvalidRequestError("push notification config is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewInvalidRequestError(fmt.Sprintf("invalid push notification url %q", c.URL))
	}
	for _, ev := range c.Events {
		switch ev {
		case PushEventStatus, PushEventArtifact, PushEventError:
		default:
			return NewInvalidRequestError(fmt.Sprintf("unknown push event %q", ev))
		}
	}
	return nil
}

// Wants reports whether the config subscribes to ev. An empty event list
// subscribes to everything.
func (c *PushNotificationConfig) Wants(ev PushEvent) bool {
	return len(c.Events) == 0 || slices.Contains(c.Events, ev)
}

// Clone returns a deep copy of c.
func (c *PushNotificationConfig) Clone() *PushNotificationConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Events = slices.Clone(c.Events)
	out.Headers = maps.Clone(c.Headers)
	return &out
}

// TaskPushConfig binds a [PushNotificationConfig] to a task.
type TaskPushConfig struct {
	TaskID string                  `json:"taskId"`
	Config *PushNotificationConfig `json:"pushNotificationConfig"`
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

// JSON-RPC method names, shaped {category}/{action}.
const (
	MethodMessageSend            = "message/send"
	MethodMessageStream          = "message/stream"
	MethodTasksGet               = "tasks/get"
	MethodTasksList              = "tasks/list"
	MethodTasksCancel            = "tasks/cancel"
	MethodTasksResubscribe       = "tasks/resubscribe"
	MethodPushNotificationSet    = "tasks/pushNotificationConfig/set"
	MethodPushNotificationGet    = "tasks/pushNotificationConfig/get"
	MethodPushNotificationDelete = "tasks/pushNotificationConfig/delete"
)

// IsStreamingMethod reports whether method answers with a stream of events.
func IsStreamingMethod(method string) bool {
	return method == MethodMessageStream || method == MethodTasksResubscribe
}

// AgentCard is the static metadata an agent publishes at
// /.well-known/agent.json.
type AgentCard struct {
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	URL          string            `json:"url,omitempty"`
	Version      string            `json:"version,omitempty"`
	Capabilities AgentCapabilities `json:"capabilities"`
}

// AgentCapabilities advertises optional protocol features.
type AgentCapabilities struct {
	Streaming         bool `json:"streaming"`
	PushNotifications bool `json:"pushNotifications"`
}

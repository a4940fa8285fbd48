// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package a2a provides the core model of the Agent-to-Agent (A2A) protocol:
// tasks and their state machine, messages and artifacts, task events, and the
// error taxonomy shared by every transport.
package a2a

// Version is the version of this module's protocol implementation.
const Version = "0.1.0"

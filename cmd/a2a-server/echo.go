// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"strings"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/server/task"
)

// echoExecutor is the built-in agent. It answers every task with one
// artifact repeating the text parts of its input messages. Non-text parts
// are passed through unchanged.
type echoExecutor struct{}

// Execute implements server.AgentExecutor.
func (echoExecutor) Execute(ctx context.Context, updater task.TaskUpdater) error {
	var (
		text  strings.Builder
		parts []a2a.Part
	)
	for _, msg := range updater.Input() {
		for _, p := range msg.Parts {
			if p.Kind != a2a.PartKindText {
				parts = append(parts, p)
				continue
			}
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.WriteString(p.Text)
		}
	}
	if text.Len() > 0 {
		parts = append([]a2a.Part{a2a.NewTextPart(text.String())}, parts...)
	}
	if len(parts) == 0 {
		return updater.Reject(ctx, "nothing to echo")
	}

	if err := updater.StartWork(ctx); err != nil {
		return err
	}
	artifact := a2a.NewArtifact(parts...)
	artifact.Name = "echo"
	return updater.Complete(ctx, artifact)
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/server/task"
)

// AgentExecutor runs the agent logic for one task.
//
// Execute is called asynchronously once per created task and drives the task
// through updater. ctx is canceled when the task is canceled or the
// dispatcher shuts down. A returned error moves a still non-terminal task to
// failed.
type AgentExecutor interface {
	Execute(ctx context.Context, updater task.TaskUpdater) error
}

// AgentExecutorFunc adapts a function to [AgentExecutor].
type AgentExecutorFunc func(ctx context.Context, updater task.TaskUpdater) error

// Execute implements [AgentExecutor].
func (f AgentExecutorFunc) Execute(ctx context.Context, updater task.TaskUpdater) error {
	return f(ctx, updater)
}

// execute starts the executor for t in its own goroutine. The executor
// context carries the call context of the request that created t.
func (d *Dispatcher) execute(scc *ServerCallContext, t *a2a.Task) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(WithCallContext(d.baseCtx, scc))
	d.running[t.ID] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.running, t.ID)
			d.mu.Unlock()
			cancel()
		}()

		updater, err := task.NewTaskUpdater(task.TaskUpdaterConfig{Store: d.store, Task: t})
		if err != nil {
			d.logger.Error("creating task updater", "task_id", t.ID, "error", err)
			return
		}
		defer updater.Close()

		if err := d.runExecutor(ctx, updater); err != nil {
			d.failTask(context.WithoutCancel(ctx), t.ID, err)
		}
	}()
}

func (d *Dispatcher) runExecutor(ctx context.Context, updater task.TaskUpdater) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent executor panic: %v", r)
		}
	}()
	return d.executor.Execute(ctx, updater)
}

// failTask records an executor error on a task that has not reached a
// terminal state. States without a failed edge are rejected instead.
func (d *Dispatcher) failTask(ctx context.Context, taskID string, cause error) {
	for range maxTransitionRetries {
		cur, err := d.store.Get(ctx, taskID)
		if err != nil {
			d.logger.ErrorContext(ctx, "loading task after executor error", "task_id", taskID, "error", err)
			return
		}
		if cur.State.IsTerminal() {
			return
		}

		target := a2a.TaskStateFailed
		if a2a.ValidateTransition(cur.State, target) != nil {
			target = a2a.TaskStateRejected
		}
		_, err = d.store.CompareAndTransition(ctx, taskID, cur.State, target, func(t *a2a.Task) error {
			t.Error = &a2a.TaskError{Code: "agent_error", Message: cause.Error()}
			return nil
		})
		if err == nil {
			d.logger.WarnContext(ctx, "agent executor failed", "task_id", taskID, "state", target, "error", cause)
			return
		}
		if a2a.KindOf(err) != a2a.KindConflict {
			d.logger.ErrorContext(ctx, "recording executor failure", "task_id", taskID, "error", err)
			return
		}
	}
}

// stopExecutor cancels the executor context of taskID, if one is running.
func (d *Dispatcher) stopExecutor(taskID string) {
	d.mu.Lock()
	cancel, ok := d.running[taskID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the transport-agnostic A2A method dispatcher.
//
// A [Dispatcher] exposes every protocol operation as a plain Go method. The
// JSON-RPC, REST and gRPC adapters in server/handler only decode requests,
// call the dispatcher and encode the result.
package server

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/server/event"
	"github.com/go-a2a/a2a-core/server/task"
)

// maxTransitionRetries bounds the re-read loops that resolve a Conflict.
const maxTransitionRetries = 16

// Dispatcher implements the A2A operations on top of a task store and an
// event broker. The store is expected to publish its events to the broker.
type Dispatcher struct {
	store        task.Store
	broker       *event.Broker
	pushConfigs  task.PushConfigStore
	executor     AgentExecutor
	negotiator   ContentNegotiator
	card         a2a.AgentCard
	initialState a2a.TaskState

	logger *slog.Logger
	tracer trace.Tracer

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(store task.Store, broker *event.Broker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		broker:       broker,
		initialState: a2a.TaskStateQueued,
		logger:       slog.Default(),
		tracer:       otel.GetTracerProvider().Tracer("github.com/go-a2a/a2a-core/server"),
		running:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.baseCtx, d.stop = context.WithCancel(context.Background())

	d.card.Capabilities.Streaming = true
	d.card.Capabilities.PushNotifications = d.pushConfigs != nil

	return d
}

// AgentCard returns the agent card with the capabilities of this dispatcher.
func (d *Dispatcher) AgentCard() a2a.AgentCard { return d.card }

func (d *Dispatcher) startSpan(ctx context.Context, op, taskID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("a2a.user", CallContextFrom(ctx).User().UserName()),
	}
	if taskID != "" {
		attrs = append(attrs, attribute.String("a2a.task_id", taskID))
	}
	return d.tracer.Start(ctx, "a2a.dispatcher."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(a2a.KindOf(err)))
	}
	span.End()
}

// SendMessage creates a task from the given messages and starts the agent
// executor on it. Every call creates a new task.
func (d *Dispatcher) SendMessage(ctx context.Context, params *a2a.SendMessageParams) (_ *a2a.Task, err error) {
	ctx, span := d.startSpan(ctx, "SendMessage", "")
	defer func() { endSpan(span, err) }()

	t, err := d.createTask(ctx, params)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("a2a.task_id", t.ID))

	d.startExecutor(ctx, t)
	return t, nil
}

// StreamMessage creates a task like [Dispatcher.SendMessage] and returns a
// subscription to its events. The first event is the snapshot of the new
// task.
func (d *Dispatcher) StreamMessage(ctx context.Context, params *a2a.SendMessageParams) (_ *event.Subscription, err error) {
	ctx, span := d.startSpan(ctx, "StreamMessage", "")
	defer func() { endSpan(span, err) }()

	t, err := d.createTask(ctx, params)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("a2a.task_id", t.ID))

	sub, err := d.broker.Subscribe(t.ID)
	if err != nil {
		return nil, err
	}
	sub.Prime(t)

	d.startExecutor(ctx, t)
	return sub, nil
}

func (d *Dispatcher) createTask(ctx context.Context, params *a2a.SendMessageParams) (*a2a.Task, error) {
	if params == nil {
		return nil, a2a.NewInvalidRequestError("params are required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	msgs := params.Messages
	if d.negotiator != nil {
		var err error
		if msgs, err = d.negotiator.Negotiate(ctx, msgs); err != nil {
			return nil, err
		}
	}

	t, err := d.store.Create(ctx, &a2a.Task{
		SessionID: params.SessionID,
		State:     d.initialState,
		Messages:  msgs,
		Metadata:  params.Metadata,
	})
	if err != nil {
		return nil, err
	}

	d.logger.InfoContext(ctx, "task created",
		"task_id", t.ID, "session_id", t.SessionID, "state", t.State, "user", CallContextFrom(ctx).User().UserName())
	return t, nil
}

func (d *Dispatcher) startExecutor(ctx context.Context, t *a2a.Task) {
	if d.executor == nil {
		return
	}
	d.execute(CallContextFrom(ctx), t)
}

// GetTask returns the task with the given ID.
func (d *Dispatcher) GetTask(ctx context.Context, taskID string) (_ *a2a.Task, err error) {
	ctx, span := d.startSpan(ctx, "GetTask", taskID)
	defer func() { endSpan(span, err) }()

	if taskID == "" {
		return nil, a2a.NewInvalidRequestError("task id is required")
	}
	return d.store.Get(ctx, taskID)
}

// ListTasks returns one page of the tasks matching filter and the total
// number of matches.
func (d *Dispatcher) ListTasks(ctx context.Context, filter a2a.ListFilter) (_ *a2a.ListTasksResult, err error) {
	ctx, span := d.startSpan(ctx, "ListTasks", "")
	defer func() { endSpan(span, err) }()

	if err := filter.Validate(); err != nil {
		return nil, err
	}
	tasks, total, err := d.store.List(ctx, filter.Normalize())
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*a2a.Task{}
	}
	return &a2a.ListTasksResult{Tasks: tasks, Total: total}, nil
}

// CancelTask requests cancellation of a task.
//
// Cancellation never fails because the task finished first: a task that is
// already terminal, or becomes terminal while the cancel is in flight, is
// returned in its actual state. On success the executor context of the task
// is canceled.
func (d *Dispatcher) CancelTask(ctx context.Context, taskID string) (_ *a2a.Task, err error) {
	ctx, span := d.startSpan(ctx, "CancelTask", taskID)
	defer func() { endSpan(span, err) }()

	if taskID == "" {
		return nil, a2a.NewInvalidRequestError("task id is required")
	}

	for range maxTransitionRetries {
		cur, err := d.store.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if cur.State.IsTerminal() {
			d.logger.DebugContext(ctx, "cancel of terminal task", "task_id", taskID, "state", cur.State)
			return cur, nil
		}

		t, err := d.store.CompareAndTransition(ctx, taskID, cur.State, a2a.TaskStateCanceled, nil)
		switch a2a.KindOf(err) {
		case "":
			d.stopExecutor(taskID)
			d.logger.InfoContext(ctx, "task canceled", "task_id", taskID, "from", cur.State)
			return t, nil
		case a2a.KindConflict:
			continue
		default:
			return nil, err
		}
	}
	return nil, a2a.NewConflictError(taskID, "", "")
}

// Resubscribe attaches a new stream to a task.
//
// Without a resume token the stream starts with a snapshot of the current
// task state followed by live events. With a token of a subscription that
// was detached less than the grace period ago, that subscription is resumed
// after the acknowledged sequence number. An unknown or expired token falls
// back to a fresh snapshot.
func (d *Dispatcher) Resubscribe(ctx context.Context, params *a2a.ResubscribeParams) (_ *event.Subscription, err error) {
	if params == nil {
		return nil, a2a.NewInvalidRequestError("params are required")
	}
	ctx, span := d.startSpan(ctx, "Resubscribe", params.ID)
	defer func() { endSpan(span, err) }()

	if err := params.Validate(); err != nil {
		return nil, err
	}

	if params.ResumeToken != "" {
		subID, seq, err := event.ParseResumeToken(params.ResumeToken)
		if err != nil {
			return nil, &a2a.Error{Kind: a2a.KindInvalidRequest, Message: "invalid resume token", TaskID: params.ID, Err: err}
		}
		sub, err := d.broker.Resume(params.ID, subID, seq)
		if err == nil {
			d.logger.DebugContext(ctx, "resumed subscription", "task_id", params.ID, "subscription_id", subID, "seq", seq)
			return sub, nil
		}
		d.logger.DebugContext(ctx, "resume token not usable, replaying snapshot", "task_id", params.ID, "error", err)
	}

	// Subscribe before reading so that no event committed in between is lost;
	// Prime drops the buffered events the snapshot already covers.
	sub, err := d.broker.Subscribe(params.ID)
	if err != nil {
		return nil, err
	}
	t, err := d.store.Get(ctx, params.ID)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.Prime(t)
	return sub, nil
}

// SetPushConfig registers the webhook of a task, replacing any previous
// registration.
func (d *Dispatcher) SetPushConfig(ctx context.Context, params *a2a.TaskPushConfig) (_ *a2a.TaskPushConfig, err error) {
	if params == nil {
		return nil, a2a.NewInvalidRequestError("params are required")
	}
	ctx, span := d.startSpan(ctx, "SetPushConfig", params.TaskID)
	defer func() { endSpan(span, err) }()

	if err := d.pushSupported(); err != nil {
		return nil, err
	}
	if params.TaskID == "" {
		return nil, a2a.NewInvalidRequestError("task id is required")
	}
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	if _, err := d.store.Get(ctx, params.TaskID); err != nil {
		return nil, err
	}
	if err := d.pushConfigs.Set(ctx, params.TaskID, params.Config); err != nil {
		return nil, err
	}

	d.logger.InfoContext(ctx, "push notification config set", "task_id", params.TaskID, "url", params.Config.URL)
	return &a2a.TaskPushConfig{TaskID: params.TaskID, Config: params.Config.Clone()}, nil
}

// GetPushConfig returns the webhook registered for a task.
func (d *Dispatcher) GetPushConfig(ctx context.Context, taskID string) (_ *a2a.TaskPushConfig, err error) {
	ctx, span := d.startSpan(ctx, "GetPushConfig", taskID)
	defer func() { endSpan(span, err) }()

	if err := d.pushSupported(); err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, a2a.NewInvalidRequestError("task id is required")
	}
	cfg, err := d.pushConfigs.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &a2a.TaskPushConfig{TaskID: taskID, Config: cfg}, nil
}

// DeletePushConfig removes the webhook registered for a task.
func (d *Dispatcher) DeletePushConfig(ctx context.Context, taskID string) (err error) {
	ctx, span := d.startSpan(ctx, "DeletePushConfig", taskID)
	defer func() { endSpan(span, err) }()

	if err := d.pushSupported(); err != nil {
		return err
	}
	if taskID == "" {
		return a2a.NewInvalidRequestError("task id is required")
	}
	return d.pushConfigs.Delete(ctx, taskID)
}

func (d *Dispatcher) pushSupported() error {
	if d.pushConfigs == nil {
		return a2a.NewError(a2a.KindUnsupportedOperation, "push notifications are not enabled")
	}
	return nil
}

// Close cancels every running executor and waits for them to return, or for
// ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

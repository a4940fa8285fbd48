// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/auth"
	"github.com/go-a2a/a2a-core/server/event"
	"github.com/go-a2a/a2a-core/server/task"
)

type testEnv struct {
	dispatcher *Dispatcher
	store      task.Store
	broker     *event.Broker
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	broker := event.NewBroker(event.WithHeartbeat(0))
	store := task.NewPublishingStore(task.NewInMemoryStore(), broker)
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	d := NewDispatcher(store, broker, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.Close(ctx)
	})
	return &testEnv{dispatcher: d, store: store, broker: broker}
}

func hello() *a2a.SendMessageParams {
	return &a2a.SendMessageParams{
		Messages: []a2a.Message{{Role: a2a.RoleUser, Parts: []a2a.Part{a2a.NewTextPart("hi")}}},
	}
}

// readAll reads a subscription until end of stream.
func readAll(t *testing.T, sub *event.Subscription) []a2a.TaskEvent {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	var events []a2a.TaskEvent
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("Next() error = %v after %d events", err, len(events))
		}
		if ev.IsHeartbeat() {
			continue
		}
		events = append(events, ev)
	}
}

func waitTerminal(t *testing.T, env *testEnv, taskID string) *a2a.Task {
	t.Helper()

	sub, err := env.dispatcher.Resubscribe(t.Context(), &a2a.ResubscribeParams{ID: taskID})
	if err != nil {
		t.Fatalf("Resubscribe() error = %v", err)
	}
	defer sub.Close()
	events := readAll(t, sub)
	return events[len(events)-1].Task
}

func TestDispatcher_HappyPath(t *testing.T) {
	done := a2a.NewArtifact(a2a.NewTextPart("done"))
	env := newTestEnv(t, WithExecutor(AgentExecutorFunc(func(ctx context.Context, u task.TaskUpdater) error {
		if err := u.StartWork(ctx); err != nil {
			return err
		}
		return u.Complete(ctx, done)
	})))

	created, err := env.dispatcher.SendMessage(t.Context(), hello())
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if created.State != a2a.TaskStateQueued {
		t.Errorf("SendMessage() state = %s, want queued", created.State)
	}

	final := waitTerminal(t, env, created.ID)
	if final.State != a2a.TaskStateCompleted {
		t.Fatalf("final state = %s, want completed", final.State)
	}

	got, err := env.dispatcher.GetTask(t.Context(), created.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if diff := cmp.Diff(final, got); diff != "" {
		t.Errorf("GetTask() mismatch (-want +got):\n%s", diff)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].Parts[0].Text != "done" {
		t.Errorf("artifacts = %+v", got.Artifacts)
	}
	if diff := cmp.Diff(hello().Messages, got.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_SendMessageValidation(t *testing.T) {
	env := newTestEnv(t, WithContentNegotiator(NewMIMEAllowlist("text/*", "application/json")))

	tests := map[string]struct {
		params *a2a.SendMessageParams
		want   a2a.ErrorKind
	}{
		"nil params": {
			params: nil,
			want:   a2a.KindInvalidRequest,
		},
		"no messages": {
			params: &a2a.SendMessageParams{},
			want:   a2a.KindInvalidMessageFormat,
		},
		"no parts": {
			params: &a2a.SendMessageParams{Messages: []a2a.Message{{Role: a2a.RoleUser}}},
			want:   a2a.KindInvalidMessageFormat,
		},
		"file with bytes and uri": {
			params: &a2a.SendMessageParams{Messages: []a2a.Message{{
				Role: a2a.RoleUser,
				Parts: []a2a.Part{{Kind: a2a.PartKindFile, File: &a2a.FileContent{
					MIMEType: "text/plain", Bytes: []byte("x"), URI: "https://example.com/x",
				}}},
			}}},
			want: a2a.KindInvalidMessageFormat,
		},
		"unsupported media type": {
			params: &a2a.SendMessageParams{Messages: []a2a.Message{{
				Role:  a2a.RoleUser,
				Parts: []a2a.Part{a2a.NewFileBytesPart("cat.png", "image/png", []byte{0x89})},
			}}},
			want: a2a.KindUnsupportedContentType,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := env.dispatcher.SendMessage(t.Context(), tt.params)
			if got := a2a.KindOf(err); got != tt.want {
				t.Errorf("SendMessage() kind = %q, want %q (err = %v)", got, tt.want, err)
			}
		})
	}

	if n := env.store.(*task.PublishingStore).Store.(*task.InMemoryStore).Len(); n != 0 {
		t.Errorf("store holds %d tasks after rejected requests, want 0", n)
	}
}

func TestDispatcher_GetTaskNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.dispatcher.GetTask(t.Context(), "nonexistent")
	if !errors.Is(err, a2a.ErrTaskNotFound) {
		t.Fatalf("GetTask() error = %v, want TaskNotFound", err)
	}
}

func TestDispatcher_CancelIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.dispatcher.SendMessage(t.Context(), hello())
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	for _, step := range [][2]a2a.TaskState{
		{a2a.TaskStateQueued, a2a.TaskStateRunning},
		{a2a.TaskStateRunning, a2a.TaskStateCompleted},
	} {
		if _, err := env.store.CompareAndTransition(t.Context(), created.ID, step[0], step[1], nil); err != nil {
			t.Fatalf("CompareAndTransition() error = %v", err)
		}
	}

	for range 2 {
		got, err := env.dispatcher.CancelTask(t.Context(), created.ID)
		if err != nil {
			t.Fatalf("CancelTask() error = %v", err)
		}
		if got.State != a2a.TaskStateCompleted {
			t.Errorf("CancelTask() state = %s, want completed", got.State)
		}
	}
}

func TestDispatcher_CancelStopsExecutor(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan struct{})
	env := newTestEnv(t, WithExecutor(AgentExecutorFunc(func(ctx context.Context, u task.TaskUpdater) error {
		if err := u.StartWork(ctx); err != nil {
			return err
		}
		close(started)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})))

	created, err := env.dispatcher.SendMessage(t.Context(), hello())
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	<-started

	got, err := env.dispatcher.CancelTask(t.Context(), created.ID)
	if err != nil {
		t.Fatalf("CancelTask() error = %v", err)
	}
	if got.State != a2a.TaskStateCanceled {
		t.Errorf("CancelTask() state = %s, want canceled", got.State)
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("executor context was not canceled")
	}

	// The executor error must not overwrite the canceled state.
	final := waitTerminal(t, env, created.ID)
	if final.State != a2a.TaskStateCanceled || final.Error != nil {
		t.Errorf("final task = %+v, want canceled without error", final)
	}
}

func TestDispatcher_CancelRacesWithCompletion(t *testing.T) {
	for range 20 {
		env := newTestEnv(t)
		created, err := env.dispatcher.SendMessage(t.Context(), hello())
		if err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
		if _, err := env.store.CompareAndTransition(t.Context(), created.ID, a2a.TaskStateQueued, a2a.TaskStateRunning, nil); err != nil {
			t.Fatalf("CompareAndTransition() error = %v", err)
		}

		completeErr := make(chan error, 1)
		go func() {
			_, err := env.store.CompareAndTransition(t.Context(), created.ID, a2a.TaskStateRunning, a2a.TaskStateCompleted, nil)
			completeErr <- err
		}()
		got, err := env.dispatcher.CancelTask(t.Context(), created.ID)
		if err != nil {
			t.Fatalf("CancelTask() error = %v", err)
		}

		cerr := <-completeErr
		switch got.State {
		case a2a.TaskStateCanceled:
			if a2a.KindOf(cerr) != a2a.KindConflict {
				t.Errorf("complete after cancel error = %v, want Conflict", cerr)
			}
		case a2a.TaskStateCompleted:
			if cerr != nil {
				t.Errorf("complete error = %v, want nil", cerr)
			}
		default:
			t.Fatalf("CancelTask() state = %s", got.State)
		}
	}
}

func TestDispatcher_InvalidTransitionLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t, WithInitialState(a2a.TaskStateRunning))

	created, err := env.dispatcher.SendMessage(t.Context(), hello())
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	completed, err := env.store.CompareAndTransition(t.Context(), created.ID, a2a.TaskStateRunning, a2a.TaskStateCompleted, nil)
	if err != nil {
		t.Fatalf("CompareAndTransition() error = %v", err)
	}

	_, err = env.store.CompareAndTransition(t.Context(), created.ID, a2a.TaskStateCompleted, a2a.TaskStateRunning, nil)
	if !errors.Is(err, a2a.ErrInvalidTransition) {
		t.Fatalf("CompareAndTransition(completed -> running) error = %v, want InvalidTransition", err)
	}

	got, err := env.dispatcher.GetTask(t.Context(), created.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if diff := cmp.Diff(completed, got); diff != "" {
		t.Errorf("task changed after rejected transition (-want +got):\n%s", diff)
	}
}

func TestDispatcher_ExecutorErrors(t *testing.T) {
	tests := map[string]struct {
		executor  AgentExecutorFunc
		wantState a2a.TaskState
	}{
		"error while running": {
			executor: func(ctx context.Context, u task.TaskUpdater) error {
				if err := u.StartWork(ctx); err != nil {
					return err
				}
				return errors.New("model unavailable")
			},
			wantState: a2a.TaskStateFailed,
		},
		"error while queued": {
			executor: func(ctx context.Context, u task.TaskUpdater) error {
				return errors.New("model unavailable")
			},
			wantState: a2a.TaskStateRejected,
		},
		"panic": {
			executor: func(ctx context.Context, u task.TaskUpdater) error {
				u.StartWork(ctx)
				panic("model unavailable")
			},
			wantState: a2a.TaskStateFailed,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, WithExecutor(tt.executor))
			created, err := env.dispatcher.SendMessage(t.Context(), hello())
			if err != nil {
				t.Fatalf("SendMessage() error = %v", err)
			}

			final := waitTerminal(t, env, created.ID)
			if final.State != tt.wantState {
				t.Errorf("final state = %s, want %s", final.State, tt.wantState)
			}
			if final.Error == nil || final.Error.Code != "agent_error" {
				t.Errorf("final error = %+v, want agent_error", final.Error)
			}
		})
	}
}

func TestDispatcher_StreamMessage(t *testing.T) {
	env := newTestEnv(t, WithExecutor(AgentExecutorFunc(func(ctx context.Context, u task.TaskUpdater) error {
		if err := u.StartWork(ctx); err != nil {
			return err
		}
		return u.Complete(ctx, a2a.NewArtifact(a2a.NewTextPart("done")))
	})))

	sub, err := env.dispatcher.StreamMessage(t.Context(), hello())
	if err != nil {
		t.Fatalf("StreamMessage() error = %v", err)
	}
	defer sub.Close()

	events := readAll(t, sub)
	type step struct {
		Kind     a2a.EventKind
		State    a2a.TaskState
		Seq      uint64
		Snapshot bool
		Final    bool
	}
	var got []step
	for _, ev := range events {
		got = append(got, step{ev.Kind, ev.State, ev.Seq, ev.Snapshot, ev.Final})
	}
	want := []step{
		{a2a.EventKindStatus, a2a.TaskStateQueued, 1, true, false},
		{a2a.EventKindStatus, a2a.TaskStateRunning, 2, false, false},
		{a2a.EventKindArtifact, a2a.TaskStateRunning, 3, false, false},
		{a2a.EventKindStatus, a2a.TaskStateCompleted, 4, false, true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stream mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_Resubscribe(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.dispatcher.SendMessage(t.Context(), hello())
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if _, err := env.store.CompareAndTransition(t.Context(), created.ID, a2a.TaskStateQueued, a2a.TaskStateRunning, nil); err != nil {
		t.Fatalf("CompareAndTransition() error = %v", err)
	}

	sub, err := env.dispatcher.Resubscribe(t.Context(), &a2a.ResubscribeParams{ID: created.ID})
	if err != nil {
		t.Fatalf("Resubscribe() error = %v", err)
	}
	first, err := sub.Next(t.Context())
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !first.Snapshot || first.State != a2a.TaskStateRunning {
		t.Fatalf("first event = %+v, want running snapshot", first)
	}
	token := sub.ResumeToken(first)
	sub.Detach()

	// Committed while the client is away.
	if _, err := env.store.CompareAndTransition(t.Context(), created.ID, a2a.TaskStateRunning, a2a.TaskStateCompleted, nil); err != nil {
		t.Fatalf("CompareAndTransition() error = %v", err)
	}

	resumed, err := env.dispatcher.Resubscribe(t.Context(), &a2a.ResubscribeParams{ID: created.ID, ResumeToken: token})
	if err != nil {
		t.Fatalf("Resubscribe(token) error = %v", err)
	}
	defer resumed.Close()
	if resumed.ID() != sub.ID() {
		t.Errorf("resumed subscription %s, want %s", resumed.ID(), sub.ID())
	}
	events := readAll(t, resumed)
	if len(events) != 1 || events[0].State != a2a.TaskStateCompleted || events[0].Snapshot {
		t.Errorf("resumed events = %+v, want the live completed event", events)
	}

	// A fresh resubscribe after completion sees a single snapshot.
	fresh, err := env.dispatcher.Resubscribe(t.Context(), &a2a.ResubscribeParams{ID: created.ID, ResumeToken: "gone:3"})
	if err != nil {
		t.Fatalf("Resubscribe(expired token) error = %v", err)
	}
	defer fresh.Close()
	events = readAll(t, fresh)
	if len(events) != 1 || !events[0].Snapshot || !events[0].Final {
		t.Errorf("fresh events = %+v, want one final snapshot", events)
	}

	tests := map[string]struct {
		params *a2a.ResubscribeParams
		want   a2a.ErrorKind
	}{
		"unknown task": {
			params: &a2a.ResubscribeParams{ID: "nonexistent"},
			want:   a2a.KindTaskNotFound,
		},
		"malformed token": {
			params: &a2a.ResubscribeParams{ID: created.ID, ResumeToken: "no-seq"},
			want:   a2a.KindInvalidRequest,
		},
		"missing id": {
			params: &a2a.ResubscribeParams{},
			want:   a2a.KindInvalidRequest,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := env.dispatcher.Resubscribe(t.Context(), tt.params)
			if got := a2a.KindOf(err); got != tt.want {
				t.Errorf("Resubscribe() kind = %q, want %q", got, tt.want)
			}
		})
	}
	if n := env.broker.Subscribers("nonexistent"); n != 0 {
		t.Errorf("broker kept %d subscriptions for an unknown task", n)
	}
}

func TestDispatcher_ListTasks(t *testing.T) {
	env := newTestEnv(t)

	for _, session := range []string{"s1", "s1", "s2"} {
		params := hello()
		params.SessionID = session
		if _, err := env.dispatcher.SendMessage(t.Context(), params); err != nil {
			t.Fatalf("SendMessage() error = %v", err)
		}
	}

	res, err := env.dispatcher.ListTasks(t.Context(), a2a.ListFilter{SessionID: "s1", Limit: 1})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if res.Total != 2 || len(res.Tasks) != 1 {
		t.Errorf("ListTasks() = %d tasks of %d, want 1 of 2", len(res.Tasks), res.Total)
	}

	res, err = env.dispatcher.ListTasks(t.Context(), a2a.ListFilter{State: a2a.TaskStateCompleted})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if res.Total != 0 || res.Tasks == nil {
		t.Errorf("ListTasks(completed) = %+v, want an empty non-nil page", res)
	}

	if _, err := env.dispatcher.ListTasks(t.Context(), a2a.ListFilter{State: "bogus"}); a2a.KindOf(err) != a2a.KindInvalidRequest {
		t.Errorf("ListTasks(bogus) error = %v, want InvalidRequest", err)
	}
}

func TestDispatcher_PushConfig(t *testing.T) {
	disabled := newTestEnv(t)
	if _, err := disabled.dispatcher.GetPushConfig(t.Context(), "t1"); a2a.KindOf(err) != a2a.KindUnsupportedOperation {
		t.Errorf("GetPushConfig() without store error = %v, want UnsupportedOperation", err)
	}
	if disabled.dispatcher.AgentCard().Capabilities.PushNotifications {
		t.Error("agent card advertises push notifications without a config store")
	}

	env := newTestEnv(t, WithPushConfigStore(task.NewInMemoryPushConfigStore()))
	created, err := env.dispatcher.SendMessage(t.Context(), hello())
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	cfg := &a2a.PushNotificationConfig{URL: "https://hooks.example.com/a2a", Token: "s3cret"}

	if _, err := env.dispatcher.SetPushConfig(t.Context(), &a2a.TaskPushConfig{TaskID: "nonexistent", Config: cfg}); a2a.KindOf(err) != a2a.KindTaskNotFound {
		t.Errorf("SetPushConfig(unknown task) error = %v, want TaskNotFound", err)
	}
	if _, err := env.dispatcher.SetPushConfig(t.Context(), &a2a.TaskPushConfig{
		TaskID: created.ID, Config: &a2a.PushNotificationConfig{URL: "ftp://example.com"},
	}); a2a.KindOf(err) != a2a.KindInvalidRequest {
		t.Errorf("SetPushConfig(bad url) error = %v, want InvalidRequest", err)
	}

	if _, err := env.dispatcher.SetPushConfig(t.Context(), &a2a.TaskPushConfig{TaskID: created.ID, Config: cfg}); err != nil {
		t.Fatalf("SetPushConfig() error = %v", err)
	}
	got, err := env.dispatcher.GetPushConfig(t.Context(), created.ID)
	if err != nil {
		t.Fatalf("GetPushConfig() error = %v", err)
	}
	if diff := cmp.Diff(&a2a.TaskPushConfig{TaskID: created.ID, Config: cfg}, got); diff != "" {
		t.Errorf("GetPushConfig() mismatch (-want +got):\n%s", diff)
	}

	if err := env.dispatcher.DeletePushConfig(t.Context(), created.ID); err != nil {
		t.Fatalf("DeletePushConfig() error = %v", err)
	}
	if _, err := env.dispatcher.GetPushConfig(t.Context(), created.ID); a2a.KindOf(err) != a2a.KindPushNotificationConfigNotFound {
		t.Errorf("GetPushConfig() after delete error = %v, want PushNotificationConfigNotFound", err)
	}
}

func TestDispatcher_ExecutorSeesCaller(t *testing.T) {
	users := make(chan string, 1)
	env := newTestEnv(t, WithExecutor(AgentExecutorFunc(func(ctx context.Context, u task.TaskUpdater) error {
		users <- CallContextFrom(ctx).User().UserName()
		return u.Reject(ctx, "not today")
	})))

	ctx := WithCallContext(t.Context(), NewServerCallContext(&auth.AuthenticatedUser{Name: "alice"}, "jsonrpc"))
	if _, err := env.dispatcher.SendMessage(ctx, hello()); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	select {
	case got := <-users:
		if got != "alice" {
			t.Errorf("executor user = %q, want alice", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not run")
	}
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/server/event"
	"github.com/go-a2a/a2a-core/server/task"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func createIn(t *testing.T, store task.Store, path ...a2a.TaskState) *a2a.Task {
	t.Helper()

	created, err := store.Create(t.Context(), &a2a.Task{})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	cur := created
	for _, next := range path {
		cur, err = store.CompareAndTransition(t.Context(), cur.ID, cur.State, next, nil)
		if err != nil {
			t.Fatalf("Failed to move task to %s: %v", next, err)
		}
	}
	return cur
}

func TestSweeper_Sweep(t *testing.T) {
	store := task.NewInMemoryStore()
	broker := event.NewBroker(event.WithHeartbeat(0), event.WithLogger(discard))
	pushConfigs := task.NewInMemoryPushConfigStore()

	done := createIn(t, store, a2a.TaskStateRunning, a2a.TaskStateCompleted)
	canceled := createIn(t, store, a2a.TaskStateCanceled)
	running := createIn(t, store, a2a.TaskStateRunning)

	if err := pushConfigs.Set(t.Context(), done.ID, &a2a.PushNotificationConfig{URL: "https://hooks.example.com"}); err != nil {
		t.Fatalf("Failed to set push config: %v", err)
	}
	if _, err := broker.Subscribe(done.ID); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	detached, err := broker.Subscribe(running.ID)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	detached.Detach()

	now := time.Now()
	s := NewSweeper(store, broker,
		WithWindow(24*time.Hour),
		WithPushConfigStore(pushConfigs),
		WithLogger(discard),
		WithClock(func() time.Time { return now }),
	)

	res, err := s.Sweep(t.Context())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if diff := cmp.Diff(Result{}, res); diff != "" {
		t.Errorf("Sweep() inside the window mismatch (-want +got):\n%s", diff)
	}

	now = now.Add(25 * time.Hour)
	res, err = s.Sweep(t.Context())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if diff := cmp.Diff(Result{Tasks: 2, Subscriptions: 1}, res); diff != "" {
		t.Errorf("Sweep() mismatch (-want +got):\n%s", diff)
	}

	for _, id := range []string{done.ID, canceled.ID} {
		if _, err := store.Get(t.Context(), id); a2a.KindOf(err) != a2a.KindTaskNotFound {
			t.Errorf("Get(%s) after sweep error = %v, want TaskNotFound", id, err)
		}
	}
	if _, err := store.Get(t.Context(), running.ID); err != nil {
		t.Errorf("non-terminal task was removed: %v", err)
	}
	if _, err := pushConfigs.Get(t.Context(), done.ID); a2a.KindOf(err) != a2a.KindPushNotificationConfigNotFound {
		t.Errorf("push config survived its task: %v", err)
	}
	if n := broker.Len(); n != 0 {
		t.Errorf("broker has %d subscriptions after sweep, want 0", n)
	}
}

func TestSweeper_ZeroWindowKeepsTasks(t *testing.T) {
	store := task.NewInMemoryStore()
	broker := event.NewBroker(event.WithHeartbeat(0), event.WithLogger(discard))
	done := createIn(t, store, a2a.TaskStateCanceled)

	s := NewSweeper(store, broker, WithWindow(0), WithLogger(discard),
		WithClock(func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }))
	res, err := s.Sweep(t.Context())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Tasks != 0 {
		t.Errorf("Sweep() removed %d tasks with retention disabled", res.Tasks)
	}
	if _, err := store.Get(t.Context(), done.ID); err != nil {
		t.Errorf("Get() error = %v", err)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	store := task.NewInMemoryStore()
	broker := event.NewBroker(event.WithHeartbeat(0), event.WithLogger(discard))
	done := createIn(t, store, a2a.TaskStateCanceled)

	s := NewSweeper(store, broker,
		WithWindow(time.Millisecond),
		WithInterval(10*time.Millisecond),
		WithLogger(discard),
	)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()
	if err := s.Start(); err == nil {
		t.Error("second Start() succeeded")
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	for {
		if _, err := store.Get(ctx, done.ID); a2a.KindOf(err) == a2a.KindTaskNotFound {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatal("scheduled sweep did not remove the expired task")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

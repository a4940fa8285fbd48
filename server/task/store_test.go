// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/go-a2a/a2a-core"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// One connection keeps the in-memory database alive and shared.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

func newDatabaseStore(t *testing.T) Store {
	t.Helper()

	store, err := NewDatabaseStore(DatabaseStoreConfig{DB: openTestDB(t), CreateTable: true})
	if err != nil {
		t.Fatalf("Failed to create database store: %v", err)
	}
	if err := store.Initialize(t.Context()); err != nil {
		t.Fatalf("Failed to initialize database store: %v", err)
	}
	return store
}

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory":   func(t *testing.T) Store { return NewInMemoryStore() },
		"database": newDatabaseStore,
		"cached": func(t *testing.T) Store {
			s, err := NewCachedStore(NewInMemoryStore(), 8)
			if err != nil {
				t.Fatalf("Failed to create cached store: %v", err)
			}
			return s
		},
		"publishing": func(t *testing.T) Store {
			return NewPublishingStore(NewInMemoryStore(), SinkFunc(func(context.Context, a2a.TaskEvent) {}))
		},
	}
}

func userMessage(text string) a2a.Message {
	return a2a.Message{Role: a2a.RoleUser, Parts: []a2a.Part{a2a.NewTextPart(text)}}
}

func createTask(t *testing.T, store Store, sessionID string) *a2a.Task {
	t.Helper()

	task, err := store.Create(t.Context(), &a2a.Task{
		SessionID: sessionID,
		Messages:  []a2a.Message{userMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	return task
}

var taskCmpOpts = []cmp.Option{
	cmpopts.EquateEmpty(),
	cmpopts.EquateApproxTime(time.Millisecond),
}

func TestStore_CreateGet(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			created := createTask(t, store, "s1")

			if created.ID == "" {
				t.Fatal("Create() did not assign an ID")
			}
			if created.State != a2a.TaskStateQueued || created.Version != 1 {
				t.Errorf("Create() = state %s version %d, want queued 1", created.State, created.Version)
			}
			if !created.CreatedAt.Equal(created.UpdatedAt) {
				t.Errorf("CreatedAt %v != UpdatedAt %v", created.CreatedAt, created.UpdatedAt)
			}

			got, err := store.Get(t.Context(), created.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if diff := cmp.Diff(created, got, taskCmpOpts...); diff != "" {
				t.Errorf("Get() mismatch (-want +got):\n%s", diff)
			}

			other := createTask(t, store, "s1")
			if other.ID == created.ID {
				t.Errorf("Create() reused ID %s", other.ID)
			}
		})
	}
}

func TestStore_CreateRejectsTerminalState(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			_, err := newStore(t).Create(t.Context(), &a2a.Task{State: a2a.TaskStateCompleted})
			if !errors.Is(err, a2a.ErrInvalidTransition) {
				t.Errorf("Create(completed) = %v, want InvalidTransition", err)
			}
		})
	}
}

func TestStore_GetNotFound(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			_, err := newStore(t).Get(t.Context(), "nonexistent")
			if !errors.Is(err, a2a.ErrTaskNotFound) {
				t.Errorf("Get() = %v, want TaskNotFound", err)
			}
			_, err = newStore(t).CompareAndTransition(t.Context(), "nonexistent", a2a.TaskStateQueued, a2a.TaskStateRunning, nil)
			if !errors.Is(err, a2a.ErrTaskNotFound) {
				t.Errorf("CompareAndTransition() = %v, want TaskNotFound", err)
			}
		})
	}
}

func TestStore_CompareAndTransition(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			store := newStore(t)
			task := createTask(t, store, "")

			running, err := store.CompareAndTransition(ctx, task.ID, a2a.TaskStateQueued, a2a.TaskStateRunning, func(tk *a2a.Task) error {
				tk.Metadata = map[string]any{"step": "start"}
				tk.State = a2a.TaskStateCompleted // ignored
				tk.Version = 99                   // ignored
				return nil
			})
			if err != nil {
				t.Fatalf("CompareAndTransition() error = %v", err)
			}
			if running.State != a2a.TaskStateRunning || running.Version != 2 {
				t.Errorf("got state %s version %d, want running 2", running.State, running.Version)
			}
			if running.Metadata["step"] != "start" {
				t.Errorf("mutator change lost: %v", running.Metadata)
			}
			if running.UpdatedAt.Before(task.UpdatedAt) {
				t.Errorf("UpdatedAt went backwards: %v < %v", running.UpdatedAt, task.UpdatedAt)
			}

			// Stale expectation.
			_, err = store.CompareAndTransition(ctx, task.ID, a2a.TaskStateQueued, a2a.TaskStateCanceled, nil)
			var e *a2a.Error
			if !errors.As(err, &e) || e.Kind != a2a.KindConflict {
				t.Fatalf("stale CompareAndTransition() = %v, want Conflict", err)
			}
			if e.State != a2a.TaskStateRunning || e.TaskID != task.ID {
				t.Errorf("Conflict error = %+v, want current state running", e)
			}

			failed, err := store.CompareAndTransition(ctx, task.ID, a2a.TaskStateRunning, a2a.TaskStateFailed, func(tk *a2a.Task) error {
				tk.Error = &a2a.TaskError{Message: "boom"}
				return nil
			})
			if err != nil {
				t.Fatalf("CompareAndTransition(failed) error = %v", err)
			}
			if failed.Error == nil || failed.Error.Message != "boom" {
				t.Errorf("Error = %+v, want boom", failed.Error)
			}
		})
	}
}

func TestStore_ErrorClearedOutsideFailure(t *testing.T) {
	store := NewInMemoryStore()
	task := createTask(t, store, "")

	got, err := store.CompareAndTransition(t.Context(), task.ID, a2a.TaskStateQueued, a2a.TaskStateRunning, func(tk *a2a.Task) error {
		tk.Error = &a2a.TaskError{Message: "not allowed here"}
		return nil
	})
	if err != nil {
		t.Fatalf("CompareAndTransition() error = %v", err)
	}
	if got.Error != nil {
		t.Errorf("Error = %+v, want nil while running", got.Error)
	}
}

func TestStore_MutatorErrorLeavesTaskUnchanged(t *testing.T) {
	store := NewInMemoryStore()
	task := createTask(t, store, "")
	wantErr := errors.New("mutator failed")

	_, err := store.CompareAndTransition(t.Context(), task.ID, a2a.TaskStateQueued, a2a.TaskStateRunning, func(tk *a2a.Task) error {
		tk.Metadata = map[string]any{"x": 1}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("CompareAndTransition() = %v, want %v", err, wantErr)
	}

	got, _ := store.Get(t.Context(), task.ID)
	if diff := cmp.Diff(task, got, taskCmpOpts...); diff != "" {
		t.Errorf("task changed (-want +got):\n%s", diff)
	}
}

func TestStore_InvalidTransitionLeavesStateUnchanged(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			store := newStore(t)
			task := createTask(t, store, "")

			if _, err := store.CompareAndTransition(ctx, task.ID, a2a.TaskStateQueued, a2a.TaskStateRunning, nil); err != nil {
				t.Fatalf("CompareAndTransition(running) error = %v", err)
			}
			completed, err := store.CompareAndTransition(ctx, task.ID, a2a.TaskStateRunning, a2a.TaskStateCompleted, nil)
			if err != nil {
				t.Fatalf("CompareAndTransition(completed) error = %v", err)
			}

			_, err = store.CompareAndTransition(ctx, task.ID, a2a.TaskStateCompleted, a2a.TaskStateRunning, nil)
			var e *a2a.Error
			if !errors.As(err, &e) || e.Kind != a2a.KindInvalidTransition {
				t.Fatalf("CompareAndTransition(completed->running) = %v, want InvalidTransition", err)
			}
			if e.TaskID != task.ID || e.State != a2a.TaskStateCompleted {
				t.Errorf("error = %+v, want task %s in completed", e, task.ID)
			}

			got, err := store.Get(ctx, task.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if diff := cmp.Diff(completed, got, taskCmpOpts...); diff != "" {
				t.Errorf("stored task changed (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_AtMostOneWinner(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			store := newStore(t)

			for round := range 20 {
				task := createTask(t, store, "")
				targets := []a2a.TaskState{a2a.TaskStateRunning, a2a.TaskStateCanceled, a2a.TaskStateRejected}

				var (
					wg     sync.WaitGroup
					mu     sync.Mutex
					wins   []a2a.TaskState
					others []error
				)
				start := make(chan struct{})
				for _, target := range targets {
					wg.Add(1)
					go func() {
						defer wg.Done()
						<-start
						_, err := store.CompareAndTransition(ctx, task.ID, a2a.TaskStateQueued, target, nil)
						mu.Lock()
						defer mu.Unlock()
						if err == nil {
							wins = append(wins, target)
							return
						}
						others = append(others, err)
					}()
				}
				close(start)
				wg.Wait()

				if len(wins) != 1 {
					t.Fatalf("round %d: %d winners %v, want exactly 1", round, len(wins), wins)
				}
				for _, err := range others {
					if !errors.Is(err, a2a.ErrConflict) {
						t.Errorf("round %d: loser error = %v, want Conflict", round, err)
					}
				}
				got, err := store.Get(ctx, task.ID)
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if got.State != wins[0] || got.Version != 2 {
					t.Errorf("round %d: stored state %s version %d, want %s 2", round, got.State, got.Version, wins[0])
				}
			}
		})
	}
}

func TestStore_AppendArtifact(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			store := newStore(t)
			task := createTask(t, store, "")

			got, err := store.AppendArtifact(ctx, task.ID, a2a.NewArtifact(a2a.NewTextPart("partial")))
			if err != nil {
				t.Fatalf("AppendArtifact() error = %v", err)
			}
			if len(got.Artifacts) != 1 || got.Artifacts[0].ArtifactID == "" || got.Version != 2 {
				t.Fatalf("AppendArtifact() = %+v", got)
			}

			dup := a2a.Artifact{ArtifactID: got.Artifacts[0].ArtifactID, Parts: []a2a.Part{a2a.NewTextPart("x")}}
			if _, err := store.AppendArtifact(ctx, task.ID, dup); !errors.Is(err, a2a.ErrInvalidMessageFormat) {
				t.Errorf("duplicate AppendArtifact() = %v, want InvalidMessageFormat", err)
			}
			if _, err := store.AppendArtifact(ctx, task.ID, a2a.Artifact{}); !errors.Is(err, a2a.ErrInvalidMessageFormat) {
				t.Errorf("empty AppendArtifact() = %v, want InvalidMessageFormat", err)
			}

			if _, err := store.CompareAndTransition(ctx, task.ID, a2a.TaskStateQueued, a2a.TaskStateCanceled, nil); err != nil {
				t.Fatalf("CompareAndTransition() error = %v", err)
			}
			_, err = store.AppendArtifact(ctx, task.ID, a2a.NewArtifact(a2a.NewTextPart("late")))
			if !errors.Is(err, a2a.ErrInvalidTransition) {
				t.Errorf("AppendArtifact(terminal) = %v, want InvalidTransition", err)
			}
			if _, err := store.AppendArtifact(ctx, "nonexistent", a2a.NewArtifact(a2a.NewTextPart("x"))); !errors.Is(err, a2a.ErrTaskNotFound) {
				t.Errorf("AppendArtifact(missing) = %v, want TaskNotFound", err)
			}
		})
	}
}

func TestStore_List(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			store := newStore(t)

			var ids []string
			for i := range 5 {
				task := createTask(t, store, fmt.Sprintf("s%d", i%2))
				ids = append(ids, task.ID)
			}
			if _, err := store.CompareAndTransition(ctx, ids[0], a2a.TaskStateQueued, a2a.TaskStateCanceled, nil); err != nil {
				t.Fatalf("CompareAndTransition() error = %v", err)
			}

			tests := []struct {
				name      string
				filter    a2a.ListFilter
				wantIDs   []string
				wantTotal int
			}{
				{name: "all", filter: a2a.ListFilter{}, wantIDs: ids, wantTotal: 5},
				{name: "session", filter: a2a.ListFilter{SessionID: "s0"}, wantIDs: []string{ids[0], ids[2], ids[4]}, wantTotal: 3},
				{name: "state", filter: a2a.ListFilter{State: a2a.TaskStateQueued}, wantIDs: ids[1:], wantTotal: 4},
				{name: "page", filter: a2a.ListFilter{Limit: 2, Offset: 1}, wantIDs: ids[1:3], wantTotal: 5},
				{name: "past end", filter: a2a.ListFilter{Offset: 10}, wantIDs: nil, wantTotal: 5},
				{name: "terminal", filter: a2a.ListFilter{TerminalOnly: true}, wantIDs: ids[:1], wantTotal: 1},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					tasks, total, err := store.List(ctx, tt.filter)
					if err != nil {
						t.Fatalf("List() error = %v", err)
					}
					var got []string
					for _, task := range tasks {
						got = append(got, task.ID)
					}
					if diff := cmp.Diff(tt.wantIDs, got, cmpopts.EquateEmpty()); diff != "" {
						t.Errorf("List() IDs mismatch (-want +got):\n%s", diff)
					}
					if total != tt.wantTotal {
						t.Errorf("List() total = %d, want %d", total, tt.wantTotal)
					}
				})
			}

			if _, _, err := store.List(ctx, a2a.ListFilter{State: "bogus"}); !errors.Is(err, a2a.ErrInvalidRequest) {
				t.Errorf("List(bogus) = %v, want InvalidRequest", err)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			store := newStore(t)
			task := createTask(t, store, "")

			if err := store.Delete(ctx, task.ID); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := store.Get(ctx, task.ID); !errors.Is(err, a2a.ErrTaskNotFound) {
				t.Errorf("Get() after Delete() = %v, want TaskNotFound", err)
			}
			if err := store.Delete(ctx, task.ID); !errors.Is(err, a2a.ErrTaskNotFound) {
				t.Errorf("second Delete() = %v, want TaskNotFound", err)
			}
		})
	}
}

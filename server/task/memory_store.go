// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/go-a2a/a2a-core"
)

// InMemoryStore is an in-memory implementation of [Store].
//
// The task map is guarded by one RWMutex; each task additionally has its own
// mutex so that transitions on different tasks never contend.
type InMemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*memoryEntry
}

type memoryEntry struct {
	mu      sync.Mutex
	task    *a2a.Task
	deleted bool
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates a new [InMemoryStore].
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks: make(map[string]*memoryEntry),
	}
}

// Create implements [Store].
func (s *InMemoryStore) Create(ctx context.Context, task *a2a.Task) (*a2a.Task, error) {
	t, err := prepareCreate(task)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return nil, a2a.Errorf(a2a.KindConflict, "task %s already exists", t.ID)
	}
	s.tasks[t.ID] = &memoryEntry{task: t}

	return t.Clone(), nil
}

func (s *InMemoryStore) entry(taskID string) (*memoryEntry, error) {
	s.mu.RLock()
	e, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, a2a.NewTaskNotFoundError(taskID)
	}
	return e, nil
}

// Get implements [Store].
func (s *InMemoryStore) Get(ctx context.Context, taskID string) (*a2a.Task, error) {
	e, err := s.entry(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, a2a.NewTaskNotFoundError(taskID)
	}

	return e.task.Clone(), nil
}

// CompareAndTransition implements [Store].
func (s *InMemoryStore) CompareAndTransition(ctx context.Context, taskID string, expected, target a2a.TaskState, mutate Mutator) (*a2a.Task, error) {
	return s.update(taskID, func(cur *a2a.Task) (*a2a.Task, error) {
		return applyTransition(cur, expected, target, mutate)
	})
}

// AppendArtifact implements [Store].
func (s *InMemoryStore) AppendArtifact(ctx context.Context, taskID string, artifact a2a.Artifact) (*a2a.Task, error) {
	return s.update(taskID, func(cur *a2a.Task) (*a2a.Task, error) {
		return applyArtifact(cur, artifact)
	})
}

func (s *InMemoryStore) update(taskID string, fn func(cur *a2a.Task) (*a2a.Task, error)) (*a2a.Task, error) {
	e, err := s.entry(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, a2a.NewTaskNotFoundError(taskID)
	}

	next, err := fn(e.task)
	if err != nil {
		return nil, err
	}
	e.task = next

	return next.Clone(), nil
}

// List implements [Store].
func (s *InMemoryStore) List(ctx context.Context, filter a2a.ListFilter) ([]*a2a.Task, int, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}
	filter = filter.Normalize()

	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var matched []*a2a.Task
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && filter.Match(e.task) {
			matched = append(matched, e.task.Clone())
		}
		e.mu.Unlock()
	}
	slices.SortFunc(matched, func(a, b *a2a.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return page(matched, filter), len(matched), nil
}

// Delete implements [Store].
func (s *InMemoryStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	e, ok := s.tasks[taskID]
	if ok {
		delete(s.tasks, taskID)
	}
	s.mu.Unlock()
	if !ok {
		return a2a.NewTaskNotFoundError(taskID)
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()

	return nil
}

// Len returns the number of stored tasks.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

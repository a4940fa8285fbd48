// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/go-a2a/a2a-core"
)

// CachedStore is a read-through LRU cache in front of another [Store].
//
// It assumes it is the only writer of the underlying store.
type CachedStore struct {
	next  Store
	mu    sync.Mutex
	cache *lru.Cache[string, *a2a.Task]
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore wraps next with an LRU cache holding up to size tasks.
func NewCachedStore(next Store, size int) (*CachedStore, error) {
	cache, err := lru.New[string, *a2a.Task](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{next: next, cache: cache}, nil
}

// remember caches t unless a newer version is already cached.
func (s *CachedStore) remember(t *a2a.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.cache.Peek(t.ID); ok && old.Version > t.Version {
		return
	}
	s.cache.Add(t.ID, t.Clone())
}

// Create implements [Store].
func (s *CachedStore) Create(ctx context.Context, task *a2a.Task) (*a2a.Task, error) {
	t, err := s.next.Create(ctx, task)
	if err != nil {
		return nil, err
	}
	s.remember(t)
	return t, nil
}

// Get implements [Store].
func (s *CachedStore) Get(ctx context.Context, taskID string) (*a2a.Task, error) {
	if t, ok := s.cache.Get(taskID); ok {
		return t.Clone(), nil
	}
	t, err := s.next.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.remember(t)
	return t, nil
}

// CompareAndTransition implements [Store].
func (s *CachedStore) CompareAndTransition(ctx context.Context, taskID string, expected, target a2a.TaskState, mutate Mutator) (*a2a.Task, error) {
	t, err := s.next.CompareAndTransition(ctx, taskID, expected, target, mutate)
	if err != nil {
		s.forgetIfMissing(taskID, err)
		return nil, err
	}
	s.remember(t)
	return t, nil
}

// AppendArtifact implements [Store].
func (s *CachedStore) AppendArtifact(ctx context.Context, taskID string, artifact a2a.Artifact) (*a2a.Task, error) {
	t, err := s.next.AppendArtifact(ctx, taskID, artifact)
	if err != nil {
		s.forgetIfMissing(taskID, err)
		return nil, err
	}
	s.remember(t)
	return t, nil
}

// List implements [Store]. Listing always reads through.
func (s *CachedStore) List(ctx context.Context, filter a2a.ListFilter) ([]*a2a.Task, int, error) {
	return s.next.List(ctx, filter)
}

// Delete implements [Store].
func (s *CachedStore) Delete(ctx context.Context, taskID string) error {
	s.cache.Remove(taskID)
	return s.next.Delete(ctx, taskID)
}

func (s *CachedStore) forgetIfMissing(taskID string, err error) {
	if a2a.KindOf(err) == a2a.KindTaskNotFound {
		s.cache.Remove(taskID)
	}
}

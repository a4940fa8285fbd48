// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"sync"

	"github.com/go-a2a/a2a-core"
)

// Sink receives task events in commit order. Publish must enqueue and return
// without waiting for delivery.
type Sink interface {
	Publish(ctx context.Context, ev a2a.TaskEvent)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, ev a2a.TaskEvent)

// Publish implements [Sink].
func (f SinkFunc) Publish(ctx context.Context, ev a2a.TaskEvent) { f(ctx, ev) }

// PublishingStore wraps a [Store] and emits an event to every sink after
// each successful mutation.
//
// Mutations of one task are serialized by a per-task lock held across commit
// and publish, so sinks observe events in exactly the committed order.
// Different tasks never share a lock.
type PublishingStore struct {
	Store
	sinks []Sink
	locks keyedMutex
}

var _ Store = (*PublishingStore)(nil)

// NewPublishingStore wraps next so that mutations are published to sinks.
func NewPublishingStore(next Store, sinks ...Sink) *PublishingStore {
	return &PublishingStore{Store: next, sinks: sinks}
}

func (s *PublishingStore) publish(ctx context.Context, ev a2a.TaskEvent) {
	for _, sink := range s.sinks {
		sink.Publish(ctx, ev)
	}
}

// Create implements [Store].
func (s *PublishingStore) Create(ctx context.Context, task *a2a.Task) (*a2a.Task, error) {
	t, err := s.Store.Create(ctx, task)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, a2a.NewStatusEvent(t))
	return t, nil
}

// CompareAndTransition implements [Store].
func (s *PublishingStore) CompareAndTransition(ctx context.Context, taskID string, expected, target a2a.TaskState, mutate Mutator) (*a2a.Task, error) {
	unlock := s.locks.Lock(taskID)
	defer unlock()

	t, err := s.Store.CompareAndTransition(ctx, taskID, expected, target, mutate)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, a2a.NewStatusEvent(t))
	return t, nil
}

// AppendArtifact implements [Store].
func (s *PublishingStore) AppendArtifact(ctx context.Context, taskID string, artifact a2a.Artifact) (*a2a.Task, error) {
	unlock := s.locks.Lock(taskID)
	defer unlock()

	t, err := s.Store.AppendArtifact(ctx, taskID, artifact)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, a2a.NewArtifactEvent(t, t.Artifacts[len(t.Artifacts)-1]))
	return t, nil
}

// Delete implements [Store].
func (s *PublishingStore) Delete(ctx context.Context, taskID string) error {
	unlock := s.locks.Lock(taskID)
	defer unlock()

	return s.Store.Delete(ctx, taskID)
}

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock locks key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

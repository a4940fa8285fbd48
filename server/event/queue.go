// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"errors"
	"sync"

	"github.com/go-a2a/a2a-core"
)

// DefaultMaxQueueSize is the default capacity of an [EventQueue].
const DefaultMaxQueueSize = 64

var (
	// ErrQueueClosed is returned by [EventQueue.Dequeue] once the queue is
	// closed and drained.
	ErrQueueClosed = errors.New("event queue is closed")

	// ErrQueueFull is returned by [EventQueue.Enqueue] under the disconnect
	// policy when the queue is at capacity.
	ErrQueueFull = errors.New("event queue is full")
)

// OverflowPolicy decides what a full [EventQueue] does with a new event.
type OverflowPolicy string

const (
	// DropOldest discards the oldest buffered event to make room.
	DropOldest OverflowPolicy = "drop-oldest"
	// Disconnect refuses the event and closes the queue.
	Disconnect OverflowPolicy = "disconnect"
)

// EventQueue is a bounded FIFO of task events. Enqueue never blocks.
type EventQueue struct {
	mu       sync.Mutex
	buf      []a2a.TaskEvent
	capacity int
	policy   OverflowPolicy
	notify   chan struct{}
	closed   bool
	dropped  int
}

// NewEventQueue creates a new EventQueue with the specified capacity.
func NewEventQueue(capacity int, policy OverflowPolicy) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultMaxQueueSize
	}
	if policy == "" {
		policy = DropOldest
	}
	return &EventQueue{
		buf:      make([]a2a.TaskEvent, 0, capacity),
		capacity: capacity,
		policy:   policy,
		notify:   make(chan struct{}, 1),
	}
}

func (q *EventQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Enqueue appends ev. It reports whether an older event was dropped to make
// room; under the disconnect policy a full queue is closed and ErrQueueFull
// returned.
func (q *EventQueue) Enqueue(ev a2a.TaskEvent) (dropped bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrQueueClosed
	}
	if len(q.buf) >= q.capacity {
		if q.policy == Disconnect {
			q.closed = true
			q.buf = q.buf[:0]
			q.signal()
			return false, ErrQueueFull
		}
		copy(q.buf, q.buf[1:])
		q.buf = q.buf[:len(q.buf)-1]
		q.dropped++
		dropped = true
	}
	q.buf = append(q.buf, ev)
	q.signal()

	return dropped, nil
}

// TryDequeue removes and returns the head of the queue without blocking.
func (q *EventQueue) TryDequeue() (a2a.TaskEvent, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buf) > 0 {
		ev := q.buf[0]
		copy(q.buf, q.buf[1:])
		q.buf = q.buf[:len(q.buf)-1]
		return ev, true, nil
	}
	if q.closed {
		return a2a.TaskEvent{}, false, ErrQueueClosed
	}
	return a2a.TaskEvent{}, false, nil
}

// Dequeue blocks until an event is available, the queue is closed or ctx is
// done.
func (q *EventQueue) Dequeue(ctx context.Context) (a2a.TaskEvent, error) {
	for {
		ev, ok, err := q.TryDequeue()
		if ok || err != nil {
			return ev, err
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return a2a.TaskEvent{}, ctx.Err()
		}
	}
}

// Ready returns a channel that receives a value when the queue may have
// changed.
func (q *EventQueue) Ready() <-chan struct{} { return q.notify }

// PrependAfter drops every buffered status or artifact event whose sequence
// number is at or below head.Seq and puts head at the front.
func (q *EventQueue) PrependAfter(head a2a.TaskEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make([]a2a.TaskEvent, 0, q.capacity)
	kept = append(kept, head)
	for _, ev := range q.buf {
		if ev.Seq > head.Seq {
			kept = append(kept, ev)
		}
	}
	if len(kept) > q.capacity {
		q.dropped += len(kept) - q.capacity
		kept = append(kept[:1], kept[len(kept)-q.capacity+1:]...)
	}
	q.buf = kept
	q.signal()
}

// Requeue puts evs back at the front of the queue, ahead of the buffered
// events. The oldest events are dropped when the result exceeds capacity.
func (q *EventQueue) Requeue(evs []a2a.TaskEvent) {
	if len(evs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	kept := make([]a2a.TaskEvent, 0, max(q.capacity, len(evs)+len(q.buf)))
	kept = append(kept, evs...)
	kept = append(kept, q.buf...)
	if over := len(kept) - q.capacity; over > 0 {
		q.dropped += over
		kept = kept[over:]
	}
	q.buf = kept
	q.signal()
}

// DiscardThrough drops buffered events with a sequence number at or below seq.
func (q *EventQueue) DiscardThrough(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.buf[:0]
	for _, ev := range q.buf {
		if ev.Seq > seq {
			kept = append(kept, ev)
		}
	}
	q.buf = kept
}

// Close closes the queue. Buffered events remain readable.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.signal()
	}
}

// Len returns the number of buffered events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped returns how many events were discarded by the overflow policy.
func (q *EventQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-a2a/a2a-core"
)

// ErrSlowConsumer is returned by [Subscription.Next] after the subscription
// was disconnected for falling behind.
var ErrSlowConsumer = errors.New("subscription closed: consumer too slow")

// Subscription is one live connection's view of a task's event stream.
//
// Next returns the snapshot first, then committed events in order, with
// heartbeats interleaved. After the final event has been returned, Next
// reports [io.EOF].
type Subscription struct {
	id     string
	taskID string
	broker *Broker
	queue  *EventQueue
	ticker *time.Ticker

	mu         sync.Mutex
	lastSeq    uint64
	finished   bool
	closed     bool
	overflowed bool
	detachedAt time.Time

	// sent holds the most recent events returned by Next. A write can fail
	// after Next returned, so Resume puts back what the client did not
	// acknowledge.
	sent []a2a.TaskEvent
}

// ID returns the subscription ID, used as resume token prefix.
func (s *Subscription) ID() string { return s.id }

// TaskID returns the task the subscription follows.
func (s *Subscription) TaskID() string { return s.taskID }

// Prime places the synthetic snapshot of t at the head of the stream and
// discards already buffered events it supersedes.
func (s *Subscription) Prime(t *a2a.Task) {
	s.queue.PrependAfter(a2a.NewSnapshotEvent(t))
}

// Next blocks until the next event is available.
func (s *Subscription) Next(ctx context.Context) (a2a.TaskEvent, error) {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished {
		return a2a.TaskEvent{}, io.EOF
	}

	var tick <-chan time.Time
	if s.ticker != nil {
		tick = s.ticker.C
	}
	for {
		ev, ok, err := s.queue.TryDequeue()
		if ok {
			s.mu.Lock()
			s.lastSeq = max(s.lastSeq, ev.Seq)
			s.remember(ev)
			if ev.Final {
				s.finished = true
			}
			s.mu.Unlock()
			return ev, nil
		}
		if err != nil {
			s.mu.Lock()
			overflowed := s.overflowed
			s.mu.Unlock()
			if overflowed {
				return a2a.TaskEvent{}, ErrSlowConsumer
			}
			return a2a.TaskEvent{}, io.EOF
		}

		select {
		case <-s.queue.Ready():
		case now := <-tick:
			return a2a.NewHeartbeatEvent(s.taskID, now.UTC()), nil
		case <-ctx.Done():
			return a2a.TaskEvent{}, ctx.Err()
		}
	}
}

func (s *Subscription) remember(ev a2a.TaskEvent) {
	if over := len(s.sent) - s.queue.capacity + 1; over > 0 {
		s.sent = slices.Delete(s.sent, 0, over)
	}
	s.sent = append(s.sent, ev)
}

// unacked returns the sent events after seq and forgets the rest.
func (s *Subscription) unacked(seq uint64) []a2a.TaskEvent {
	var out []a2a.TaskEvent
	for _, ev := range s.sent {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	s.sent = s.sent[:0]
	return out
}

// LastSeq returns the sequence number of the last task event returned.
func (s *Subscription) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// ResumeToken returns the token a client presents to continue this stream
// after the given event.
func (s *Subscription) ResumeToken(ev a2a.TaskEvent) string {
	return FormatResumeToken(s.id, ev.Seq)
}

// Detach marks the subscription as disconnected after a failed or
// abandoned write. It keeps buffering events until resumed or reaped after
// the grace period, including when the event that failed was the final one.
func (s *Subscription) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.detachedAt.IsZero() {
		s.detachedAt = time.Now()
	}
}

// Close removes the subscription from its broker.
func (s *Subscription) Close() {
	s.broker.remove(s)
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.queue.Close()
}

// FormatResumeToken joins a subscription ID and a sequence number.
func FormatResumeToken(subID string, seq uint64) string {
	return subID + ":" + strconv.FormatUint(seq, 10)
}

// ParseResumeToken splits a token produced by [FormatResumeToken].
func ParseResumeToken(token string) (subID string, seq uint64, err error) {
	id, n, ok := strings.Cut(token, ":")
	if !ok || id == "" {
		return "", 0, fmt.Errorf("malformed resume token %q", token)
	}
	seq, err = strconv.ParseUint(n, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed resume token %q: %w", token, err)
	}
	return id, seq, nil
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package event fans committed task events out to live stream subscribers.
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/internal/metrics"
)

// Default broker settings.
const (
	DefaultMaxSubscribers    = 32
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultGracePeriod       = 30 * time.Second
)

// BrokerConfig holds configuration for a [Broker].
type BrokerConfig struct {
	// BufferSize is the capacity of each subscription's queue.
	BufferSize int
	// MaxSubscribers caps the live subscriptions of a single task.
	MaxSubscribers int
	// Overflow selects the backpressure policy for slow subscribers.
	Overflow OverflowPolicy
	// Heartbeat is the interval between heartbeat events on idle and busy
	// streams alike.
	Heartbeat time.Duration
	// Grace is how long a detached subscription is kept for resumption.
	Grace time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Option configures a [Broker].
type Option func(*BrokerConfig)

// WithBufferSize sets the per-subscription queue capacity.
func WithBufferSize(n int) Option { return func(c *BrokerConfig) { c.BufferSize = n } }

// WithMaxSubscribers sets the per-task subscriber cap.
func WithMaxSubscribers(n int) Option { return func(c *BrokerConfig) { c.MaxSubscribers = n } }

// WithOverflowPolicy sets the backpressure policy.
func WithOverflowPolicy(p OverflowPolicy) Option { return func(c *BrokerConfig) { c.Overflow = p } }

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(d time.Duration) Option { return func(c *BrokerConfig) { c.Heartbeat = d } }

// WithGracePeriod sets how long detached subscriptions survive.
func WithGracePeriod(d time.Duration) Option { return func(c *BrokerConfig) { c.Grace = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *BrokerConfig) { c.Logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(c *BrokerConfig) { c.Metrics = m } }

// Broker keeps the ordered subscriber list of every task and fans committed
// events out to them.
//
// Publish never blocks on a subscriber: every subscription owns a bounded
// queue governed by the configured [OverflowPolicy].
type Broker struct {
	cfg BrokerConfig

	mu     sync.Mutex
	topics map[string][]*Subscription
	byID   map[string]*Subscription
}

// NewBroker creates a new Broker.
func NewBroker(opts ...Option) *Broker {
	cfg := BrokerConfig{
		BufferSize:     DefaultMaxQueueSize,
		MaxSubscribers: DefaultMaxSubscribers,
		Overflow:       DropOldest,
		Heartbeat:      DefaultHeartbeatInterval,
		Grace:          DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Broker{
		cfg:    cfg,
		topics: make(map[string][]*Subscription),
		byID:   make(map[string]*Subscription),
	}
}

// Config returns the broker configuration.
func (b *Broker) Config() BrokerConfig { return b.cfg }

// Subscribe attaches a new subscription to taskID. The caller must Prime it
// with the task's current state before reading.
func (b *Broker) Subscribe(taskID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.MaxSubscribers > 0 && len(b.topics[taskID]) >= b.cfg.MaxSubscribers {
		return nil, &a2a.Error{
			Kind:    a2a.KindRateLimited,
			Message: fmt.Sprintf("task already has %d subscribers", len(b.topics[taskID])),
			TaskID:  taskID,
		}
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		taskID: taskID,
		broker: b,
		queue:  NewEventQueue(b.cfg.BufferSize, b.cfg.Overflow),
	}
	if b.cfg.Heartbeat > 0 {
		sub.ticker = time.NewTicker(b.cfg.Heartbeat)
	}
	b.topics[taskID] = append(b.topics[taskID], sub)
	b.byID[sub.id] = sub
	b.cfg.Metrics.SubscriptionOpened()

	return sub, nil
}

// Publish implements the task store sink. It enqueues ev on every
// subscription of ev.TaskID in subscription order.
func (b *Broker) Publish(ctx context.Context, ev a2a.TaskEvent) {
	b.mu.Lock()
	subs := slices.Clone(b.topics[ev.TaskID])
	b.mu.Unlock()

	for _, sub := range subs {
		dropped, err := sub.queue.Enqueue(ev)
		switch {
		case errors.Is(err, ErrQueueFull):
			sub.mu.Lock()
			sub.overflowed = true
			sub.mu.Unlock()
			b.cfg.Logger.WarnContext(ctx, "disconnecting slow subscriber",
				"task_id", ev.TaskID, "subscription_id", sub.id)
			b.cfg.Metrics.ObserveDroppedEvent(string(Disconnect))
			b.remove(sub)
		case dropped:
			b.cfg.Metrics.ObserveDroppedEvent(string(DropOldest))
		}
	}
}

// Resume reattaches a detached subscription of taskID within the grace
// period. Events the client acknowledged through lastSeq are discarded;
// events already sent after lastSeq are delivered again. A subscription that
// is still attached to a connection cannot be resumed.
func (b *Broker) Resume(taskID, subID string, lastSeq uint64) (*Subscription, error) {
	b.mu.Lock()
	sub, ok := b.byID[subID]
	b.mu.Unlock()
	if !ok || sub.taskID != taskID {
		return nil, a2a.Errorf(a2a.KindInvalidRequest, "subscription %s cannot be resumed", subID)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return nil, a2a.Errorf(a2a.KindInvalidRequest, "subscription %s is closed", subID)
	}
	if sub.detachedAt.IsZero() {
		return nil, a2a.Errorf(a2a.KindInvalidRequest, "subscription %s is still attached", subID)
	}
	sub.detachedAt = time.Time{}
	sub.queue.DiscardThrough(lastSeq)
	if replay := sub.unacked(lastSeq); len(replay) > 0 {
		sub.queue.Requeue(replay)
		sub.finished = false
	}

	return sub, nil
}

// Reap tears down subscriptions detached for longer than the grace period.
// It returns the number of subscriptions removed.
func (b *Broker) Reap(now time.Time) int {
	b.mu.Lock()
	var expired []*Subscription
	for _, sub := range b.byID {
		sub.mu.Lock()
		if !sub.detachedAt.IsZero() && now.Sub(sub.detachedAt) >= b.cfg.Grace {
			expired = append(expired, sub)
		}
		sub.mu.Unlock()
	}
	b.mu.Unlock()

	for _, sub := range expired {
		b.cfg.Logger.Debug("reaping detached subscription", "task_id", sub.taskID, "subscription_id", sub.id)
		b.remove(sub)
	}
	return len(expired)
}

// CloseTask tears down every subscription of taskID.
func (b *Broker) CloseTask(taskID string) {
	b.mu.Lock()
	subs := slices.Clone(b.topics[taskID])
	b.mu.Unlock()

	for _, sub := range subs {
		b.remove(sub)
	}
}

// Subscribers returns the number of subscriptions of taskID.
func (b *Broker) Subscribers(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[taskID])
}

// Len returns the total number of subscriptions.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.byID[sub.id]
	if ok {
		delete(b.byID, sub.id)
		subs := slices.DeleteFunc(b.topics[sub.taskID], func(s *Subscription) bool { return s == sub })
		if len(subs) == 0 {
			delete(b.topics, sub.taskID)
		} else {
			b.topics[sub.taskID] = subs
		}
	}
	b.mu.Unlock()

	sub.shutdown()
	if ok {
		b.cfg.Metrics.SubscriptionClosed()
	}
}

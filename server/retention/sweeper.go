// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package retention removes terminal tasks that have outlived the retention
// window, together with their push configs and subscriptions, and reaps
// detached subscriptions whose grace period expired.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/server/event"
	"github.com/go-a2a/a2a-core/server/task"
)

// Default sweeper settings.
const (
	DefaultWindow   = 24 * time.Hour
	DefaultInterval = time.Minute
)

// Result reports what one sweep removed.
type Result struct {
	Tasks         int
	Subscriptions int
}

// Sweeper periodically applies the retention policy.
type Sweeper struct {
	store       task.Store
	broker      *event.Broker
	pushConfigs task.PushConfigStore
	window      time.Duration
	interval    time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

// Option configures a [Sweeper].
type Option func(*Sweeper)

// WithWindow sets how long terminal tasks are kept. Zero keeps them
// forever; detached subscriptions are still reaped.
func WithWindow(d time.Duration) Option { return func(s *Sweeper) { s.window = d } }

// WithInterval sets the time between sweeps.
func WithInterval(d time.Duration) Option { return func(s *Sweeper) { s.interval = d } }

// WithPushConfigStore deletes the push configs of removed tasks from store.
func WithPushConfigStore(store task.PushConfigStore) Option {
	return func(s *Sweeper) { s.pushConfigs = store }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Sweeper) { s.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

// NewSweeper creates a sweeper over store and broker. It does nothing until
// started.
func NewSweeper(store task.Store, broker *event.Broker, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		broker:   broker,
		window:   DefaultWindow,
		interval: DefaultInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass of the retention policy.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()

	if s.window > 0 {
		filter := a2a.ListFilter{
			TerminalOnly:  true,
			UpdatedBefore: now.Add(-s.window),
			Limit:         a2a.MaxListLimit,
		}
		for {
			expired, _, err := s.store.List(ctx, filter)
			if err != nil {
				return res, err
			}
			if len(expired) == 0 {
				break
			}
			removed := 0
			for _, t := range expired {
				if err := s.remove(ctx, t.ID); err != nil {
					s.logger.WarnContext(ctx, "failed to remove expired task", "task_id", t.ID, "error", err)
					continue
				}
				removed++
			}
			res.Tasks += removed
			if removed == 0 || len(expired) < filter.Limit {
				break
			}
		}
	}

	res.Subscriptions = s.broker.Reap(now)
	if res.Tasks > 0 || res.Subscriptions > 0 {
		s.logger.InfoContext(ctx, "retention sweep", "tasks", res.Tasks, "subscriptions", res.Subscriptions)
	}
	return res, nil
}

func (s *Sweeper) remove(ctx context.Context, taskID string) error {
	if s.pushConfigs != nil {
		if err := s.pushConfigs.Delete(ctx, taskID); err != nil && !errors.Is(err, a2a.ErrPushNotificationConfigNotFound) {
			return err
		}
	}
	s.broker.CloseTask(taskID)
	if err := s.store.Delete(ctx, taskID); err != nil && !errors.Is(err, a2a.ErrTaskNotFound) {
		return err
	}
	return nil
}

// Start schedules sweeps every interval.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return errors.New("retention: sweeper already started")
	}
	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(s.interval).SingletonMode().Do(func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	scheduler.StartAsync()
	s.scheduler = scheduler
	return nil
}

// Stop cancels future sweeps.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		s.scheduler.Stop()
		s.scheduler = nil
	}
}

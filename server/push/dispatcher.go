// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package push delivers task events to registered webhooks.
//
// Delivery is at-least-once and ordered per task: each task with pending
// events gets one sequential worker, while different tasks are delivered in
// parallel. Failures are retried with exponential backoff and, once the
// attempt budget is spent, dropped and recorded. They never reach the caller
// that committed the state change.
package push

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-json-experiment/json"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/internal/metrics"
	"github.com/go-a2a/a2a-core/internal/pool"
	"github.com/go-a2a/a2a-core/server/task"
)

// Default dispatcher settings.
const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultTimeout        = 10 * time.Second
	DefaultQueueSize      = 256

	maxRecordedFailures = 100
)

// Config holds configuration for a [Dispatcher].
type Config struct {
	Client         *http.Client
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
	// QueueSize bounds the pending events of one task.
	QueueSize int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Option configures a [Dispatcher].
type Option func(*Config)

// WithHTTPClient sets the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option { return func(cfg *Config) { cfg.Client = c } }

// WithMaxAttempts sets how many times one event is tried.
func WithMaxAttempts(n int) Option { return func(cfg *Config) { cfg.MaxAttempts = n } }

// WithBackoff sets the initial and maximum retry interval.
func WithBackoff(initial, max time.Duration) Option {
	return func(cfg *Config) {
		cfg.InitialBackoff = initial
		cfg.MaxBackoff = max
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option { return func(cfg *Config) { cfg.Timeout = d } }

// WithQueueSize sets the per-task pending event bound.
func WithQueueSize(n int) Option { return func(cfg *Config) { cfg.QueueSize = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(cfg *Config) { cfg.Logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(cfg *Config) { cfg.Metrics = m } }

// ErrQueueOverflow is the error of a [Failure] whose event was dropped from
// a full per-task backlog before any delivery attempt.
var ErrQueueOverflow = errors.New("push: task backlog full")

// Failure records an event that could not be delivered. Events dropped on
// backlog overflow are recorded with zero Attempts and [ErrQueueOverflow].
type Failure struct {
	TaskID   string
	Seq      uint64
	Type     PayloadType
	URL      string
	Attempts int
	Err      error
	At       time.Time
}

// Stats are cumulative delivery counters.
type Stats struct {
	Delivered int64
	Failed    int64
	Retried   int64
	Dropped   int64
}

type taskQueue struct {
	events []a2a.TaskEvent
}

// Dispatcher delivers task events to the webhook registered for each task.
// It implements the task store sink.
type Dispatcher struct {
	cfg     Config
	configs task.PushConfigStore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	queues   map[string]*taskQueue
	closed   bool
	failures []Failure

	delivered atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	dropped   atomic.Int64
}

var _ task.Sink = (*Dispatcher)(nil)

// NewDispatcher creates a new Dispatcher reading registrations from configs.
func NewDispatcher(configs task.PushConfigStore, opts ...Option) *Dispatcher {
	cfg := Config{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Timeout:        DefaultTimeout,
		QueueSize:      DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		configs: configs,
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[string]*taskQueue),
	}
}

// Publish enqueues ev for delivery and returns immediately.
func (d *Dispatcher) Publish(ctx context.Context, ev a2a.TaskEvent) {
	if ev.IsHeartbeat() || ev.Snapshot {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	q, running := d.queues[ev.TaskID]
	if !running {
		q = &taskQueue{}
		d.queues[ev.TaskID] = q
	}
	if d.cfg.QueueSize > 0 && len(q.events) >= d.cfg.QueueSize {
		lost := q.events[0]
		q.events = q.events[1:]
		d.dropped.Add(1)
		d.cfg.Metrics.ObservePushDelivery("overflow")
		payload, _, _ := NewPayload(lost)
		d.cfg.Logger.WarnContext(ctx, "dropping webhook event on queue overflow", "task_id", lost.TaskID, "seq", lost.Seq)
		d.appendFailure(Failure{
			TaskID: lost.TaskID,
			Seq:    lost.Seq,
			Type:   payload.Type,
			Err:    ErrQueueOverflow,
			At:     time.Now().UTC(),
		})
	}
	q.events = append(q.events, ev)

	if !running {
		d.wg.Add(1)
		go d.run(ev.TaskID)
	}
}

// run delivers the pending events of one task in order and exits when there
// are none left.
func (d *Dispatcher) run(taskID string) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		q := d.queues[taskID]
		if len(q.events) == 0 {
			delete(d.queues, taskID)
			d.mu.Unlock()
			return
		}
		ev := q.events[0]
		q.events = q.events[1:]
		d.mu.Unlock()

		d.deliver(d.ctx, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev a2a.TaskEvent) {
	payload, category, ok := NewPayload(ev)
	if !ok {
		return
	}

	cfg, err := d.configs.Get(ctx, ev.TaskID)
	if err != nil {
		if a2a.KindOf(err) != a2a.KindPushNotificationConfigNotFound {
			d.cfg.Logger.ErrorContext(ctx, "loading push notification config", "task_id", ev.TaskID, "error", err)
		}
		return
	}
	if !cfg.Wants(category) {
		return
	}

	buf := pool.Bytes.Get()
	defer pool.Bytes.Put(buf)
	if err := json.MarshalWrite(buf, payload); err != nil {
		d.record(ctx, payload, cfg.URL, 0, err)
		return
	}
	body := buf.Bytes()

	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialBackoff
	bo.MaxInterval = d.cfg.MaxBackoff

	_, err = backoff.Retry(ctx, func() (int, error) {
		attempts++
		return d.post(ctx, cfg, payload, body)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.retried.Add(1)
			d.cfg.Metrics.ObservePushRetry()
			d.cfg.Logger.DebugContext(ctx, "retrying webhook delivery",
				"task_id", payload.TaskID, "seq", payload.Seq, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		d.record(ctx, payload, cfg.URL, attempts, err)
		return
	}

	d.delivered.Add(1)
	d.cfg.Metrics.ObservePushDelivery("delivered")
}

func (d *Dispatcher) post(ctx context.Context, cfg *a2a.PushNotificationConfig, payload Payload, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	req.Header.Set("X-A2A-Task-ID", payload.TaskID)
	req.Header.Set("X-A2A-Event-Seq", strconv.FormatUint(payload.Seq, 10))

	resp, err := d.cfg.Client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("webhook responded %s", resp.Status)
	default:
		return resp.StatusCode, backoff.Permanent(fmt.Errorf("webhook responded %s", resp.Status))
	}
}

func (d *Dispatcher) record(ctx context.Context, payload Payload, url string, attempts int, err error) {
	d.failed.Add(1)
	d.cfg.Metrics.ObservePushDelivery("failed")
	d.cfg.Logger.WarnContext(ctx, "dropping webhook event after failed delivery",
		"task_id", payload.TaskID, "seq", payload.Seq, "type", payload.Type, "attempts", attempts, "error", err)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.appendFailure(Failure{
		TaskID:   payload.TaskID,
		Seq:      payload.Seq,
		Type:     payload.Type,
		URL:      url,
		Attempts: attempts,
		Err:      err,
		At:       time.Now().UTC(),
	})
}

// appendFailure must be called with d.mu held.
func (d *Dispatcher) appendFailure(f Failure) {
	if len(d.failures) >= maxRecordedFailures {
		d.failures = d.failures[1:]
	}
	d.failures = append(d.failures, f)
}

// Failures returns the most recent delivery failures, oldest first.
func (d *Dispatcher) Failures() []Failure {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Failure, len(d.failures))
	copy(out, d.failures)
	return out
}

// Stats returns the cumulative delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Retried:   d.retried.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Close stops accepting events and waits for pending deliveries. When ctx
// ends first, in-flight deliveries are aborted.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

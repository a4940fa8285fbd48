// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is a Go client for the A2A JSON-RPC transport.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/internal/jsonrpc2"
)

// Client calls one A2A JSON-RPC endpoint. It is safe for concurrent use.
type Client struct {
	url          string
	httpClient   *http.Client
	interceptors []Interceptor
	userAgent    string
	logger       *slog.Logger

	nextID atomic.Int64
}

// New creates a client for the JSON-RPC endpoint at url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		httpClient: http.DefaultClient,
		userAgent:  "a2a-go-client/" + a2a.Version,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the endpoint the client calls.
func (c *Client) URL() string { return c.url }

// SendMessage creates a task from params and returns it as committed.
func (c *Client) SendMessage(ctx context.Context, params *a2a.SendMessageParams) (*a2a.Task, error) {
	var t a2a.Task
	if err := c.call(ctx, a2a.MethodMessageSend, params, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask returns the current state of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	var t a2a.Task
	if err := c.call(ctx, a2a.MethodTasksGet, a2a.TaskIDParams{ID: taskID}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns one page of the tasks matching filter.
func (c *Client) ListTasks(ctx context.Context, filter a2a.ListFilter) (*a2a.ListTasksResult, error) {
	var res a2a.ListTasksResult
	if err := c.call(ctx, a2a.MethodTasksList, filter, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelTask cancels a task. Canceling a task that already ended returns it
// unchanged.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	var t a2a.Task
	if err := c.call(ctx, a2a.MethodTasksCancel, a2a.TaskIDParams{ID: taskID}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SetPushConfig registers the webhook of a task, replacing any previous one.
func (c *Client) SetPushConfig(ctx context.Context, taskID string, cfg *a2a.PushNotificationConfig) (*a2a.TaskPushConfig, error) {
	var res a2a.TaskPushConfig
	if err := c.call(ctx, a2a.MethodPushNotificationSet, a2a.TaskPushConfig{TaskID: taskID, Config: cfg}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPushConfig returns the webhook of a task.
func (c *Client) GetPushConfig(ctx context.Context, taskID string) (*a2a.TaskPushConfig, error) {
	var res a2a.TaskPushConfig
	if err := c.call(ctx, a2a.MethodPushNotificationGet, a2a.TaskIDParams{ID: taskID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeletePushConfig removes the webhook of a task.
func (c *Client) DeletePushConfig(ctx context.Context, taskID string) error {
	return c.call(ctx, a2a.MethodPushNotificationDelete, a2a.TaskIDParams{ID: taskID}, nil)
}

// StreamMessage creates a task from params and streams its events until the
// task ends. The caller must Close the stream.
func (c *Client) StreamMessage(ctx context.Context, params *a2a.SendMessageParams) (*Stream, error) {
	return c.stream(ctx, a2a.MethodMessageStream, params)
}

// Resubscribe streams the events of an existing task. A resumeToken from a
// previous stream continues it without gaps; an empty token starts from a
// snapshot of the task.
func (c *Client) Resubscribe(ctx context.Context, taskID, resumeToken string) (*Stream, error) {
	return c.stream(ctx, a2a.MethodTasksResubscribe, a2a.ResubscribeParams{ID: taskID, ResumeToken: resumeToken})
}

func (c *Client) newRequest(ctx context.Context, method string, params any) (*http.Request, error) {
	id := jsontext.Value(strconv.FormatInt(c.nextID.Add(1), 10))
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("client: marshal %s params: %w", method, err)
	}
	body, err := json.Marshal(jsonrpc2.Request{
		JSONRPC: jsonrpc2.Version,
		ID:      id,
		Method:  method,
		Params:  raw,
	})
	if err != nil {
		return nil, fmt.Errorf("client: marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	return req, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	invoker := func(_ context.Context, req *http.Request) (*http.Response, error) {
		return c.httpClient.Do(req)
	}
	return chainInterceptors(c.interceptors, invoker)(ctx, req)
}

// call performs one JSON-RPC round trip and decodes the result into result,
// unless result is nil.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	req, err := c.newRequest(ctx, method, params)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("client: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read %s response: %w", method, err)
	}

	var rpcResp jsonrpc2.Response
	if err := json.Unmarshal(body, &rpcResp); err != nil || rpcResp.JSONRPC != jsonrpc2.Version {
		return newHTTPError(resp.StatusCode, body)
	}
	if rpcResp.Error != nil {
		c.logger.DebugContext(ctx, "rpc error", "method", method, "code", rpcResp.Error.Code)
		return errorFromWire(rpcResp.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("client: decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) stream(ctx context.Context, method string, params any) (*Stream, error) {
	req, err := c.newRequest(ctx, method, params)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("client: %s: %w", method, err)
	}

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		var rpcResp jsonrpc2.Response
		if err := json.Unmarshal(body, &rpcResp); err == nil && rpcResp.JSONRPC == jsonrpc2.Version && rpcResp.Error != nil {
			return nil, errorFromWire(rpcResp.Error)
		}
		return nil, newHTTPError(resp.StatusCode, body)
	}

	return newStream(resp.Body), nil
}

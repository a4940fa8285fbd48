// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/server"
	"github.com/go-a2a/a2a-core/server/task"
)

func newRESTServer(t *testing.T, opts ...server.Option) (*httptest.Server, *server.Dispatcher) {
	t.Helper()

	d := newTestDispatcher(t, opts...)
	srv := httptest.NewServer(NewRESTHandler(d, WithLogger(discard)))
	t.Cleanup(srv.Close)
	return srv, d
}

func doREST(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequestWithContext(t.Context(), method, url, nil)
	} else {
		req, err = http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	}
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to %s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeREST[T any](t *testing.T, resp *http.Response, wantStatus int) T {
	t.Helper()

	var v T
	if resp.StatusCode != wantStatus {
		var e restError
		_ = json.UnmarshalRead(resp.Body, &e)
		t.Fatalf("status = %d, want %d (error %+v)", resp.StatusCode, wantStatus, e.Error)
	}
	if err := json.UnmarshalRead(resp.Body, &v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func TestREST_TaskLifecycle(t *testing.T) {
	srv, d := newRESTServer(t)

	created := decodeREST[a2a.Task](t, doREST(t, http.MethodPost, srv.URL+"/v1/message", helloParams), http.StatusOK)
	final := waitTerminal(t, d, created.ID)

	got := decodeREST[a2a.Task](t, doREST(t, http.MethodGet, srv.URL+"/v1/tasks/"+created.ID, ""), http.StatusOK)
	if got.State != a2a.TaskStateCompleted || got.Version != final.Version {
		t.Errorf("GET task = %s v%d, want completed v%d", got.State, got.Version, final.Version)
	}

	list := decodeREST[a2a.ListTasksResult](t, doREST(t, http.MethodGet, srv.URL+"/v1/tasks?state=completed&limit=10", ""), http.StatusOK)
	if list.Total != 1 || len(list.Tasks) != 1 {
		t.Errorf("list = %+v", list)
	}

	canceled := decodeREST[a2a.Task](t, doREST(t, http.MethodPost, srv.URL+"/v1/tasks/"+created.ID+":cancel", ""), http.StatusOK)
	if canceled.State != a2a.TaskStateCompleted {
		t.Errorf("cancel of completed task state = %s, want completed", canceled.State)
	}

	e := decodeREST[restError](t, doREST(t, http.MethodGet, srv.URL+"/v1/tasks?state=bogus", ""), http.StatusBadRequest)
	if e.Error.Kind != string(a2a.KindInvalidRequest) {
		t.Errorf("bogus state filter kind = %q", e.Error.Kind)
	}
}

func TestREST_Cancel(t *testing.T) {
	blocked := make(chan struct{})
	srv, _ := newRESTServer(t, server.WithExecutor(server.AgentExecutorFunc(func(ctx context.Context, _ task.TaskUpdater) error {
		<-ctx.Done()
		close(blocked)
		return ctx.Err()
	})))

	created := decodeREST[a2a.Task](t, doREST(t, http.MethodPost, srv.URL+"/v1/message", helloParams), http.StatusOK)

	for _, req := range []struct{ method, path string }{
		{http.MethodDelete, "/v1/tasks/" + created.ID},
		{http.MethodPost, "/v1/tasks/" + created.ID + ":cancel"},
	} {
		got := decodeREST[a2a.Task](t, doREST(t, req.method, srv.URL+req.path, ""), http.StatusOK)
		if got.State != a2a.TaskStateCanceled {
			t.Errorf("%s %s state = %s, want canceled", req.method, req.path, got.State)
		}
	}
	<-blocked
}

func TestREST_Errors(t *testing.T) {
	srv, _ := newRESTServer(t)

	tests := map[string]struct {
		method     string
		path       string
		body       string
		wantStatus int
		wantKind   a2a.ErrorKind
	}{
		"unknown route": {
			method: http.MethodGet, path: "/v1/agents",
			wantStatus: http.StatusNotFound, wantKind: a2a.KindMethodNotFound,
		},
		"bad body": {
			method: http.MethodPost, path: "/v1/message", body: `{"messages":`,
			wantStatus: http.StatusBadRequest, wantKind: a2a.KindInvalidRequest,
		},
		"unknown field": {
			method: http.MethodPost, path: "/v1/message", body: `{"messages":[],"extra":1}`,
			wantStatus: http.StatusBadRequest, wantKind: a2a.KindInvalidRequest,
		},
		"no messages": {
			method: http.MethodPost, path: "/v1/message", body: `{"messages":[]}`,
			wantStatus: http.StatusBadRequest, wantKind: a2a.KindInvalidMessageFormat,
		},
		"bad limit": {
			method: http.MethodGet, path: "/v1/tasks?limit=ten",
			wantStatus: http.StatusBadRequest, wantKind: a2a.KindInvalidRequest,
		},
		"push unsupported": {
			method: http.MethodGet, path: "/v1/tasks/x/pushNotificationConfig",
			wantStatus: http.StatusNotImplemented, wantKind: a2a.KindUnsupportedOperation,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := decodeREST[restError](t, doREST(t, tt.method, srv.URL+tt.path, tt.body), tt.wantStatus)
			if e.Error.Kind != string(tt.wantKind) {
				t.Errorf("kind = %q, want %q", e.Error.Kind, tt.wantKind)
			}
		})
	}

	req, _ := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/v1/message", strings.NewReader(helloParams))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("text/plain status = %d, want 415", resp.StatusCode)
	}
}

func TestREST_PushConfig(t *testing.T) {
	srv, _ := newRESTServer(t, server.WithPushConfigStore(task.NewInMemoryPushConfigStore()))

	created := decodeREST[a2a.Task](t, doREST(t, http.MethodPost, srv.URL+"/v1/message", helloParams), http.StatusOK)
	path := srv.URL + "/v1/tasks/" + created.ID + "/pushNotificationConfig"

	set := decodeREST[a2a.TaskPushConfig](t, doREST(t, http.MethodPut, path, `{"url":"https://hooks.example.com/a2a","token":"s3cret"}`), http.StatusOK)
	got := decodeREST[a2a.TaskPushConfig](t, doREST(t, http.MethodGet, path, ""), http.StatusOK)
	if diff := cmp.Diff(set, got); diff != "" {
		t.Errorf("GET push config mismatch (-want +got):\n%s", diff)
	}
	if got.TaskID != created.ID || got.Config.URL != "https://hooks.example.com/a2a" {
		t.Errorf("push config = %+v", got)
	}

	if resp := doREST(t, http.MethodDelete, path, ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", resp.StatusCode)
	}
	e := decodeREST[restError](t, doREST(t, http.MethodGet, path, ""), http.StatusNotFound)
	if e.Error.Kind != string(a2a.KindPushNotificationConfigNotFound) {
		t.Errorf("kind after delete = %q", e.Error.Kind)
	}
}

func TestREST_AgentCard(t *testing.T) {
	srv, _ := newRESTServer(t, server.WithAgentCard(a2a.AgentCard{Name: "echo", Version: "1.0.0"}))

	card := decodeREST[a2a.AgentCard](t, doREST(t, http.MethodGet, srv.URL+AgentCardPath, ""), http.StatusOK)
	want := a2a.AgentCard{
		Name:         "echo",
		Version:      "1.0.0",
		Capabilities: a2a.AgentCapabilities{Streaming: true},
	}
	if diff := cmp.Diff(want, card); diff != "" {
		t.Errorf("agent card mismatch (-want +got):\n%s", diff)
	}
}

func TestREST_StreamAndResubscribe(t *testing.T) {
	srv, d := newRESTServer(t)

	resp := doREST(t, http.MethodPost, srv.URL+"/v1/message:stream", helloParams)
	frames := readSSE(t, resp.Body)
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}
	var last StreamResult
	if err := json.Unmarshal([]byte(frames[3].data), &last); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	if !last.Final || last.State != a2a.TaskStateCompleted {
		t.Errorf("last frame = %+v, want final completed", last)
	}
	waitTerminal(t, d, last.TaskID)

	// A finished stream cannot be resumed; the server falls back to a snapshot.
	req, _ := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/v1/tasks/"+last.TaskID+":resubscribe", nil)
	req.Header.Set("Last-Event-ID", frames[1].id)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to resubscribe: %v", err)
	}
	defer resp.Body.Close()
	frames = readSSE(t, resp.Body)
	if len(frames) != 1 {
		t.Fatalf("got %d frames after resubscribe, want 1", len(frames))
	}
	var snap StreamResult
	if err := json.Unmarshal([]byte(frames[0].data), &snap); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	if !snap.Snapshot || !snap.Final || snap.State != a2a.TaskStateCompleted {
		t.Errorf("resubscribe frame = %+v, want final completed snapshot", snap)
	}
}

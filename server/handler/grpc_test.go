// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/go-a2a/a2a-core"
)

func newGRPCClient(t *testing.T, opts ...Option) (*GRPCClient, *GRPCHandler) {
	t.Helper()

	h := NewGRPCHandler(newTestDispatcher(t), append([]Option{WithLogger(discard)}, opts...)...)
	return NewGRPCClient(dialGRPC(t, h)), h
}

func hello() *a2a.SendMessageParams {
	return &a2a.SendMessageParams{
		Messages: []a2a.Message{{Role: a2a.RoleUser, Parts: []a2a.Part{a2a.NewTextPart("hi")}}},
	}
}

func TestGRPC_SendGetList(t *testing.T) {
	client, h := newGRPCClient(t)

	created, err := client.SendMessage(t.Context(), hello())
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if created.State != a2a.TaskStateQueued {
		t.Errorf("SendMessage() state = %s, want queued", created.State)
	}
	waitTerminal(t, h.dispatcher, created.ID)

	got, err := client.GetTask(t.Context(), created.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.State != a2a.TaskStateCompleted || len(got.Artifacts) != 1 {
		t.Errorf("GetTask() = %s with %d artifacts", got.State, len(got.Artifacts))
	}
	if diff := cmp.Diff(hello().Messages, got.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	list, err := client.ListTasks(t.Context(), a2a.ListFilter{State: a2a.TaskStateCompleted, Limit: 5})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if list.Total != 1 || len(list.Tasks) != 1 {
		t.Errorf("ListTasks() = %+v", list)
	}

	if _, err := client.SendMessage(t.Context(), &a2a.SendMessageParams{}); a2a.KindOf(err) != a2a.KindInvalidMessageFormat {
		t.Errorf("SendMessage(empty) error = %v, want InvalidMessageFormat", err)
	}
}

func TestGRPC_Stream(t *testing.T) {
	client, _ := newGRPCClient(t)

	stream, err := client.StreamMessage(t.Context(), hello())
	if err != nil {
		t.Fatalf("StreamMessage() error = %v", err)
	}

	var states []a2a.TaskState
	var last StreamResult
	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if res.ResumeToken == "" {
			t.Errorf("event %d has no resume token", res.Seq)
		}
		states = append(states, res.State)
		last = res
	}

	want := []a2a.TaskState{a2a.TaskStateQueued, a2a.TaskStateRunning, a2a.TaskStateRunning, a2a.TaskStateCompleted}
	if diff := cmp.Diff(want, states); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
	if !last.Final {
		t.Error("last event is not final")
	}

	resumed, err := client.Resubscribe(t.Context(), last.TaskID, last.ResumeToken)
	if err != nil {
		t.Fatalf("Resubscribe() error = %v", err)
	}
	snap, err := resumed.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if !snap.Snapshot || snap.State != a2a.TaskStateCompleted {
		t.Errorf("Resubscribe() first event = %+v, want completed snapshot", snap)
	}
	if _, err := resumed.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("Recv() after final error = %v, want EOF", err)
	}
}

func TestGRPC_Auth(t *testing.T) {
	client, _ := newGRPCClient(t, WithAuthenticator(staticAuthenticator{token: "t0ken"}))

	if _, err := client.ListTasks(t.Context(), a2a.ListFilter{}); a2a.KindOf(err) != a2a.KindAuthRequired {
		t.Errorf("ListTasks() without token error = %v, want AuthRequired", err)
	}

	ctx := metadata.AppendToOutgoingContext(t.Context(), "authorization", "Bearer t0ken")
	if _, err := client.ListTasks(ctx, a2a.ListFilter{}); err != nil {
		t.Errorf("ListTasks() with token error = %v", err)
	}

	stream, err := client.StreamMessage(t.Context(), hello())
	if err == nil {
		_, err = stream.Recv()
	}
	if a2a.KindOf(err) != a2a.KindAuthRequired {
		t.Errorf("StreamMessage() without token error = %v, want AuthRequired", err)
	}
}

func TestGRPC_RateLimit(t *testing.T) {
	client, _ := newGRPCClient(t, WithRateLimit(0.001, 1))

	if _, err := client.ListTasks(t.Context(), a2a.ListFilter{}); err != nil {
		t.Fatalf("first ListTasks() error = %v", err)
	}
	_, err := client.ListTasks(t.Context(), a2a.ListFilter{}, grpc.WaitForReady(true))
	if a2a.KindOf(err) != a2a.KindRateLimited {
		t.Errorf("second ListTasks() error = %v, want RateLimited", err)
	}
}

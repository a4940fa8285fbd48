// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"

	"github.com/go-json-experiment/json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/go-a2a/a2a-core"
)

// GRPCClient calls [ServiceName] over a client connection. Failures are
// returned as [*a2a.Error] when the server attached an error kind.
type GRPCClient struct {
	cc grpc.ClientConnInterface
}

// NewGRPCClient returns a client using cc.
func NewGRPCClient(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

func (c *GRPCClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, opts...); err != nil {
		return errorFromGRPC(err)
	}
	if out == nil {
		return nil
	}
	return decodeStruct(resp, out)
}

// SendMessage calls message/send.
func (c *GRPCClient) SendMessage(ctx context.Context, params *a2a.SendMessageParams, opts ...grpc.CallOption) (*a2a.Task, error) {
	var t a2a.Task
	if err := c.invoke(ctx, GRPCMethodSendMessage, params, &t, opts...); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask calls tasks/get.
func (c *GRPCClient) GetTask(ctx context.Context, taskID string, opts ...grpc.CallOption) (*a2a.Task, error) {
	var t a2a.Task
	if err := c.invoke(ctx, GRPCMethodGetTask, a2a.TaskIDParams{ID: taskID}, &t, opts...); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks calls tasks/list.
func (c *GRPCClient) ListTasks(ctx context.Context, filter a2a.ListFilter, opts ...grpc.CallOption) (*a2a.ListTasksResult, error) {
	var res a2a.ListTasksResult
	if err := c.invoke(ctx, GRPCMethodListTasks, filter, &res, opts...); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelTask calls tasks/cancel.
func (c *GRPCClient) CancelTask(ctx context.Context, taskID string, opts ...grpc.CallOption) (*a2a.Task, error) {
	var t a2a.Task
	if err := c.invoke(ctx, GRPCMethodCancelTask, a2a.TaskIDParams{ID: taskID}, &t, opts...); err != nil {
		return nil, err
	}
	return &t, nil
}

// StreamMessage calls message/stream.
func (c *GRPCClient) StreamMessage(ctx context.Context, params *a2a.SendMessageParams, opts ...grpc.CallOption) (*GRPCEventStream, error) {
	return c.stream(ctx, GRPCMethodStreamMessage, params, opts...)
}

// Resubscribe calls tasks/resubscribe. A non-empty resumeToken is sent as
// last-event-id metadata.
func (c *GRPCClient) Resubscribe(ctx context.Context, taskID, resumeToken string, opts ...grpc.CallOption) (*GRPCEventStream, error) {
	if resumeToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, LastEventIDMetadata, resumeToken)
	}
	return c.stream(ctx, GRPCMethodResubscribe, a2a.ResubscribeParams{ID: taskID}, opts...)
}

func (c *GRPCClient) stream(ctx context.Context, method string, in any, opts ...grpc.CallOption) (*GRPCEventStream, error) {
	req, err := toStruct(in)
	if err != nil {
		return nil, err
	}
	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	cs, err := c.cc.NewStream(ctx, desc, "/"+ServiceName+"/"+method, opts...)
	if err != nil {
		return nil, errorFromGRPC(err)
	}
	s := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	if err := s.SendMsg(req); err != nil {
		return nil, errorFromGRPC(err)
	}
	if err := s.CloseSend(); err != nil {
		return nil, errorFromGRPC(err)
	}
	return &GRPCEventStream{stream: s}, nil
}

// GRPCEventStream receives the events of one stream.
type GRPCEventStream struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Recv returns the next event. It returns [io.EOF] after the final event.
func (s *GRPCEventStream) Recv() (StreamResult, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		return StreamResult{}, errorFromGRPC(err)
	}
	var res StreamResult
	if err := decodeStruct(msg, &res); err != nil {
		return StreamResult{}, err
	}
	return res, nil
}

func decodeStruct(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// errorFromGRPC recovers the [*a2a.Error] carried by a status error.
func errorFromGRPC(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	kind := KindFromGRPCStatus(st)
	if kind == "" {
		return err
	}
	return &a2a.Error{Kind: kind, Message: st.Message(), Err: err}
}

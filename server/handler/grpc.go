// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"io"

	"github.com/go-json-experiment/json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/auth"
	"github.com/go-a2a/a2a-core/server"
	"github.com/go-a2a/a2a-core/server/event"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "a2a.v1.A2AService"

// gRPC method names of [ServiceName].
const (
	GRPCMethodSendMessage      = "SendMessage"
	GRPCMethodStreamMessage    = "StreamMessage"
	GRPCMethodGetTask          = "GetTask"
	GRPCMethodListTasks        = "ListTasks"
	GRPCMethodCancelTask       = "CancelTask"
	GRPCMethodResubscribe      = "Resubscribe"
	GRPCMethodSetPushConfig    = "SetPushConfig"
	GRPCMethodGetPushConfig    = "GetPushConfig"
	GRPCMethodDeletePushConfig = "DeletePushConfig"
)

// LastEventIDMetadata is the metadata key carrying a resume token on
// Resubscribe.
const LastEventIDMetadata = "last-event-id"

// A2AServiceServer is the server API of [ServiceName]. Requests and
// responses are JSON objects carried as [structpb.Struct], with the same
// shapes as the JSON-RPC params and results.
type A2AServiceServer interface {
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamMessage(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	GetTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTasks(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resubscribe(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	SetPushConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPushConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeletePushConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes [ServiceName] for [grpc.ServiceRegistrar].
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*A2AServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: GRPCMethodSendMessage, Handler: unaryHandler(GRPCMethodSendMessage, A2AServiceServer.SendMessage)},
		{MethodName: GRPCMethodGetTask, Handler: unaryHandler(GRPCMethodGetTask, A2AServiceServer.GetTask)},
		{MethodName: GRPCMethodListTasks, Handler: unaryHandler(GRPCMethodListTasks, A2AServiceServer.ListTasks)},
		{MethodName: GRPCMethodCancelTask, Handler: unaryHandler(GRPCMethodCancelTask, A2AServiceServer.CancelTask)},
		{MethodName: GRPCMethodSetPushConfig, Handler: unaryHandler(GRPCMethodSetPushConfig, A2AServiceServer.SetPushConfig)},
		{MethodName: GRPCMethodGetPushConfig, Handler: unaryHandler(GRPCMethodGetPushConfig, A2AServiceServer.GetPushConfig)},
		{MethodName: GRPCMethodDeletePushConfig, Handler: unaryHandler(GRPCMethodDeletePushConfig, A2AServiceServer.DeletePushConfig)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: GRPCMethodStreamMessage, Handler: streamHandler(A2AServiceServer.StreamMessage), ServerStreams: true},
		{StreamName: GRPCMethodResubscribe, Handler: streamHandler(A2AServiceServer.Resubscribe), ServerStreams: true},
	},
	Metadata: "a2a/v1/a2a.proto",
}

func unaryHandler(method string, call func(A2AServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(A2AServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(A2AServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamHandler(call func(A2AServiceServer, *structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(A2AServiceServer), in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
	}
}

// GRPCHandler serves [ServiceName] on top of a [server.Dispatcher].
type GRPCHandler struct {
	dispatcher *server.Dispatcher
	cfg        config
}

var _ A2AServiceServer = (*GRPCHandler)(nil)

// NewGRPCHandler returns the gRPC adapter of d.
func NewGRPCHandler(d *server.Dispatcher, opts ...Option) *GRPCHandler {
	if d == nil {
		panic("dispatcher cannot be nil")
	}
	return &GRPCHandler{
		dispatcher: d,
		cfg:        newConfig(opts),
	}
}

// Register registers the service on s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&ServiceDesc, h)
}

// ServerOptions returns the interceptors applying rate limiting and
// authentication, and the message size limit.
func (h *GRPCHandler) ServerOptions() []grpc.ServerOption {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(h.unaryInterceptor),
		grpc.ChainStreamInterceptor(h.streamInterceptor),
	}
	if h.cfg.maxBodyBytes > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(int(h.cfg.maxBodyBytes)))
	}
	return opts
}

// enter admits the caller of ctx and attaches its call context.
func (h *GRPCHandler) enter(ctx context.Context) (context.Context, error) {
	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			token = auth.BearerToken(vals[0])
		}
	}
	user, err := h.cfg.admit(ctx, token)
	if err != nil {
		return nil, err
	}
	ctx = auth.WithUser(ctx, user)
	return server.WithCallContext(ctx, server.NewServerCallContext(user, TransportGRPC)), nil
}

func (h *GRPCHandler) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, err := h.enter(ctx)
	if err != nil {
		h.cfg.metrics.ObserveRequest(TransportGRPC, info.FullMethod, string(a2a.KindOf(err)))
		return nil, toGRPCStatus(err).Err()
	}
	return handler(ctx, req)
}

// wrappedStream overrides the context of a server stream.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *wrappedStream) Context() context.Context { return s.ctx }

func (h *GRPCHandler) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := h.enter(ss.Context())
	if err != nil {
		h.cfg.metrics.ObserveRequest(TransportGRPC, info.FullMethod, string(a2a.KindOf(err)))
		return toGRPCStatus(err).Err()
	}
	return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
}

// done records the outcome of method and converts err to a status error.
func (h *GRPCHandler) done(ctx context.Context, method string, err error) error {
	h.cfg.metrics.ObserveRequest(TransportGRPC, method, string(kindOrEmpty(err)))
	if err == nil {
		return nil
	}
	h.cfg.logError(ctx, TransportGRPC, method, err)
	return toGRPCStatus(err).Err()
}

func (h *GRPCHandler) reply(ctx context.Context, method string, v any, err error) (*structpb.Struct, error) {
	if err == nil {
		var out *structpb.Struct
		out, err = toStruct(v)
		if err == nil {
			h.cfg.metrics.ObserveRequest(TransportGRPC, method, "")
			return out, nil
		}
	}
	return nil, h.done(ctx, method, err)
}

// SendMessage implements [A2AServiceServer].
func (h *GRPCHandler) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var params a2a.SendMessageParams
	if err := fromStruct(in, &params); err != nil {
		return h.reply(ctx, GRPCMethodSendMessage, nil, err)
	}
	t, err := h.dispatcher.SendMessage(ctx, &params)
	return h.reply(ctx, GRPCMethodSendMessage, t, err)
}

// GetTask implements [A2AServiceServer].
func (h *GRPCHandler) GetTask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var params a2a.TaskIDParams
	if err := fromStruct(in, &params); err != nil {
		return h.reply(ctx, GRPCMethodGetTask, nil, err)
	}
	t, err := h.dispatcher.GetTask(ctx, params.ID)
	return h.reply(ctx, GRPCMethodGetTask, t, err)
}

// ListTasks implements [A2AServiceServer].
func (h *GRPCHandler) ListTasks(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var filter a2a.ListFilter
	if err := fromStruct(in, &filter); err != nil {
		return h.reply(ctx, GRPCMethodListTasks, nil, err)
	}
	res, err := h.dispatcher.ListTasks(ctx, filter)
	return h.reply(ctx, GRPCMethodListTasks, res, err)
}

// CancelTask implements [A2AServiceServer].
func (h *GRPCHandler) CancelTask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var params a2a.TaskIDParams
	if err := fromStruct(in, &params); err != nil {
		return h.reply(ctx, GRPCMethodCancelTask, nil, err)
	}
	t, err := h.dispatcher.CancelTask(ctx, params.ID)
	return h.reply(ctx, GRPCMethodCancelTask, t, err)
}

// SetPushConfig implements [A2AServiceServer].
func (h *GRPCHandler) SetPushConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var params a2a.TaskPushConfig
	if err := fromStruct(in, &params); err != nil {
		return h.reply(ctx, GRPCMethodSetPushConfig, nil, err)
	}
	res, err := h.dispatcher.SetPushConfig(ctx, &params)
	return h.reply(ctx, GRPCMethodSetPushConfig, res, err)
}

// GetPushConfig implements [A2AServiceServer].
func (h *GRPCHandler) GetPushConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var params a2a.TaskIDParams
	if err := fromStruct(in, &params); err != nil {
		return h.reply(ctx, GRPCMethodGetPushConfig, nil, err)
	}
	res, err := h.dispatcher.GetPushConfig(ctx, params.ID)
	return h.reply(ctx, GRPCMethodGetPushConfig, res, err)
}

// DeletePushConfig implements [A2AServiceServer].
func (h *GRPCHandler) DeletePushConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var params a2a.TaskIDParams
	if err := fromStruct(in, &params); err != nil {
		return h.reply(ctx, GRPCMethodDeletePushConfig, nil, err)
	}
	err := h.dispatcher.DeletePushConfig(ctx, params.ID)
	return h.reply(ctx, GRPCMethodDeletePushConfig, params, err)
}

// StreamMessage implements [A2AServiceServer].
func (h *GRPCHandler) StreamMessage(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	var params a2a.SendMessageParams
	if err := fromStruct(in, &params); err != nil {
		return h.done(ctx, GRPCMethodStreamMessage, err)
	}
	sub, err := h.dispatcher.StreamMessage(ctx, &params)
	if err != nil {
		return h.done(ctx, GRPCMethodStreamMessage, err)
	}
	h.cfg.metrics.ObserveRequest(TransportGRPC, GRPCMethodStreamMessage, "")
	return h.relay(ctx, sub, stream)
}

// Resubscribe implements [A2AServiceServer]. A resume token may also be
// passed in the last-event-id metadata.
func (h *GRPCHandler) Resubscribe(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	var params a2a.ResubscribeParams
	if err := fromStruct(in, &params); err != nil {
		return h.done(ctx, GRPCMethodResubscribe, err)
	}
	if params.ResumeToken == "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(LastEventIDMetadata); len(vals) > 0 {
				params.ResumeToken = vals[0]
			}
		}
	}
	sub, err := h.dispatcher.Resubscribe(ctx, &params)
	if err != nil {
		return h.done(ctx, GRPCMethodResubscribe, err)
	}
	h.cfg.metrics.ObserveRequest(TransportGRPC, GRPCMethodResubscribe, "")
	return h.relay(ctx, sub, stream)
}

// relay sends the events of sub until the final one. Heartbeats are not
// sent; gRPC connections are kept alive by HTTP/2 pings.
func (h *GRPCHandler) relay(ctx context.Context, sub *event.Subscription, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	for {
		ev, err := sub.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			sub.Close()
			return nil
		case ctx.Err() != nil:
			sub.Detach()
			return status.FromContextError(ctx.Err()).Err()
		default:
			h.cfg.logger.WarnContext(ctx, "stream ended early", "task_id", sub.TaskID(), "error", err)
			sub.Close()
			return toGRPCStatus(streamFailure(err)).Err()
		}
		if ev.IsHeartbeat() {
			continue
		}

		out, err := toStruct(StreamResult{TaskEvent: ev, ResumeToken: sub.ResumeToken(ev)})
		if err != nil {
			sub.Close()
			return h.done(ctx, GRPCMethodStreamMessage, err)
		}
		if err := stream.Send(out); err != nil {
			sub.Detach()
			return err
		}
	}
}

// toStruct converts v to its JSON object form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, a2a.NewInternalError(err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, a2a.NewInternalError(err)
	}
	return out, nil
}

// fromStruct converts a JSON object into v. Unknown fields are rejected.
func fromStruct(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return &a2a.Error{Kind: a2a.KindInvalidRequest, Message: "invalid request: " + err.Error(), Err: err}
	}
	if err := json.Unmarshal(b, v, json.RejectUnknownMembers(true)); err != nil {
		return &a2a.Error{Kind: a2a.KindInvalidRequest, Message: "invalid request: " + err.Error(), Err: err}
	}
	return nil
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/internal/jsonrpc2"
	"github.com/go-a2a/a2a-core/server"
	"github.com/go-a2a/a2a-core/server/event"
)

// methodFunc handles one unary JSON-RPC method.
type methodFunc func(ctx context.Context, req *jsonrpc2.Request) (any, error)

// streamFunc opens the subscription of one streaming JSON-RPC method.
type streamFunc func(ctx context.Context, r *http.Request, req *jsonrpc2.Request) (*event.Subscription, error)

// JSONRPCHandler serves the JSON-RPC 2.0 transport over HTTP POST.
//
// Unary methods answer with a single JSON response, or an array for batch
// requests. message/stream and tasks/resubscribe answer with an SSE stream
// whose data lines are JSON-RPC responses carrying the request id.
type JSONRPCHandler struct {
	dispatcher *server.Dispatcher
	cfg        config
	methods    map[string]methodFunc
	streams    map[string]streamFunc
	handler    http.Handler
}

var _ http.Handler = (*JSONRPCHandler)(nil)

// NewJSONRPCHandler returns the JSON-RPC adapter of d.
func NewJSONRPCHandler(d *server.Dispatcher, opts ...Option) *JSONRPCHandler {
	if d == nil {
		panic("dispatcher cannot be nil")
	}

	h := &JSONRPCHandler{
		dispatcher: d,
		cfg:        newConfig(opts),
	}
	h.registerMethods()
	h.handler = h.cfg.guard(TransportJSONRPC, http.HandlerFunc(h.serve), func(w http.ResponseWriter, _ *http.Request, err error) {
		writeJSON(w, HTTPStatus(a2a.KindOf(err)), jsonrpc2.NewError(nil, toWireError(err)))
	})

	return h
}

// registerMethods registers all JSON-RPC method handlers.
func (h *JSONRPCHandler) registerMethods() {
	h.methods = map[string]methodFunc{
		a2a.MethodMessageSend:            h.handleMessageSend,
		a2a.MethodTasksGet:               h.handleGetTask,
		a2a.MethodTasksList:              h.handleListTasks,
		a2a.MethodTasksCancel:            h.handleCancelTask,
		a2a.MethodPushNotificationSet:    h.handleSetPushConfig,
		a2a.MethodPushNotificationGet:    h.handleGetPushConfig,
		a2a.MethodPushNotificationDelete: h.handleDeletePushConfig,
	}
	h.streams = map[string]streamFunc{
		a2a.MethodMessageStream:    h.handleMessageStream,
		a2a.MethodTasksResubscribe: h.handleResubscribe,
	}
}

// ServeHTTP implements [http.Handler].
func (h *JSONRPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *JSONRPCHandler) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, jsonrpc2.NewError(nil, &jsonrpc2.WireError{
			Code:    jsonrpc2.CodeInvalidRequest,
			Message: "JSON-RPC requests must use POST",
			Data:    &jsonrpc2.ErrorData{Kind: string(a2a.KindInvalidRequest)},
		}))
		return
	}
	if err := checkContentType(r); err != nil {
		writeJSON(w, HTTPStatus(a2a.KindOf(err)), jsonrpc2.NewError(nil, toWireError(err)))
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, HTTPStatus(a2a.KindOf(err)), jsonrpc2.NewError(nil, toWireError(err)))
		return
	}

	ctx := r.Context()
	h.cfg.telemetry.Received(ctx, len(body))

	reqs, batch, err := jsonrpc2.DecodeRequests(body)
	if err != nil {
		werr := &jsonrpc2.WireError{
			Code:    jsonrpc2.CodeParseError,
			Message: "parse error",
			Data:    &jsonrpc2.ErrorData{Kind: string(a2a.KindInvalidRequest)},
		}
		if errors.Is(err, jsonrpc2.ErrEmptyBatch) {
			werr.Code = jsonrpc2.CodeInvalidRequest
			werr.Message = "empty batch"
		}
		writeJSON(w, http.StatusOK, jsonrpc2.NewError(nil, werr))
		return
	}

	if !batch {
		req := reqs[0]
		if open, ok := h.streams[req.Method]; ok && !req.IsNotification() && req.Validate() == nil {
			h.serveStream(w, r, req, open)
			return
		}
		resp := h.call(ctx, req, false)
		if resp == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resps := make([]*jsonrpc2.Response, 0, len(reqs))
	for _, req := range reqs {
		if resp := h.call(ctx, req, true); resp != nil {
			resps = append(resps, resp)
		}
	}
	if len(resps) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resps)
}

// call runs one unary request. It returns nil for notifications.
func (h *JSONRPCHandler) call(ctx context.Context, req *jsonrpc2.Request, inBatch bool) *jsonrpc2.Response {
	if err := req.Validate(); err != nil {
		return jsonrpc2.NewError(req.ID, &jsonrpc2.WireError{
			Code:    jsonrpc2.CodeInvalidRequest,
			Message: err.Error(),
			Data:    &jsonrpc2.ErrorData{Kind: string(a2a.KindInvalidRequest)},
		})
	}

	done := h.cfg.telemetry.Start(ctx, req.Method)
	result, err := h.invoke(ctx, req, inBatch)
	h.cfg.metrics.ObserveRequest(TransportJSONRPC, req.Method, string(kindOrEmpty(err)))

	var resp *jsonrpc2.Response
	if err == nil {
		resp, err = jsonrpc2.NewResult(req.ID, result)
	}
	if err != nil {
		h.cfg.logError(ctx, TransportJSONRPC, req.Method, err)
		werr := toWireError(err)
		done(werr.Code)
		resp = jsonrpc2.NewError(req.ID, werr)
	} else {
		done(0)
	}

	if req.IsNotification() {
		return nil
	}
	return resp
}

func (h *JSONRPCHandler) invoke(ctx context.Context, req *jsonrpc2.Request, inBatch bool) (any, error) {
	if _, ok := h.streams[req.Method]; ok {
		if inBatch {
			return nil, a2a.NewInvalidRequestError(req.Method + " cannot be used in a batch")
		}
		return nil, a2a.NewInvalidRequestError(req.Method + " requires an id")
	}
	fn, ok := h.methods[req.Method]
	if !ok {
		return nil, a2a.Errorf(a2a.KindMethodNotFound, "method %q not found", req.Method)
	}
	return fn(ctx, req)
}

// serveStream answers a streaming method. Failures before the stream opens
// are sent as a plain JSON-RPC error response.
func (h *JSONRPCHandler) serveStream(w http.ResponseWriter, r *http.Request, req *jsonrpc2.Request, open streamFunc) {
	ctx := r.Context()
	done := h.cfg.telemetry.Start(ctx, req.Method)

	sub, err := open(ctx, r, req)
	h.cfg.metrics.ObserveRequest(TransportJSONRPC, req.Method, string(kindOrEmpty(err)))
	if err != nil {
		h.cfg.logError(ctx, TransportJSONRPC, req.Method, err)
		werr := toWireError(err)
		done(werr.Code)
		writeJSON(w, http.StatusOK, jsonrpc2.NewError(req.ID, werr))
		return
	}
	done(0)

	serveSubscription(ctx, w, sub, rpcStreamCodec{id: req.ID}, h.cfg.logger)
}

// StreamResult is the result member of every JSON-RPC stream frame.
type StreamResult struct {
	a2a.TaskEvent `json:",inline"`

	// ResumeToken continues the stream after this event.
	ResumeToken string `json:"resumeToken"`
}

type rpcStreamCodec struct {
	id jsontext.Value
}

func (c rpcStreamCodec) event(ev a2a.TaskEvent, token string) ([]byte, error) {
	resp, err := jsonrpc2.NewResult(c.id, StreamResult{TaskEvent: ev, ResumeToken: token})
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

func (c rpcStreamCodec) failure(err error) ([]byte, error) {
	return json.Marshal(jsonrpc2.NewError(c.id, toWireError(err)))
}

func (h *JSONRPCHandler) handleMessageSend(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	params, err := decodeParams[a2a.SendMessageParams](req)
	if err != nil {
		return nil, err
	}
	return h.dispatcher.SendMessage(ctx, params)
}

func (h *JSONRPCHandler) handleGetTask(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	params, err := decodeTaskID(req)
	if err != nil {
		return nil, err
	}
	return h.dispatcher.GetTask(ctx, params.ID)
}

func (h *JSONRPCHandler) handleListTasks(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	var filter a2a.ListFilter
	if len(req.Params) > 0 {
		params, err := decodeParams[a2a.ListFilter](req)
		if err != nil {
			return nil, err
		}
		filter = *params
	}
	return h.dispatcher.ListTasks(ctx, filter)
}

func (h *JSONRPCHandler) handleCancelTask(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	params, err := decodeTaskID(req)
	if err != nil {
		return nil, err
	}
	return h.dispatcher.CancelTask(ctx, params.ID)
}

func (h *JSONRPCHandler) handleSetPushConfig(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	params, err := decodeParams[a2a.TaskPushConfig](req)
	if err != nil {
		return nil, err
	}
	return h.dispatcher.SetPushConfig(ctx, params)
}

func (h *JSONRPCHandler) handleGetPushConfig(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	params, err := decodeTaskID(req)
	if err != nil {
		return nil, err
	}
	return h.dispatcher.GetPushConfig(ctx, params.ID)
}

func (h *JSONRPCHandler) handleDeletePushConfig(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	params, err := decodeTaskID(req)
	if err != nil {
		return nil, err
	}
	if err := h.dispatcher.DeletePushConfig(ctx, params.ID); err != nil {
		return nil, err
	}
	return params, nil
}

func (h *JSONRPCHandler) handleMessageStream(ctx context.Context, _ *http.Request, req *jsonrpc2.Request) (*event.Subscription, error) {
	params, err := decodeParams[a2a.SendMessageParams](req)
	if err != nil {
		return nil, err
	}
	return h.dispatcher.StreamMessage(ctx, params)
}

func (h *JSONRPCHandler) handleResubscribe(ctx context.Context, r *http.Request, req *jsonrpc2.Request) (*event.Subscription, error) {
	params, err := decodeParams[a2a.ResubscribeParams](req)
	if err != nil {
		return nil, err
	}
	if params.ResumeToken == "" {
		params.ResumeToken = r.Header.Get("Last-Event-ID")
	}
	return h.dispatcher.Resubscribe(ctx, params)
}

// decodeParams decodes the params of req into a new T.
func decodeParams[T any](req *jsonrpc2.Request) (*T, error) {
	params := new(T)
	if err := req.DecodeParams(params); err != nil {
		return nil, &a2a.Error{Kind: a2a.KindInvalidRequest, Message: "invalid params: " + err.Error(), Err: err}
	}
	return params, nil
}

func decodeTaskID(req *jsonrpc2.Request) (*a2a.TaskIDParams, error) {
	params, err := decodeParams[a2a.TaskIDParams](req)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

func kindOrEmpty(err error) a2a.ErrorKind {
	if err == nil {
		return ""
	}
	return a2a.KindOf(err)
}

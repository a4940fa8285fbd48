// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/internal/jsonrpc2"
)

// ErrorDomain is the domain of the gRPC ErrorInfo detail attached to every
// error.
const ErrorDomain = "a2a"

// errorMapping is the native failure shape of one error kind per transport.
type errorMapping struct {
	rpc  int64
	http int
	grpc codes.Code
}

// errorTable is shared by every adapter so that a logical failure produces
// the equivalent signal on each transport.
var errorTable = map[a2a.ErrorKind]errorMapping{
	a2a.KindTaskNotFound:                   {1000, http.StatusNotFound, codes.NotFound},
	a2a.KindInvalidTransition:              {1001, http.StatusUnprocessableEntity, codes.FailedPrecondition},
	a2a.KindConflict:                       {1002, http.StatusConflict, codes.Aborted},
	a2a.KindInvalidMessageFormat:           {1003, http.StatusBadRequest, codes.InvalidArgument},
	a2a.KindAuthRequired:                   {1004, http.StatusUnauthorized, codes.Unauthenticated},
	a2a.KindAuthFailed:                     {1005, http.StatusUnauthorized, codes.Unauthenticated},
	a2a.KindInsufficientPermissions:        {1006, http.StatusForbidden, codes.PermissionDenied},
	a2a.KindRateLimited:                    {1007, http.StatusTooManyRequests, codes.ResourceExhausted},
	a2a.KindUnsupportedContentType:         {1008, http.StatusUnsupportedMediaType, codes.Unimplemented},
	a2a.KindPayloadTooLarge:                {1009, http.StatusRequestEntityTooLarge, codes.OutOfRange},
	a2a.KindPushNotificationConfigNotFound: {1010, http.StatusNotFound, codes.NotFound},
	a2a.KindUnsupportedOperation:           {1011, http.StatusNotImplemented, codes.Unimplemented},
	a2a.KindInvalidRequest:                 {jsonrpc2.CodeInvalidParams, http.StatusBadRequest, codes.InvalidArgument},
	a2a.KindMethodNotFound:                 {jsonrpc2.CodeMethodNotFound, http.StatusNotFound, codes.Unimplemented},
	a2a.KindInternal:                       {jsonrpc2.CodeInternalError, http.StatusInternalServerError, codes.Internal},
}

func mappingOf(kind a2a.ErrorKind) errorMapping {
	if m, ok := errorTable[kind]; ok {
		return m
	}
	return errorTable[a2a.KindInternal]
}

// JSONRPCCode returns the JSON-RPC error code of kind.
func JSONRPCCode(kind a2a.ErrorKind) int64 { return mappingOf(kind).rpc }

// HTTPStatus returns the HTTP status of kind.
func HTTPStatus(kind a2a.ErrorKind) int { return mappingOf(kind).http }

// GRPCCode returns the gRPC status code of kind.
func GRPCCode(kind a2a.ErrorKind) codes.Code { return mappingOf(kind).grpc }

// toWireError converts err into a JSON-RPC error member.
func toWireError(err error) *jsonrpc2.WireError {
	e := a2a.AsError(err)
	return &jsonrpc2.WireError{
		Code:    JSONRPCCode(e.Kind),
		Message: message(e),
		Data: &jsonrpc2.ErrorData{
			Kind:   string(e.Kind),
			TaskID: e.TaskID,
			State:  string(e.State),
		},
	}
}

// restError is the body of a REST error response.
type restError struct {
	Error restErrorBody `json:"error"`
}

type restErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	TaskID  string `json:"taskId,omitempty"`
	State   string `json:"state,omitempty"`
}

func toRESTError(err error) (int, restError) {
	e := a2a.AsError(err)
	return HTTPStatus(e.Kind), restError{Error: restErrorBody{
		Kind:    string(e.Kind),
		Message: message(e),
		TaskID:  e.TaskID,
		State:   string(e.State),
	}}
}

// toGRPCStatus converts err into a status carrying an ErrorInfo detail whose
// reason is the error kind.
func toGRPCStatus(err error) *status.Status {
	e := a2a.AsError(err)
	st := status.New(GRPCCode(e.Kind), message(e))
	info := &errdetails.ErrorInfo{
		Reason:   string(e.Kind),
		Domain:   ErrorDomain,
		Metadata: map[string]string{},
	}
	if e.TaskID != "" {
		info.Metadata["taskId"] = e.TaskID
	}
	if e.State != "" {
		info.Metadata["state"] = string(e.State)
	}
	if withDetails, derr := st.WithDetails(info); derr == nil {
		return withDetails
	}
	return st
}

// KindFromGRPCStatus recovers the error kind from a status produced by this
// package.
func KindFromGRPCStatus(st *status.Status) a2a.ErrorKind {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return a2a.ErrorKind(info.GetReason())
		}
	}
	return ""
}

// message hides the details of internal errors from callers.
func message(e *a2a.Error) string {
	if e.Kind == a2a.KindInternal {
		return "internal error"
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

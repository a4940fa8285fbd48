// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"net/http"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/internal/jsonrpc2"
)

// HTTPError is returned when the server answers without a JSON-RPC response,
// e.g. from a proxy.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("client: unexpected HTTP %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

const maxErrorBody = 512

func newHTTPError(status int, body []byte) *HTTPError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &HTTPError{StatusCode: status, Body: string(body)}
}

// errorFromWire converts a JSON-RPC error into an [*a2a.Error] so callers can
// match it with errors.Is against the a2a sentinels.
func errorFromWire(werr *jsonrpc2.WireError) *a2a.Error {
	e := &a2a.Error{Message: werr.Message, Err: werr}
	if werr.Data != nil && werr.Data.Kind != "" {
		e.Kind = a2a.ErrorKind(werr.Data.Kind)
		e.TaskID = werr.Data.TaskID
		e.State = a2a.TaskState(werr.Data.State)
		return e
	}

	switch werr.Code {
	case jsonrpc2.CodeMethodNotFound:
		e.Kind = a2a.KindMethodNotFound
	case jsonrpc2.CodeParseError, jsonrpc2.CodeInvalidRequest, jsonrpc2.CodeInvalidParams:
		e.Kind = a2a.KindInvalidRequest
	default:
		e.Kind = a2a.KindInternal
	}
	return e
}

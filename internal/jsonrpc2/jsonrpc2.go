// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

// Package jsonrpc2 implements the JSON-RPC 2.0 envelope used by the A2A
// JSON-RPC transport.
package jsonrpc2

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Version is the only supported protocol version.
const Version = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     int64 = -32700
	CodeInvalidRequest int64 = -32600
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternalError  int64 = -32603
)

// ErrEmptyBatch is returned by [DecodeRequests] for "[]".
var ErrEmptyBatch = errors.New("jsonrpc2: empty batch")

// Request is a JSON-RPC request or notification.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      jsontext.Value `json:"id,omitzero"`
	Method  string         `json:"method"`
	Params  jsontext.Value `json:"params,omitzero"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Validate checks the envelope fields.
func (r *Request) Validate() error {
	if r.JSONRPC != Version {
		return fmt.Errorf("jsonrpc must be %q", Version)
	}
	if r.Method == "" {
		return errors.New("method is required")
	}
	if len(r.ID) > 0 {
		switch r.ID.Kind() {
		case '"', '0', 'n':
		default:
			return errors.New("id must be a string, a number or null")
		}
	}
	return nil
}

// DecodeParams unmarshals the request params into v. Unknown fields are
// rejected.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return errors.New("params are required")
	}
	return json.Unmarshal(r.Params, v, json.RejectUnknownMembers(true))
}

// WireError is the error member of a response.
type WireError struct {
	Code    int64      `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitzero"`
}

// Error implements error.
func (e *WireError) Error() string {
	return fmt.Sprintf("jsonrpc2: code %d: %s", e.Code, e.Message)
}

// ErrorData carries the logical error kind and, when known, the task it
// concerns.
type ErrorData struct {
	Kind   string `json:"kind"`
	TaskID string `json:"taskId,omitempty"`
	State  string `json:"state,omitempty"`
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      jsontext.Value `json:"id"`
	Result  jsontext.Value `json:"result,omitzero"`
	Error   *WireError     `json:"error,omitzero"`
}

// NewResult builds a successful response to id.
func NewResult(id jsontext.Value, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc2: marshal result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: nullID(id), Result: b}, nil
}

// NewError builds an error response to id.
func NewError(id jsontext.Value, werr *WireError) *Response {
	return &Response{JSONRPC: Version, ID: nullID(id), Error: werr}
}

func nullID(id jsontext.Value) jsontext.Value {
	if len(id) == 0 {
		return jsontext.Value("null")
	}
	return id
}

// DecodeRequests parses a single request or a batch. Batch members that are
// not objects are returned as requests with an empty method, which fail
// [Request.Validate].
func DecodeRequests(data []byte) (reqs []*Request, batch bool, err error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var raws []jsontext.Value
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, true, err
		}
		if len(raws) == 0 {
			return nil, true, ErrEmptyBatch
		}
		reqs = make([]*Request, len(raws))
		for i, raw := range raws {
			req := new(Request)
			if raw.Kind() == '{' {
				if err := json.Unmarshal(raw, req); err != nil {
					req = new(Request)
				}
			}
			reqs[i] = req
		}
		return reqs, true, nil
	}

	req := new(Request)
	if err := json.Unmarshal(data, req); err != nil {
		return nil, false, err
	}
	return []*Request{req}, false, nil
}

// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/go-json-experiment/json"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/internal/jsonrpc2"
)

// StreamEvent is one event of a task stream.
type StreamEvent struct {
	a2a.TaskEvent `json:",inline"`

	// ResumeToken continues the stream after this event.
	ResumeToken string `json:"resumeToken"`
}

// sseEvent is one Server-Sent Events frame.
type sseEvent struct {
	ID   string
	Type string
	Data string
}

// sseDecoder decodes Server-Sent Events from an io.Reader.
type sseDecoder struct {
	scanner *bufio.Scanner
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), 16<<20)
	return &sseDecoder{scanner: s}
}

// decode returns the next frame, or io.EOF at the end of the stream.
func (d *sseDecoder) decode() (*sseEvent, error) {
	ev := &sseEvent{}
	var data []string

	for d.scanner.Scan() {
		line := d.scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if len(data) > 0 || ev.Type != "" {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			continue
		}
		// Comments (lines starting with :) are ignored
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
		case "data":
			data = append(data, value)
		case "id":
			ev.ID = value
		}
	}

	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("client: read event stream: %w", err)
	}
	if len(data) > 0 {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return nil, io.EOF
}

// Stream reads the events of one task stream.
type Stream struct {
	body    io.ReadCloser
	decoder *sseDecoder
	last    string
}

func newStream(body io.ReadCloser) *Stream {
	return &Stream{body: body, decoder: newSSEDecoder(body)}
}

// Recv returns the next event. It returns io.EOF after the final event, and
// an [*a2a.Error] when the server ends the stream early.
func (s *Stream) Recv() (StreamEvent, error) {
	frame, err := s.decoder.decode()
	if err != nil {
		return StreamEvent{}, err
	}
	if frame.ID != "" {
		s.last = frame.ID
	}

	var resp jsonrpc2.Response
	if err := json.Unmarshal([]byte(frame.Data), &resp); err != nil {
		return StreamEvent{}, fmt.Errorf("client: decode stream frame: %w", err)
	}
	if resp.Error != nil {
		return StreamEvent{}, errorFromWire(resp.Error)
	}

	var ev StreamEvent
	if err := json.Unmarshal(resp.Result, &ev); err != nil {
		return StreamEvent{}, fmt.Errorf("client: decode stream event: %w", err)
	}
	return ev, nil
}

// LastEventID returns the id of the last frame received. It resumes the
// stream through [Client.Resubscribe].
func (s *Stream) LastEventID() string { return s.last }

// Close releases the connection. A stream closed before its final event stays
// resumable on the server for the configured grace period.
func (s *Stream) Close() error {
	return s.body.Close()
}

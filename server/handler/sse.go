// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-a2a/a2a-core"
	"github.com/go-a2a/a2a-core/internal/pool"
	"github.com/go-a2a/a2a-core/server/event"
)

// sseCodec renders the frames of one transport's event stream.
type sseCodec interface {
	// event encodes ev, delivered with the given resume token.
	event(ev a2a.TaskEvent, token string) ([]byte, error)
	// failure encodes the error that ends a stream early.
	failure(err error) ([]byte, error)
}

// sseStream writes Server-Sent Events to one HTTP response.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEStream sends the event stream headers. It reports false when the
// response cannot be flushed incrementally.
func newSSEStream(w http.ResponseWriter) (*sseStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // For Nginx proxy
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseStream{w: w, flusher: flusher}, true
}

func (s *sseStream) send(id, name string, data []byte) error {
	buf := pool.Bytes.Get()
	defer pool.Bytes.Put(buf)

	fmt.Fprintf(buf, "id: %s\nevent: %s\ndata: %s\n\n", id, name, data)
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// serveSubscription relays sub to the client until the final event, a
// transport failure or the client going away.
//
// A client that disconnects leaves the subscription detached, so it can be
// resumed with the last delivered token. A finished stream is closed.
func serveSubscription(ctx context.Context, w http.ResponseWriter, sub *event.Subscription, codec sseCodec, logger *slog.Logger) {
	stream, ok := newSSEStream(w)
	if !ok {
		sub.Close()
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	for {
		ev, err := sub.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			sub.Close()
			return
		case ctx.Err() != nil:
			sub.Detach()
			return
		default:
			logger.WarnContext(ctx, "stream ended early", "task_id", sub.TaskID(), "error", err)
			if data, ferr := codec.failure(streamFailure(err)); ferr == nil {
				_ = stream.send(event.FormatResumeToken(sub.ID(), sub.LastSeq()), "error", data)
			}
			sub.Close()
			return
		}

		if ev.IsHeartbeat() {
			if err := stream.comment("heartbeat " + ev.Timestamp.Format(time.RFC3339)); err != nil {
				sub.Detach()
				return
			}
			continue
		}

		token := sub.ResumeToken(ev)
		data, err := codec.event(ev, token)
		if err != nil {
			logger.ErrorContext(ctx, "failed to encode stream event", "task_id", sub.TaskID(), "error", err)
			sub.Close()
			return
		}
		if err := stream.send(token, "message", data); err != nil {
			sub.Detach()
			return
		}
	}
}

// streamFailure maps subscription errors to protocol errors.
func streamFailure(err error) error {
	if errors.Is(err, event.ErrSlowConsumer) {
		return a2a.NewError(a2a.KindRateLimited, "stream closed: consumer too slow")
	}
	return err
}

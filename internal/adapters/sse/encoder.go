// Package sse writes turn events as a text/event-stream response.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

// ErrStreamClosed is returned by Send once a terminal event has been written.
var ErrStreamClosed = errors.New("sse: stream closed")

// Encoder frames each event as
//
//	data: {"type":"status","content":"Analyzing (1/30)..."}
//
// followed by a blank line, and flushes it immediately. The first message or error
// event closes the encoder. It is safe for concurrent use.
type Encoder struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	rc       *http.ResponseController
	closed   bool
	writeErr error
}

// NewEncoder sends the stream headers and lifts the server write deadline, since a
// turn can outlive http.Server.WriteTimeout.
func NewEncoder(w http.ResponseWriter) *Encoder {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	return &Encoder{w: w, rc: rc}
}

func (e *Encoder) Send(ev domain.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStreamClosed
	}
	if ev.Terminal() {
		e.closed = true
	}

	// Once the peer is gone every later write fails the same way.
	if e.writeErr != nil {
		return e.writeErr
	}

	frame, err := Frame(ev)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(frame); err != nil {
		e.writeErr = fmt.Errorf("sse write: %w", err)
		return e.writeErr
	}
	if err := e.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		e.writeErr = fmt.Errorf("sse flush: %w", err)
		return e.writeErr
	}
	return nil
}

// Closed reports whether a terminal event was sent.
func (e *Encoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Frame renders one event including the trailing blank line.
func Frame(ev domain.Event) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("data: ")

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	// Encode already wrote one newline.
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

package turn

import (
	"context"
	"errors"

	"github.com/kalambet/resummate/internal/storage"
)

// Wire error kinds carried on terminal error frames.
const (
	KindInvalidInput        = "invalid_input"
	KindThreadBusy          = "thread_busy"
	KindUpstreamUnavailable = "upstream_unavailable"
	KindToolLoopExceeded    = "tool_loop_exceeded"
	KindStoreWriteFailed    = "store_write_failed"
	KindInternal            = "internal_error"
)

// ErrInvalidInput is returned for empty or missing turn input. No store
// writes happen in this case.
var ErrInvalidInput = errors.New("invalid input")

// ErrThreadBusy is returned when another turn is already in flight for the
// same thread. The caller may retry once that turn finishes.
var ErrThreadBusy = errors.New("thread busy")

// Frame is one unit of the caller-facing stream: text deltas followed by a
// single terminal done or error frame.
type Frame struct {
	Type    string `json:"type"` // "delta" | "done" | "error"
	Text    string `json:"text,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// Metadata summarizes what a finished turn did. Valid once Frames() is
// closed.
type Metadata struct {
	ToolCalls  []storage.ToolCall
	ToolRounds int
}

// Stream delivers a turn's frames to the caller. Partial text already
// delivered before an error frame is never retracted; the error frame
// signals "treat this answer as incomplete".
type Stream struct {
	frames chan Frame
	meta   Metadata // written by the turn goroutine before frames closes
}

func newStream() *Stream {
	return &Stream{frames: make(chan Frame, 32)}
}

// Frames returns the frame channel. It is closed after the terminal frame.
func (s *Stream) Frames() <-chan Frame { return s.frames }

// Meta reports turn metadata. Only valid after Frames() is closed.
func (s *Stream) Meta() Metadata { return s.meta }

// emit delivers a frame unless the caller's context is gone.
func (s *Stream) emit(ctx context.Context, f Frame) {
	select {
	case s.frames <- f:
	case <-ctx.Done():
	}
}

// Materialize drains the stream and returns the concatenated final text
// plus metadata, for callers that do not want incremental delivery. The
// returned error carries the terminal error frame's message, if any.
func (s *Stream) Materialize() (string, Metadata, error) {
	var text []byte
	var terminal *Frame
	for f := range s.frames {
		switch f.Type {
		case "delta":
			text = append(text, f.Text...)
		case "done", "error":
			frame := f
			terminal = &frame
		}
	}
	if terminal != nil && terminal.Type == "error" {
		return string(text), s.meta, errors.New(terminal.Kind + ": " + terminal.Message)
	}
	return string(text), s.meta, nil
}

package gateway

import "sync"

// Scripted stream constructors backing model fakes in tests, mirroring the
// shape real Generate results have.

// NewScriptedStream returns a DeltaStream that replays the given deltas
// and then ends with err.
func NewScriptedStream(err error, deltas ...string) *DeltaStream {
	s := &DeltaStream{ch: make(chan string, len(deltas)), cancel: func() {}}
	for _, d := range deltas {
		s.ch <- d
	}
	s.err = err
	close(s.ch)
	return s
}

// StreamWriter feeds a paced DeltaStream created by NewStreamPipe.
type StreamWriter struct {
	s         *DeltaStream
	aborted   chan struct{}
	closeOnce sync.Once
}

// NewStreamPipe returns a connected DeltaStream and StreamWriter, for
// fakes that need to pace delta delivery and observe consumer aborts.
func NewStreamPipe() (*DeltaStream, *StreamWriter) {
	w := &StreamWriter{aborted: make(chan struct{})}
	var abortOnce sync.Once
	s := &DeltaStream{
		ch:     make(chan string),
		cancel: func() { abortOnce.Do(func() { close(w.aborted) }) },
	}
	w.s = s
	return s, w
}

// Send delivers one delta, blocking until the consumer receives it.
// Returns false if the consumer aborted the stream.
func (w *StreamWriter) Send(delta string) bool {
	select {
	case w.s.ch <- delta:
		return true
	case <-w.aborted:
		return false
	}
}

// Aborted is closed when the consumer calls Close on the stream.
func (w *StreamWriter) Aborted() <-chan struct{} {
	return w.aborted
}

// CloseWithError ends the stream; err is what the consumer's Err reports.
func (w *StreamWriter) CloseWithError(err error) {
	w.closeOnce.Do(func() {
		w.s.err = err
		close(w.s.ch)
	})
}

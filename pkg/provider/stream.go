package provider

import "context"

// Stream is a cancellable text-delta stream backed by a bounded channel.
// Producers call Push and Close; consumers range over Deltas and check Err
// once the channel is closed.
type Stream struct {
	ch  chan string
	err error
}

// NewStream creates a stream with a small delivery buffer.
func NewStream() *Stream {
	return &Stream{ch: make(chan string, 32)}
}

// Deltas returns the consumer side of the stream.
func (s *Stream) Deltas() <-chan string {
	return s.ch
}

// Err reports the terminal error, if any. Only valid after Deltas is closed.
func (s *Stream) Err() error {
	return s.err
}

// Push delivers one delta, giving up when the context is cancelled so a
// stalled consumer cannot wedge the upstream read loop.
func (s *Stream) Push(ctx context.Context, delta string) error {
	select {
	case s.ch <- delta:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream. A non-nil err marks the stream as failed; it must
// be set before Close returns so consumers observe it after the channel
// closes.
func (s *Stream) Close(err error) {
	s.err = err
	close(s.ch)
}

// TextStream returns an already-completed stream carrying one delta. Used
// when an upstream call produced its full content in one shot.
func TextStream(content string) *Stream {
	s := &Stream{ch: make(chan string, 1)}
	if content != "" {
		s.ch <- content
	}
	close(s.ch)
	return s
}

// Package pushqueue buffers unsolicited events until a client connection is
// available to receive them.
package pushqueue

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sink receives push events. A gateway connection implements Sink while it
// is the active delivery target.
type Sink interface {
	SendPush(content, source string) error
}

// Event is one undelivered push event.
type Event struct {
	Content string
	Source  string
	Arrived time.Time
}

// Queue delivers push events to the single active sink, buffering them in
// arrival order while no sink is active. FIFO delivery is an invariant:
// buffered events always drain before newly arriving ones.
type Queue struct {
	logger zerolog.Logger

	mu     sync.Mutex
	active Sink
	buffer []Event
}

// New creates an empty push queue.
func New(logger zerolog.Logger) *Queue {
	return &Queue{logger: logger.With().Str("component", "pushqueue").Logger()}
}

// Deliver sends an event to the active sink, or buffers it when no sink is
// active. A failed write deactivates the sink and re-buffers the event at
// the front so order is preserved for the next activation.
func (q *Queue) Deliver(content, source string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	event := Event{Content: content, Source: source, Arrived: time.Now()}

	if q.active == nil {
		q.buffer = append(q.buffer, event)
		q.logger.Debug().Int("buffered", len(q.buffer)).Msg("No active connection, push event queued")
		return
	}

	if err := q.active.SendPush(content, source); err != nil {
		q.logger.Warn().Err(err).Msg("Push delivery failed, deactivating sink")
		q.active = nil
		q.buffer = append([]Event{event}, q.buffer...)
	}
}

// Activate drains the buffer in FIFO order onto the sink, then makes it the
// active target for future immediate delivery. Events that fail to send stay
// buffered and the sink is not activated.
func (q *Queue) Activate(sink Sink) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buffer) > 0 {
		event := q.buffer[0]
		if err := sink.SendPush(event.Content, event.Source); err != nil {
			q.logger.Warn().Err(err).Int("remaining", len(q.buffer)).Msg("Push replay failed")
			return
		}
		q.buffer = q.buffer[1:]
	}

	q.active = sink
}

// Deactivate clears the active pointer, but only if it still is the given
// sink; a newer activation from another connection is left in place.
func (q *Queue) Deactivate(sink Sink) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active == sink {
		q.active = nil
	}
}

// Pending reports the number of buffered events.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

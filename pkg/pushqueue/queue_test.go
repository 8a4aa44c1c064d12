package pushqueue

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	got     []Event
	failing bool
}

func (f *fakeSink) SendPush(content, source string) error {
	if f.failing {
		return fmt.Errorf("connection gone")
	}
	f.got = append(f.got, Event{Content: content, Source: source})
	return nil
}

func TestQueue_BuffersWithoutSink(t *testing.T) {
	q := New(zerolog.Nop())

	q.Deliver("one", "scheduler")
	q.Deliver("two", "agent")

	assert.Equal(t, 2, q.Pending())
}

func TestQueue_ActivateReplaysFIFO(t *testing.T) {
	q := New(zerolog.Nop())
	q.Deliver("one", "scheduler")
	q.Deliver("two", "scheduler")
	q.Deliver("three", "agent")

	sink := &fakeSink{}
	q.Activate(sink)

	require.Len(t, sink.got, 3)
	assert.Equal(t, "one", sink.got[0].Content)
	assert.Equal(t, "two", sink.got[1].Content)
	assert.Equal(t, "three", sink.got[2].Content)
	assert.Equal(t, 0, q.Pending())

	// The sink is now active; new events bypass the buffer
	q.Deliver("four", "agent")
	require.Len(t, sink.got, 4)
	assert.Equal(t, "four", sink.got[3].Content)
	assert.Equal(t, "agent", sink.got[3].Source)
}

func TestQueue_FailedReplayKeepsBuffer(t *testing.T) {
	q := New(zerolog.Nop())
	q.Deliver("one", "scheduler")
	q.Deliver("two", "scheduler")

	sink := &fakeSink{failing: true}
	q.Activate(sink)

	// Nothing drained, sink not activated
	assert.Equal(t, 2, q.Pending())
	q.Deliver("three", "agent")
	assert.Equal(t, 3, q.Pending())
	assert.Empty(t, sink.got)
}

func TestQueue_FailedDeliveryDeactivatesAndRebuffers(t *testing.T) {
	q := New(zerolog.Nop())
	sink := &fakeSink{}
	q.Activate(sink)

	q.Deliver("ok", "agent")
	require.Len(t, sink.got, 1)

	sink.failing = true
	q.Deliver("lost write", "agent")
	assert.Equal(t, 1, q.Pending())

	// Later events buffer behind the failed one
	q.Deliver("later", "agent")
	assert.Equal(t, 2, q.Pending())

	replacement := &fakeSink{}
	q.Activate(replacement)
	require.Len(t, replacement.got, 2)
	assert.Equal(t, "lost write", replacement.got[0].Content)
	assert.Equal(t, "later", replacement.got[1].Content)
}

func TestQueue_DeactivateOnlySameSink(t *testing.T) {
	q := New(zerolog.Nop())
	old := &fakeSink{}
	current := &fakeSink{}

	q.Activate(old)
	q.Activate(current)

	// A stale disconnect must not tear down the newer connection
	q.Deactivate(old)
	q.Deliver("still delivered", "agent")
	require.Len(t, current.got, 1)

	q.Deactivate(current)
	q.Deliver("buffered now", "agent")
	assert.Equal(t, 1, q.Pending())
}
